package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/r11/hyperv-commander/internal/state"
	"github.com/r11/hyperv-commander/pkg/audit"
	"github.com/r11/hyperv-commander/pkg/metrics"
	"github.com/r11/hyperv-commander/pkg/retry"
)

// Engine executes stage pipelines serially, persisting progress after
// every transition so an interrupted run resumes where it stopped.
type Engine struct {
	store  *state.Store
	lab    string
	runID  string
	dryRun bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithDryRun makes Execute report what would run without touching
// anything.
func WithDryRun() Option {
	return func(e *Engine) { e.dryRun = true }
}

// NewEngine creates an engine bound to one lab.
func NewEngine(store *state.Store, lab string, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		lab:   lab,
		runID: uuid.New().String(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunID identifies this execution in state records and the audit trail.
func (e *Engine) RunID() string {
	return e.runID
}

// PlanEntry describes one stage's position and current status for plan
// and status output.
type PlanEntry struct {
	Order   int          `json:"order"`
	StageID string       `json:"stage_id"`
	Node    string       `json:"node,omitempty"`
	Name    string       `json:"name"`
	Status  state.Status `json:"status"`
	Error   string       `json:"error,omitempty"`
}

// Plan orders the stages and annotates each with its persisted status.
func (e *Engine) Plan(stages []Stage) ([]PlanEntry, error) {
	ordered, err := Sort(stages)
	if err != nil {
		return nil, err
	}

	entries := make([]PlanEntry, 0, len(ordered))
	for i, stage := range ordered {
		entry := PlanEntry{
			Order:   i + 1,
			StageID: stage.ID,
			Node:    stage.Node,
			Name:    stage.Name,
			Status:  state.StatusPending,
		}
		rec, err := e.store.GetStage(e.lab, stage.ID)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			entry.Status = rec.Status
			entry.Error = rec.Error
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Execute runs the pipeline to completion, stopping at the first stage
// that fails. Stages already recorded complete are skipped.
func (e *Engine) Execute(ctx context.Context, stages []Stage) error {
	ordered, err := Sort(stages)
	if err != nil {
		return err
	}

	ctx = context.WithValue(ctx, audit.CorrelationIDKey, e.runID)
	start := time.Now()

	for _, stage := range ordered {
		if err := e.executeStage(ctx, stage); err != nil {
			metrics.LabUpDuration.WithLabelValues("failure").Observe(time.Since(start).Seconds())
			return fmt.Errorf("stage %s: %w", stage.ID, err)
		}
	}

	if !e.dryRun {
		metrics.LabUpDuration.WithLabelValues("success").Observe(time.Since(start).Seconds())
	}
	return nil
}

func (e *Engine) executeStage(ctx context.Context, stage Stage) error {
	stageLog := log.With().
		Str("lab", e.lab).
		Str("stage", stage.ID).
		Str("node", stage.Node).
		Logger()

	rec, err := e.store.GetStage(e.lab, stage.ID)
	if err != nil {
		return err
	}
	if rec != nil && rec.Status == state.StatusComplete {
		stageLog.Debug().Msg("Stage already complete, skipping")
		return nil
	}
	if rec == nil {
		rec = &state.StageRecord{StageID: stage.ID, Node: stage.Node}
	}

	if e.dryRun {
		stageLog.Info().Msg("Would run stage (dry run)")
		return nil
	}

	op := audit.GetLogger().Operation(ctx, "stage.execute", e.lab, stage.Node, map[string]interface{}{
		"stage": stage.ID,
		"name":  stage.Name,
	})

	if stage.Check != nil {
		satisfied, err := stage.Check(ctx)
		if err != nil {
			stageLog.Warn().Err(err).Msg("State check failed, running stage anyway")
		} else if satisfied {
			stageLog.Info().Msg("Desired state already holds, skipping")
			rec.Status = state.StatusSkipped
			rec.RunID = e.runID
			rec.CompletedAt = time.Now().UTC()
			if err := e.store.SaveStage(e.lab, rec); err != nil {
				return err
			}
			op.Success()
			metrics.RecordStage(stage.ID, "skipped", 0)
			return nil
		}
	}

	rec.Status = state.StatusRunning
	rec.Attempts++
	rec.RunID = e.runID
	rec.StartedAt = time.Now().UTC()
	rec.Error = ""
	if err := e.store.SaveStage(e.lab, rec); err != nil {
		return err
	}

	stageLog.Info().Str("name", stage.Name).Msg("Running stage")
	runStart := time.Now()

	var runErr error
	if stage.Run != nil {
		runErr = stage.Run(ctx)
	}
	if runErr == nil && stage.Ready != nil {
		stageLog.Info().Msg("Waiting for readiness")
		attempts := 0
		runErr = retry.Do(ctx, stage.readyPolicy(), func(ctx context.Context) error {
			attempts++
			if attempts > 1 {
				metrics.StageRetryTotal.WithLabelValues(stage.ID).Inc()
			}
			return stage.Ready(ctx)
		})
	}

	elapsed := time.Since(runStart)
	if runErr != nil {
		rec.Status = state.StatusFailed
		rec.Error = runErr.Error()
		rec.CompletedAt = time.Now().UTC()
		if saveErr := e.store.SaveStage(e.lab, rec); saveErr != nil {
			stageLog.Error().Err(saveErr).Msg("Failed to persist stage failure")
		}
		op.Failure(runErr)
		metrics.RecordStage(stage.ID, "failure", elapsed.Seconds())
		stageLog.Error().Err(runErr).Dur("elapsed", elapsed).Msg("Stage failed")
		return runErr
	}

	rec.Status = state.StatusComplete
	rec.CompletedAt = time.Now().UTC()
	if err := e.store.SaveStage(e.lab, rec); err != nil {
		return err
	}
	op.Success()
	metrics.RecordStage(stage.ID, "success", elapsed.Seconds())
	stageLog.Info().Dur("elapsed", elapsed).Msg("Stage complete")
	return nil
}
