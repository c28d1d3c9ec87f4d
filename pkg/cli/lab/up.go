package lab

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/r11/hyperv-commander/internal/state"
	"github.com/r11/hyperv-commander/pkg/cli/runtime"
	labpkg "github.com/r11/hyperv-commander/pkg/lab"
	"github.com/r11/hyperv-commander/pkg/orchestrator"
)

var upCmd = &cobra.Command{
	Use:   "up <manifest>",
	Short: "Provision a lab from its manifest",
	Args:  cobra.ExactArgs(1),
	RunE:  runUp,
}

func runUp(cmd *cobra.Command, args []string) error {
	return executeLab(cmd.Context(), args[0], false)
}

func executeLab(parent context.Context, manifestPath string, resume bool) error {
	rt, err := runtime.Build()
	if err != nil {
		return err
	}
	defer rt.Close()

	manifest, err := labpkg.Load(manifestPath)
	if err != nil {
		return err
	}

	store, err := rt.OpenState()
	if err != nil {
		return err
	}
	defer store.Close()

	if resume {
		reset, err := store.ResetFailed(manifest.Name)
		if err != nil {
			return err
		}
		if reset > 0 {
			log.Info().Int("stages", reset).Msg("Reset failed stages for retry")
		}
	} else if err := refuseDirtyStore(store, manifest.Name); err != nil {
		return err
	}

	planner, err := labpkg.NewPlanner(manifest, rt.LabEnvironment())
	if err != nil {
		return err
	}
	stages, err := planner.Stages()
	if err != nil {
		return err
	}

	var opts []orchestrator.Option
	if runtime.DryRun {
		opts = append(opts, orchestrator.WithDryRun())
	}
	engine := orchestrator.NewEngine(store, manifest.Name, opts...)

	if !runtime.DryRun {
		hash, err := manifestHash(manifestPath)
		if err != nil {
			return err
		}
		if err := saveLabHeader(store, manifest, engine.RunID(), hash); err != nil {
			return err
		}
	}

	if rt.Config.Metrics.Enabled {
		go serveMetrics(rt.Config.Metrics.Port, rt.Config.Metrics.Path)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("lab", manifest.Name).
		Str("domain", manifest.Domain.FQDN).
		Int("stages", len(stages)).
		Str("run_id", engine.RunID()).
		Msg("Starting lab provisioning")

	if err := engine.Execute(ctx, stages); err != nil {
		return fmt.Errorf("provisioning failed (rerun with 'hvc lab resume' once fixed): %w", err)
	}
	log.Info().Str("lab", manifest.Name).Msg("Lab provisioned")
	return nil
}

func manifestHash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to hash manifest: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// saveLabHeader upserts the lab header, keeping the original creation
// time across runs.
func saveLabHeader(store *state.Store, m *labpkg.Manifest, runID, configHash string) error {
	rec, err := store.GetLab(m.Name)
	if err != nil {
		return err
	}
	if rec == nil {
		rec = &state.LabRecord{Name: m.Name}
	}
	if rec.ConfigHash != "" && rec.ConfigHash != configHash {
		log.Warn().Str("lab", m.Name).Msg("Manifest changed since the last run")
	}
	rec.Domain = m.Domain.FQDN
	rec.LastRunID = runID
	rec.ConfigHash = configHash
	return store.SaveLab(rec)
}

// refuseDirtyStore keeps `lab up` from silently continuing a broken
// run; resume is the explicit path for that.
func refuseDirtyStore(store *state.Store, labName string) error {
	records, err := store.ListStages(labName)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if rec.Status == state.StatusFailed || rec.Status == state.StatusRunning {
			return fmt.Errorf("lab %s has an interrupted run (stage %s is %s); use 'hvc lab resume' or 'hvc lab destroy'",
				labName, rec.StageID, rec.Status)
		}
	}
	return nil
}

func serveMetrics(port int, path string) {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	log.Info().Str("addr", addr).Msg("Serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warn().Err(err).Msg("Metrics server stopped")
	}
}
