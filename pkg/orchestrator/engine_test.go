package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r11/hyperv-commander/internal/state"
	"github.com/r11/hyperv-commander/pkg/audit"
	"github.com/r11/hyperv-commander/pkg/retry"
)

func TestMain(m *testing.M) {
	// keep the audit trail out of the user's home during tests
	dir, err := os.MkdirTemp("", "hvc-orchestrator-test-")
	if err != nil {
		panic(err)
	}
	audit.Initialize(filepath.Join(dir, "audit.json"))
	code := m.Run()
	os.RemoveAll(dir)
	os.Exit(code)
}

func openTestStore(t *testing.T) *state.Store {
	t.Helper()
	store, err := state.Open(filepath.Join(t.TempDir(), "hvc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func noop(ctx context.Context) error { return nil }

func TestSortOrdersByDependency(t *testing.T) {
	stages := []Stage{
		{ID: "c", DependsOn: []string{"b"}, Run: noop},
		{ID: "a", Run: noop},
		{ID: "b", DependsOn: []string{"a"}, Run: noop},
	}

	ordered, err := Sort(stages)
	require.NoError(t, err)
	ids := make([]string, len(ordered))
	for i, s := range ordered {
		ids[i] = s.ID
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestSortBreaksTiesByID(t *testing.T) {
	stages := []Stage{
		{ID: "z", Run: noop},
		{ID: "m", Run: noop},
		{ID: "a", Run: noop},
	}

	ordered, err := Sort(stages)
	require.NoError(t, err)
	assert.Equal(t, "a", ordered[0].ID)
	assert.Equal(t, "m", ordered[1].ID)
	assert.Equal(t, "z", ordered[2].ID)
}

func TestSortRejectsCyclesAndUnknownDeps(t *testing.T) {
	_, err := Sort([]Stage{
		{ID: "a", DependsOn: []string{"b"}, Run: noop},
		{ID: "b", DependsOn: []string{"a"}, Run: noop},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")

	_, err = Sort([]Stage{{ID: "a", DependsOn: []string{"ghost"}, Run: noop}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown stage")
}

func TestExecuteRunsStagesInOrderAndPersists(t *testing.T) {
	store := openTestStore(t)
	engine := NewEngine(store, "lab1")

	var order []string
	record := func(id string) func(context.Context) error {
		return func(ctx context.Context) error {
			order = append(order, id)
			return nil
		}
	}

	err := engine.Execute(context.Background(), []Stage{
		{ID: "vm", DependsOn: []string{"switch"}, Run: record("vm")},
		{ID: "switch", Run: record("switch")},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"switch", "vm"}, order)

	rec, err := store.GetStage("lab1", "vm")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, state.StatusComplete, rec.Status)
	assert.Equal(t, 1, rec.Attempts)
	assert.Equal(t, engine.RunID(), rec.RunID)
}

func TestExecuteResumesPastCompletedStages(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.SaveStage("lab1", &state.StageRecord{
		StageID: "switch",
		Status:  state.StatusComplete,
	}))

	ran := 0
	err := NewEngine(store, "lab1").Execute(context.Background(), []Stage{
		{ID: "switch", Run: func(ctx context.Context) error {
			ran++
			return nil
		}},
	})
	require.NoError(t, err)
	assert.Zero(t, ran, "completed stage must not run again")
}

func TestExecuteSkipsSatisfiedStages(t *testing.T) {
	store := openTestStore(t)

	ran := 0
	err := NewEngine(store, "lab1").Execute(context.Background(), []Stage{
		{
			ID:    "switch",
			Check: func(ctx context.Context) (bool, error) { return true, nil },
			Run: func(ctx context.Context) error {
				ran++
				return nil
			},
		},
	})
	require.NoError(t, err)
	assert.Zero(t, ran)

	rec, err := store.GetStage("lab1", "switch")
	require.NoError(t, err)
	assert.Equal(t, state.StatusSkipped, rec.Status)
}

func TestExecuteStopsAtFirstFailure(t *testing.T) {
	store := openTestStore(t)

	ran := 0
	err := NewEngine(store, "lab1").Execute(context.Background(), []Stage{
		{ID: "a", Run: func(ctx context.Context) error { return fmt.Errorf("boom") }},
		{ID: "b", DependsOn: []string{"a"}, Run: func(ctx context.Context) error {
			ran++
			return nil
		}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stage a")
	assert.Zero(t, ran)

	rec, err := store.GetStage("lab1", "a")
	require.NoError(t, err)
	assert.Equal(t, state.StatusFailed, rec.Status)
	assert.Equal(t, "boom", rec.Error)

	b, err := store.GetStage("lab1", "b")
	require.NoError(t, err)
	assert.Nil(t, b, "downstream stage must not be touched")
}

func TestExecuteDryRunTouchesNothing(t *testing.T) {
	store := openTestStore(t)

	ran := 0
	err := NewEngine(store, "lab1", WithDryRun()).Execute(context.Background(), []Stage{
		{ID: "a", Run: func(ctx context.Context) error {
			ran++
			return nil
		}},
	})
	require.NoError(t, err)
	assert.Zero(t, ran)

	rec, err := store.GetStage("lab1", "a")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestExecutePollsReadiness(t *testing.T) {
	store := openTestStore(t)

	probes := 0
	err := NewEngine(store, "lab1").Execute(context.Background(), []Stage{
		{
			ID:  "dc",
			Run: noop,
			Ready: func(ctx context.Context) error {
				probes++
				if probes < 3 {
					return errors.New("not ready")
				}
				return nil
			},
			ReadyPolicy: retry.Policy{
				InitialInterval: time.Millisecond,
				MaxInterval:     time.Millisecond,
				Multiplier:      1,
				MaxElapsed:      time.Second,
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, probes)
}

func TestExecuteStopsOnPermanentReadinessError(t *testing.T) {
	store := openTestStore(t)

	probes := 0
	err := NewEngine(store, "lab1").Execute(context.Background(), []Stage{
		{
			ID:  "dc",
			Run: noop,
			Ready: func(ctx context.Context) error {
				probes++
				return retry.Permanent(errors.New("promotion rejected"))
			},
			ReadyPolicy: retry.Policy{
				InitialInterval: time.Millisecond,
				MaxElapsed:      time.Second,
			},
		},
	})
	require.Error(t, err)
	assert.Equal(t, 1, probes)
	assert.Contains(t, err.Error(), "promotion rejected")
}

func TestPlanAnnotatesPersistedStatus(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.SaveStage("lab1", &state.StageRecord{
		StageID: "a",
		Status:  state.StatusComplete,
	}))

	entries, err := NewEngine(store, "lab1").Plan([]Stage{
		{ID: "b", DependsOn: []string{"a"}, Name: "second", Run: noop},
		{ID: "a", Name: "first", Run: noop},
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].StageID)
	assert.Equal(t, state.StatusComplete, entries[0].Status)
	assert.Equal(t, "b", entries[1].StageID)
	assert.Equal(t, state.StatusPending, entries[1].Status)
}
