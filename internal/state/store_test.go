package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "state", "hvc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestLabRoundTrip(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.SaveLab(&LabRecord{
		Name:      "lab1",
		Domain:    "lab.local",
		LastRunID: "run-1",
	}))

	rec, err := store.GetLab("lab1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "lab.local", rec.Domain)
	assert.Equal(t, "run-1", rec.LastRunID)
	assert.False(t, rec.CreatedAt.IsZero())

	missing, err := store.GetLab("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStageRoundTrip(t *testing.T) {
	store := openTestStore(t)

	rec := &StageRecord{
		StageID:   "dc01/forest",
		Node:      "DC01",
		Status:    StatusRunning,
		Attempts:  1,
		RunID:     "run-1",
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, store.SaveStage("lab1", rec))

	got, err := store.GetStage("lab1", "dc01/forest")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, 1, got.Attempts)

	missing, err := store.GetStage("lab1", "dc01/absent")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestListStagesIsScopedToLab(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.SaveStage("lab1", &StageRecord{StageID: "a", Status: StatusComplete}))
	require.NoError(t, store.SaveStage("lab1", &StageRecord{StageID: "b", Status: StatusPending}))
	require.NoError(t, store.SaveStage("lab2", &StageRecord{StageID: "a", Status: StatusFailed}))

	records, err := store.ListStages("lab1")
	require.NoError(t, err)
	assert.Len(t, records, 2)
	for _, rec := range records {
		assert.NotEqual(t, StatusFailed, rec.Status)
	}
}

func TestResetFailed(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.SaveStage("lab1", &StageRecord{StageID: "a", Status: StatusComplete}))
	require.NoError(t, store.SaveStage("lab1", &StageRecord{StageID: "b", Status: StatusFailed, Error: "boom"}))
	require.NoError(t, store.SaveStage("lab1", &StageRecord{StageID: "c", Status: StatusRunning}))

	reset, err := store.ResetFailed("lab1")
	require.NoError(t, err)
	assert.Equal(t, 2, reset)

	b, err := store.GetStage("lab1", "b")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, b.Status)
	assert.Empty(t, b.Error)

	a, err := store.GetStage("lab1", "a")
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, a.Status)
}

func TestDeleteLab(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.SaveLab(&LabRecord{Name: "lab1"}))
	require.NoError(t, store.SaveStage("lab1", &StageRecord{StageID: "a", Status: StatusComplete}))
	require.NoError(t, store.SaveStage("lab2", &StageRecord{StageID: "a", Status: StatusComplete}))

	require.NoError(t, store.DeleteLab("lab1"))

	rec, err := store.GetLab("lab1")
	require.NoError(t, err)
	assert.Nil(t, rec)

	stages, err := store.ListStages("lab1")
	require.NoError(t, err)
	assert.Empty(t, stages)

	other, err := store.ListStages("lab2")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}
