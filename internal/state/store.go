// Package state persists per-lab provisioning progress so interrupted
// runs resume instead of starting over.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const (
	labBucket   = "labs"
	stageBucket = "stages"
)

// Status is the lifecycle of one stage within a run.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
	StatusSkipped  Status = "skipped"
)

// StageRecord is the persisted state of one stage.
type StageRecord struct {
	StageID     string    `json:"stage_id"`
	Node        string    `json:"node"`
	Status      Status    `json:"status"`
	Attempts    int       `json:"attempts"`
	RunID       string    `json:"run_id"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// LabRecord is the persisted header of one lab.
type LabRecord struct {
	Name       string    `json:"name"`
	Domain     string    `json:"domain"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	LastRunID  string    `json:"last_run_id"`
	ConfigHash string    `json:"config_hash"`
}

// Store wraps the on-disk database.
type Store struct {
	db *bbolt.DB
}

// Open creates or opens the state database.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(labBucket)); err != nil {
			return fmt.Errorf("failed to create lab bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(stageBucket)); err != nil {
			return fmt.Errorf("failed to create stage bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the state database.
func (s *Store) Close() error {
	return s.db.Close()
}

func stageKey(lab, stageID string) []byte {
	return []byte(lab + "/" + stageID)
}

// SaveLab upserts the lab header.
func (s *Store) SaveLab(rec *LabRecord) error {
	if rec.Name == "" {
		return fmt.Errorf("lab name cannot be empty")
	}
	rec.UpdatedAt = time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.UpdatedAt
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal lab record: %w", err)
		}
		return tx.Bucket([]byte(labBucket)).Put([]byte(rec.Name), data)
	})
}

// GetLab returns the lab header, or nil when unknown.
func (s *Store) GetLab(name string) (*LabRecord, error) {
	var rec *LabRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(labBucket)).Get([]byte(name))
		if data == nil {
			return nil
		}
		rec = &LabRecord{}
		if err := json.Unmarshal(data, rec); err != nil {
			return fmt.Errorf("failed to unmarshal lab record: %w", err)
		}
		return nil
	})
	return rec, err
}

// SaveStage upserts one stage record.
func (s *Store) SaveStage(lab string, rec *StageRecord) error {
	if lab == "" || rec.StageID == "" {
		return fmt.Errorf("lab and stage ID cannot be empty")
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal stage record: %w", err)
		}
		return tx.Bucket([]byte(stageBucket)).Put(stageKey(lab, rec.StageID), data)
	})
}

// GetStage returns one stage record, or nil when the stage never ran.
func (s *Store) GetStage(lab, stageID string) (*StageRecord, error) {
	var rec *StageRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(stageBucket)).Get(stageKey(lab, stageID))
		if data == nil {
			return nil
		}
		rec = &StageRecord{}
		if err := json.Unmarshal(data, rec); err != nil {
			return fmt.Errorf("failed to unmarshal stage record: %w", err)
		}
		return nil
	})
	return rec, err
}

// ListStages returns every stage record for a lab.
func (s *Store) ListStages(lab string) ([]*StageRecord, error) {
	prefix := stageKey(lab, "")
	var records []*StageRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(stageBucket)).Cursor()
		for k, v := c.Seek(prefix); k != nil && len(k) >= len(prefix) && string(k[:len(prefix)]) == string(prefix); k, v = c.Next() {
			rec := &StageRecord{}
			if err := json.Unmarshal(v, rec); err != nil {
				return fmt.Errorf("failed to unmarshal stage record %s: %w", k, err)
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}

// ResetFailed flips failed stages back to pending so a resume retries
// them. Returns the number of stages reset.
func (s *Store) ResetFailed(lab string) (int, error) {
	records, err := s.ListStages(lab)
	if err != nil {
		return 0, err
	}
	reset := 0
	for _, rec := range records {
		if rec.Status != StatusFailed && rec.Status != StatusRunning {
			continue
		}
		rec.Status = StatusPending
		rec.Error = ""
		if err := s.SaveStage(lab, rec); err != nil {
			return reset, err
		}
		reset++
	}
	return reset, nil
}

// DeleteLab removes the lab header and all of its stage records.
func (s *Store) DeleteLab(name string) error {
	prefix := stageKey(name, "")
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket([]byte(labBucket)).Delete([]byte(name)); err != nil {
			return fmt.Errorf("failed to delete lab record: %w", err)
		}
		bucket := tx.Bucket([]byte(stageBucket))
		c := bucket.Cursor()
		var keys [][]byte
		for k, _ := c.Seek(prefix); k != nil && len(k) >= len(prefix) && string(k[:len(prefix)]) == string(prefix); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := bucket.Delete(k); err != nil {
				return fmt.Errorf("failed to delete stage record: %w", err)
			}
		}
		return nil
	})
}
