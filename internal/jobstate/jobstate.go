// Package jobstate persists scheduler run-state in an embedded BoltDB
// file: the last-run timestamp, outcome, and duration of each scheduled
// job, plus an append-only run history used to detect and refuse
// overlapping runs across process restarts.
//
// Schema (BoltDB bucket layout):
//
//	/runs
//	    key:   job name
//	    value: JSON-encoded LatestRun (the most recent run only)
//
//	/history
//	    key:   job name + "_" + RFC3339Nano start time  (sortable)
//	    value: JSON-encoded RunRecord
//
//	/meta
//	    key:   "schema_version"
//	    value: "1"
package jobstate

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// SchemaVersion is the current database schema version.
	SchemaVersion = "1"

	bucketRuns    = "runs"
	bucketHistory = "history"
	bucketMeta    = "meta"
)

// Outcome is the closed set of terminal run outcomes.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// LatestRun is the most recent run record for a single job.
type LatestRun struct {
	Job       string    `json:"job"`
	StartedAt time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Outcome   Outcome   `json:"outcome"`
	Error     string    `json:"error,omitempty"`
	Running   bool      `json:"running"`
}

// RunRecord is one entry in a job's append-only history.
type RunRecord struct {
	Job        string    `json:"job"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Outcome    Outcome   `json:"outcome"`
	Error      string    `json:"error,omitempty"`
}

// Store wraps a BoltDB instance with typed accessors for scheduler state.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the BoltDB file at path and ensures the bucket
// layout and schema version are present.
func Open(path string) (*Store, error) {
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt.Open(%q): %w", path, err)
	}

	s := &Store{db: bdb}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketRuns, bucketHistory, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("CreateBucketIfNotExists(%q): %w", name, err)
			}
		}
		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte("schema_version")) == nil {
			if err := meta.Put([]byte("schema_version"), []byte(SchemaVersion)); err != nil {
				return fmt.Errorf("write schema_version: %w", err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("jobstate initialisation failed: %w", err)
	}
	return s, nil
}

// Close closes the underlying BoltDB file.
func (s *Store) Close() error { return s.db.Close() }

// TryBegin records a job as running, refusing to start if a run is
// already in flight (across this or a prior process, since the flag is
// durable). Returns false without error if the job is already running.
func (s *Store) TryBegin(job string, startedAt time.Time) (bool, error) {
	began := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketRuns))
		data := b.Get([]byte(job))
		if data != nil {
			var prev LatestRun
			if err := json.Unmarshal(data, &prev); err != nil {
				return fmt.Errorf("unmarshal latest run for %q: %w", job, err)
			}
			if prev.Running {
				return nil // began stays false: refuse overlap.
			}
		}
		rec := LatestRun{Job: job, StartedAt: startedAt, Running: true}
		encoded, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal latest run for %q: %w", job, err)
		}
		if err := b.Put([]byte(job), encoded); err != nil {
			return fmt.Errorf("put latest run for %q: %w", job, err)
		}
		began = true
		return nil
	})
	return began, err
}

// Finish marks a job's in-flight run complete, records its outcome in
// the latest-run slot, and appends it to history.
func (s *Store) Finish(job string, startedAt, finishedAt time.Time, outcome Outcome, runErr error) error {
	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}

	latest := LatestRun{
		Job:        job,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Outcome:    outcome,
		Error:      errMsg,
		Running:    false,
	}
	history := RunRecord{
		Job:        job,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Outcome:    outcome,
		Error:      errMsg,
	}

	latestData, err := json.Marshal(latest)
	if err != nil {
		return fmt.Errorf("marshal latest run for %q: %w", job, err)
	}
	historyData, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("marshal history record for %q: %w", job, err)
	}
	historyKey := []byte(fmt.Sprintf("%s_%s", job, startedAt.UTC().Format(time.RFC3339Nano)))

	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(bucketRuns)).Put([]byte(job), latestData); err != nil {
			return fmt.Errorf("put latest run for %q: %w", job, err)
		}
		if err := tx.Bucket([]byte(bucketHistory)).Put(historyKey, historyData); err != nil {
			return fmt.Errorf("put history record for %q: %w", job, err)
		}
		return nil
	})
}

// Latest returns the most recent run record for job, or nil if the job
// has never run.
func (s *Store) Latest(job string) (*LatestRun, error) {
	var rec *LatestRun
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(bucketRuns)).Get([]byte(job))
		if data == nil {
			return nil
		}
		var latest LatestRun
		if err := json.Unmarshal(data, &latest); err != nil {
			return err
		}
		rec = &latest
		return nil
	})
	return rec, err
}

// History returns every recorded run for job in chronological order.
func (s *Store) History(job string) ([]RunRecord, error) {
	var records []RunRecord
	prefix := []byte(job + "_")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketHistory)).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var rec RunRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}
