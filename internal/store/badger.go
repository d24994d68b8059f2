// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/leadsync/internal/clock"
	"github.com/tomtom215/leadsync/internal/logging"
	"github.com/tomtom215/leadsync/internal/metrics"
)

const (
	jobKeyPrefix      = "job:"
	overflowKeyPrefix = "joberr:"
	overflowSeqPrefix = "joberrseq:"
	gateKey           = "gate"

	// maxConflictRetries bounds optimistic retries of a conflicting update.
	maxConflictRetries = 100
)

// BadgerStore persists jobs and the gate in BadgerDB.
type BadgerStore struct {
	db    *badger.DB
	clock clock.Clock
	owned bool
}

// OpenBadger opens (or creates) a Badger database at path.
// An empty path opens an in-memory database.
func OpenBadger(path string, clk clock.Clock) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	s := NewBadgerStore(db, clk)
	s.owned = true
	return s, nil
}

// NewBadgerStore wraps an already open database. Close does not close db.
func NewBadgerStore(db *badger.DB, clk clock.Clock) *BadgerStore {
	if clk == nil {
		clk = clock.New()
	}
	return &BadgerStore{db: db, clock: clk}
}

// CreateJob stores a new job document.
func (s *BadgerStore) CreateJob(ctx context.Context, job *Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c := job.Clone()
	now := s.clock.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	err := s.update("create_job", func(txn *badger.Txn) error {
		key := jobKey(c.ID)
		if _, err := txn.Get(key); err == nil {
			return ErrAlreadyExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("get job: %w", err)
		}
		return setJSON(txn, key, c)
	})
	return err
}

// GetJob loads a job document.
func (s *BadgerStore) GetJob(ctx context.Context, id string) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var job Job
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, jobKey(id), &job)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// PatchJob merges patch into an existing job.
func (s *BadgerStore) PatchJob(ctx context.Context, id string, patch JobPatch) (*Job, error) {
	return s.UpdateJob(ctx, id, func(j *Job) error {
		patch.Apply(j, s.clock.Now())
		return nil
	})
}

// UpdateJob reads, mutates and writes a job within one transaction.
func (s *BadgerStore) UpdateJob(ctx context.Context, id string, fn func(j *Job) error) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out *Job
	err := s.update("update_job", func(txn *badger.Txn) error {
		var job Job
		if err := getJSON(txn, jobKey(id), &job); err != nil {
			return err
		}
		if err := fn(&job); err != nil {
			return err
		}
		job.UpdatedAt = s.clock.Now()
		out = &job
		return setJSON(txn, jobKey(id), &job)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// IncrementJob atomically adds to the counters, creating the job lazily.
func (s *BadgerStore) IncrementJob(ctx context.Context, id string, inc Increment) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out *Job
	err := s.update("increment_job", func(txn *badger.Txn) error {
		now := s.clock.Now()
		job := &Job{}
		err := getJSON(txn, jobKey(id), job)
		switch {
		case errors.Is(err, ErrNotFound):
			job = lazyJob(id, inc, now)
		case err != nil:
			return err
		}
		inc.Apply(job, now)
		out = job
		return setJSON(txn, jobKey(id), job)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListJobs returns up to limit jobs, newest first.
func (s *BadgerStore) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var jobs []*Job
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(jobKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var job Job
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &job)
			}); err != nil {
				return fmt.Errorf("decode job %s: %w", it.Item().Key(), err)
			}
			jobs = append(jobs, &job)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return newestFirst(jobs, limit), nil
}

// AppendOverflowErrors writes each sample under its own key. The job key is
// read in the same transaction so a deleted job gets ErrNotFound instead of
// orphaned samples.
func (s *BadgerStore) AppendOverflowErrors(ctx context.Context, id string, samples []ErrorSample) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(samples) == 0 {
		return nil
	}
	return s.update("append_overflow", func(txn *badger.Txn) error {
		if _, err := txn.Get(jobKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("get job: %w", err)
		}
		seqKey := []byte(overflowSeqPrefix + id)
		var next uint64
		item, err := txn.Get(seqKey)
		switch {
		case err == nil:
			if err := item.Value(func(val []byte) error {
				next, err = strconv.ParseUint(string(val), 10, 64)
				return err
			}); err != nil {
				return fmt.Errorf("read overflow sequence: %w", err)
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return fmt.Errorf("get overflow sequence: %w", err)
		}

		for i := range samples {
			key := []byte(fmt.Sprintf("%s%s:%020d", overflowKeyPrefix, id, next))
			if err := setJSON(txn, key, &samples[i]); err != nil {
				return err
			}
			next++
		}
		return txn.Set(seqKey, []byte(strconv.FormatUint(next, 10)))
	})
}

// ListOverflowErrors returns overflow samples in write order.
func (s *BadgerStore) ListOverflowErrors(ctx context.Context, id string) ([]ErrorSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var samples []ErrorSample
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(overflowKeyPrefix + id + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var sample ErrorSample
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &sample)
			}); err != nil {
				return err
			}
			samples = append(samples, sample)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list overflow errors: %w", err)
	}
	return samples, nil
}

// GetGate loads the singleton gate.
func (s *BadgerStore) GetGate(ctx context.Context) (*Gate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var gate Gate
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, []byte(gateKey), &gate)
	})
	if err != nil {
		return nil, err
	}
	return &gate, nil
}

// UpdateGate applies fn to the gate inside one transaction.
func (s *BadgerStore) UpdateGate(ctx context.Context, fn GateMutator) (*Gate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out *Gate
	err := s.update("update_gate", func(txn *badger.Txn) error {
		gate := &Gate{}
		if err := getJSON(txn, []byte(gateKey), gate); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		changed, err := fn(gate)
		if err != nil {
			return err
		}
		out = gate
		if !changed {
			return nil
		}
		gate.UpdatedAt = s.clock.Now()
		return setJSON(txn, []byte(gateKey), gate)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RunGC reclaims value log space. badger.ErrNoRewrite means nothing to do.
func (s *BadgerStore) RunGC(discardRatio float64) error {
	if s.db.Opts().InMemory {
		return nil
	}
	for {
		err := s.db.RunValueLogGC(discardRatio)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("value log gc: %w", err)
		}
	}
}

// Close closes the database if this store opened it.
func (s *BadgerStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// update runs fn in a read-write transaction, retrying on conflicts with
// concurrent writers.
func (s *BadgerStore) update(op string, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
		logging.Debug().Str("op", op).Int("attempt", attempt+1).Msg("badger transaction conflict, retrying")
		time.Sleep(time.Duration(attempt+1) * time.Millisecond)
	}
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrAlreadyExists) {
		metrics.StoreWriteErrors.WithLabelValues(op).Inc()
	}
	return err
}

func jobKey(id string) []byte {
	return []byte(jobKeyPrefix + id)
}

func getJSON(txn *badger.Txn, key []byte, v interface{}) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := txn.Set(key, data); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}
