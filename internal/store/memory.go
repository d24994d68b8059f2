// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/leadsync/internal/clock"
)

// MemoryStore keeps jobs and the gate in process memory.
// Values are copied on the way in and out so callers never share state.
type MemoryStore struct {
	clock clock.Clock

	mu       sync.Mutex
	jobs     map[string]*Job
	overflow map[string][]ErrorSample
	gate     *Gate
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryStore{
		clock:    clk,
		jobs:     make(map[string]*Job),
		overflow: make(map[string][]ErrorSample),
	}
}

// CreateJob stores a new job.
func (s *MemoryStore) CreateJob(ctx context.Context, job *Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return ErrAlreadyExists
	}
	c := job.Clone()
	now := s.clock.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.jobs[c.ID] = c
	return nil
}

// GetJob returns a copy of the job.
func (s *MemoryStore) GetJob(ctx context.Context, id string) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return j.Clone(), nil
}

// PatchJob merges patch into an existing job.
func (s *MemoryStore) PatchJob(ctx context.Context, id string, patch JobPatch) (*Job, error) {
	return s.UpdateJob(ctx, id, func(j *Job) error {
		patch.Apply(j, s.clock.Now())
		return nil
	})
}

// UpdateJob runs fn against a copy and commits it if fn succeeds.
func (s *MemoryStore) UpdateJob(ctx context.Context, id string, fn func(j *Job) error) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = s.clock.Now()
	s.jobs[id] = next
	return next.Clone(), nil
}

// IncrementJob adds to the counters, creating the job if needed.
func (s *MemoryStore) IncrementJob(ctx context.Context, id string, inc Increment) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	j, ok := s.jobs[id]
	if !ok {
		j = lazyJob(id, inc, now)
		s.jobs[id] = j
	}
	inc.Apply(j, now)
	return j.Clone(), nil
}

// ListJobs returns up to limit jobs, newest first.
func (s *MemoryStore) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j.Clone())
	}
	s.mu.Unlock()

	return newestFirst(jobs, limit), nil
}

// AppendOverflowErrors records samples of the bulk error class. It returns
// ErrNotFound if the job no longer exists.
func (s *MemoryStore) AppendOverflowErrors(ctx context.Context, id string, samples []ErrorSample) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(samples) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return ErrNotFound
	}
	s.overflow[id] = append(s.overflow[id], samples...)
	return nil
}

// ListOverflowErrors returns overflow errors in insertion order.
func (s *MemoryStore) ListOverflowErrors(ctx context.Context, id string) ([]ErrorSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ErrorSample(nil), s.overflow[id]...), nil
}

// GetGate returns the gate or ErrNotFound if it was never written.
func (s *MemoryStore) GetGate(ctx context.Context) (*Gate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate == nil {
		return nil, ErrNotFound
	}
	return s.gate.Clone(), nil
}

// UpdateGate applies fn under the store lock.
func (s *MemoryStore) UpdateGate(ctx context.Context, fn GateMutator) (*Gate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := &Gate{}
	if s.gate != nil {
		next = s.gate.Clone()
	}
	changed, err := fn(next)
	if err != nil {
		return nil, err
	}
	if !changed {
		if s.gate == nil {
			return next, nil
		}
		return s.gate.Clone(), nil
	}
	next.UpdatedAt = s.clock.Now()
	s.gate = next
	return next.Clone(), nil
}

// DeleteJob removes a job. Used to simulate operator deletion.
func (s *MemoryStore) DeleteJob(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	delete(s.overflow, id)
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func lazyJob(id string, inc Increment, now time.Time) *Job {
	kind := inc.Kind
	if kind == "" {
		kind = KindCSVImport
	}
	return &Job{
		ID:        id,
		Kind:      kind,
		Status:    StatusRunning,
		Source:    inc.Source,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newestFirst(jobs []*Job, limit int) []*Job {
	sort.Slice(jobs, func(i, k int) bool {
		if jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].ID > jobs[k].ID
		}
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs
}
