// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package store

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by every backend.
var (
	// ErrNotFound is returned when a job or the gate does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrAlreadyExists is returned by CreateJob for a duplicate id.
	ErrAlreadyExists = errors.New("store: already exists")
)

// MaxErrorSamples is the default cap of the errorSamples list on a job.
const MaxErrorSamples = 50

// JobKind identifies the kind of synchronization run.
type JobKind string

const (
	KindFull        JobKind = "full"
	KindIncremental JobKind = "incremental"
	KindCSVImport   JobKind = "csv-import"
)

// Valid reports whether k is a known kind.
func (k JobKind) Valid() bool {
	switch k {
	case KindFull, KindIncremental, KindCSVImport:
		return true
	}
	return false
}

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusPaused    JobStatus = "paused"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status ends a run.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPaused, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Counters are the per-row outcome tallies of a job.
type Counters struct {
	Processed int64 `json:"processed"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Skipped   int64 `json:"skipped"`
}

// Add returns the element-wise sum of c and o.
func (c Counters) Add(o Counters) Counters {
	return Counters{
		Processed: c.Processed + o.Processed,
		Succeeded: c.Succeeded + o.Succeeded,
		Failed:    c.Failed + o.Failed,
		Skipped:   c.Skipped + o.Skipped,
	}
}

// Consistent reports whether processed equals the sum of the outcomes.
func (c Counters) Consistent() bool {
	return c.Processed == c.Succeeded+c.Failed+c.Skipped
}

// ErrorSample records one failed row.
type ErrorSample struct {
	Identifier string    `json:"identifier"`
	Error      string    `json:"error"`
	At         time.Time `json:"at"`
}

// Job is the persisted state of one synchronization run.
type Job struct {
	ID           string        `json:"id"`
	Kind         JobKind       `json:"kind"`
	Status       JobStatus     `json:"status"`
	Source       string        `json:"source,omitempty"`
	ResumedFrom  string        `json:"resumedFrom,omitempty"`
	Total        int64         `json:"total"`
	Cursor       int64         `json:"cursor"`
	LastMessage  string        `json:"lastMessage,omitempty"`
	ErrorSamples []ErrorSample `json:"errorSamples"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
	Counters
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.ErrorSamples = append([]ErrorSample(nil), j.ErrorSamples...)
	return &c
}

// JobPatch is a partial update. Nil fields are left untouched.
type JobPatch struct {
	Status       *JobStatus
	Total        *int64
	Cursor       *int64
	LastMessage  *string
	Counters     *Counters
	ErrorSamples []ErrorSample
}

// Apply merges the patch into j.
func (p JobPatch) Apply(j *Job, now time.Time) {
	if p.Status != nil {
		j.Status = *p.Status
	}
	if p.Total != nil {
		j.Total = *p.Total
	}
	if p.Cursor != nil {
		j.Cursor = *p.Cursor
	}
	if p.LastMessage != nil {
		j.LastMessage = *p.LastMessage
	}
	if p.Counters != nil {
		j.Counters = *p.Counters
	}
	if p.ErrorSamples != nil {
		j.ErrorSamples = append([]ErrorSample(nil), p.ErrorSamples...)
	}
	j.UpdatedAt = now
}

// Increment describes an atomic counter update from a queue worker.
type Increment struct {
	Delta Counters
	// Sample, when set, is appended to errorSamples keeping at most SampleCap.
	Sample    *ErrorSample
	SampleCap int
	// Kind and Source seed a job that has to be created lazily.
	Kind   JobKind
	Source string
}

// Apply adds the increment to j.
func (inc Increment) Apply(j *Job, now time.Time) {
	j.Counters = j.Counters.Add(inc.Delta)
	if inc.Sample != nil {
		j.ErrorSamples = AppendSample(j.ErrorSamples, *inc.Sample, inc.SampleCap)
	}
	j.UpdatedAt = now
}

// AppendSample appends s and drops the oldest entries beyond limit.
func AppendSample(samples []ErrorSample, s ErrorSample, limit int) []ErrorSample {
	if limit <= 0 {
		limit = MaxErrorSamples
	}
	samples = append(samples, s)
	if len(samples) > limit {
		samples = append([]ErrorSample(nil), samples[len(samples)-limit:]...)
	}
	return samples
}

// Gate is the singleton scheduler configuration and run lock.
type Gate struct {
	Enabled               bool       `json:"enabled"`
	IntervalMinutes       int        `json:"intervalMinutes"`
	Running               bool       `json:"runningFlag"`
	CurrentJobID          string     `json:"currentJobId,omitempty"`
	LastHeartbeat         *time.Time `json:"lastHeartbeat,omitempty"`
	NextEligibleAt        *time.Time `json:"nextEligibleAt,omitempty"`
	LastRunFinishedAt     *time.Time `json:"lastRunFinishedAt,omitempty"`
	AwaitingFirstRunSince *time.Time `json:"awaitingFirstRunSince,omitempty"`
	UpdatedAt             time.Time  `json:"updatedAt"`
}

// Clone returns a deep copy of g.
func (g *Gate) Clone() *Gate {
	if g == nil {
		return nil
	}
	c := *g
	c.LastHeartbeat = cloneTime(g.LastHeartbeat)
	c.NextEligibleAt = cloneTime(g.NextEligibleAt)
	c.LastRunFinishedAt = cloneTime(g.LastRunFinishedAt)
	c.AwaitingFirstRunSince = cloneTime(g.AwaitingFirstRunSince)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// GateMutator edits g in place and reports whether it must be written back.
// A nil error with changed=false leaves the stored gate untouched.
type GateMutator func(g *Gate) (changed bool, err error)

// JobStore is the job record contract used by the engine and the queue.
type JobStore interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	PatchJob(ctx context.Context, id string, patch JobPatch) (*Job, error)
	// UpdateJob applies fn to the job atomically. Returning an error from fn
	// aborts the write and the error is returned unchanged.
	UpdateJob(ctx context.Context, id string, fn func(j *Job) error) (*Job, error)
	IncrementJob(ctx context.Context, id string, inc Increment) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]*Job, error)
	// AppendOverflowErrors returns ErrNotFound when the job does not exist.
	AppendOverflowErrors(ctx context.Context, id string, samples []ErrorSample) error
	ListOverflowErrors(ctx context.Context, id string) ([]ErrorSample, error)
}

// GateStore persists the singleton gate.
type GateStore interface {
	GetGate(ctx context.Context) (*Gate, error)
	// UpdateGate applies fn atomically. A missing gate is passed as a zero Gate.
	UpdateGate(ctx context.Context, fn GateMutator) (*Gate, error)
}

// Store combines both contracts with lifecycle management.
type Store interface {
	JobStore
	GateStore
	Close() error
}
