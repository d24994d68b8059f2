// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/leadsync/internal/adapter"
	"github.com/tomtom215/leadsync/internal/clock"
	"github.com/tomtom215/leadsync/internal/gate"
	"github.com/tomtom215/leadsync/internal/store"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu       sync.Mutex
	rows     []adapter.SourceRecord
	count    int64 // overrides len(rows) when >= 0
	countErr error
	fetchErr error
	failAt   int // FetchPage offset that fails with fetchErr; -1 disables
	panicAt  int
	sinces   []*time.Time
}

func newFakeSource(rows []adapter.SourceRecord) *fakeSource {
	return &fakeSource{rows: rows, count: -1, failAt: -1, panicAt: -1}
}

func (s *fakeSource) Count(_ context.Context, since *time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinces = append(s.sinces, since)
	if s.countErr != nil {
		return 0, s.countErr
	}
	if s.count >= 0 {
		return s.count, nil
	}
	return int64(len(s.rows)), nil
}

func (s *fakeSource) FetchPage(_ context.Context, offset, size int, _ *time.Time) ([]adapter.SourceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if offset == s.panicAt {
		panic("source exploded")
	}
	if offset == s.failAt {
		return nil, s.fetchErr
	}
	if offset >= len(s.rows) {
		return nil, nil
	}
	end := offset + size
	if end > len(s.rows) {
		end = len(s.rows)
	}
	return s.rows[offset:end], nil
}

// fakeDest is an idempotent in-memory destination.
type fakeDest struct {
	mu         sync.Mutex
	contacts   map[string]string
	deliveries map[string]int
	tags       map[string]string
	tagCreates int
	attaches   int
	failWith   map[string]error
	upserts    atomic.Int32
	onUpsert   func(n int)
}

func newFakeDest() *fakeDest {
	return &fakeDest{
		contacts:   map[string]string{},
		deliveries: map[string]int{},
		tags:       map[string]string{},
		failWith:   map[string]error{},
	}
}

func (d *fakeDest) Upsert(_ context.Context, rec adapter.SourceRecord) (adapter.Upserted, error) {
	n := int(d.upserts.Add(1))
	if d.onUpsert != nil {
		d.onUpsert(n)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deliveries[rec.Email]++
	if err, ok := d.failWith[rec.Email]; ok {
		return adapter.Upserted{}, err
	}
	if id, ok := d.contacts[rec.Email]; ok {
		return adapter.Upserted{ID: id}, fmt.Errorf("create contact: %w", adapter.ErrAlreadyExists)
	}
	id := fmt.Sprintf("c%d", len(d.contacts)+1)
	d.contacts[rec.Email] = id
	return adapter.Upserted{ID: id, Result: adapter.Created}, nil
}

func (d *fakeDest) EnsureReference(_ context.Context, label string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tagCreates++
	key := strings.ToLower(label)
	if _, ok := d.tags[key]; ok {
		return "", adapter.ErrAlreadyExists
	}
	id := fmt.Sprintf("t%d", len(d.tags)+1)
	d.tags[key] = id
	return id, nil
}

func (d *fakeDest) ListReferences(context.Context) ([]adapter.Reference, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	refs := make([]adapter.Reference, 0, len(d.tags))
	for label, id := range d.tags {
		refs = append(refs, adapter.Reference{ID: id, Label: label})
	}
	return refs, nil
}

func (d *fakeDest) AttachReferences(_ context.Context, targetID string, ids []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attaches++
	return nil
}

// recordingStore captures every progress patch.
type recordingStore struct {
	*store.MemoryStore
	mu      sync.Mutex
	patches []store.JobPatch
}

func (s *recordingStore) PatchJob(ctx context.Context, id string, p store.JobPatch) (*store.Job, error) {
	s.mu.Lock()
	s.patches = append(s.patches, p)
	s.mu.Unlock()
	return s.MemoryStore.PatchJob(ctx, id, p)
}

type progressRecorder struct {
	mu   sync.Mutex
	jobs []*store.Job
}

func (p *progressRecorder) PublishProgress(job *store.Job) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, job)
}

type harness struct {
	e        *Engine
	mem      *store.MemoryStore
	st       *recordingStore
	gate     *gate.Gate
	clk      *clock.Mock
	src      *fakeSource
	dest     *fakeDest
	progress *progressRecorder
}

func newHarness(t *testing.T, rows []adapter.SourceRecord, mutate ...func(*Config)) *harness {
	t.Helper()
	clk := clock.NewMock(t0)
	mem := store.NewMemoryStore(clk)
	rec := &recordingStore{MemoryStore: mem}
	g := gate.New(mem, clk, gate.DefaultConfig())

	cfg := DefaultConfig()
	cfg.InterCallDelay = 0
	for _, m := range mutate {
		m(&cfg)
	}

	var seq atomic.Int32
	h := &harness{
		mem:      mem,
		st:       rec,
		gate:     g,
		clk:      clk,
		src:      newFakeSource(rows),
		dest:     newFakeDest(),
		progress: &progressRecorder{},
	}
	h.e = New(rec, g, h.src, h.dest, cfg,
		WithClock(clk),
		WithProgress(h.progress),
		WithIDGenerator(func() string { return fmt.Sprintf("job-%d", seq.Add(1)) }),
	)
	return h
}

func (h *harness) gateDoc(t *testing.T) *store.Gate {
	t.Helper()
	g, err := h.mem.GetGate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func (h *harness) job(t *testing.T, id string) *store.Job {
	t.Helper()
	j, err := h.mem.GetJob(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return j
}

func records(n int, labels ...string) []adapter.SourceRecord {
	rows := make([]adapter.SourceRecord, n)
	for i := range rows {
		rows[i] = adapter.SourceRecord{
			Key:    fmt.Sprintf("lead-%d", i),
			Email:  fmt.Sprintf("user%d@example.com", i),
			Labels: labels,
		}
	}
	return rows
}

var errBoom = errors.New("boom")
