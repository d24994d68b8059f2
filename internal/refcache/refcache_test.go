// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package refcache

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
)

type fakeDest struct {
	mu        sync.Mutex
	refs      map[string]string
	creates   atomic.Int32
	lists     atomic.Int32
	listErr   error
	conflict  bool
	createLag time.Duration
}

func newFakeDest(existing ...adapter.Reference) *fakeDest {
	d := &fakeDest{refs: make(map[string]string)}
	for _, r := range existing {
		d.refs[r.Label] = r.ID
	}
	return d
}

func (d *fakeDest) Upsert(context.Context, adapter.SourceRecord) (adapter.Upserted, error) {
	return adapter.Upserted{}, nil
}

func (d *fakeDest) AttachReferences(context.Context, string, []string) error { return nil }

func (d *fakeDest) ListReferences(context.Context) ([]adapter.Reference, error) {
	d.lists.Add(1)
	if d.listErr != nil {
		return nil, d.listErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]adapter.Reference, 0, len(d.refs))
	for label, id := range d.refs {
		out = append(out, adapter.Reference{ID: id, Label: label})
	}
	return out, nil
}

func (d *fakeDest) EnsureReference(_ context.Context, label string) (string, error) {
	d.creates.Add(1)
	time.Sleep(d.createLag)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conflict {
		d.refs[label] = "winner-" + strings.ToLower(label)
		return "", fmt.Errorf("create tag: %w", adapter.ErrAlreadyExists)
	}
	id := fmt.Sprintf("ref-%d", len(d.refs)+1)
	d.refs[label] = id
	return id, nil
}

func TestResolve_ReusesCreatedReference(t *testing.T) {
	dest := newFakeDest()
	c := New(dest)
	ctx := context.Background()

	first, err := c.Resolve(ctx, "Promo2024")
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.Resolve(ctx, "promo2024 ")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("ids differ: %q vs %q", first, second)
	}
	if got := dest.creates.Load(); got != 1 {
		t.Errorf("creates = %d, want 1", got)
	}
}

func TestPreload(t *testing.T) {
	dest := newFakeDest(adapter.Reference{ID: "t1", Label: "VIP"}, adapter.Reference{ID: "t2", Label: "datacrazy-sync"})
	c := New(dest)
	ctx := context.Background()

	if n := c.Preload(ctx); n != 2 {
		t.Fatalf("Preload() = %d, want 2", n)
	}
	id, err := c.Resolve(ctx, "vip")
	if err != nil || id != "t1" {
		t.Errorf("Resolve(vip) = %q, %v", id, err)
	}
	if dest.creates.Load() != 0 {
		t.Error("preloaded label triggered a create")
	}
}

func TestPreload_FailureDegradesToEmpty(t *testing.T) {
	dest := newFakeDest()
	dest.listErr = errors.New("boom")
	c := New(dest)

	if n := c.Preload(context.Background()); n != 0 {
		t.Errorf("Preload() = %d, want 0", n)
	}
	dest.listErr = nil
	if _, err := c.Resolve(context.Background(), "New"); err != nil {
		t.Errorf("Resolve after failed preload: %v", err)
	}
}

func TestResolve_ConflictResolvesToWinner(t *testing.T) {
	dest := newFakeDest()
	dest.conflict = true
	c := New(dest)

	id, err := c.Resolve(context.Background(), "Promo")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if id != "winner-promo" {
		t.Errorf("id = %q, want winner-promo", id)
	}
}

func TestResolve_ConcurrentMissesCreateOnce(t *testing.T) {
	dest := newFakeDest()
	dest.createLag = 20 * time.Millisecond
	c := New(dest)

	var wg sync.WaitGroup
	ids := make([]string, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := c.Resolve(context.Background(), "Shared")
			if err != nil {
				t.Error(err)
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()

	if got := dest.creates.Load(); got != 1 {
		t.Errorf("creates = %d, want 1", got)
	}
	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("ids differ: %v", ids)
		}
	}
}

func TestResolveAll(t *testing.T) {
	dest := newFakeDest()
	c := New(dest)

	ids, err := c.ResolveAll(context.Background(), []string{"A", "a", " ", "B"})
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Errorf("ids = %v, want 2 distinct", ids)
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d", c.Len())
	}
}

func TestResolve_EmptyLabel(t *testing.T) {
	if _, err := New(newFakeDest()).Resolve(context.Background(), "  "); err == nil {
		t.Error("empty label should fail")
	}
}
