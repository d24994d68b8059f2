// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/leadsync/internal/clock"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestWindow(t *testing.T, limit int) (*Window, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock(epoch)
	w, err := NewWindow(WindowConfig{Name: "test", Limit: limit, Window: time.Minute, Margin: 2 * time.Second}, clk)
	if err != nil {
		t.Fatalf("NewWindow() error = %v", err)
	}
	return w, clk
}

func TestNewWindow_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  WindowConfig
	}{
		{"zero limit", WindowConfig{Limit: 0, Window: time.Minute}},
		{"zero window", WindowConfig{Limit: 5, Window: 0}},
		{"negative margin", WindowConfig{Limit: 5, Window: time.Minute, Margin: -time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewWindow(tt.cfg, nil); err == nil {
				t.Error("NewWindow() should reject config")
			}
		})
	}
}

func TestWindow_AdmitsUpToLimitWithoutWaiting(t *testing.T) {
	w, clk := newTestWindow(t, 55)
	ctx := context.Background()

	for i := 0; i < 55; i++ {
		if err := w.Acquire(ctx); err != nil {
			t.Fatalf("Acquire() #%d error = %v", i, err)
		}
	}
	if clk.Slept() != 0 {
		t.Errorf("slept %v before reaching limit", clk.Slept())
	}
	if w.Count() != 55 {
		t.Errorf("Count() = %d, want 55", w.Count())
	}
}

func TestWindow_BlocksForRemainingWindowPlusMargin(t *testing.T) {
	w, clk := newTestWindow(t, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = w.Acquire(ctx)
	}
	clk.Advance(20 * time.Second)

	if err := w.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	// 40s left in the window plus the 2s margin.
	if clk.Slept() != 42*time.Second {
		t.Errorf("slept %v, want 42s", clk.Slept())
	}
	if w.Count() != 1 {
		t.Errorf("Count() after reset = %d, want 1", w.Count())
	}
}

func TestWindow_ResetsAfterWindowElapses(t *testing.T) {
	w, clk := newTestWindow(t, 2)
	ctx := context.Background()

	_ = w.Acquire(ctx)
	_ = w.Acquire(ctx)
	clk.Advance(61 * time.Second)

	if err := w.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if clk.Slept() != 0 {
		t.Errorf("slept %v after natural window expiry", clk.Slept())
	}
}

func TestWindow_CanceledWhileWaiting(t *testing.T) {
	w, _ := newTestWindow(t, 1)
	_ = w.Acquire(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Acquire(ctx); err == nil {
		t.Fatal("Acquire() should fail on canceled context")
	}
}

func TestWindow_ConcurrentAcquireNeverExceedsLimit(t *testing.T) {
	// Real clock with a long window: only the first Limit callers may pass
	// without waiting.
	w, err := NewWindow(WindowConfig{Name: "concurrent", Limit: 10, Window: time.Hour}, nil)
	if err != nil {
		t.Fatalf("NewWindow() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Acquire(ctx); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 10 {
		t.Errorf("admitted %d calls, want 10", admitted)
	}
}

func TestPacer_DisabledDoesNotBlock(t *testing.T) {
	clk := clock.NewMock(time.Now())
	p := NewPacer(0, clk)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 100; i++ {
		if err := p.Wait(ctx); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
	if clk.Slept() != 0 {
		t.Errorf("Slept() = %v, want 0", clk.Slept())
	}
}

func TestPacer_FullDelayEveryCall(t *testing.T) {
	clk := clock.NewMock(time.Now())
	p := NewPacer(300*time.Millisecond, clk)
	ctx := context.Background()

	// No free first call: every Wait pauses for the whole delay.
	for i := 1; i <= 4; i++ {
		if err := p.Wait(ctx); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
		if want := time.Duration(i) * 300 * time.Millisecond; clk.Slept() != want {
			t.Fatalf("after %d waits Slept() = %v, want %v", i, clk.Slept(), want)
		}
	}
	if p.Delay() != 300*time.Millisecond {
		t.Errorf("Delay() = %v", p.Delay())
	}
}

func TestPacer_CanceledContext(t *testing.T) {
	p := NewPacer(time.Second, clock.NewMock(time.Now()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Wait(ctx); err == nil {
		t.Fatal("Wait() on canceled context should fail")
	}
}
