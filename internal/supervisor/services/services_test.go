// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package services

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

var (
	_ suture.Service = (*HTTPServerService)(nil)
	_ suture.Service = (*ProgressHubService)(nil)
	_ suture.Service = (*QueueProcessorService)(nil)
	_ suture.Service = (*SchedulerService)(nil)
	_ suture.Service = (*StoreGCService)(nil)
	_ suture.Service = (*RunDrainService)(nil)
)

type mockHTTPServer struct {
	listenErr   error
	shutdownErr error
	started     chan struct{}
	stop        chan struct{}
	shutdowns   atomic.Int32
}

func newMockHTTPServer() *mockHTTPServer {
	return &mockHTTPServer{started: make(chan struct{}, 1), stop: make(chan struct{})}
}

func (m *mockHTTPServer) ListenAndServe() error {
	select {
	case m.started <- struct{}{}:
	default:
	}
	if m.listenErr != nil {
		return m.listenErr
	}
	<-m.stop
	return http.ErrServerClosed
}

func (m *mockHTTPServer) Shutdown(context.Context) error {
	m.shutdowns.Add(1)
	close(m.stop)
	return m.shutdownErr
}

func serveAsync(svc suture.Service) (context.CancelFunc, <-chan error) {
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()
	return cancel, errCh
}

func awaitErr(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
		return nil
	}
}

func TestHTTPServerService(t *testing.T) {
	t.Run("graceful shutdown", func(t *testing.T) {
		srv := newMockHTTPServer()
		cancel, errCh := serveAsync(NewHTTPServerService(srv, time.Second))
		<-srv.started
		cancel()
		if err := awaitErr(t, errCh); !errors.Is(err, context.Canceled) {
			t.Errorf("Serve = %v, want context.Canceled", err)
		}
		if srv.shutdowns.Load() != 1 {
			t.Errorf("shutdowns = %d", srv.shutdowns.Load())
		}
	})

	t.Run("bind failure", func(t *testing.T) {
		bindErr := errors.New("bind: address already in use")
		srv := newMockHTTPServer()
		srv.listenErr = bindErr
		if err := NewHTTPServerService(srv, time.Second).Serve(context.Background()); !errors.Is(err, bindErr) {
			t.Errorf("Serve = %v, want %v", err, bindErr)
		}
	})

	t.Run("shutdown failure", func(t *testing.T) {
		shutdownErr := errors.New("shutdown timeout")
		srv := newMockHTTPServer()
		srv.shutdownErr = shutdownErr
		cancel, errCh := serveAsync(NewHTTPServerService(srv, time.Second))
		<-srv.started
		cancel()
		if err := awaitErr(t, errCh); !errors.Is(err, shutdownErr) {
			t.Errorf("Serve = %v, want %v", err, shutdownErr)
		}
	})

	if got := NewHTTPServerService(newMockHTTPServer(), 0).shutdownTimeout; got != 10*time.Second {
		t.Errorf("default timeout = %v", got)
	}
}

type blockingHub struct{ ran atomic.Bool }

func (h *blockingHub) RunWithContext(ctx context.Context) error {
	h.ran.Store(true)
	<-ctx.Done()
	return ctx.Err()
}

func TestProgressHubService(t *testing.T) {
	hub := &blockingHub{}
	cancel, errCh := serveAsync(NewProgressHubService(hub))
	cancel()
	if err := awaitErr(t, errCh); !errors.Is(err, context.Canceled) {
		t.Errorf("Serve = %v", err)
	}
	if !hub.ran.Load() {
		t.Error("hub never ran")
	}
}

type fakeProcessor struct {
	runErr    error
	exitEarly bool
	closed    atomic.Int32
}

func (p *fakeProcessor) Run(ctx context.Context) error {
	if p.exitEarly {
		return p.runErr
	}
	<-ctx.Done()
	return nil
}

func (p *fakeProcessor) Close() error {
	p.closed.Add(1)
	return nil
}

func TestQueueProcessorService(t *testing.T) {
	t.Run("shutdown closes the transport", func(t *testing.T) {
		p := &fakeProcessor{}
		cancel, errCh := serveAsync(NewQueueProcessorService(p))
		cancel()
		if err := awaitErr(t, errCh); !errors.Is(err, context.Canceled) {
			t.Errorf("Serve = %v", err)
		}
		if p.closed.Load() != 1 {
			t.Errorf("Close calls = %d", p.closed.Load())
		}
	})

	t.Run("unexpected stop is not restarted", func(t *testing.T) {
		boom := errors.New("subscriber lost")
		p := &fakeProcessor{exitEarly: true, runErr: boom}
		err := NewQueueProcessorService(p).Serve(context.Background())
		if !errors.Is(err, suture.ErrDoNotRestart) || !errors.Is(err, boom) {
			t.Errorf("Serve = %v", err)
		}
	})
}

type fakeRunner struct {
	startErr error
	starts   atomic.Int32
	stops    atomic.Int32
}

func (r *fakeRunner) Start(context.Context) error {
	r.starts.Add(1)
	return r.startErr
}

func (r *fakeRunner) Stop() error {
	r.stops.Add(1)
	return nil
}

func TestSchedulerService(t *testing.T) {
	r := &fakeRunner{}
	cancel, errCh := serveAsync(NewSchedulerService(r))
	time.Sleep(10 * time.Millisecond)
	cancel()
	if err := awaitErr(t, errCh); !errors.Is(err, context.Canceled) {
		t.Errorf("Serve = %v", err)
	}
	if r.starts.Load() != 1 || r.stops.Load() != 1 {
		t.Errorf("starts=%d stops=%d", r.starts.Load(), r.stops.Load())
	}

	bad := &fakeRunner{startErr: errors.New("already started")}
	if err := NewSchedulerService(bad).Serve(context.Background()); err == nil {
		t.Error("start failure not reported")
	}
}

type fakeGC struct {
	calls atomic.Int32
	err   error
}

func (g *fakeGC) RunGC(ratio float64) error {
	g.calls.Add(1)
	return g.err
}

func TestStoreGCService(t *testing.T) {
	gc := &fakeGC{err: errors.New("value log busy")}
	cancel, errCh := serveAsync(NewStoreGCService(gc, 5*time.Millisecond))
	deadline := time.Now().Add(2 * time.Second)
	for gc.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	cancel()
	if err := awaitErr(t, errCh); !errors.Is(err, context.Canceled) {
		t.Errorf("Serve = %v", err)
	}
	if gc.calls.Load() < 2 {
		t.Errorf("GC calls = %d, want the loop to survive failures", gc.calls.Load())
	}
}

type wgWaiter struct{ wg sync.WaitGroup }

func (w *wgWaiter) Wait() { w.wg.Wait() }

func TestRunDrainService(t *testing.T) {
	w := &wgWaiter{}
	w.wg.Add(1)
	var released atomic.Bool

	cancel, errCh := serveAsync(NewRunDrainService(w, time.Second))
	cancel()
	go func() {
		time.Sleep(20 * time.Millisecond)
		released.Store(true)
		w.wg.Done()
	}()
	if err := awaitErr(t, errCh); !errors.Is(err, context.Canceled) {
		t.Errorf("Serve = %v", err)
	}
	if !released.Load() {
		t.Error("Serve returned before the runs drained")
	}

	stuck := &wgWaiter{}
	stuck.wg.Add(1)
	cancel, errCh = serveAsync(NewRunDrainService(stuck, 10*time.Millisecond))
	cancel()
	if err := awaitErr(t, errCh); !errors.Is(err, context.Canceled) {
		t.Errorf("Serve with stuck run = %v", err)
	}
	stuck.wg.Done()
}
