// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package datacrazy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/leadsync/internal/adapter"
	"github.com/tomtom215/leadsync/internal/clock"
)

func newTestSource(t *testing.T, handler http.HandlerFunc) (*Source, *clock.Mock) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	clk := clock.NewMock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	src, err := New(Config{BaseURL: srv.URL, Token: "secret", MaxRetries: 3, Clock: clk})
	if err != nil {
		t.Fatal(err)
	}
	return src, clk
}

func TestNew_NotConfigured(t *testing.T) {
	if _, err := New(Config{BaseURL: "https://api.example.com"}); !errors.Is(err, adapter.ErrNotConfigured) {
		t.Errorf("New() error = %v, want ErrNotConfigured", err)
	}
}

func TestCount(t *testing.T) {
	since := time.Date(2026, 2, 28, 23, 0, 0, 0, time.UTC)
	src, _ := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/api/v1/leads" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("filter[createdAtGreaterOrEqual]"); got != "2026-02-28T23:00:00Z" {
			t.Errorf("since filter = %q", got)
		}
		if r.URL.Query().Get("take") != "1" {
			t.Errorf("take = %s", r.URL.Query().Get("take"))
		}
		_, _ = w.Write([]byte(`{"count": 237, "data": [{"id": "l1"}]}`))
	})

	n, err := src.Count(context.Background(), &since)
	if err != nil {
		t.Fatal(err)
	}
	if n != 237 {
		t.Errorf("Count() = %d, want 237", n)
	}
}

func TestFetchPage_MapsLeads(t *testing.T) {
	src, _ := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("skip") != "100" || r.URL.Query().Get("take") != "100" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		if r.URL.Query().Has("filter[createdAtGreaterOrEqual]") {
			t.Error("nil since must not send a filter")
		}
		_, _ = w.Write([]byte(`{"count": 2, "data": [
			{"id": "l1", "name": " Ana ", "email": "Ana@Example.com", "phone": "+5511999",
			 "tags": [{"id": "x", "name": "Promo2024"}, {"id": "y", "name": " "}],
			 "address": {"street": "Rua A", "city": "Sao Paulo", "zipCode": "01000-000"}},
			{"id": "l2", "email": "not-an-email"}
		]}`))
	})

	recs, err := src.FetchPage(context.Background(), 100, 100, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("len = %d", len(recs))
	}
	r := recs[0]
	if r.Key != "l1" || r.Email != "ana@example.com" || r.Name != "Ana" {
		t.Errorf("record = %+v", r)
	}
	if len(r.Labels) != 1 || r.Labels[0] != "Promo2024" {
		t.Errorf("labels = %v", r.Labels)
	}
	if r.Address == nil || r.Address.PostalCode != "01000-000" {
		t.Errorf("address = %+v", r.Address)
	}
	if recs[1].Address != nil {
		t.Error("empty address should be nil")
	}
}

func TestRateLimitedRetriesWithBackoff(t *testing.T) {
	var calls atomic.Int32
	src, clk := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n <= 2 {
			if n == 2 {
				w.Header().Set("Retry-After", strconv.Itoa(7))
			}
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"count": 5}`))
	})

	n, err := src.Count(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 || calls.Load() != 3 {
		t.Errorf("count = %d calls = %d", n, calls.Load())
	}
	// 1s exponential step, then the 7s Retry-After.
	if got := clk.Slept(); got != 8*time.Second {
		t.Errorf("slept = %v, want 8s", got)
	}
}

func TestRateLimitExhausted(t *testing.T) {
	src, _ := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := src.Count(context.Background(), nil)
	if !errors.Is(err, adapter.ErrRateLimited) {
		t.Errorf("err = %v, want ErrRateLimited", err)
	}
}

func TestUnauthorizedIsDistinguishable(t *testing.T) {
	src, _ := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":"invalid token"}`))
	})
	_, err := src.FetchPage(context.Background(), 0, 100, nil)
	if !errors.Is(err, adapter.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
	var httpErr *adapter.HTTPError
	if !errors.As(err, &httpErr) || httpErr.Body == "" {
		t.Errorf("HTTPError body not kept: %v", err)
	}
}
