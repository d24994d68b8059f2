// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/leadsync/internal/clock"
	"github.com/tomtom215/leadsync/internal/logging"
	"github.com/tomtom215/leadsync/internal/metrics"
	"github.com/tomtom215/leadsync/internal/ratelimit"
)

// maxErrorBody caps how much of a failed response body is kept.
const maxErrorBody = 2048

// ClientConfig configures a Client.
type ClientConfig struct {
	// Name labels metrics, logs and the circuit breaker.
	Name    string
	BaseURL string
	Timeout time.Duration
	// MaxRetries bounds retries on HTTP 429.
	MaxRetries int
	// BaseDelay is the first 429 backoff step, doubled on every retry.
	BaseDelay time.Duration
	// Limiter is acquired before every attempt. Nil means unlimited.
	Limiter ratelimit.Limiter
	Clock   clock.Clock
	// Authorize sets credentials on each request.
	Authorize  func(r *http.Request)
	HTTPClient *http.Client
}

// Client is a JSON HTTP client shared by the upstream adapters: rate
// limited, retrying on 429 and guarded by a circuit breaker.
type Client struct {
	cfg  ClientConfig
	http *http.Client
	cb   *gobreaker.CircuitBreaker[[]byte]
}

// NewClient creates a Client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.Unlimited{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}

	name := cfg.Name + "-api"
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			if failureRatio >= 0.6 {
				logging.Warn().Str("breaker", name).Uint32("failures", counts.TotalFailures).Msg("[CIRCUIT BREAKER] Opening circuit")
				return true
			}
			return false
		},
		// Rejections of a single record are answers, not outages.
		IsSuccessful: func(err error) bool {
			return err == nil || !Retryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})

	return &Client{cfg: cfg, http: hc, cb: cb}
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// Do sends a JSON request and decodes a JSON response into out when non-nil.
// Non-2xx responses come back as *HTTPError.
func (c *Client) Do(ctx context.Context, op, method, path string, query url.Values, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
	}

	data, err := c.cb.Execute(func() ([]byte, error) {
		return c.doWithRetry(ctx, op, method, path, query, payload)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(c.cb.Name(), "rejected").Inc()
			return fmt.Errorf("%s: %w", op, err)
		}
		metrics.CircuitBreakerRequests.WithLabelValues(c.cb.Name(), "failure").Inc()
		return err
	}
	metrics.CircuitBreakerRequests.WithLabelValues(c.cb.Name(), "success").Inc()

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// doWithRetry retries HTTP 429 with exponential backoff, honoring
// Retry-After when present.
func (c *Client) doWithRetry(ctx context.Context, op, method, path string, query url.Values, payload []byte) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		if err := c.cfg.Limiter.Acquire(ctx); err != nil {
			return nil, err
		}

		data, retryAfter, err := c.attempt(ctx, op, method, path, query, payload)
		if err == nil {
			return data, nil
		}
		var httpErr *HTTPError
		if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusTooManyRequests {
			return nil, err
		}
		if attempt >= c.cfg.MaxRetries {
			return nil, fmt.Errorf("rate limit exceeded after %d retries: %w", c.cfg.MaxRetries, err)
		}

		retryDelay := c.cfg.BaseDelay * (1 << attempt)
		if retryAfter > 0 {
			retryDelay = retryAfter
		}
		logging.Ctx(ctx).Warn().
			Str("adapter", c.cfg.Name).
			Str("operation", op).
			Dur("retry_delay", retryDelay).
			Int("attempt", attempt+1).
			Int("max_retries", c.cfg.MaxRetries).
			Msg("Upstream rate limited (HTTP 429), retrying")
		if err := c.cfg.Clock.Sleep(ctx, retryDelay); err != nil {
			return nil, err
		}
	}
}

func (c *Client) attempt(ctx context.Context, op, method, path string, query url.Values, payload []byte) ([]byte, time.Duration, error) {
	reqURL := c.cfg.BaseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}
	var body io.Reader = http.NoBody
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Authorize != nil {
		c.cfg.Authorize(req)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordUpstreamRequest(c.cfg.Name, op, "error", time.Since(start))
		return nil, 0, fmt.Errorf("%s: request failed: %w", op, err)
	}
	defer resp.Body.Close()
	metrics.RecordUpstreamRequest(c.cfg.Name, op, strconv.Itoa(resp.StatusCode), time.Since(start))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, 0, fmt.Errorf("%s: read response: %w", op, err)
		}
		return data, 0, nil
	}

	errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var retryAfter time.Duration
	if v := resp.Header.Get("Retry-After"); v != "" {
		if seconds, err := time.ParseDuration(v + "s"); err == nil {
			retryAfter = seconds
		}
	}
	return nil, retryAfter, &HTTPError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(errBody))}
}
