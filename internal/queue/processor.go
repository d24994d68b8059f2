// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/leadsync/internal/adapter"
	"github.com/tomtom215/leadsync/internal/clock"
	"github.com/tomtom215/leadsync/internal/engine"
	"github.com/tomtom215/leadsync/internal/logging"
	"github.com/tomtom215/leadsync/internal/metrics"
	"github.com/tomtom215/leadsync/internal/refcache"
	"github.com/tomtom215/leadsync/internal/store"
)

var (
	// ErrNotRunning is returned by Dispatch before the router is running.
	ErrNotRunning = errors.New("queue: router is not running")

	errTerminal = errors.New("queue: job already terminal")
)

const metadataJobID = "job_id"

// Config configures the queue-backed import.
type Config struct {
	// Concurrency is the number of shard topics and handlers.
	Concurrency int
	// MaxRetries bounds re-attempts of a retryable delivery failure.
	MaxRetries    int
	RetryInterval time.Duration
	// ThrottlePerSecond is the global row rate across all handlers; 0
	// disables the throttle.
	ThrottlePerSecond int64
	TopicPrefix       string
	CloseTimeout      time.Duration
	ErrorSampleCap    int
	StaticLabels      []string
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       3,
		MaxRetries:        3,
		RetryInterval:     2 * time.Second,
		ThrottlePerSecond: 1,
		TopicPrefix:       "leadsync.import.rows",
		CloseTimeout:      30 * time.Second,
		ErrorSampleCap:    store.MaxErrorSamples,
	}
}

// Topic returns the topic of a shard.
func (c Config) Topic(shard int) string {
	return strings.TrimSuffix(c.TopicPrefix, ".") + "." + strconv.Itoa(shard)
}

// rowMessage is the payload of one published row.
type rowMessage struct {
	JobID  string               `json:"jobId"`
	Index  int                  `json:"index"`
	Record adapter.SourceRecord `json:"record"`
}

// Option configures a Processor.
type Option func(*Processor)

// WithClock overrides the clock used for job timestamps and error samples.
func WithClock(clk clock.Clock) Option {
	return func(p *Processor) { p.clock = clk }
}

// WithProgress registers a progress observer.
func WithProgress(pub engine.ProgressPublisher) Option {
	return func(p *Processor) { p.progress = pub }
}

// WithIDGenerator overrides job id generation.
func WithIDGenerator(fn func() string) Option {
	return func(p *Processor) { p.newID = fn }
}

// Processor dispatches import rows and consumes them with bounded
// concurrency.
//
// Rows are sharded by index across Concurrency topics, each with one router
// handler, so at most Concurrency deliveries are in flight. Every handler is
// wrapped, outermost first, by:
//   - settle: turns an error that survived the retries into a failed row so
//     each message is acknowledged exactly once
//   - Recoverer: converts a handler panic into an error
//   - Throttle: optional global per-second cap on handled messages
//   - Retry: re-delivers transient destination failures with backoff
//
// Counters are applied with store.IncrementJob, and the worker that lands
// the last row completes the job. Per-job delivery state (the reference
// cache) is released when the job completes, when a dispatch fails part-way,
// and when a row is dropped because its job is gone or finished.
type Processor struct {
	jobs      store.JobStore
	dest      adapter.Destination
	transport *Transport
	router    *message.Router
	cfg       Config
	clock     clock.Clock
	progress  engine.ProgressPublisher
	newID     func() string

	mu   sync.Mutex
	refs map[string]*engine.Deliverer
}

// New builds the router with one handler per shard. Call Run to start
// consuming.
func New(jobs store.JobStore, dest adapter.Destination, transport *Transport, cfg Config, logger watermill.LoggerAdapter, opts ...Option) (*Processor, error) {
	if transport == nil || transport.Publisher == nil || transport.Subscriber == nil {
		return nil, errors.New("queue: transport is required")
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.ErrorSampleCap <= 0 {
		cfg.ErrorSampleCap = store.MaxErrorSamples
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultConfig().TopicPrefix
	}
	if logger == nil {
		logger = logging.NewWatermillAdapter()
	}

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: cfg.CloseTimeout}, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill router: %w", err)
	}

	p := &Processor{
		jobs:      jobs,
		dest:      dest,
		transport: transport,
		router:    router,
		cfg:       cfg,
		clock:     clock.New(),
		newID:     uuid.NewString,
		refs:      make(map[string]*engine.Deliverer),
	}
	for _, opt := range opts {
		opt(p)
	}

	// Outer to inner: settle, Recoverer, Throttle, Retry.
	router.AddMiddleware(p.settle)
	router.AddMiddleware(middleware.Recoverer)
	if cfg.ThrottlePerSecond > 0 {
		router.AddMiddleware(middleware.NewThrottle(cfg.ThrottlePerSecond, time.Second).Middleware)
	}
	if cfg.MaxRetries > 0 {
		retry := middleware.Retry{
			MaxRetries:      cfg.MaxRetries,
			InitialInterval: cfg.RetryInterval,
			MaxInterval:     cfg.RetryInterval * 8,
			Multiplier:      2.0,
			Logger:          logger,
		}
		router.AddMiddleware(retry.Middleware)
	}

	for shard := 0; shard < cfg.Concurrency; shard++ {
		sub, err := transport.Subscriber(shard)
		if err != nil {
			return nil, err
		}
		router.AddConsumerHandler("import-rows-"+strconv.Itoa(shard), cfg.Topic(shard), sub, p.handleRow)
	}
	return p, nil
}

// Run starts the router and blocks until ctx is cancelled or the router
// stops.
func (p *Processor) Run(ctx context.Context) error {
	return p.router.Run(ctx)
}

// Running is closed once every handler is subscribed.
func (p *Processor) Running() chan struct{} {
	return p.router.Running()
}

// Close stops the router and the transport.
func (p *Processor) Close() error {
	err := p.router.Close()
	return errors.Join(err, p.transport.Close())
}

// Dispatch creates a csv-import job and publishes one message per row,
// sharded by row index. It returns once every row is published.
func (p *Processor) Dispatch(ctx context.Context, opts engine.ImportOptions) (*store.Job, error) {
	if len(opts.Rows) == 0 {
		return nil, engine.ErrImportRowsRequired
	}
	if p.dest == nil {
		return nil, fmt.Errorf("queue import: %w", adapter.ErrNotConfigured)
	}
	if !p.router.IsRunning() {
		return nil, ErrNotRunning
	}

	now := p.clock.Now()
	job := &store.Job{
		ID:          p.newID(),
		Kind:        store.KindCSVImport,
		Status:      store.StatusRunning,
		Source:      opts.Source,
		Total:       int64(len(opts.Rows)),
		LastMessage: fmt.Sprintf("queued %d rows on %d workers", len(opts.Rows), p.cfg.Concurrency),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := p.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	ctx = logging.ContextWithJobID(ctx, job.ID)

	for i, rec := range opts.Rows {
		payload, err := json.Marshal(rowMessage{JobID: job.ID, Index: i, Record: rec})
		if err != nil {
			return job, fmt.Errorf("encode row %d: %w", i, err)
		}
		msg := message.NewMessage(watermill.NewUUID(), payload)
		msg.Metadata.Set(metadataJobID, job.ID)
		msg.SetContext(ctx)
		if err := p.transport.Publisher.Publish(p.cfg.Topic(i%p.cfg.Concurrency), msg); err != nil {
			p.failDispatch(ctx, job.ID, i, err)
			return job, fmt.Errorf("publish row %d: %w", i, err)
		}
		metrics.QueueMessagesTotal.WithLabelValues("published").Inc()
	}

	logging.Ctx(ctx).Info().Int("rows", len(opts.Rows)).Int("shards", p.cfg.Concurrency).Msg("Import rows dispatched")
	return job, nil
}

// failDispatch marks a job failed when publishing stops part-way. Workers
// drop the rows that were already published.
func (p *Processor) failDispatch(ctx context.Context, jobID string, index int, cause error) {
	defer p.forget(jobID)
	_, err := p.jobs.UpdateJob(context.WithoutCancel(ctx), jobID, func(j *store.Job) error {
		if j.Status.Terminal() {
			return errTerminal
		}
		j.Status = store.StatusFailed
		j.LastMessage = fmt.Sprintf("dispatch stopped at row %d: %v", index, cause)
		return nil
	})
	if err != nil && !errors.Is(err, errTerminal) {
		logging.Ctx(ctx).Error().Err(err).Msg("Failed to mark job failed after dispatch error")
	}
}

// deliveryError carries a retryable delivery failure through the Retry
// middleware.
type deliveryError struct {
	err error
}

func (e *deliveryError) Error() string { return e.err.Error() }
func (e *deliveryError) Unwrap() error { return e.err }

func (p *Processor) handleRow(msg *message.Message) error {
	var row rowMessage
	if err := json.Unmarshal(msg.Payload, &row); err != nil {
		// Undecodable payloads can never succeed.
		logging.Error().Err(err).Str("message_uuid", msg.UUID).Msg("Dropping undecodable import row")
		metrics.QueueMessagesTotal.WithLabelValues("dropped").Inc()
		return nil
	}
	ctx := logging.ContextWithJobID(msg.Context(), row.JobID)

	job, err := p.jobs.GetJob(ctx, row.JobID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		p.drop(ctx, row, "job deleted")
		return nil
	case err != nil:
		return fmt.Errorf("read job %s: %w", row.JobID, err)
	case job.Status.Terminal():
		p.drop(ctx, row, string(job.Status))
		return nil
	}

	res := p.deliverer(ctx, row.JobID).Deliver(ctx, row.Record)
	if res.Retryable() {
		return &deliveryError{err: res.Err}
	}
	return p.record(ctx, row, res)
}

// settle is the outermost middleware: whatever error survives the retries
// becomes a failed row so the message is always acknowledged once.
func (p *Processor) settle(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		out, err := h(msg)
		if err == nil {
			return out, nil
		}

		var row rowMessage
		if decErr := json.Unmarshal(msg.Payload, &row); decErr != nil {
			return nil, nil
		}
		ctx := logging.ContextWithJobID(msg.Context(), row.JobID)
		metrics.QueueMessagesTotal.WithLabelValues("exhausted").Inc()
		logging.Ctx(ctx).Warn().Err(err).Int("row", row.Index).Str("record", logging.MaskEmail(row.Record.Email)).Msg("Import row failed after retries")

		var de *deliveryError
		cause := err
		if errors.As(err, &de) {
			cause = de.err
		}
		if recErr := p.record(ctx, row, engine.RowResult{
			Outcome:  engine.Failed,
			Err:      cause,
			Overflow: errors.Is(cause, adapter.ErrInvalidData),
		}); recErr != nil {
			logging.Ctx(ctx).Error().Err(recErr).Int("row", row.Index).Msg("Failed to record exhausted import row")
		}
		return nil, nil
	}
}

// drop discards a row whose job is gone or finished and releases the job's
// delivery state.
func (p *Processor) drop(ctx context.Context, row rowMessage, reason string) {
	p.forget(row.JobID)
	metrics.QueueMessagesTotal.WithLabelValues("dropped").Inc()
	logging.Ctx(ctx).Debug().Int("row", row.Index).Str("reason", reason).Msg("Dropping import row")
}

// record applies one settled row to the job with an atomic increment and
// completes the job when the last row lands.
func (p *Processor) record(ctx context.Context, row rowMessage, res engine.RowResult) error {
	inc := store.Increment{
		SampleCap: p.cfg.ErrorSampleCap,
		Kind:      store.KindCSVImport,
	}
	inc.Delta.Processed = 1
	switch res.Outcome {
	case engine.Succeeded:
		inc.Delta.Succeeded = 1
	case engine.Skipped:
		inc.Delta.Skipped = 1
	default:
		inc.Delta.Failed = 1
	}
	metrics.QueueMessagesTotal.WithLabelValues(string(res.Outcome)).Inc()
	metrics.RecordRow(string(store.KindCSVImport), string(res.Outcome))

	if res.Outcome == engine.Failed {
		sample := store.ErrorSample{
			Identifier: row.Record.Identifier(),
			Error:      res.Err.Error(),
			At:         p.clock.Now(),
		}
		if res.Overflow {
			if err := p.jobs.AppendOverflowErrors(ctx, row.JobID, []store.ErrorSample{sample}); err != nil {
				logging.Ctx(ctx).Warn().Err(err).Msg("Failed to persist overflow error")
			}
		} else {
			inc.Sample = &sample
		}
	}

	job, err := p.jobs.IncrementJob(ctx, row.JobID, inc)
	if err != nil {
		metrics.StoreWriteErrors.WithLabelValues("increment_job").Inc()
		return fmt.Errorf("increment job %s: %w", row.JobID, err)
	}
	p.publish(job)

	if job.Total > 0 && job.Processed >= job.Total {
		p.complete(ctx, job.ID)
	}
	return nil
}

func (p *Processor) complete(ctx context.Context, jobID string) {
	job, err := p.jobs.UpdateJob(context.WithoutCancel(ctx), jobID, func(j *store.Job) error {
		if j.Status.Terminal() {
			return errTerminal
		}
		j.Status = store.StatusCompleted
		j.Cursor = j.Processed
		j.LastMessage = fmt.Sprintf("import completed: %d succeeded, %d failed, %d skipped",
			j.Succeeded, j.Failed, j.Skipped)
		return nil
	})
	p.forget(jobID)
	switch {
	case errors.Is(err, errTerminal):
		return
	case err != nil:
		metrics.StoreWriteErrors.WithLabelValues("update_job").Inc()
		logging.Ctx(ctx).Error().Err(err).Msg("Failed to mark import completed")
		return
	}
	metrics.RecordRun(string(store.KindCSVImport), string(store.StatusCompleted), job.UpdatedAt.Sub(job.CreatedAt))
	logging.Ctx(ctx).Info().Int64("succeeded", job.Succeeded).Int64("failed", job.Failed).Int64("skipped", job.Skipped).Msg("Queued import completed")
	p.publish(job)
}

// deliverer returns the job's delivery policy, creating it with a freshly
// preloaded reference cache on first use.
func (p *Processor) deliverer(ctx context.Context, jobID string) *engine.Deliverer {
	p.mu.Lock()
	d, ok := p.refs[jobID]
	if !ok {
		d = engine.NewDeliverer(p.dest, refcache.New(p.dest), p.cfg.StaticLabels)
		p.refs[jobID] = d
	}
	p.mu.Unlock()
	if !ok {
		d.References().Preload(ctx)
	}
	return d
}

func (p *Processor) forget(jobID string) {
	p.mu.Lock()
	delete(p.refs, jobID)
	p.mu.Unlock()
}

func (p *Processor) publish(job *store.Job) {
	if p.progress != nil && job != nil {
		p.progress.PublishProgress(job)
	}
}
