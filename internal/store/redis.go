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

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/tomtom215/leadsync/internal/clock"
	"github.com/tomtom215/leadsync/internal/metrics"
)

// Job hash fields. Counters are kept as separate integer fields so that
// queue workers can update them with HINCRBY.
const (
	fieldDoc       = "doc"
	fieldProcessed = "processed"
	fieldSucceeded = "succeeded"
	fieldFailed    = "failed"
	fieldSkipped   = "skipped"

	maxWatchRetries = 16
)

// redisReader is the read subset shared by *redis.Client and *redis.Tx.
type redisReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisStore persists jobs and the gate in Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
	clock  clock.Clock
}

// RedisOptions configures NewRedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key, e.g. "leadsync:".
	Prefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, opts RedisOptions, clk clock.Clock) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	if clk == nil {
		clk = clock.New()
	}
	return &RedisStore{client: client, prefix: opts.Prefix, clock: clk}, nil
}

func (s *RedisStore) jobKey(id string) string      { return s.prefix + "job:" + id }
func (s *RedisStore) samplesKey(id string) string  { return s.prefix + "job:" + id + ":samples" }
func (s *RedisStore) overflowKey(id string) string { return s.prefix + "joberr:" + id }
func (s *RedisStore) indexKey() string             { return s.prefix + "jobs" }
func (s *RedisStore) gateKey() string              { return s.prefix + "gate" }

// CreateJob writes a new job hash and indexes it by creation time.
func (s *RedisStore) CreateJob(ctx context.Context, job *Job) error {
	c := job.Clone()
	now := s.clock.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	err := s.watch(ctx, "create_job", func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, s.jobKey(c.ID)).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrAlreadyExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return s.writeJob(ctx, pipe, c, true)
		})
		return err
	}, s.jobKey(c.ID))
	return err
}

// GetJob reads the job hash and its error samples.
func (s *RedisStore) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.readJob(ctx, s.client, id)
}

// PatchJob merges patch into an existing job.
func (s *RedisStore) PatchJob(ctx context.Context, id string, patch JobPatch) (*Job, error) {
	return s.UpdateJob(ctx, id, func(j *Job) error {
		patch.Apply(j, s.clock.Now())
		return nil
	})
}

// UpdateJob applies fn inside a WATCH transaction on the job keys.
func (s *RedisStore) UpdateJob(ctx context.Context, id string, fn func(j *Job) error) (*Job, error) {
	var out *Job
	err := s.watch(ctx, "update_job", func(tx *redis.Tx) error {
		job, err := s.readJob(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(job); err != nil {
			return err
		}
		job.UpdatedAt = s.clock.Now()
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return s.writeJob(ctx, pipe, job, true)
		})
		out = job
		return err
	}, s.jobKey(id), s.samplesKey(id))
	if err != nil {
		return nil, err
	}
	return out, nil
}

// IncrementJob uses HINCRBY for the counters and a capped list for the
// sample, all in one MULTI block. A missing job document is seeded with
// HSETNX so that a later CreateJob or PatchJob sees the counters.
func (s *RedisStore) IncrementJob(ctx context.Context, id string, inc Increment) (*Job, error) {
	now := s.clock.Now()
	seed, err := json.Marshal(jobDoc(lazyJob(id, inc, now)))
	if err != nil {
		return nil, fmt.Errorf("marshal job seed: %w", err)
	}
	limit := inc.SampleCap
	if limit <= 0 {
		limit = MaxErrorSamples
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		key := s.jobKey(id)
		pipe.HSetNX(ctx, key, fieldDoc, seed)
		pipe.HIncrBy(ctx, key, fieldProcessed, inc.Delta.Processed)
		pipe.HIncrBy(ctx, key, fieldSucceeded, inc.Delta.Succeeded)
		pipe.HIncrBy(ctx, key, fieldFailed, inc.Delta.Failed)
		pipe.HIncrBy(ctx, key, fieldSkipped, inc.Delta.Skipped)
		pipe.ZAddNX(ctx, s.indexKey(), redis.Z{Score: float64(now.UnixNano()), Member: id})
		if inc.Sample != nil {
			data, err := json.Marshal(inc.Sample)
			if err != nil {
				return fmt.Errorf("marshal sample: %w", err)
			}
			pipe.RPush(ctx, s.samplesKey(id), data)
			pipe.LTrim(ctx, s.samplesKey(id), int64(-limit), -1)
		}
		return nil
	})
	if err != nil {
		metrics.StoreWriteErrors.WithLabelValues("increment_job").Inc()
		return nil, fmt.Errorf("increment job %s: %w", id, err)
	}
	return s.GetJob(ctx, id)
}

// ListJobs returns up to limit jobs, newest first.
func (s *RedisStore) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.GetJob(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// AppendOverflowErrors pushes samples to the job's overflow list under a
// WATCH on the job key, returning ErrNotFound once the job is deleted.
func (s *RedisStore) AppendOverflowErrors(ctx context.Context, id string, samples []ErrorSample) error {
	if len(samples) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(samples))
	for i := range samples {
		data, err := json.Marshal(&samples[i])
		if err != nil {
			return fmt.Errorf("marshal overflow error: %w", err)
		}
		values = append(values, data)
	}
	return s.watch(ctx, "append_overflow", func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, s.jobKey(id)).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, s.overflowKey(id), values...)
			return nil
		})
		if err != nil {
			return fmt.Errorf("append overflow errors: %w", err)
		}
		return nil
	}, s.jobKey(id))
}

// ListOverflowErrors returns the job's overflow list.
func (s *RedisStore) ListOverflowErrors(ctx context.Context, id string) ([]ErrorSample, error) {
	raw, err := s.client.LRange(ctx, s.overflowKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list overflow errors: %w", err)
	}
	return decodeSamples(raw)
}

// GetGate reads the gate document.
func (s *RedisStore) GetGate(ctx context.Context) (*Gate, error) {
	return s.readGate(ctx, s.client)
}

// UpdateGate applies fn inside a WATCH transaction on the gate key, so two
// processes racing for the gate cannot both be granted.
func (s *RedisStore) UpdateGate(ctx context.Context, fn GateMutator) (*Gate, error) {
	var out *Gate
	err := s.watch(ctx, "update_gate", func(tx *redis.Tx) error {
		gate, err := s.readGate(ctx, tx)
		if errors.Is(err, ErrNotFound) {
			gate = &Gate{}
		} else if err != nil {
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
		data, err := json.Marshal(gate)
		if err != nil {
			return fmt.Errorf("marshal gate: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.gateKey(), data, 0)
			return nil
		})
		return err
	}, s.gateKey())
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// watch runs fn under WATCH keys and retries when another client modified
// a watched key before EXEC.
func (s *RedisStore) watch(ctx context.Context, op string, fn func(tx *redis.Tx) error, keys ...string) error {
	var err error
	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err = s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrAlreadyExists) {
		metrics.StoreWriteErrors.WithLabelValues(op).Inc()
	}
	return err
}

// writeJob queues the full job document. Counters are written as absolute
// values because the caller holds a WATCH on the job key.
func (s *RedisStore) writeJob(ctx context.Context, pipe redis.Pipeliner, job *Job, withSamples bool) error {
	doc, err := json.Marshal(jobDoc(job))
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	key := s.jobKey(job.ID)
	pipe.HSet(ctx, key,
		fieldDoc, doc,
		fieldProcessed, job.Processed,
		fieldSucceeded, job.Succeeded,
		fieldFailed, job.Failed,
		fieldSkipped, job.Skipped,
	)
	pipe.ZAddNX(ctx, s.indexKey(), redis.Z{Score: float64(job.CreatedAt.UnixNano()), Member: job.ID})
	if withSamples {
		pipe.Del(ctx, s.samplesKey(job.ID))
		if len(job.ErrorSamples) > 0 {
			values := make([]interface{}, 0, len(job.ErrorSamples))
			for i := range job.ErrorSamples {
				data, err := json.Marshal(&job.ErrorSamples[i])
				if err != nil {
					return fmt.Errorf("marshal sample: %w", err)
				}
				values = append(values, data)
			}
			pipe.RPush(ctx, s.samplesKey(job.ID), values...)
		}
	}
	return nil
}

func (s *RedisStore) readJob(ctx context.Context, c redisReader, id string) (*Job, error) {
	fields, err := c.HGetAll(ctx, s.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	raw, ok := fields[fieldDoc]
	if !ok {
		return nil, ErrNotFound
	}
	job := &Job{}
	if err := json.Unmarshal([]byte(raw), job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	job.Processed = parseCounter(fields[fieldProcessed])
	job.Succeeded = parseCounter(fields[fieldSucceeded])
	job.Failed = parseCounter(fields[fieldFailed])
	job.Skipped = parseCounter(fields[fieldSkipped])

	samples, err := c.LRange(ctx, s.samplesKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get job samples %s: %w", id, err)
	}
	if job.ErrorSamples, err = decodeSamples(samples); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *RedisStore) readGate(ctx context.Context, c redisReader) (*Gate, error) {
	data, err := c.Get(ctx, s.gateKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get gate: %w", err)
	}
	gate := &Gate{}
	if err := json.Unmarshal(data, gate); err != nil {
		return nil, fmt.Errorf("decode gate: %w", err)
	}
	return gate, nil
}

// jobDoc strips the fields that live outside the doc field.
func jobDoc(j *Job) *Job {
	d := j.Clone()
	d.Counters = Counters{}
	d.ErrorSamples = nil
	return d
}

func parseCounter(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func decodeSamples(raw []string) ([]ErrorSample, error) {
	samples := make([]ErrorSample, 0, len(raw))
	for _, r := range raw {
		var sample ErrorSample
		if err := json.Unmarshal([]byte(r), &sample); err != nil {
			return nil, fmt.Errorf("decode error sample: %w", err)
		}
		samples = append(samples, sample)
	}
	return samples, nil
}
