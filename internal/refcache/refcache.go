// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

// Package refcache memoizes destination reference ids by label for the
// lifetime of one run. Labels match case-insensitively.
package refcache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/tomtom215/leadsync/internal/adapter"
	"github.com/tomtom215/leadsync/internal/logging"
)

// Cache maps labels to reference ids. It is safe for concurrent use; a new
// Cache is built for every run and never shared across runs.
type Cache struct {
	dest  adapter.Destination
	mu    sync.RWMutex
	ids   map[string]string
	group singleflight.Group
}

// New creates an empty cache backed by dest.
func New(dest adapter.Destination) *Cache {
	return &Cache{dest: dest, ids: make(map[string]string)}
}

func normalize(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

// Preload fills the cache from the destination's existing references. A
// listing failure leaves the cache empty and is not returned.
func (c *Cache) Preload(ctx context.Context) int {
	refs, err := c.dest.ListReferences(ctx)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("Reference preload failed, continuing with empty cache")
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range refs {
		if key := normalize(r.Label); key != "" && r.ID != "" {
			c.ids[key] = r.ID
		}
	}
	return len(c.ids)
}

// Resolve returns the id for label, creating the reference on a miss.
// Concurrent misses for the same label share one creation call.
func (c *Cache) Resolve(ctx context.Context, label string) (string, error) {
	key := normalize(label)
	if key == "" {
		return "", fmt.Errorf("resolve reference: empty label")
	}
	if id, ok := c.lookup(key); ok {
		return id, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if id, ok := c.lookup(key); ok {
			return id, nil
		}
		id, err := c.dest.EnsureReference(ctx, strings.TrimSpace(label))
		if err != nil && errors.Is(err, adapter.ErrAlreadyExists) {
			id, err = c.refresh(ctx, key)
		}
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.ids[key] = id
		c.mu.Unlock()
		return id, nil
	})
	if err != nil {
		return "", fmt.Errorf("resolve reference %q: %w", label, err)
	}
	return v.(string), nil
}

// ResolveAll resolves every label, skipping duplicates and labels that fail.
// The first failure is returned alongside the ids that did resolve.
func (c *Cache) ResolveAll(ctx context.Context, labels []string) ([]string, error) {
	seen := make(map[string]struct{}, len(labels))
	ids := make([]string, 0, len(labels))
	var firstErr error
	for _, label := range labels {
		key := normalize(label)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		id, err := c.Resolve(ctx, label)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		ids = append(ids, id)
	}
	return ids, firstErr
}

// Len returns the number of cached labels.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ids)
}

func (c *Cache) lookup(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.ids[key]
	return id, ok
}

// refresh reloads the listing after a creation conflict: another writer won
// the race and its id is the canonical one.
func (c *Cache) refresh(ctx context.Context, key string) (string, error) {
	refs, err := c.dest.ListReferences(ctx)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range refs {
		if k := normalize(r.Label); k != "" && r.ID != "" {
			c.ids[k] = r.ID
		}
	}
	if id, ok := c.ids[key]; ok {
		return id, nil
	}
	return "", adapter.ErrAlreadyExists
}
