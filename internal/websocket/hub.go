// LeadSync - Resumable Batch Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/leadsync

package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/tomtom215/leadsync/internal/logging"
	"github.com/tomtom215/leadsync/internal/metrics"
	"github.com/tomtom215/leadsync/internal/store"
)

// ShutdownReason identifies why the hub stopped.
type ShutdownReason string

const (
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// Message types.
const (
	MessageTypeProgress = "progress"
	MessageTypeFinished = "finished"
	MessageTypePing     = "ping"
	MessageTypePong     = "pong"
)

// Message is the wire format sent to observers.
type Message struct {
	Type string     `json:"type"`
	Job  *store.Job `json:"job,omitempty"`
}

// MessageFor wraps a job snapshot in the message type matching its status.
func MessageFor(job *store.Job) Message {
	t := MessageTypeProgress
	if job.Status.Terminal() {
		t = MessageTypeFinished
	}
	return Message{Type: t, Job: job}
}

// Hub fans job snapshots out to the clients watching each job.
//
// Clients are indexed by job id; a snapshot for one job is never written to
// observers of another. The run loop owns registration and delivery:
//   - Register and Unregister are served before pending broadcasts
//   - a client whose send buffer is full is dropped rather than blocking the
//     loop
//   - on shutdown every remaining client is closed
//
// Usage:
//
//	hub := websocket.NewHub()
//	go hub.RunWithContext(ctx)
//	engine.New(jobs, g, src, dest, cfg, engine.WithProgress(hub))
type Hub struct {
	clients    map[string]map[*Client]struct{}
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates a Hub. Call RunWithContext to start it.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		broadcast:  make(chan Message, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
	}
}

// RunWithContext processes registrations and broadcasts until ctx ends,
// then closes every client. Lifecycle events are handled before
// broadcasts so a client registered ahead of a snapshot receives it.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case c := <-h.Register:
			h.add(c)
			continue
		case c := <-h.Unregister:
			h.remove(c)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		case c := <-h.Register:
			h.add(c)
		case c := <-h.Unregister:
			h.remove(c)
		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	set, ok := h.clients[c.jobID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.jobID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()
	metrics.WSConnections.Inc()
	logging.Debug().Str("job_id", c.jobID).Int("total_clients", h.GetClientCount()).Msg("websocket observer connected")
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	removed := h.dropLocked(c)
	h.mu.Unlock()
	if removed {
		logging.Debug().Str("job_id", c.jobID).Int("total_clients", h.GetClientCount()).Msg("websocket observer disconnected")
	}
}

// dropLocked closes the client's send channel once. Callers hold h.mu.
func (h *Hub) dropLocked(c *Client) bool {
	set, ok := h.clients[c.jobID]
	if !ok {
		return false
	}
	if _, ok := set[c]; !ok {
		return false
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.jobID)
	}
	close(c.send)
	metrics.WSConnections.Dec()
	return true
}

// deliver sends msg to the job's clients in registration order and
// disconnects clients whose buffer is full.
func (h *Hub) deliver(msg Message) {
	if msg.Job == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.clients[msg.Job.ID]
	clients := make([]*Client, 0, len(set))
	for c := range set {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })

	for _, c := range clients {
		if !c.Enqueue(msg) {
			logging.Warn().Str("job_id", c.jobID).Uint64("client_id", c.id).Msg("websocket observer too slow, disconnecting")
			h.dropLocked(c)
		}
	}
}

func (h *Hub) shutdown(ctx context.Context) {
	h.mu.Lock()
	closed := 0
	for _, set := range h.clients {
		for c := range set {
			if h.dropLocked(c) {
				closed++
			}
		}
	}
	h.mu.Unlock()

	reason := ShutdownReasonContextCanceled
	if ctx.Err() == context.DeadlineExceeded {
		reason = ShutdownReasonContextDeadline
	}
	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", string(reason)).
		Int("clients_closed", closed).
		Msg("websocket hub stopped")
}

// PublishProgress queues a snapshot for the job's observers. It never
// blocks; a full queue drops the snapshot.
func (h *Hub) PublishProgress(job *store.Job) {
	if job == nil {
		return
	}
	select {
	case h.broadcast <- MessageFor(job.Clone()):
	default:
		logging.Debug().Str("job_id", job.ID).Msg("progress queue full, dropping snapshot")
	}
}

// GetClientCount returns the number of connected observers.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

// Watchers returns the number of observers of one job.
func (h *Hub) Watchers(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[jobID])
}
