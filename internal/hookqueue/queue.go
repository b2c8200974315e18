// Package hookqueue buffers webhook-triggered sync events. A single worker
// drains the queue, so hook actions never run against each other; full
// passes stay independent and the next pass corrects any interleaving.
package hookqueue

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/ledgerbridge/internal/engine"
)

// HookEvent is one queued single-record sync request.
type HookEvent struct {
	ID             string          `json:"id"`
	ReceivedAt     time.Time       `json:"receivedAt"`
	Item           engine.WorkItem `json:"item"`
	KnownBranchURL string          `json:"knownBranchUrl,omitempty"`
}

// Queue is a bounded FIFO of hook events.
type Queue interface {
	TryEnqueue(event HookEvent) bool
	Enqueue(ctx context.Context, event HookEvent) bool
	Dequeue(ctx context.Context) (HookEvent, bool)
	Depth() int
	Capacity() int
	Close() error
}

const (
	defaultCapacity     = 1024
	defaultPollInterval = 10 * time.Millisecond
)

type memoryQueue struct {
	capacity     int
	pollInterval time.Duration
	mu           sync.Mutex
	items        []HookEvent
}

// NewMemoryQueue builds an unpersisted queue; events are lost on restart.
func NewMemoryQueue(capacity int) Queue {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &memoryQueue{
		capacity:     capacity,
		pollInterval: defaultPollInterval,
	}
}

func (q *memoryQueue) TryEnqueue(event HookEvent) bool {
	if strings.TrimSpace(event.ID) == "" {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		return false
	}
	q.items = append(q.items, event)
	return true
}

func (q *memoryQueue) Enqueue(ctx context.Context, event HookEvent) bool {
	for {
		if q.TryEnqueue(event) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(q.pollInterval):
		}
	}
}

func (q *memoryQueue) Dequeue(ctx context.Context) (HookEvent, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			event := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return event, true
		}
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return HookEvent{}, false
		case <-time.After(q.pollInterval):
		}
	}
}

func (q *memoryQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *memoryQueue) Capacity() int { return q.capacity }

func (q *memoryQueue) Close() error { return nil }
