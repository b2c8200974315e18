package hookqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type fileQueueState struct {
	Items []HookEvent `json:"items"`
}

type fileQueue struct {
	path         string
	capacity     int
	pollInterval time.Duration
	mu           sync.Mutex
	items        []HookEvent
}

// NewFileQueue builds a queue persisted to a JSON file so queued hook
// events survive restarts. Saves write a temp file then rename.
func NewFileQueue(path string, capacity int) (Queue, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("hook queue file path is required")
	}
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	q := &fileQueue{
		path:         path,
		capacity:     capacity,
		pollInterval: defaultPollInterval,
		items:        []HookEvent{},
	}
	if err := q.load(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *fileQueue) TryEnqueue(event HookEvent) bool {
	if strings.TrimSpace(event.ID) == "" {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		return false
	}
	q.items = append(q.items, event)
	if err := q.saveLocked(); err != nil {
		q.items = q.items[:len(q.items)-1]
		return false
	}
	return true
}

func (q *fileQueue) Enqueue(ctx context.Context, event HookEvent) bool {
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

func (q *fileQueue) Dequeue(ctx context.Context) (HookEvent, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			event := q.items[0]
			q.items = q.items[1:]
			if err := q.saveLocked(); err != nil {
				q.items = append([]HookEvent{event}, q.items...)
				q.mu.Unlock()
				select {
				case <-ctx.Done():
					return HookEvent{}, false
				case <-time.After(q.pollInterval):
					continue
				}
			}
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

func (q *fileQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *fileQueue) Capacity() int { return q.capacity }

func (q *fileQueue) Close() error { return nil }

func (q *fileQueue) load() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	data, err := os.ReadFile(q.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var snapshot fileQueueState
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return err
	}
	if len(snapshot.Items) > q.capacity {
		q.items = append([]HookEvent(nil), snapshot.Items[len(snapshot.Items)-q.capacity:]...)
		return q.saveLocked()
	}
	q.items = append([]HookEvent(nil), snapshot.Items...)
	return nil
}

func (q *fileQueue) saveLocked() error {
	snapshot := fileQueueState{
		Items: append([]HookEvent(nil), q.items...),
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(q.path), 0o755); err != nil {
		return err
	}
	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, q.path)
}
