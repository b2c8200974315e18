package hookqueue

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// QueueFactory builds a Queue from a full DSN.
type QueueFactory func(dsn string, capacity int) (Queue, error)

var queueFactoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]QueueFactory
}{
	factories: map[string]QueueFactory{},
}

// RegisterQueueFactory hooks an external scheme into BuildQueueFromDSN.
func RegisterQueueFactory(scheme string, factory QueueFactory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	queueFactoryRegistry.mu.Lock()
	defer queueFactoryRegistry.mu.Unlock()
	queueFactoryRegistry.factories[scheme] = factory
}

func lookupQueueFactory(scheme string) (QueueFactory, bool) {
	scheme = normalizeScheme(scheme)
	queueFactoryRegistry.mu.RLock()
	defer queueFactoryRegistry.mu.RUnlock()
	factory, ok := queueFactoryRegistry.factories[scheme]
	return factory, ok
}

// BuildQueueFromDSN selects a queue backend by DSN scheme. An empty DSN
// means in-memory; a bare path behaves as file://.
func BuildQueueFromDSN(dsn string, capacity int) (Queue, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewMemoryQueue(capacity), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := normalizeScheme(parsed.Scheme)
	if factory, ok := lookupQueueFactory(scheme); ok {
		return factory(dsn, capacity)
	}
	switch scheme {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewFileQueue(path, capacity)
	case "memory", "mem", "inmem":
		return NewMemoryQueue(capacity), nil
	case "postgres", "postgresql":
		return NewPostgresQueue(dsn, capacity)
	default:
		return nil, fmt.Errorf("unsupported hook queue scheme: %s", scheme)
	}
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if strings.TrimSpace(parsed.Scheme) == "" {
		if strings.TrimSpace(raw) == "" {
			return "", fmt.Errorf("hook queue file path is required")
		}
		return strings.TrimSpace(raw), nil
	}
	path := strings.TrimSpace(parsed.Path)
	if path == "" {
		path = strings.TrimSpace(parsed.Opaque)
	}
	if path == "" {
		path = strings.TrimSpace(parsed.Host)
	}
	if path == "" {
		return "", fmt.Errorf("hook queue file path is required")
	}
	return path, nil
}
