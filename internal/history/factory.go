package history

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// RecorderFactory builds a Recorder from a full DSN.
type RecorderFactory func(dsn string) (Recorder, error)

var recorderFactoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]RecorderFactory
}{
	factories: map[string]RecorderFactory{},
}

// RegisterRecorderFactory hooks an external scheme into BuildRecorderFromDSN.
func RegisterRecorderFactory(scheme string, factory RecorderFactory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	recorderFactoryRegistry.mu.Lock()
	defer recorderFactoryRegistry.mu.Unlock()
	recorderFactoryRegistry.factories[scheme] = factory
}

func lookupRecorderFactory(scheme string) (RecorderFactory, bool) {
	scheme = normalizeScheme(scheme)
	recorderFactoryRegistry.mu.RLock()
	defer recorderFactoryRegistry.mu.RUnlock()
	factory, ok := recorderFactoryRegistry.factories[scheme]
	return factory, ok
}

// BuildRecorderFromDSN selects a backend by DSN scheme. An empty DSN means
// the in-memory default; a bare path behaves as file://.
func BuildRecorderFromDSN(dsn string) (Recorder, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewMemoryRecorder(0), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := normalizeScheme(parsed.Scheme)
	if factory, ok := lookupRecorderFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewFileRecorder(path, 0)
	case "memory", "mem", "inmem":
		return NewMemoryRecorder(0), nil
	case "postgres", "postgresql":
		return NewPostgresRecorder(dsn)
	default:
		return nil, fmt.Errorf("unsupported history backend scheme: %s", scheme)
	}
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if strings.TrimSpace(parsed.Scheme) == "" {
		if strings.TrimSpace(raw) == "" {
			return "", fmt.Errorf("history file path is required")
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
		return "", fmt.Errorf("history file path is required")
	}
	return path, nil
}
