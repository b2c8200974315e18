package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const defaultFileCapacity = 1000

type fileRecorderState struct {
	Records []RunRecord `json:"records"`
}

// FileRecorder persists run records to a JSON file. Saves go through a
// temp file and rename so a crash never leaves a torn file behind.
type FileRecorder struct {
	path     string
	capacity int

	mu      sync.Mutex
	records []RunRecord
}

func NewFileRecorder(path string, capacity int) (*FileRecorder, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("history file path is required")
	}
	if capacity <= 0 {
		capacity = defaultFileCapacity
	}
	r := &FileRecorder{path: path, capacity: capacity}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *FileRecorder) Append(record RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.records
	next := append(append([]RunRecord(nil), r.records...), record)
	if len(next) > r.capacity {
		next = next[len(next)-r.capacity:]
	}
	r.records = next
	if err := r.saveLocked(); err != nil {
		r.records = prev
		return err
	}
	return nil
}

func (r *FileRecorder) Recent(limit int) ([]RunRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return recentOf(r.records, limit), nil
}

func (r *FileRecorder) Close() error { return nil }

func (r *FileRecorder) load() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var snapshot fileRecorderState
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return err
	}
	if len(snapshot.Records) > r.capacity {
		r.records = append([]RunRecord(nil), snapshot.Records[len(snapshot.Records)-r.capacity:]...)
		return r.saveLocked()
	}
	r.records = append([]RunRecord(nil), snapshot.Records...)
	return nil
}

func (r *FileRecorder) saveLocked() error {
	snapshot := fileRecorderState{
		Records: append([]RunRecord(nil), r.records...),
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, r.path)
}
