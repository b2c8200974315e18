package history

import "sync"

const defaultMemoryCapacity = 200

// MemoryRecorder keeps the newest records in a bounded ring.
type MemoryRecorder struct {
	mu       sync.Mutex
	capacity int
	records  []RunRecord
}

func NewMemoryRecorder(capacity int) *MemoryRecorder {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &MemoryRecorder{capacity: capacity}
}

func (r *MemoryRecorder) Append(record RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	if len(r.records) > r.capacity {
		r.records = r.records[len(r.records)-r.capacity:]
	}
	return nil
}

func (r *MemoryRecorder) Recent(limit int) ([]RunRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return recentOf(r.records, limit), nil
}

func (r *MemoryRecorder) Close() error { return nil }

// recentOf returns up to limit records, newest first.
func recentOf(records []RunRecord, limit int) []RunRecord {
	if limit <= 0 || limit > len(records) {
		limit = len(records)
	}
	out := make([]RunRecord, 0, limit)
	for i := len(records) - 1; i >= len(records)-limit; i-- {
		out = append(out, records[i])
	}
	return out
}
