package audit

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/axiscore/axiscore/pkg/axismsg"
)

// MemStore is an in-memory Store for tests and for deployments that accept
// losing audit history across restarts.
type MemStore struct {
	mu      sync.Mutex
	entries []axismsg.AuditEntry
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{}
}

// Append implements Store.
func (m *MemStore) Append(_ context.Context, entry axismsg.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

// List implements Store.
func (m *MemStore) List(_ context.Context, jobID string, limit int) ([]axismsg.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []axismsg.AuditEntry
	for _, e := range m.entries {
		if jobID == "" || e.JobID == jobID {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Timestamp.After(matched[j].Timestamp) })
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}
