package timeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemRepository is an in-memory append-only log.
type MemRepository struct {
	mu     sync.RWMutex
	seq    int64
	events []*Event
}

func NewMemRepository() *MemRepository {
	return &MemRepository{}
}

func (m *MemRepository) Append(_ context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	m.seq++
	e.Seq = m.seq
	e.CreatedAt = time.Now().UTC()
	cp := *e
	m.events = append(m.events, &cp)
	return nil
}

func (m *MemRepository) ListFor(_ context.Context, recordID uuid.UUID) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var items []*Event
	for _, e := range m.events {
		if e.RecordID == recordID {
			cp := *e
			items = append(items, &cp)
		}
	}
	return items, nil
}

func (m *MemRepository) ListForWorkspace(_ context.Context, workspaceID uuid.UUID, limit, offset int) ([]*Event, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var all []*Event
	for i := len(m.events) - 1; i >= 0; i-- {
		if m.events[i].WorkspaceID == workspaceID {
			cp := *m.events[i]
			all = append(all, &cp)
		}
	}
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// Len reports how many events have been appended.
func (m *MemRepository) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}
