package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemRepository keeps records in memory with the same uniqueness and
// filtering rules as the Postgres store.
type MemRepository struct {
	mu    sync.RWMutex
	store map[uuid.UUID]*HistoryRecord
	now   func() time.Time
}

func NewMemRepository() *MemRepository {
	return &MemRepository{store: make(map[uuid.UUID]*HistoryRecord), now: func() time.Time { return time.Now().UTC() }}
}

func importKey(h *HistoryRecord) string {
	if !IsImportSource(h.Source) || h.SourceReferenceID == nil {
		return ""
	}
	return strings.Join([]string{h.WorkspaceID.String(), h.Source, *h.SourceReferenceID, h.Category, strings.ToLower(h.Title)}, "|")
}

func (m *MemRepository) Create(_ context.Context, h *HistoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key := importKey(h); key != "" {
		for _, existing := range m.store {
			if importKey(existing) == key {
				return fmt.Errorf("%w: %s", ErrDuplicateRecord, h.Title)
			}
		}
	}
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	now := m.now()
	h.RecordedDate, h.CreatedAt, h.UpdatedAt = now, now, now
	m.store[h.ID] = h.Clone()
	return nil
}

func (m *MemRepository) Get(_ context.Context, id uuid.UUID) (*HistoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	return h.Clone(), nil
}

func (m *MemRepository) Update(_ context.Context, h *HistoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.store[h.ID]
	if !ok {
		return ErrNotFound
	}
	cp := h.Clone()
	cp.RecordedDate = existing.RecordedDate
	cp.CreatedAt = existing.CreatedAt
	cp.TrendingDirection = existing.TrendingDirection
	cp.LastValue = existing.LastValue
	cp.UpdatedAt = m.now()
	h.UpdatedAt = cp.UpdatedAt
	m.store[h.ID] = cp
	return nil
}

func (m *MemRepository) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[id]; !ok {
		return ErrNotFound
	}
	delete(m.store, id)
	return nil
}

func (m *MemRepository) matching(workspaceID uuid.UUID, keep func(*HistoryRecord) bool) []*HistoryRecord {
	var out []*HistoryRecord
	for _, h := range m.store {
		if h.WorkspaceID == workspaceID && keep(h) {
			out = append(out, h.Clone())
		}
	}
	return out
}

func (m *MemRepository) List(_ context.Context, workspaceID uuid.UUID, f Filter) ([]*HistoryRecord, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	search := strings.ToLower(strings.TrimSpace(f.Search))
	items := m.matching(workspaceID, func(h *HistoryRecord) bool {
		switch {
		case f.Category != "" && h.Category != f.Category,
			f.Status != "" && h.Status != f.Status,
			f.Source != "" && h.Source != f.Source,
			f.Critical != nil && h.IsCritical != *f.Critical,
			f.Monitoring != nil && h.RequiresMonitoring != *f.Monitoring,
			f.Verified != nil && h.VerifiedByDoctor != *f.Verified:
			return false
		}
		if search != "" {
			return strings.Contains(strings.ToLower(h.Title), search) ||
				strings.Contains(strings.ToLower(h.Description), search)
		}
		return true
	})
	sortRecords(items, f.Sort, f.Desc)

	total := len(items)
	if f.Offset >= total {
		return nil, total, nil
	}
	end := f.Offset + f.Limit
	if f.Limit <= 0 || end > total {
		end = total
	}
	return items[f.Offset:end], total, nil
}

func sortRecords(items []*HistoryRecord, key string, desc bool) {
	less := func(a, b *HistoryRecord) bool { return a.RecordedDate.After(b.RecordedDate) }
	switch key {
	case "recorded_date":
		less = func(a, b *HistoryRecord) bool { return a.RecordedDate.Before(b.RecordedDate) }
	case "start_date":
		less = func(a, b *HistoryRecord) bool {
			if a.StartDate == nil || b.StartDate == nil {
				return a.StartDate != nil
			}
			return a.StartDate.Before(*b.StartDate)
		}
	case "title":
		less = func(a, b *HistoryRecord) bool { return strings.ToLower(a.Title) < strings.ToLower(b.Title) }
	case "created_at":
		less = func(a, b *HistoryRecord) bool { return a.CreatedAt.Before(b.CreatedAt) }
	}
	sort.SliceStable(items, func(i, j int) bool {
		if desc && key != "" {
			return less(items[j], items[i])
		}
		return less(items[i], items[j])
	})
}

func (m *MemRepository) ListAll(_ context.Context, workspaceID uuid.UUID) ([]*HistoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := m.matching(workspaceID, func(*HistoryRecord) bool { return true })
	sortRecords(items, "", false)
	return items, nil
}

func (m *MemRepository) ListByParameter(_ context.Context, workspaceID uuid.UUID, code string) ([]*HistoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := m.matching(workspaceID, func(h *HistoryRecord) bool {
		return h.Category == CategoryLabResult && h.ParameterCode != nil && *h.ParameterCode == code
	})
	sort.SliceStable(items, func(i, j int) bool { return items[i].EffectiveDate().Before(items[j].EffectiveDate()) })
	return items, nil
}

func (m *MemRepository) SetTrend(_ context.Context, workspaceID uuid.UUID, code string, direction, lastValue *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.store {
		if h.WorkspaceID == workspaceID && h.Category == CategoryLabResult && h.ParameterCode != nil && *h.ParameterCode == code {
			h.TrendingDirection = cloneString(direction)
			h.LastValue = cloneString(lastValue)
		}
	}
	return nil
}
