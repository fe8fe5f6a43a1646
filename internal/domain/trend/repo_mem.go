package trend

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type seriesKey struct {
	workspaceID uuid.UUID
	code        string
}

// MemRepository is a map-backed Repository for tests and single-process runs.
type MemRepository struct {
	mu    sync.RWMutex
	store map[seriesKey]*Series
	now   func() time.Time
}

func NewMemRepository() *MemRepository {
	return &MemRepository{
		store: make(map[seriesKey]*Series),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemRepository) Get(_ context.Context, workspaceID uuid.UUID, parameterCode string) (*Series, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.store[seriesKey{workspaceID, parameterCode}]
	if !ok {
		return nil, ErrNotFound
	}
	return s.clone(), nil
}

func (m *MemRepository) List(_ context.Context, workspaceID uuid.UUID) ([]*Series, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var items []*Series
	for k, s := range m.store {
		if k.workspaceID == workspaceID {
			items = append(items, s.clone())
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].DisplayName != items[j].DisplayName {
			return items[i].DisplayName < items[j].DisplayName
		}
		return items[i].ParameterCode < items[j].ParameterCode
	})
	return items, nil
}

func (m *MemRepository) Upsert(_ context.Context, s *Series) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := seriesKey{s.WorkspaceID, s.ParameterCode}
	if prev, ok := m.store[k]; ok {
		s.ID = prev.ID
		s.Interpretation = prev.Interpretation
		s.ClinicalSignificance = prev.ClinicalSignificance
		s.InterpretedAt = prev.InterpretedAt
	} else if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.UpdatedAt = m.now()
	m.store[k] = s.clone()
	return nil
}

func (m *MemRepository) Delete(_ context.Context, workspaceID uuid.UUID, parameterCode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, seriesKey{workspaceID, parameterCode})
	return nil
}

func (m *MemRepository) SaveInterpretation(_ context.Context, workspaceID uuid.UUID, parameterCode, interpretation, significance string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.store[seriesKey{workspaceID, parameterCode}]
	if !ok {
		return ErrNotFound
	}
	s.Interpretation = interpretation
	s.ClinicalSignificance = significance
	s.InterpretedAt = &at
	return nil
}
