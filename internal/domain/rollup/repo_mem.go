package rollup

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/medhistory/internal/platform/reasoning"
)

type MemRepository struct {
	mu    sync.RWMutex
	store map[uuid.UUID]*Summary
}

func NewMemRepository() *MemRepository {
	return &MemRepository{store: make(map[uuid.UUID]*Summary)}
}

func (m *MemRepository) Get(_ context.Context, workspaceID uuid.UUID) (*Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.store[workspaceID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	cp.TrendsDetected = append([]reasoning.TrendNote(nil), s.TrendsDetected...)
	cp.FocusPoints = append([]string(nil), s.FocusPoints...)
	return &cp, nil
}

func (m *MemRepository) UpsertStats(_ context.Context, workspaceID uuid.UUID, st Stats, refreshedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.store[workspaceID]
	if !ok {
		s = &Summary{
			WorkspaceID:          workspaceID,
			TrendsDetected:       []reasoning.TrendNote{},
			FocusPoints:          []string{},
			LastGenerationStatus: GenerationNever,
		}
		m.store[workspaceID] = s
	}
	s.Stats = st
	s.LastRefreshedAt = refreshedAt
	return nil
}

func (m *MemRepository) SaveInsight(_ context.Context, workspaceID uuid.UUID, in *reasoning.Insight, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.store[workspaceID]
	if !ok {
		return ErrNotFound
	}
	s.NarrativeSummary = in.NarrativeSummary
	s.RiskAssessment = in.RiskAssessment
	s.TrendsDetected = append([]reasoning.TrendNote{}, in.TrendsDetected...)
	s.FocusPoints = append([]string{}, in.FocusPoints...)
	s.LastGeneratedAt = &at
	s.LastAttemptAt = &at
	s.LastGenerationStatus = GenerationOK
	s.LastGenerationError = ""
	return nil
}

func (m *MemRepository) RecordAttempt(_ context.Context, workspaceID uuid.UUID, status, message string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.store[workspaceID]
	if !ok {
		return ErrNotFound
	}
	s.LastGenerationStatus = status
	s.LastGenerationError = message
	s.LastAttemptAt = &at
	return nil
}
