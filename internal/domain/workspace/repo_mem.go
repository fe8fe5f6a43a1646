package workspace

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemRepository keeps workspaces in memory. Used by tests and local tooling.
type MemRepository struct {
	mu    sync.RWMutex
	store map[uuid.UUID]*Workspace
}

func NewMemRepository() *MemRepository {
	return &MemRepository{store: make(map[uuid.UUID]*Workspace)}
}

func (m *MemRepository) Create(_ context.Context, w *Workspace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.store {
		if existing.DoctorID == w.DoctorID && existing.PatientID == w.PatientID {
			return fmt.Errorf("%w: workspace for doctor %s and patient %s already exists", ErrValidation, w.DoctorID, w.PatientID)
		}
	}
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	w.CreatedAt = time.Now().UTC()
	cp := *w
	m.store[w.ID] = &cp
	return nil
}

func (m *MemRepository) Get(_ context.Context, id uuid.UUID) (*Workspace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *MemRepository) List(_ context.Context) ([]*Workspace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]*Workspace, 0, len(m.store))
	for _, w := range m.store {
		cp := *w
		items = append(items, &cp)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	return items, nil
}
