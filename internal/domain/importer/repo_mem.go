package importer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type MemReceipts struct {
	mu    sync.Mutex
	store map[string]*Receipt
}

func NewMemReceipts() *MemReceipts {
	return &MemReceipts{store: make(map[string]*Receipt)}
}

func receiptKey(workspaceID uuid.UUID, source, referenceID string) string {
	return workspaceID.String() + "|" + source + "|" + referenceID
}

func (m *MemReceipts) Find(_ context.Context, workspaceID uuid.UUID, source, referenceID string) (*Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rc, ok := m.store[receiptKey(workspaceID, source, referenceID)]
	if !ok {
		return nil, errReceiptNotFound
	}
	cp := *rc
	cp.RecordIDs = append([]uuid.UUID(nil), rc.RecordIDs...)
	return &cp, nil
}

func (m *MemReceipts) Create(_ context.Context, rc *Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := receiptKey(rc.WorkspaceID, rc.Source, rc.SourceReferenceID)
	if _, exists := m.store[k]; exists {
		return ErrDuplicateImport
	}
	if rc.ID == uuid.Nil {
		rc.ID = uuid.New()
	}
	rc.CreatedAt = time.Now().UTC()
	cp := *rc
	cp.RecordIDs = append([]uuid.UUID(nil), rc.RecordIDs...)
	m.store[k] = &cp
	return nil
}

// Len reports how many receipts are stored.
func (m *MemReceipts) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.store)
}
