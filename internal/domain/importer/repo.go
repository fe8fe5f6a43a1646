package importer

import (
	"context"

	"github.com/google/uuid"
)

// ReceiptRepository stores import receipts. Create returns
// ErrDuplicateImport when the document key is taken.
type ReceiptRepository interface {
	Find(ctx context.Context, workspaceID uuid.UUID, source, referenceID string) (*Receipt, error)
	Create(ctx context.Context, r *Receipt) error
}
