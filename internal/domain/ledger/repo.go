package ledger

import (
	"context"

	"github.com/google/uuid"
)

// Repository stores history records. Get returns ErrNotFound for unknown ids.
type Repository interface {
	Create(ctx context.Context, r *HistoryRecord) error
	Get(ctx context.Context, id uuid.UUID) (*HistoryRecord, error)
	Update(ctx context.Context, r *HistoryRecord) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, workspaceID uuid.UUID, f Filter) ([]*HistoryRecord, int, error)
	ListAll(ctx context.Context, workspaceID uuid.UUID) ([]*HistoryRecord, error)
	// ListByParameter returns lab results carrying the parameter code.
	ListByParameter(ctx context.Context, workspaceID uuid.UUID, code string) ([]*HistoryRecord, error)
	// SetTrend denormalizes a series' direction and latest value onto every
	// lab result with the parameter code. Nil clears both.
	SetTrend(ctx context.Context, workspaceID uuid.UUID, code string, direction, lastValue *string) error
}
