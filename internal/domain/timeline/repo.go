package timeline

import (
	"context"

	"github.com/google/uuid"
)

// Repository is append-only: there is no update or delete.
type Repository interface {
	Append(ctx context.Context, e *Event) error
	ListFor(ctx context.Context, recordID uuid.UUID) ([]*Event, error)
	ListForWorkspace(ctx context.Context, workspaceID uuid.UUID, limit, offset int) ([]*Event, int, error)
}
