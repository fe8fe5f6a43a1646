package workspace

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, w *Workspace) error
	Get(ctx context.Context, id uuid.UUID) (*Workspace, error)
	List(ctx context.Context) ([]*Workspace, error)
}
