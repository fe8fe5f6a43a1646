package trend

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists trend series. Series are derived from lab results and
// may be deleted and rebuilt at any time.
type Repository interface {
	Get(ctx context.Context, workspaceID uuid.UUID, parameterCode string) (*Series, error)
	List(ctx context.Context, workspaceID uuid.UUID) ([]*Series, error)
	Upsert(ctx context.Context, s *Series) error
	Delete(ctx context.Context, workspaceID uuid.UUID, parameterCode string) error
	SaveInterpretation(ctx context.Context, workspaceID uuid.UUID, parameterCode, interpretation, significance string, at time.Time) error
}
