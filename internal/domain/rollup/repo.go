package rollup

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/medhistory/internal/platform/reasoning"
)

// Repository stores summaries. UpsertStats never touches the AI columns and
// RecordAttempt touches only the generation status columns.
type Repository interface {
	Get(ctx context.Context, workspaceID uuid.UUID) (*Summary, error)
	UpsertStats(ctx context.Context, workspaceID uuid.UUID, st Stats, refreshedAt time.Time) error
	SaveInsight(ctx context.Context, workspaceID uuid.UUID, in *reasoning.Insight, at time.Time) error
	RecordAttempt(ctx context.Context, workspaceID uuid.UUID, status, message string, at time.Time) error
}
