package export

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/ehr/medhistory/internal/domain/ledger"
	"github.com/ehr/medhistory/internal/domain/trend"
	"github.com/ehr/medhistory/internal/domain/workspace"
)

type RecordSource interface {
	ListAll(ctx context.Context, workspaceID uuid.UUID) ([]*ledger.HistoryRecord, error)
}

type SeriesSource interface {
	All(ctx context.Context, workspaceID uuid.UUID) ([]*trend.Series, error)
}

type Authorizer interface {
	Authorize(ctx context.Context, workspaceID uuid.UUID, actorID string) (workspace.Membership, error)
}

type Service struct {
	records    RecordSource
	series     SeriesSource
	workspaces Authorizer
}

func NewService(records RecordSource, series SeriesSource, workspaces Authorizer) *Service {
	return &Service{records: records, series: series, workspaces: workspaces}
}

// Export writes the workspace workbook for a doctor or patient of record.
func (s *Service) Export(ctx context.Context, actorID string, workspaceID uuid.UUID, w io.Writer) error {
	if _, err := s.workspaces.Authorize(ctx, workspaceID, actorID); err != nil {
		return err
	}
	records, err := s.records.ListAll(ctx, workspaceID)
	if err != nil {
		return fmt.Errorf("list records: %w", err)
	}
	series, err := s.series.All(ctx, workspaceID)
	if err != nil {
		return fmt.Errorf("list series: %w", err)
	}
	return WriteWorkbook(w, records, series)
}
