package timeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Service is the audit trail. Append is its only write.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Append(ctx context.Context, e *Event) error {
	if e.RecordID == uuid.Nil || e.WorkspaceID == uuid.Nil {
		return fmt.Errorf("timeline event requires record_id and workspace_id")
	}
	if !validEventTypes[e.EventType] {
		return fmt.Errorf("invalid event_type: %s", e.EventType)
	}
	if !validRoles[e.PerformedByRole] {
		return fmt.Errorf("invalid performed_by_role: %s", e.PerformedByRole)
	}
	if e.PerformedBy == "" {
		return fmt.Errorf("performed_by is required")
	}
	return s.repo.Append(ctx, e)
}

// ListFor returns a record's events oldest first.
func (s *Service) ListFor(ctx context.Context, recordID uuid.UUID) ([]*Event, error) {
	return s.repo.ListFor(ctx, recordID)
}

// ListForWorkspace returns the workspace activity feed newest first.
func (s *Service) ListForWorkspace(ctx context.Context, workspaceID uuid.UUID, limit, offset int) ([]*Event, int, error) {
	return s.repo.ListForWorkspace(ctx, workspaceID, limit, offset)
}
