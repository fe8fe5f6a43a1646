package rollup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/medhistory/internal/domain/ledger"
	"github.com/ehr/medhistory/internal/domain/workspace"
	"github.com/ehr/medhistory/internal/platform/db"
	"github.com/ehr/medhistory/internal/platform/reasoning"
	"github.com/ehr/medhistory/internal/platform/telemetry"
)

type RecordSource interface {
	ListAll(ctx context.Context, workspaceID uuid.UUID) ([]*ledger.HistoryRecord, error)
}

type Directory interface {
	Authorize(ctx context.Context, workspaceID uuid.UUID, actorID string) (workspace.Membership, error)
	List(ctx context.Context) ([]*workspace.Workspace, error)
}

type Deps struct {
	Summaries  Repository
	Records    RecordSource
	Workspaces Directory
	Tx         db.Transactor
	Metrics    *telemetry.Collector
	Logger     zerolog.Logger
}

type Service struct {
	summaries  Repository
	records    RecordSource
	workspaces Directory
	tx         db.Transactor
	metrics    *telemetry.Collector
	logger     zerolog.Logger
	now        func() time.Time
}

func NewService(d Deps) *Service {
	if d.Tx == nil {
		d.Tx = db.NewLocalTransactor()
	}
	return &Service{
		summaries:  d.Summaries,
		records:    d.Records,
		workspaces: d.Workspaces,
		tx:         d.Tx,
		metrics:    d.Metrics,
		logger:     d.Logger.With().Str("component", "rollup").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Refresh recomputes the non-AI fields from the current record set. It joins
// the caller's unit of work when one is in progress.
func (s *Service) Refresh(ctx context.Context, workspaceID uuid.UUID) error {
	start := time.Now()
	err := s.tx.InWorkspace(ctx, workspaceID, func(ctx context.Context) error {
		records, err := s.records.ListAll(ctx, workspaceID)
		if err != nil {
			return fmt.Errorf("list records: %w", err)
		}
		now := s.now()
		return s.summaries.UpsertStats(ctx, workspaceID, Compute(records, now), now)
	})
	if err != nil {
		return err
	}
	s.metrics.ObserveRollupRefresh(time.Since(start))
	return nil
}

// Summary returns the stored rollup, computing it first when none exists.
func (s *Service) Summary(ctx context.Context, workspaceID uuid.UUID) (*Summary, error) {
	sum, err := s.summaries.Get(ctx, workspaceID)
	if errors.Is(err, ErrNotFound) {
		if err := s.Refresh(ctx, workspaceID); err != nil {
			return nil, err
		}
		sum, err = s.summaries.Get(ctx, workspaceID)
	}
	if err != nil {
		return nil, fmt.Errorf("summary %s: %w", workspaceID, err)
	}
	return sum, nil
}

func (s *Service) Get(ctx context.Context, actorID string, workspaceID uuid.UUID) (*Summary, error) {
	if _, err := s.workspaces.Authorize(ctx, workspaceID, actorID); err != nil {
		return nil, err
	}
	return s.Summary(ctx, workspaceID)
}

// RefreshFor is the explicit, user-triggered refresh.
func (s *Service) RefreshFor(ctx context.Context, actorID string, workspaceID uuid.UUID) (*Summary, error) {
	if _, err := s.workspaces.Authorize(ctx, workspaceID, actorID); err != nil {
		return nil, err
	}
	if err := s.Refresh(ctx, workspaceID); err != nil {
		return nil, err
	}
	return s.Summary(ctx, workspaceID)
}

func (s *Service) ClinicalView(ctx context.Context, actorID string, workspaceID uuid.UUID) (*ClinicalView, error) {
	if _, err := s.workspaces.Authorize(ctx, workspaceID, actorID); err != nil {
		return nil, err
	}
	records, err := s.records.ListAll(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	v := BuildClinicalView(records, s.now())
	v.WorkspaceID = workspaceID
	return &v, nil
}

// RebuildAll refreshes every workspace and returns how many were refreshed.
// A failing workspace is logged and skipped.
func (s *Service) RebuildAll(ctx context.Context) (int, error) {
	all, err := s.workspaces.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list workspaces: %w", err)
	}
	n := 0
	for _, w := range all {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if err := s.Refresh(ctx, w.ID); err != nil {
			s.logger.Error().Err(err).Str("workspace_id", w.ID.String()).Msg("rollup rebuild failed")
			continue
		}
		n++
	}
	return n, nil
}

// SaveInsight stores freshly generated AI fields.
func (s *Service) SaveInsight(ctx context.Context, workspaceID uuid.UUID, in *reasoning.Insight, at time.Time) error {
	return s.summaries.SaveInsight(ctx, workspaceID, in, at)
}

// RecordAttempt stores the outcome of a failed generation without touching
// the previous AI fields.
func (s *Service) RecordAttempt(ctx context.Context, workspaceID uuid.UUID, status, message string, at time.Time) error {
	return s.summaries.RecordAttempt(ctx, workspaceID, status, message, at)
}
