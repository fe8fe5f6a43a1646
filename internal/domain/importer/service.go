package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ehr/medhistory/internal/domain/ledger"
	"github.com/ehr/medhistory/internal/domain/workspace"
	"github.com/ehr/medhistory/internal/platform/telemetry"
)

type Authorizer interface {
	Authorize(ctx context.Context, workspaceID uuid.UUID, actorID string) (workspace.Membership, error)
}

// Writer is the ledger's import write path.
type Writer interface {
	CreateImported(ctx context.Context, workspaceID uuid.UUID, performedBy string, records []*ledger.HistoryRecord, claim func(ctx context.Context) error) error
}

type RecordReader interface {
	Get(ctx context.Context, id uuid.UUID) (*ledger.HistoryRecord, error)
}

type Deps struct {
	Receipts   ReceiptRepository
	Ledger     Writer
	Records    RecordReader
	Workspaces Authorizer
	Metrics    *telemetry.Collector
	Logger     zerolog.Logger
}

type Service struct {
	receipts   ReceiptRepository
	ledger     Writer
	records    RecordReader
	workspaces Authorizer
	metrics    *telemetry.Collector
	logger     zerolog.Logger
	tracer     trace.Tracer
}

func NewService(d Deps) *Service {
	return &Service{
		receipts:   d.Receipts,
		ledger:     d.Ledger,
		records:    d.Records,
		workspaces: d.Workspaces,
		metrics:    d.Metrics,
		logger:     d.Logger.With().Str("component", "importer").Logger(),
		tracer:     telemetry.Tracer("importer"),
	}
}

// Import writes the batch at most once per (workspace, source, reference).
// Re-importing a document writes nothing and returns the ids it produced
// the first time.
func (s *Service) Import(ctx context.Context, actorID string, b Batch) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "importer.Import", trace.WithAttributes(
		attribute.String("workspace.id", b.WorkspaceID.String()),
		attribute.String("source", b.Source),
		attribute.Int("candidates", len(b.Candidates)),
	))
	defer span.End()

	m, err := s.workspaces.Authorize(ctx, b.WorkspaceID, actorID)
	if err != nil {
		return nil, err
	}
	if err := canImport(m, b.Source); err != nil {
		return nil, err
	}
	b.SourceReferenceID = strings.TrimSpace(b.SourceReferenceID)
	if b.SourceReferenceID == "" {
		return nil, fmt.Errorf("%w: source_reference_id is required", ledger.ErrValidation)
	}
	if b.SourceReferenceType == "" {
		b.SourceReferenceType = defaultReferenceTypes[b.Source]
	}

	if rc, err := s.receipts.Find(ctx, b.WorkspaceID, b.Source, b.SourceReferenceID); err == nil {
		return s.duplicate(ctx, b, rc)
	} else if !errors.Is(err, errReceiptNotFound) {
		return nil, fmt.Errorf("find receipt: %w", err)
	}

	records, collapsed, err := buildRecords(m, b)
	if err != nil {
		s.metrics.ObserveImport(b.Source, "rejected")
		return nil, err
	}
	ids := make([]uuid.UUID, len(records))
	claim := func(ctx context.Context) error {
		for i, r := range records {
			ids[i] = r.ID
		}
		return s.receipts.Create(ctx, &Receipt{
			WorkspaceID:         b.WorkspaceID,
			Source:              b.Source,
			SourceReferenceID:   b.SourceReferenceID,
			SourceReferenceType: b.SourceReferenceType,
			RecordIDs:           ids,
			ImportedBy:          actorID,
		})
	}

	err = s.ledger.CreateImported(ctx, b.WorkspaceID, actorID, records, claim)
	switch {
	case errors.Is(err, ErrDuplicateImport), errors.Is(err, ledger.ErrDuplicateRecord):
		rc, findErr := s.receipts.Find(ctx, b.WorkspaceID, b.Source, b.SourceReferenceID)
		if findErr != nil {
			return nil, fmt.Errorf("reload receipt after concurrent import: %w", findErr)
		}
		return s.duplicate(ctx, b, rc)
	case err != nil:
		s.metrics.ObserveImport(b.Source, "rejected")
		return nil, err
	}

	s.metrics.ObserveImport(b.Source, "created")
	s.logger.Info().
		Str("workspace_id", b.WorkspaceID.String()).
		Str("source", b.Source).
		Str("source_reference_id", b.SourceReferenceID).
		Int("created", len(records)).
		Int("collapsed", collapsed).
		Msg("import committed")
	return &Result{WorkspaceID: b.WorkspaceID, RecordIDs: ids, Created: len(records), Collapsed: collapsed}, nil
}

func (s *Service) duplicate(ctx context.Context, b Batch, rc *Receipt) (*Result, error) {
	ids := make([]uuid.UUID, 0, len(rc.RecordIDs))
	for _, id := range rc.RecordIDs {
		_, err := s.records.Get(ctx, id)
		switch {
		case err == nil:
			ids = append(ids, id)
		case !errors.Is(err, ledger.ErrNotFound):
			return nil, fmt.Errorf("load imported record %s: %w", id, err)
		}
	}
	s.metrics.ObserveImport(b.Source, "duplicate")
	s.logger.Debug().
		Str("workspace_id", b.WorkspaceID.String()).
		Str("source", b.Source).
		Str("source_reference_id", b.SourceReferenceID).
		Msg("duplicate import ignored")
	return &Result{WorkspaceID: b.WorkspaceID, RecordIDs: ids, Duplicate: true}, nil
}

// canImport: the doctor may import any document, the patient only their
// own scanned reports.
func canImport(m workspace.Membership, source string) error {
	if !ledger.IsImportSource(source) {
		return fmt.Errorf("%w: %q is not an import source", ledger.ErrValidation, source)
	}
	if m.IsDoctor() || source == ledger.SourceOCR {
		return nil
	}
	return fmt.Errorf("%w: only the workspace doctor may import %s documents", ledger.ErrAccessDenied, source)
}

// buildRecords maps candidates to records. Candidates with the same category
// and title collapse to the first one.
func buildRecords(m workspace.Membership, b Batch) ([]*ledger.HistoryRecord, int, error) {
	seen := map[string]bool{}
	var out []*ledger.HistoryRecord
	collapsed := 0
	ref, refType := b.SourceReferenceID, b.SourceReferenceType

	for _, c := range b.Candidates {
		key := c.Category + "|" + strings.ToLower(strings.TrimSpace(c.Title))
		if seen[key] {
			collapsed++
			continue
		}
		seen[key] = true

		data := map[string]any{}
		for k, v := range c.CategoryData {
			data[k] = v
		}
		if b.Confidence != nil {
			data["ocr_confidence"] = *b.Confidence
		}
		rec := &ledger.HistoryRecord{
			ID:                  uuid.New(),
			WorkspaceID:         b.WorkspaceID,
			PatientID:           m.Workspace.PatientID,
			Category:            c.Category,
			Source:              b.Source,
			Title:               c.Title,
			Description:         c.Description,
			CategoryData:        data,
			Status:              c.Status,
			Severity:            c.Severity,
			IsChronic:           c.IsChronic,
			IsCritical:          c.IsCritical || c.Category == ledger.CategoryAllergy,
			RequiresMonitoring:  c.RequiresMonitoring,
			SourceReferenceID:   &ref,
			SourceReferenceType: &refType,
			AddedBy:             m.ActorID,
		}
		var err error
		if rec.StartDate, err = ledger.ParseDate(c.StartDate); err != nil {
			return nil, 0, fmt.Errorf("candidate %q: %w", c.Title, err)
		}
		if rec.EndDate, err = ledger.ParseDate(c.EndDate); err != nil {
			return nil, 0, fmt.Errorf("candidate %q: %w", c.Title, err)
		}
		out = append(out, rec)
	}
	return out, collapsed, nil
}
