package insight

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ehr/medhistory/internal/domain/ledger"
	"github.com/ehr/medhistory/internal/platform/reasoning"
)

// InteractionResult is an interaction check over the medications that were
// active when it ran.
type InteractionResult struct {
	Medications []string `json:"medications"`
	reasoning.InteractionReport
}

// ActiveMedications returns the titles of active medication records, newest
// first, without case-insensitive repeats and capped like the digest.
func ActiveMedications(records []*ledger.HistoryRecord) []string {
	var meds []*ledger.HistoryRecord
	for _, r := range records {
		if r.Category == ledger.CategoryMedication && r.Status == ledger.StatusActive {
			meds = append(meds, r)
		}
	}
	items := digestItems(meds, len(meds), func(*ledger.HistoryRecord) string { return "" })

	seen := make(map[string]bool, len(items))
	names := make([]string, 0, len(items))
	for _, it := range items {
		key := strings.ToLower(it.Title)
		if seen[key] {
			continue
		}
		seen[key] = true
		names = append(names, it.Title)
		if len(names) == maxMedications {
			break
		}
	}
	return names
}

// AnalyzeInteractions checks the workspace's active medications against each
// other. With fewer than two there is nothing to check and the collaborator
// is not called.
func (s *Service) AnalyzeInteractions(ctx context.Context, workspaceID uuid.UUID) (*InteractionResult, error) {
	ctx, span := s.tracer.Start(ctx, "insight.AnalyzeInteractions", trace.WithAttributes(
		attribute.String("workspace.id", workspaceID.String()),
	))
	defer span.End()

	records, err := s.records.ListAll(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	res := &InteractionResult{Medications: ActiveMedications(records)}
	span.SetAttributes(attribute.Int("medications", len(res.Medications)))

	if len(res.Medications) >= 2 {
		out, err := call(ctx, s, func(ctx context.Context) (*reasoning.InteractionReport, error) {
			return s.reasoner.AnalyzeInteractions(ctx, res.Medications)
		})
		if err != nil {
			span.SetStatus(codes.Error, outcomeOf(err))
			span.RecordError(err)
			return nil, err
		}
		res.InteractionReport = *out
	}
	if res.Interactions == nil {
		res.Interactions = []reasoning.Interaction{}
	}
	if res.Warnings == nil {
		res.Warnings = []string{}
	}
	return res, nil
}

func (s *Service) AnalyzeInteractionsFor(ctx context.Context, actorID string, workspaceID uuid.UUID) (*InteractionResult, error) {
	if _, err := s.workspaces.Authorize(ctx, workspaceID, actorID); err != nil {
		return nil, err
	}
	return s.AnalyzeInteractions(ctx, workspaceID)
}
