package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ehr/medhistory/internal/domain/timeline"
	"github.com/ehr/medhistory/internal/domain/workspace"
	"github.com/ehr/medhistory/internal/platform/db"
	"github.com/ehr/medhistory/internal/platform/events"
	"github.com/ehr/medhistory/internal/platform/telemetry"
	"github.com/ehr/medhistory/pkg/pagination"
)

// Authorizer resolves an actor's role in a workspace.
type Authorizer interface {
	Authorize(ctx context.Context, workspaceID uuid.UUID, actorID string) (workspace.Membership, error)
}

// AuditTrail is the subset of the timeline the ledger writes to and reads.
type AuditTrail interface {
	Append(ctx context.Context, e *timeline.Event) error
	ListFor(ctx context.Context, recordID uuid.UUID) ([]*timeline.Event, error)
	ListForWorkspace(ctx context.Context, workspaceID uuid.UUID, limit, offset int) ([]*timeline.Event, int, error)
}

// Refresher recomputes the derived workspace summary. It is called inside
// the mutation's unit of work.
type Refresher interface {
	Refresh(ctx context.Context, workspaceID uuid.UUID) error
}

// TrendSink keeps lab trend series in step with lab results. It is called
// after commit.
type TrendSink interface {
	Observe(ctx context.Context, rec *HistoryRecord) error
	Rebuild(ctx context.Context, workspaceID uuid.UUID, parameterCode string) error
}

type Deps struct {
	Records    Repository
	Workspaces Authorizer
	Timeline   AuditTrail
	Tx         db.Transactor
	Rollup     Refresher
	Trends     TrendSink
	Publisher  events.Publisher
	Metrics    *telemetry.Collector
	Logger     zerolog.Logger
}

// Service is the ledger store: the single write path for history records.
// Every mutation writes the record, one timeline event and the refreshed
// summary in one unit of work serialized per workspace.
type Service struct {
	records    Repository
	workspaces Authorizer
	timeline   AuditTrail
	tx         db.Transactor
	rollup     Refresher
	trends     TrendSink
	publisher  events.Publisher
	metrics    *telemetry.Collector
	logger     zerolog.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

func NewService(d Deps) *Service {
	if d.Publisher == nil {
		d.Publisher = events.Nop{}
	}
	if d.Tx == nil {
		d.Tx = db.NewLocalTransactor()
	}
	return &Service{
		records:    d.Records,
		workspaces: d.Workspaces,
		timeline:   d.Timeline,
		tx:         d.Tx,
		rollup:     d.Rollup,
		trends:     d.Trends,
		publisher:  d.Publisher,
		metrics:    d.Metrics,
		logger:     d.Logger.With().Str("component", "ledger").Logger(),
		tracer:     telemetry.Tracer("ledger"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetRollup and SetTrends break the construction cycle between the ledger
// and the services that read from its repository.
func (s *Service) SetRollup(r Refresher) { s.rollup = r }
func (s *Service) SetTrends(t TrendSink) { s.trends = t }

// Prepare applies defaults and validates a record before it is written.
func Prepare(rec *HistoryRecord) error {
	rec.Title = strings.TrimSpace(rec.Title)
	if !validCategories[rec.Category] {
		return fmt.Errorf("%w: %q", ErrInvalidCategory, rec.Category)
	}
	if rec.Title == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if len(rec.Title) > 255 {
		return fmt.Errorf("%w: title exceeds 255 characters", ErrValidation)
	}
	if !validSources[rec.Source] {
		return fmt.Errorf("%w: invalid source %q", ErrValidation, rec.Source)
	}
	if rec.Status == "" {
		rec.Status = DefaultStatus(rec.Category)
	}
	if !validStatuses[rec.Status] {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, rec.Status)
	}
	if rec.Severity != nil {
		if *rec.Severity == "" {
			rec.Severity = nil
		} else if !validSeverities[*rec.Severity] {
			return fmt.Errorf("%w: invalid severity %q", ErrValidation, *rec.Severity)
		}
	}
	if rec.StartDate != nil && rec.EndDate != nil && rec.EndDate.Before(*rec.StartDate) {
		return fmt.Errorf("%w: %s < %s", ErrInvalidDateRange, formatDate(rec.EndDate), formatDate(rec.StartDate))
	}
	if rec.CategoryData == nil {
		rec.CategoryData = map[string]any{}
	}
	// A lab result without a test name is named by its title.
	if rec.Category == CategoryLabResult {
		switch name := rec.CategoryData["test_name"].(type) {
		case nil:
			rec.CategoryData["test_name"] = rec.Title
		case string:
			if strings.TrimSpace(name) == "" {
				rec.CategoryData["test_name"] = rec.Title
			}
		}
	}
	if err := ValidateCategoryData(rec.Category, rec.CategoryData); err != nil {
		return err
	}
	rec.ParameterCode = nil
	if rec.Category == CategoryLabResult {
		if code := ParameterCodeFor(rec.CategoryData); code != "" {
			rec.ParameterCode = &code
		}
	}
	if rec.Tags == nil {
		rec.Tags = []string{}
	}
	return nil
}

func (s *Service) Create(ctx context.Context, actorID string, workspaceID uuid.UUID, in NewRecord) (*HistoryRecord, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.Create", trace.WithAttributes(attribute.String("workspace.id", workspaceID.String())))
	defer span.End()

	m, err := s.workspaces.Authorize(ctx, workspaceID, actorID)
	if err != nil {
		return nil, err
	}
	rec := &HistoryRecord{
		ID:                 uuid.New(),
		WorkspaceID:        workspaceID,
		PatientID:          m.Workspace.PatientID,
		Category:           in.Category,
		Source:             SourceManual,
		Title:              in.Title,
		Description:        in.Description,
		CategoryData:       cloneData(in.CategoryData),
		Status:             in.Status,
		Severity:           cloneString(in.Severity),
		IsChronic:          in.IsChronic,
		RequiresMonitoring: in.RequiresMonitoring,
		IsCritical:         in.IsCritical,
		DoctorNotes:        in.DoctorNotes,
		Tags:               in.Tags,
		AddedBy:            actorID,
	}
	if m.IsDoctor() {
		rec.Source = SourceDoctor
	}
	if rec.StartDate, err = ParseDate(in.StartDate); err != nil {
		return nil, err
	}
	if rec.EndDate, err = ParseDate(in.EndDate); err != nil {
		return nil, err
	}
	if err := Prepare(rec); err != nil {
		return nil, err
	}

	err = s.tx.InWorkspace(ctx, workspaceID, func(ctx context.Context) error {
		if err := s.records.Create(ctx, rec); err != nil {
			return fmt.Errorf("create record: %w", err)
		}
		if err := s.appendEvent(ctx, rec, timeline.EventAdded,
			fmt.Sprintf("Added %s: %s", rec.Category, rec.Title), actorID, m.Role,
			map[string]any{"source": rec.Source}); err != nil {
			return err
		}
		return s.refresh(ctx, workspaceID)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveMutation("create", rec.Category)
	s.afterCommit(ctx, workspaceID, actorID, events.ReasonRecordAdded, func(ctx context.Context) {
		s.observeLab(ctx, rec)
	})
	return rec, nil
}

// CreateImported writes records produced by the import coordinator in one
// unit of work attributed to the system. claim runs first inside the same
// transaction; an error from it aborts before any record is written. All
// records are validated before the transaction starts.
func (s *Service) CreateImported(ctx context.Context, workspaceID uuid.UUID, performedBy string, records []*HistoryRecord, claim func(ctx context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "ledger.CreateImported", trace.WithAttributes(
		attribute.String("workspace.id", workspaceID.String()),
		attribute.Int("records", len(records)),
	))
	defer span.End()

	for _, rec := range records {
		rec.WorkspaceID = workspaceID
		if rec.ID == uuid.Nil {
			rec.ID = uuid.New()
		}
		if !IsImportSource(rec.Source) {
			return fmt.Errorf("%w: %s is not an import source", ErrValidation, rec.Source)
		}
		if err := Prepare(rec); err != nil {
			return fmt.Errorf("record %q: %w", rec.Title, err)
		}
	}

	err := s.tx.InWorkspace(ctx, workspaceID, func(ctx context.Context) error {
		if claim != nil {
			if err := claim(ctx); err != nil {
				return err
			}
		}
		for _, rec := range records {
			if err := s.records.Create(ctx, rec); err != nil {
				return fmt.Errorf("create imported record: %w", err)
			}
			meta := map[string]any{"source": rec.Source}
			if rec.SourceReferenceID != nil {
				meta["source_reference_id"] = *rec.SourceReferenceID
			}
			if err := s.appendEvent(ctx, rec, timeline.EventAdded,
				fmt.Sprintf("Imported %s from %s: %s", rec.Category, rec.Source, rec.Title),
				performedBy, timeline.RoleSystem, meta); err != nil {
				return err
			}
		}
		return s.refresh(ctx, workspaceID)
	})
	if err != nil {
		return err
	}

	for _, rec := range records {
		s.metrics.ObserveMutation("import", rec.Category)
	}
	s.afterCommit(ctx, workspaceID, performedBy, events.ReasonImported, func(ctx context.Context) {
		for _, rec := range records {
			s.observeLab(ctx, rec)
		}
	})
	return nil
}

func (s *Service) Get(ctx context.Context, actorID string, id uuid.UUID) (*HistoryRecord, error) {
	rec, err := s.records.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", id, err)
	}
	if _, err := s.workspaces.Authorize(ctx, rec.WorkspaceID, actorID); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Service) List(ctx context.Context, actorID string, workspaceID uuid.UUID, f Filter) ([]*HistoryRecord, int, error) {
	if _, err := s.workspaces.Authorize(ctx, workspaceID, actorID); err != nil {
		return nil, 0, err
	}
	if f.Category != "" && !validCategories[f.Category] {
		return nil, 0, fmt.Errorf("%w: %q", ErrInvalidCategory, f.Category)
	}
	if f.Status != "" && !validStatuses[f.Status] {
		return nil, 0, fmt.Errorf("%w: invalid status filter %q", ErrValidation, f.Status)
	}
	if f.Source != "" && !validSources[f.Source] {
		return nil, 0, fmt.Errorf("%w: invalid source filter %q", ErrValidation, f.Source)
	}
	if f.Limit <= 0 {
		f.Limit = pagination.DefaultLimit
	}
	if f.Limit > pagination.MaxLimit {
		f.Limit = pagination.MaxLimit
	}
	return s.records.List(ctx, workspaceID, f)
}

// Update applies a partial change. Imported records edited by the doctor
// become doctor-owned.
func (s *Service) Update(ctx context.Context, actorID string, id uuid.UUID, p Patch) (*HistoryRecord, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.Update", trace.WithAttributes(attribute.String("record.id", id.String())))
	defer span.End()

	current, err := s.records.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", id, err)
	}
	m, err := s.workspaces.Authorize(ctx, current.WorkspaceID, actorID)
	if err != nil {
		return nil, err
	}

	var before, after *HistoryRecord
	err = s.tx.InWorkspace(ctx, current.WorkspaceID, func(ctx context.Context) error {
		cur, err := s.records.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("record %s: %w", id, err)
		}
		if err := canModify(cur, m); err != nil {
			return err
		}
		next := cur.Clone()
		if err := applyPatch(next, p); err != nil {
			return err
		}
		if err := Prepare(next); err != nil {
			return err
		}
		if err := CheckTransition(cur.Status, next.Status); err != nil {
			return err
		}

		changes := diff(cur, next)
		if len(changes) == 0 {
			after = cur
			return nil
		}
		meta := map[string]any{"changes": changes}
		if IsImportSource(cur.Source) {
			next.Source = SourceDoctor
			next.AddedBy = actorID
			meta["reattributed_from"] = cur.Source
		}
		if err := s.records.Update(ctx, next); err != nil {
			return fmt.Errorf("update record: %w", err)
		}
		eventType, desc := describeUpdate(cur, next, changes)
		if err := s.appendEvent(ctx, next, eventType, desc, actorID, m.Role, meta); err != nil {
			return err
		}
		before, after = cur, next
		return s.refresh(ctx, cur.WorkspaceID)
	})
	if err != nil {
		return nil, err
	}
	if before == nil {
		return after, nil
	}

	s.metrics.ObserveMutation("update", after.Category)
	s.afterCommit(ctx, after.WorkspaceID, actorID, events.ReasonRecordUpdated, func(ctx context.Context) {
		s.rebuildLabs(ctx, after.WorkspaceID, before.ParameterCode, after.ParameterCode)
	})
	return after, nil
}

// Verify marks a record as reviewed by the workspace doctor. Verification is
// one-way.
func (s *Service) Verify(ctx context.Context, actorID string, id uuid.UUID) (*HistoryRecord, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.Verify", trace.WithAttributes(attribute.String("record.id", id.String())))
	defer span.End()

	current, err := s.records.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", id, err)
	}
	m, err := s.workspaces.Authorize(ctx, current.WorkspaceID, actorID)
	if err != nil {
		return nil, err
	}
	if !m.IsDoctor() {
		return nil, fmt.Errorf("%w: only the workspace doctor may verify records", ErrAccessDenied)
	}

	var verified *HistoryRecord
	err = s.tx.InWorkspace(ctx, current.WorkspaceID, func(ctx context.Context) error {
		cur, err := s.records.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("record %s: %w", id, err)
		}
		if cur.VerifiedByDoctor {
			return fmt.Errorf("%w: record is already verified", ErrInvalidTransition)
		}
		next := cur.Clone()
		now := s.now()
		next.VerifiedByDoctor = true
		next.VerifiedAt = &now
		if err := s.records.Update(ctx, next); err != nil {
			return fmt.Errorf("verify record: %w", err)
		}
		if err := s.appendEvent(ctx, next, timeline.EventVerified,
			fmt.Sprintf("Verified %s: %s", next.Category, next.Title), actorID, m.Role, nil); err != nil {
			return err
		}
		verified = next
		return s.refresh(ctx, cur.WorkspaceID)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveMutation("verify", verified.Category)
	s.afterCommit(ctx, verified.WorkspaceID, actorID, events.ReasonRecordVerified, nil)
	return verified, nil
}

// Delete hard-deletes a record. Its timeline survives and gains a deleted
// event.
func (s *Service) Delete(ctx context.Context, actorID string, id uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "ledger.Delete", trace.WithAttributes(attribute.String("record.id", id.String())))
	defer span.End()

	current, err := s.records.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("record %s: %w", id, err)
	}
	m, err := s.workspaces.Authorize(ctx, current.WorkspaceID, actorID)
	if err != nil {
		return err
	}

	var deleted *HistoryRecord
	err = s.tx.InWorkspace(ctx, current.WorkspaceID, func(ctx context.Context) error {
		cur, err := s.records.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("record %s: %w", id, err)
		}
		if err := canModify(cur, m); err != nil {
			return err
		}
		if err := s.records.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete record: %w", err)
		}
		if err := s.appendEvent(ctx, cur, timeline.EventDeleted,
			fmt.Sprintf("Deleted %s: %s", cur.Category, cur.Title), actorID, m.Role,
			map[string]any{"category": cur.Category, "title": cur.Title, "source": cur.Source}); err != nil {
			return err
		}
		deleted = cur
		return s.refresh(ctx, cur.WorkspaceID)
	})
	if err != nil {
		return err
	}

	s.metrics.ObserveMutation("delete", deleted.Category)
	s.afterCommit(ctx, deleted.WorkspaceID, actorID, events.ReasonRecordDeleted, func(ctx context.Context) {
		s.rebuildLabs(ctx, deleted.WorkspaceID, deleted.ParameterCode, nil)
	})
	return nil
}

// Timeline returns a record's audit trail, oldest first.
func (s *Service) Timeline(ctx context.Context, actorID string, recordID uuid.UUID) ([]*timeline.Event, error) {
	if _, err := s.Get(ctx, actorID, recordID); err != nil {
		return nil, err
	}
	return s.timeline.ListFor(ctx, recordID)
}

// WorkspaceTimeline returns the workspace activity feed, newest first. It
// includes events of deleted records.
func (s *Service) WorkspaceTimeline(ctx context.Context, actorID string, workspaceID uuid.UUID, limit, offset int) ([]*timeline.Event, int, error) {
	if _, err := s.workspaces.Authorize(ctx, workspaceID, actorID); err != nil {
		return nil, 0, err
	}
	return s.timeline.ListForWorkspace(ctx, workspaceID, limit, offset)
}

func canModify(rec *HistoryRecord, m workspace.Membership) error {
	if rec.Source == SourceManual {
		if m.ActorID != rec.AddedBy {
			return fmt.Errorf("%w: only the author may modify a manual entry", ErrAccessDenied)
		}
		return nil
	}
	if !m.IsDoctor() {
		return fmt.Errorf("%w: only the workspace doctor may modify %s records", ErrAccessDenied, rec.Source)
	}
	return nil
}

func applyPatch(rec *HistoryRecord, p Patch) error {
	var err error
	if p.Title != nil {
		rec.Title = *p.Title
	}
	if p.Description != nil {
		rec.Description = *p.Description
	}
	if p.Category != nil {
		rec.Category = *p.Category
	}
	if p.Status != nil {
		if *p.Status == "" {
			return fmt.Errorf("%w: status must not be empty", ErrValidation)
		}
		rec.Status = *p.Status
	}
	if p.Severity != nil {
		rec.Severity = cloneString(p.Severity)
	}
	if p.StartDate != nil {
		if rec.StartDate, err = ParseDate(*p.StartDate); err != nil {
			return err
		}
	}
	if p.EndDate != nil {
		if rec.EndDate, err = ParseDate(*p.EndDate); err != nil {
			return err
		}
	}
	if p.IsChronic != nil {
		rec.IsChronic = *p.IsChronic
	}
	if p.RequiresMonitoring != nil {
		rec.RequiresMonitoring = *p.RequiresMonitoring
	}
	if p.IsCritical != nil {
		rec.IsCritical = *p.IsCritical
	}
	if p.CategoryData != nil {
		rec.CategoryData = cloneData(p.CategoryData)
	}
	if p.DoctorNotes != nil {
		rec.DoctorNotes = *p.DoctorNotes
	}
	if p.Tags != nil {
		rec.Tags = append([]string(nil), p.Tags...)
	}
	return nil
}

func diff(old, next *HistoryRecord) []Change {
	var changes []Change
	add := func(field, a, b string) {
		if a != b {
			changes = append(changes, Change{Field: field, Old: a, New: b})
		}
	}
	add("title", old.Title, next.Title)
	add("description", old.Description, next.Description)
	add("category", old.Category, next.Category)
	add("status", old.Status, next.Status)
	add("severity", derefOr(old.Severity, "none"), derefOr(next.Severity, "none"))
	add("start_date", formatDate(old.StartDate), formatDate(next.StartDate))
	add("end_date", formatDate(old.EndDate), formatDate(next.EndDate))
	add("is_chronic", fmt.Sprint(old.IsChronic), fmt.Sprint(next.IsChronic))
	add("requires_monitoring", fmt.Sprint(old.RequiresMonitoring), fmt.Sprint(next.RequiresMonitoring))
	add("is_critical", fmt.Sprint(old.IsCritical), fmt.Sprint(next.IsCritical))
	add("category_data", canonicalJSON(old.CategoryData), canonicalJSON(next.CategoryData))
	add("doctor_notes", old.DoctorNotes, next.DoctorNotes)
	add("tags", strings.Join(old.Tags, ","), strings.Join(next.Tags, ","))
	return changes
}

func describeUpdate(old, next *HistoryRecord, changes []Change) (string, string) {
	switch {
	case next.Status == StatusResolved && old.Status != StatusResolved:
		return timeline.EventResolved, fmt.Sprintf("Resolved %s: %s", next.Category, next.Title)
	case !old.IsCritical && next.IsCritical:
		return timeline.EventFlagged, fmt.Sprintf("Flagged critical: %s", next.Title)
	case !old.RequiresMonitoring && next.RequiresMonitoring:
		return timeline.EventFlagged, fmt.Sprintf("Flagged for monitoring: %s", next.Title)
	}
	parts := make([]string, len(changes))
	for i, c := range changes {
		parts[i] = c.String()
	}
	return timeline.EventUpdated, fmt.Sprintf("Updated %s: %s", next.Title, strings.Join(parts, "; "))
}

func (s *Service) appendEvent(ctx context.Context, rec *HistoryRecord, eventType, desc, actorID, role string, meta map[string]any) error {
	e := &timeline.Event{
		ID:              uuid.New(),
		RecordID:        rec.ID,
		WorkspaceID:     rec.WorkspaceID,
		EventType:       eventType,
		Description:     desc,
		PerformedBy:     actorID,
		PerformedByRole: role,
		Metadata:        meta,
	}
	if err := s.timeline.Append(ctx, e); err != nil {
		return fmt.Errorf("append %s event: %w", eventType, err)
	}
	return nil
}

func (s *Service) refresh(ctx context.Context, workspaceID uuid.UUID) error {
	if s.rollup == nil {
		return nil
	}
	if err := s.rollup.Refresh(ctx, workspaceID); err != nil {
		return fmt.Errorf("refresh summary: %w", err)
	}
	return nil
}

// afterCommit runs best-effort follow-ups. Failures are logged; the
// mutation has already committed.
func (s *Service) afterCommit(ctx context.Context, workspaceID uuid.UUID, actorID, reason string, trends func(ctx context.Context)) {
	if trends != nil && s.trends != nil {
		trends(ctx)
	}
	ev := events.WorkspaceChanged{WorkspaceID: workspaceID, Reason: reason, ActorID: actorID, OccurredAt: s.now()}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).
			Str("workspace_id", workspaceID.String()).
			Str("reason", reason).
			Msg("publish workspace change failed")
	}
}

func (s *Service) observeLab(ctx context.Context, rec *HistoryRecord) {
	if rec.Category != CategoryLabResult || rec.ParameterCode == nil {
		return
	}
	if err := s.trends.Observe(ctx, rec); err != nil {
		s.logger.Error().Err(err).
			Str("workspace_id", rec.WorkspaceID.String()).
			Str("parameter", *rec.ParameterCode).
			Msg("trend ingestion failed")
	}
}

func (s *Service) rebuildLabs(ctx context.Context, workspaceID uuid.UUID, codes ...*string) {
	seen := map[string]bool{}
	for _, c := range codes {
		if c == nil || *c == "" || seen[*c] {
			continue
		}
		seen[*c] = true
		if err := s.trends.Rebuild(ctx, workspaceID, *c); err != nil {
			s.logger.Error().Err(err).
				Str("workspace_id", workspaceID.String()).
				Str("parameter", *c).
				Msg("trend rebuild failed")
		}
	}
}

func derefOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}

func canonicalJSON(m map[string]any) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Sprint(m)
	}
	return string(b)
}
