package trend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ehr/medhistory/internal/domain/ledger"
	"github.com/ehr/medhistory/internal/domain/workspace"
	"github.com/ehr/medhistory/internal/platform/db"
	"github.com/ehr/medhistory/internal/platform/telemetry"
)

// RecordSource is the read side of the ledger plus the denormalized trend
// columns on lab results.
type RecordSource interface {
	ListAll(ctx context.Context, workspaceID uuid.UUID) ([]*ledger.HistoryRecord, error)
	ListByParameter(ctx context.Context, workspaceID uuid.UUID, code string) ([]*ledger.HistoryRecord, error)
	SetTrend(ctx context.Context, workspaceID uuid.UUID, code string, direction, lastValue *string) error
}

type Authorizer interface {
	Authorize(ctx context.Context, workspaceID uuid.UUID, actorID string) (workspace.Membership, error)
}

type Deps struct {
	Series     Repository
	Records    RecordSource
	Workspaces Authorizer
	Tx         db.Transactor
	Metrics    *telemetry.Collector
	Logger     zerolog.Logger
}

type Service struct {
	series     Repository
	records    RecordSource
	workspaces Authorizer
	tx         db.Transactor
	metrics    *telemetry.Collector
	logger     zerolog.Logger
	tracer     trace.Tracer
}

func NewService(d Deps) *Service {
	if d.Tx == nil {
		d.Tx = db.NewLocalTransactor()
	}
	return &Service{
		series:     d.Series,
		records:    d.Records,
		workspaces: d.Workspaces,
		tx:         d.Tx,
		metrics:    d.Metrics,
		logger:     d.Logger.With().Str("component", "trend").Logger(),
		tracer:     telemetry.Tracer("trend"),
	}
}

// AddObservation folds one value into the parameter's series. A point on the
// same calendar date replaces the existing one.
func (s *Service) AddObservation(ctx context.Context, workspaceID uuid.UUID, parameterCode string, obs Observation) (*Series, error) {
	ctx, span := s.tracer.Start(ctx, "trend.AddObservation", trace.WithAttributes(
		attribute.String("workspace.id", workspaceID.String()),
		attribute.String("parameter", parameterCode),
	))
	defer span.End()

	if parameterCode == "" {
		return nil, fmt.Errorf("%w: parameter code is required", ledger.ErrValidation)
	}
	var out *Series
	err := s.tx.InWorkspace(ctx, workspaceID, func(ctx context.Context) error {
		cur, err := s.series.Get(ctx, workspaceID, parameterCode)
		switch {
		case errors.Is(err, ErrNotFound):
			cur = &Series{WorkspaceID: workspaceID, ParameterCode: parameterCode, DisplayName: parameterCode}
		case err != nil:
			return fmt.Errorf("load series: %w", err)
		}
		applyObservation(cur, obs)
		if err := s.persist(ctx, cur); err != nil {
			return err
		}
		out = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Observe ingests a lab result. Results without a numeric value are skipped.
func (s *Service) Observe(ctx context.Context, rec *ledger.HistoryRecord) error {
	obs, code, ok := observationOf(rec)
	if !ok {
		return nil
	}
	_, err := s.AddObservation(ctx, rec.WorkspaceID, code, obs)
	return err
}

// Rebuild recomputes a series from the lab results that currently carry the
// parameter code, deleting it when none remain.
func (s *Service) Rebuild(ctx context.Context, workspaceID uuid.UUID, parameterCode string) error {
	ctx, span := s.tracer.Start(ctx, "trend.Rebuild", trace.WithAttributes(
		attribute.String("workspace.id", workspaceID.String()),
		attribute.String("parameter", parameterCode),
	))
	defer span.End()

	return s.tx.InWorkspace(ctx, workspaceID, func(ctx context.Context) error {
		records, err := s.records.ListByParameter(ctx, workspaceID, parameterCode)
		if err != nil {
			return fmt.Errorf("list lab results: %w", err)
		}
		series := &Series{WorkspaceID: workspaceID, ParameterCode: parameterCode, DisplayName: parameterCode}
		for _, rec := range records {
			if obs, code, ok := observationOf(rec); ok && code == parameterCode {
				applyObservation(series, obs)
			}
		}
		if len(series.Points) == 0 {
			if err := s.series.Delete(ctx, workspaceID, parameterCode); err != nil {
				return fmt.Errorf("delete series: %w", err)
			}
			return s.records.SetTrend(ctx, workspaceID, parameterCode, nil, nil)
		}
		if prev, err := s.series.Get(ctx, workspaceID, parameterCode); err == nil {
			series.ID = prev.ID
		}
		return s.persist(ctx, series)
	})
}

// RebuildWorkspace rebuilds every series of a workspace, including removal of
// series whose lab results are gone. It returns the number of parameters
// processed.
func (s *Service) RebuildWorkspace(ctx context.Context, workspaceID uuid.UUID) (int, error) {
	records, err := s.records.ListAll(ctx, workspaceID)
	if err != nil {
		return 0, fmt.Errorf("list records: %w", err)
	}
	codes := map[string]bool{}
	for _, rec := range records {
		if rec.Category == ledger.CategoryLabResult && rec.ParameterCode != nil {
			codes[*rec.ParameterCode] = true
		}
	}
	existing, err := s.series.List(ctx, workspaceID)
	if err != nil {
		return 0, fmt.Errorf("list series: %w", err)
	}
	for _, ser := range existing {
		codes[ser.ParameterCode] = true
	}

	sorted := make([]string, 0, len(codes))
	for c := range codes {
		sorted = append(sorted, c)
	}
	sort.Strings(sorted)
	for _, c := range sorted {
		if err := s.Rebuild(ctx, workspaceID, c); err != nil {
			return 0, fmt.Errorf("rebuild %s: %w", c, err)
		}
	}
	return len(sorted), nil
}

// RebuildFor rebuilds one series on behalf of a workspace member. It returns
// nil when the series no longer has observations.
func (s *Service) RebuildFor(ctx context.Context, actorID string, workspaceID uuid.UUID, parameterCode string) (*Series, error) {
	if _, err := s.workspaces.Authorize(ctx, workspaceID, actorID); err != nil {
		return nil, err
	}
	code := ledger.NormalizeParameter(parameterCode)
	if err := s.Rebuild(ctx, workspaceID, code); err != nil {
		return nil, err
	}
	ser, err := s.series.Get(ctx, workspaceID, code)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return ser, err
}

func (s *Service) Get(ctx context.Context, actorID string, workspaceID uuid.UUID, parameterCode string) (*Series, error) {
	if _, err := s.workspaces.Authorize(ctx, workspaceID, actorID); err != nil {
		return nil, err
	}
	return s.Lookup(ctx, workspaceID, parameterCode)
}

func (s *Service) List(ctx context.Context, actorID string, workspaceID uuid.UUID) ([]*Series, error) {
	if _, err := s.workspaces.Authorize(ctx, workspaceID, actorID); err != nil {
		return nil, err
	}
	return s.All(ctx, workspaceID)
}

// Lookup reads a series without an authorization check.
func (s *Service) Lookup(ctx context.Context, workspaceID uuid.UUID, parameterCode string) (*Series, error) {
	ser, err := s.series.Get(ctx, workspaceID, ledger.NormalizeParameter(parameterCode))
	if err != nil {
		return nil, fmt.Errorf("series %s: %w", parameterCode, err)
	}
	return ser, nil
}

// All reads every series of a workspace without an authorization check.
func (s *Service) All(ctx context.Context, workspaceID uuid.UUID) ([]*Series, error) {
	items, err := s.series.List(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*Series{}
	}
	return items, nil
}

func (s *Service) SaveInterpretation(ctx context.Context, workspaceID uuid.UUID, parameterCode, interpretation, significance string, at time.Time) error {
	return s.series.SaveInterpretation(ctx, workspaceID, parameterCode, interpretation, significance, at)
}

func (s *Service) persist(ctx context.Context, ser *Series) error {
	ser.Direction = Classify(ser.Points)
	if err := s.series.Upsert(ctx, ser); err != nil {
		return fmt.Errorf("save series: %w", err)
	}
	direction, latest := ser.Direction, ser.LatestValue
	if err := s.records.SetTrend(ctx, ser.WorkspaceID, ser.ParameterCode, &direction, &latest); err != nil {
		return fmt.Errorf("denormalize trend: %w", err)
	}
	s.metrics.ObserveTrend(ser.Direction)
	s.logger.Debug().
		Str("workspace_id", ser.WorkspaceID.String()).
		Str("parameter", ser.ParameterCode).
		Str("direction", ser.Direction).
		Int("points", len(ser.Points)).
		Msg("trend series updated")
	return nil
}

// applyObservation upserts the point by calendar date, keeps points sorted
// and refreshes the latest-value fields.
func applyObservation(ser *Series, obs Observation) {
	p := Point{Date: day(obs.Date), Value: obs.Value, IsAbnormal: obs.IsAbnormal, Source: obs.Source, RecordID: obs.RecordID}
	replaced := false
	for i := range ser.Points {
		if ser.Points[i].Date.Equal(p.Date) {
			ser.Points[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		ser.Points = append(ser.Points, p)
	}
	sort.SliceStable(ser.Points, func(i, j int) bool { return ser.Points[i].Date.Before(ser.Points[j].Date) })

	if obs.DisplayName != "" {
		ser.DisplayName = obs.DisplayName
	}
	if obs.Unit != "" {
		ser.Unit = obs.Unit
	}
	if obs.ReferenceRangeText != "" {
		ser.ReferenceRangeText = obs.ReferenceRangeText
	}
	if obs.ReferenceMin != nil {
		ser.ReferenceMin = obs.ReferenceMin
	}
	if obs.ReferenceMax != nil {
		ser.ReferenceMax = obs.ReferenceMax
	}

	latest := ser.Points[len(ser.Points)-1]
	latestDate := latest.Date
	ser.LatestValue = latest.Value
	ser.LatestDate = &latestDate
	ser.IsCurrentlyAbnormal = latest.IsAbnormal
}

// observationOf extracts a numeric observation from a lab result.
func observationOf(rec *ledger.HistoryRecord) (Observation, string, bool) {
	if rec.Category != ledger.CategoryLabResult || rec.ParameterCode == nil || *rec.ParameterCode == "" {
		return Observation{}, "", false
	}
	value, ok := ledger.ResultValue(rec.CategoryData)
	if !ok {
		return Observation{}, "", false
	}
	v, numeric := ledger.NumericValue(value)
	if !numeric {
		return Observation{}, "", false
	}
	lo, hi := ledger.ReferenceBounds(rec.CategoryData)
	abnormal := ledger.IsAbnormal(rec.CategoryData) || (lo != nil && v < *lo) || (hi != nil && v > *hi)

	name := ledger.StringField(rec.CategoryData, "test_name")
	if name == "" {
		name = rec.Title
	}
	id := rec.ID
	return Observation{
		Date:               rec.EffectiveDate(),
		Value:              value,
		IsAbnormal:         abnormal,
		Source:             rec.Source,
		RecordID:           &id,
		DisplayName:        name,
		Unit:               ledger.StringField(rec.CategoryData, "unit"),
		ReferenceRangeText: ledger.StringField(rec.CategoryData, "reference_range"),
		ReferenceMin:       lo,
		ReferenceMax:       hi,
	}, *rec.ParameterCode, true
}
