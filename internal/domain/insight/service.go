// Package insight produces the AI-authored parts of the history summary,
// trend interpretations and medication interaction checks. Calls to the
// reasoning collaborator are bounded by a timeout, retried with exponential
// backoff and throttled by a local token bucket. A failed call never clears
// previously generated content.
package insight

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/ehr/medhistory/internal/domain/ledger"
	"github.com/ehr/medhistory/internal/domain/rollup"
	"github.com/ehr/medhistory/internal/domain/trend"
	"github.com/ehr/medhistory/internal/domain/workspace"
	"github.com/ehr/medhistory/internal/platform/reasoning"
	"github.com/ehr/medhistory/internal/platform/telemetry"
)

// Outcomes of a generation request.
const (
	OutcomeGenerated     = "generated"
	OutcomeFresh         = "fresh"
	OutcomeSkipped       = "skipped"
	OutcomeQuotaExceeded = rollup.GenerationQuotaExceeded
	OutcomeTimeout       = rollup.GenerationTimeout
	OutcomeFailed        = rollup.GenerationFailed
)

// Reasoner is the external collaborator.
type Reasoner interface {
	Summarize(ctx context.Context, d reasoning.Digest) (*reasoning.Insight, error)
	InterpretTrend(ctx context.Context, d reasoning.TrendDigest) (*reasoning.TrendInterpretation, error)
	AnalyzeInteractions(ctx context.Context, medications []string) (*reasoning.InteractionReport, error)
}

type Summaries interface {
	Summary(ctx context.Context, workspaceID uuid.UUID) (*rollup.Summary, error)
	SaveInsight(ctx context.Context, workspaceID uuid.UUID, in *reasoning.Insight, at time.Time) error
	RecordAttempt(ctx context.Context, workspaceID uuid.UUID, status, message string, at time.Time) error
}

type RecordSource interface {
	ListAll(ctx context.Context, workspaceID uuid.UUID) ([]*ledger.HistoryRecord, error)
}

type Trends interface {
	Lookup(ctx context.Context, workspaceID uuid.UUID, parameterCode string) (*trend.Series, error)
	SaveInterpretation(ctx context.Context, workspaceID uuid.UUID, parameterCode, interpretation, significance string, at time.Time) error
}

type Directory interface {
	Get(ctx context.Context, id uuid.UUID) (*workspace.Workspace, error)
	Authorize(ctx context.Context, workspaceID uuid.UUID, actorID string) (workspace.Membership, error)
}

type Config struct {
	Timeout        time.Duration
	Freshness      time.Duration
	MinInterval    time.Duration
	RPS            float64
	Burst          int
	MaxAttempts    int
	InitialBackoff time.Duration
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Freshness <= 0 {
		c.Freshness = 24 * time.Hour
	}
	if c.MinInterval <= 0 {
		c.MinInterval = 15 * time.Minute
	}
	if c.RPS <= 0 {
		c.RPS = 0.5
	}
	if c.Burst <= 0 {
		c.Burst = 2
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
}

type Deps struct {
	Summaries  Summaries
	Records    RecordSource
	Trends     Trends
	Workspaces Directory
	Reasoner   Reasoner
	Config     Config
	Metrics    *telemetry.Collector
	Logger     zerolog.Logger
}

type Service struct {
	summaries  Summaries
	records    RecordSource
	trends     Trends
	workspaces Directory
	reasoner   Reasoner
	cfg        Config
	limiter    *rate.Limiter
	metrics    *telemetry.Collector
	logger     zerolog.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

func NewService(d Deps) *Service {
	d.Config.defaults()
	return &Service{
		summaries:  d.Summaries,
		records:    d.Records,
		trends:     d.Trends,
		workspaces: d.Workspaces,
		reasoner:   d.Reasoner,
		cfg:        d.Config,
		limiter:    rate.NewLimiter(rate.Limit(d.Config.RPS), d.Config.Burst),
		metrics:    d.Metrics,
		logger:     d.Logger.With().Str("component", "insight").Logger(),
		tracer:     telemetry.Tracer("insight"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Result is the rollup after a generation request and what happened to it.
// On failure Summary still carries the previous AI fields.
type Result struct {
	Outcome string          `json:"outcome"`
	Summary *rollup.Summary `json:"summary"`
}

// Generate produces the AI fields of a workspace's rollup. Unless force is
// set, fresh content is returned as is. On failure the error is returned
// together with the unchanged rollup.
func (s *Service) Generate(ctx context.Context, workspaceID uuid.UUID, force bool) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "insight.Generate", trace.WithAttributes(
		attribute.String("workspace.id", workspaceID.String()),
		attribute.Bool("insight.force", force),
	))
	defer span.End()

	sum, err := s.summaries.Summary(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if !force && sum.InsightFresh(s.now(), s.cfg.Freshness) {
		s.metrics.ObserveInsight(OutcomeFresh)
		span.SetAttributes(attribute.String("insight.outcome", OutcomeFresh))
		return &Result{Outcome: OutcomeFresh, Summary: sum}, nil
	}

	ws, err := s.workspaces.Get(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	records, err := s.records.ListAll(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	digest := BuildDigest(ws.PatientID, records)

	in, callErr := call(ctx, s, func(ctx context.Context) (*reasoning.Insight, error) {
		return s.reasoner.Summarize(ctx, digest)
	})
	now := s.now()
	if callErr != nil {
		outcome := outcomeOf(callErr)
		s.metrics.ObserveInsight(outcome)
		span.SetAttributes(attribute.String("insight.outcome", outcome))
		span.SetStatus(codes.Error, outcome)
		span.RecordError(callErr)
		if err := s.summaries.RecordAttempt(ctx, workspaceID, outcome, callErr.Error(), now); err != nil {
			s.logger.Error().Err(err).Str("workspace_id", workspaceID.String()).Msg("record insight attempt")
		}
		if stale, err := s.summaries.Summary(ctx, workspaceID); err == nil {
			sum = stale
		}
		return &Result{Outcome: outcome, Summary: sum}, callErr
	}

	if err := s.summaries.SaveInsight(ctx, workspaceID, in, now); err != nil {
		return nil, fmt.Errorf("save insight: %w", err)
	}
	sum, err = s.summaries.Summary(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveInsight(OutcomeGenerated)
	span.SetAttributes(attribute.String("insight.outcome", OutcomeGenerated))
	return &Result{Outcome: OutcomeGenerated, Summary: sum}, nil
}

// GenerateFor is Generate on behalf of a workspace member.
func (s *Service) GenerateFor(ctx context.Context, actorID string, workspaceID uuid.UUID, force bool) (*Result, error) {
	if _, err := s.workspaces.Authorize(ctx, workspaceID, actorID); err != nil {
		return nil, err
	}
	return s.Generate(ctx, workspaceID, force)
}

// HandleWorkspaceChanged regenerates in the background when the stored
// content is missing or out of date. Attempts, failed or not, are spaced at
// least MinInterval apart.
func (s *Service) HandleWorkspaceChanged(ctx context.Context, workspaceID uuid.UUID) (string, error) {
	sum, err := s.summaries.Summary(ctx, workspaceID)
	if err != nil {
		return "", err
	}
	if !s.due(sum, s.now()) {
		return OutcomeSkipped, nil
	}
	res, err := s.Generate(ctx, workspaceID, true)
	if res == nil {
		return "", err
	}
	return res.Outcome, err
}

func (s *Service) due(sum *rollup.Summary, now time.Time) bool {
	if sum.LastAttemptAt != nil && now.Sub(*sum.LastAttemptAt) < s.cfg.MinInterval {
		return false
	}
	if sum.LastGeneratedAt == nil {
		return true
	}
	age := now.Sub(*sum.LastGeneratedAt)
	if age >= s.cfg.Freshness {
		return true
	}
	return sum.LastRefreshedAt.After(*sum.LastGeneratedAt) && age >= s.cfg.MinInterval
}

// InterpretTrend writes a narrative for one series. A current interpretation
// is kept unless force is set.
func (s *Service) InterpretTrend(ctx context.Context, workspaceID uuid.UUID, parameterCode string, force bool) (*trend.Series, error) {
	ctx, span := s.tracer.Start(ctx, "insight.InterpretTrend", trace.WithAttributes(
		attribute.String("workspace.id", workspaceID.String()),
		attribute.String("trend.parameter", parameterCode),
	))
	defer span.End()

	ser, err := s.trends.Lookup(ctx, workspaceID, parameterCode)
	if err != nil {
		return nil, err
	}
	if !force && !ser.Stale() {
		return ser, nil
	}
	digest := TrendDigestOf(ser)
	out, err := call(ctx, s, func(ctx context.Context) (*reasoning.TrendInterpretation, error) {
		return s.reasoner.InterpretTrend(ctx, digest)
	})
	if err != nil {
		span.SetStatus(codes.Error, outcomeOf(err))
		span.RecordError(err)
		return nil, err
	}
	if err := s.trends.SaveInterpretation(ctx, workspaceID, ser.ParameterCode, out.Interpretation, out.ClinicalSignificance, s.now()); err != nil {
		return nil, fmt.Errorf("save interpretation: %w", err)
	}
	return s.trends.Lookup(ctx, workspaceID, ser.ParameterCode)
}

func (s *Service) InterpretTrendFor(ctx context.Context, actorID string, workspaceID uuid.UUID, parameterCode string, force bool) (*trend.Series, error) {
	if _, err := s.workspaces.Authorize(ctx, workspaceID, actorID); err != nil {
		return nil, err
	}
	return s.InterpretTrend(ctx, workspaceID, parameterCode, force)
}

// call runs op under the configured timeout, limiter and retry policy. The
// timeout covers every attempt and the waits between them.
func call[T any](ctx context.Context, s *Service, op func(context.Context) (T, error)) (T, error) {
	var zero T
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	if !s.limiter.Allow() {
		s.metrics.ObserveReasonerAttempt("throttled")
		return zero, fmt.Errorf("%w: local rate limit reached", reasoning.ErrCollaboratorQuotaExceeded)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.InitialBackoff
	res, err := backoff.Retry(ctx, func() (T, error) {
		v, err := op(ctx)
		switch {
		case err == nil:
			s.metrics.ObserveReasonerAttempt("ok")
			return v, nil
		case reasoning.Retryable(err):
			s.metrics.ObserveReasonerAttempt("retry")
			return zero, err
		default:
			s.metrics.ObserveReasonerAttempt("error")
			return zero, backoff.Permanent(err)
		}
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(s.cfg.MaxAttempts)))
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil && !errors.Is(err, reasoning.ErrCollaboratorQuotaExceeded) && !errors.Is(err, reasoning.ErrCollaboratorTimeout) {
		return zero, fmt.Errorf("%w: %v", reasoning.ErrCollaboratorTimeout, err)
	}
	return zero, err
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, reasoning.ErrCollaboratorQuotaExceeded):
		return OutcomeQuotaExceeded
	case errors.Is(err, reasoning.ErrCollaboratorTimeout):
		return OutcomeTimeout
	default:
		return OutcomeFailed
	}
}
