package rollup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/medhistory/internal/platform/db"
	"github.com/ehr/medhistory/internal/platform/reasoning"
)

type queryable interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *repoPG) Get(ctx context.Context, workspaceID uuid.UUID) (*Summary, error) {
	s := Summary{WorkspaceID: workspaceID}
	var stats, risk, trends, focus []byte
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT stats, last_refreshed_at, narrative_summary, risk_assessment, trends_detected, focus_points,
			last_generated_at, last_generation_status, last_generation_error, last_attempt_at
		FROM history_summaries WHERE workspace_id = $1`, workspaceID,
	).Scan(&stats, &s.LastRefreshedAt, &s.NarrativeSummary, &risk, &trends, &focus,
		&s.LastGeneratedAt, &s.LastGenerationStatus, &s.LastGenerationError, &s.LastAttemptAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	for _, f := range []struct {
		name string
		raw  []byte
		dst  any
	}{
		{"stats", stats, &s.Stats},
		{"risk_assessment", risk, &s.RiskAssessment},
		{"trends_detected", trends, &s.TrendsDetected},
		{"focus_points", focus, &s.FocusPoints},
	} {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.name, err)
		}
	}
	return &s, nil
}

func (r *repoPG) UpsertStats(ctx context.Context, workspaceID uuid.UUID, st Stats, refreshedAt time.Time) error {
	stats, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO history_summaries (workspace_id, stats, completeness_score, last_refreshed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (workspace_id) DO UPDATE SET
			stats = EXCLUDED.stats,
			completeness_score = EXCLUDED.completeness_score,
			last_refreshed_at = EXCLUDED.last_refreshed_at`,
		workspaceID, stats, st.CompletenessScore, refreshedAt)
	return err
}

func (r *repoPG) SaveInsight(ctx context.Context, workspaceID uuid.UUID, in *reasoning.Insight, at time.Time) error {
	risk, err := json.Marshal(in.RiskAssessment)
	if err != nil {
		return fmt.Errorf("encode risk_assessment: %w", err)
	}
	trends, err := json.Marshal(in.TrendsDetected)
	if err != nil {
		return fmt.Errorf("encode trends_detected: %w", err)
	}
	focus, err := json.Marshal(in.FocusPoints)
	if err != nil {
		return fmt.Errorf("encode focus_points: %w", err)
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE history_summaries SET
			narrative_summary = $2, risk_assessment = $3, trends_detected = $4, focus_points = $5,
			last_generated_at = $6, last_attempt_at = $6,
			last_generation_status = 'ok', last_generation_error = ''
		WHERE workspace_id = $1`,
		workspaceID, in.NarrativeSummary, risk, trends, focus, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) RecordAttempt(ctx context.Context, workspaceID uuid.UUID, status, message string, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE history_summaries SET
			last_generation_status = $2, last_generation_error = $3, last_attempt_at = $4
		WHERE workspace_id = $1`,
		workspaceID, status, message, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
