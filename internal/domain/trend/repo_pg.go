package trend

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
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
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

const seriesCols = `id, workspace_id, parameter_code, display_name, unit, points,
	reference_range_text, reference_min, reference_max, direction, latest_value, latest_date,
	is_currently_abnormal, interpretation, clinical_significance, interpreted_at, updated_at`

func scanSeries(row pgx.Row) (*Series, error) {
	var s Series
	var points []byte
	err := row.Scan(&s.ID, &s.WorkspaceID, &s.ParameterCode, &s.DisplayName, &s.Unit, &points,
		&s.ReferenceRangeText, &s.ReferenceMin, &s.ReferenceMax, &s.Direction, &s.LatestValue, &s.LatestDate,
		&s.IsCurrentlyAbnormal, &s.Interpretation, &s.ClinicalSignificance, &s.InterpretedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(points, &s.Points); err != nil {
		return nil, fmt.Errorf("decode points: %w", err)
	}
	return &s, nil
}

func (r *repoPG) Get(ctx context.Context, workspaceID uuid.UUID, parameterCode string) (*Series, error) {
	return scanSeries(r.conn(ctx).QueryRow(ctx,
		`SELECT `+seriesCols+` FROM trend_series WHERE workspace_id = $1 AND parameter_code = $2`,
		workspaceID, parameterCode))
}

func (r *repoPG) List(ctx context.Context, workspaceID uuid.UUID) ([]*Series, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+seriesCols+` FROM trend_series WHERE workspace_id = $1 ORDER BY display_name, parameter_code`,
		workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Series
	for rows.Next() {
		s, err := scanSeries(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

// Upsert writes the series keyed by (workspace, parameter code). The
// interpretation columns are owned by SaveInterpretation and left alone.
func (r *repoPG) Upsert(ctx context.Context, s *Series) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	points, err := json.Marshal(s.Points)
	if err != nil {
		return fmt.Errorf("encode points: %w", err)
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO trend_series (id, workspace_id, parameter_code, display_name, unit, points,
			reference_range_text, reference_min, reference_max, direction, latest_value, latest_date,
			is_currently_abnormal, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
		ON CONFLICT (workspace_id, parameter_code) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			unit = EXCLUDED.unit,
			points = EXCLUDED.points,
			reference_range_text = EXCLUDED.reference_range_text,
			reference_min = EXCLUDED.reference_min,
			reference_max = EXCLUDED.reference_max,
			direction = EXCLUDED.direction,
			latest_value = EXCLUDED.latest_value,
			latest_date = EXCLUDED.latest_date,
			is_currently_abnormal = EXCLUDED.is_currently_abnormal,
			updated_at = NOW()
		RETURNING id, updated_at`,
		s.ID, s.WorkspaceID, s.ParameterCode, s.DisplayName, s.Unit, points,
		s.ReferenceRangeText, s.ReferenceMin, s.ReferenceMax, s.Direction, s.LatestValue, s.LatestDate,
		s.IsCurrentlyAbnormal,
	).Scan(&s.ID, &s.UpdatedAt)
}

func (r *repoPG) Delete(ctx context.Context, workspaceID uuid.UUID, parameterCode string) error {
	_, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM trend_series WHERE workspace_id = $1 AND parameter_code = $2`, workspaceID, parameterCode)
	return err
}

func (r *repoPG) SaveInterpretation(ctx context.Context, workspaceID uuid.UUID, parameterCode, interpretation, significance string, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE trend_series SET interpretation = $3, clinical_significance = $4, interpreted_at = $5
		WHERE workspace_id = $1 AND parameter_code = $2`,
		workspaceID, parameterCode, interpretation, significance, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
