package timeline

import (
	"context"
	"encoding/json"
	"fmt"

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

const eventCols = `seq, id, record_id, workspace_id, event_type, description,
	performed_by, performed_by_role, metadata, created_at`

func scanEvent(row pgx.Row) (*Event, error) {
	var e Event
	var meta []byte
	if err := row.Scan(&e.Seq, &e.ID, &e.RecordID, &e.WorkspaceID, &e.EventType, &e.Description,
		&e.PerformedBy, &e.PerformedByRole, &meta, &e.CreatedAt); err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode event metadata: %w", err)
		}
	}
	return &e, nil
}

func (r *repoPG) Append(ctx context.Context, e *Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("encode event metadata: %w", err)
	}
	if e.Metadata == nil {
		meta = []byte("{}")
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO timeline_events (id, record_id, workspace_id, event_type, description,
			performed_by, performed_by_role, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING seq, created_at`,
		e.ID, e.RecordID, e.WorkspaceID, e.EventType, e.Description,
		e.PerformedBy, e.PerformedByRole, meta).Scan(&e.Seq, &e.CreatedAt)
}

func (r *repoPG) ListFor(ctx context.Context, recordID uuid.UUID) ([]*Event, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+eventCols+` FROM timeline_events WHERE record_id = $1 ORDER BY seq ASC`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (r *repoPG) ListForWorkspace(ctx context.Context, workspaceID uuid.UUID, limit, offset int) ([]*Event, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM timeline_events WHERE workspace_id = $1`, workspaceID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+eventCols+` FROM timeline_events WHERE workspace_id = $1 ORDER BY seq DESC LIMIT $2 OFFSET $3`, workspaceID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}
