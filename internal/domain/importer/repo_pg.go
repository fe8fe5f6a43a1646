package importer

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/medhistory/internal/platform/db"
)

type queryable interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type receiptsPG struct{ pool *pgxpool.Pool }

func NewReceiptRepoPG(pool *pgxpool.Pool) ReceiptRepository {
	return &receiptsPG{pool: pool}
}

func (r *receiptsPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *receiptsPG) Find(ctx context.Context, workspaceID uuid.UUID, source, referenceID string) (*Receipt, error) {
	var rc Receipt
	var refType *string
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, workspace_id, source, source_reference_id, source_reference_type, record_ids, imported_by, created_at
		FROM import_receipts WHERE workspace_id = $1 AND source = $2 AND source_reference_id = $3`,
		workspaceID, source, referenceID,
	).Scan(&rc.ID, &rc.WorkspaceID, &rc.Source, &rc.SourceReferenceID, &refType, &rc.RecordIDs, &rc.ImportedBy, &rc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errReceiptNotFound
		}
		return nil, err
	}
	if refType != nil {
		rc.SourceReferenceType = *refType
	}
	return &rc, nil
}

func (r *receiptsPG) Create(ctx context.Context, rc *Receipt) error {
	if rc.ID == uuid.Nil {
		rc.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO import_receipts (id, workspace_id, source, source_reference_id, source_reference_type, record_ids, imported_by)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
		RETURNING created_at`,
		rc.ID, rc.WorkspaceID, rc.Source, rc.SourceReferenceID, rc.SourceReferenceType, rc.RecordIDs, rc.ImportedBy,
	).Scan(&rc.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateImport
	}
	return err
}
