package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

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

const recordCols = `id, workspace_id, patient_id, category, source, title, description,
	category_data, status, start_date, end_date, recorded_date, severity,
	is_chronic, requires_monitoring, is_critical, source_reference_id, source_reference_type,
	verified_by_doctor, verified_at, trending_direction, last_value, parameter_code,
	doctor_notes, tags, added_by, created_at, updated_at`

var sortColumns = map[string]string{
	"recorded_date": "recorded_date",
	"start_date":    "start_date",
	"title":         "lower(title)",
	"created_at":    "created_at",
}

func scanRecord(row pgx.Row) (*HistoryRecord, error) {
	var h HistoryRecord
	var data []byte
	err := row.Scan(&h.ID, &h.WorkspaceID, &h.PatientID, &h.Category, &h.Source, &h.Title, &h.Description,
		&data, &h.Status, &h.StartDate, &h.EndDate, &h.RecordedDate, &h.Severity,
		&h.IsChronic, &h.RequiresMonitoring, &h.IsCritical, &h.SourceReferenceID, &h.SourceReferenceType,
		&h.VerifiedByDoctor, &h.VerifiedAt, &h.TrendingDirection, &h.LastValue, &h.ParameterCode,
		&h.DoctorNotes, &h.Tags, &h.AddedBy, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &h.CategoryData); err != nil {
			return nil, fmt.Errorf("decode category_data: %w", err)
		}
	}
	return &h, nil
}

func collect(rows pgx.Rows) ([]*HistoryRecord, error) {
	defer rows.Close()
	var items []*HistoryRecord
	for rows.Next() {
		h, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, h)
	}
	return items, rows.Err()
}

func encodeData(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func tagsOf(h *HistoryRecord) []string {
	if h.Tags == nil {
		return []string{}
	}
	return h.Tags
}

func (r *repoPG) Create(ctx context.Context, h *HistoryRecord) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	data, err := encodeData(h.CategoryData)
	if err != nil {
		return err
	}
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO history_records (id, workspace_id, patient_id, category, source, title, description,
			category_data, status, start_date, end_date, severity,
			is_chronic, requires_monitoring, is_critical, source_reference_id, source_reference_type,
			verified_by_doctor, verified_at, parameter_code, doctor_notes, tags, added_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
		RETURNING recorded_date, created_at, updated_at`,
		h.ID, h.WorkspaceID, h.PatientID, h.Category, h.Source, h.Title, h.Description,
		data, h.Status, h.StartDate, h.EndDate, h.Severity,
		h.IsChronic, h.RequiresMonitoring, h.IsCritical, h.SourceReferenceID, h.SourceReferenceType,
		h.VerifiedByDoctor, h.VerifiedAt, h.ParameterCode, h.DoctorNotes, tagsOf(h), h.AddedBy,
	).Scan(&h.RecordedDate, &h.CreatedAt, &h.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "uq_history_records_import" {
		return fmt.Errorf("%w: %s", ErrDuplicateRecord, h.Title)
	}
	return err
}

func (r *repoPG) Get(ctx context.Context, id uuid.UUID) (*HistoryRecord, error) {
	return scanRecord(r.conn(ctx).QueryRow(ctx, `SELECT `+recordCols+` FROM history_records WHERE id = $1`, id))
}

// Update never touches recorded_date or created_at.
func (r *repoPG) Update(ctx context.Context, h *HistoryRecord) error {
	data, err := encodeData(h.CategoryData)
	if err != nil {
		return err
	}
	err = r.conn(ctx).QueryRow(ctx, `
		UPDATE history_records SET category=$2, source=$3, title=$4, description=$5, category_data=$6,
			status=$7, start_date=$8, end_date=$9, severity=$10, is_chronic=$11,
			requires_monitoring=$12, is_critical=$13, verified_by_doctor=$14, verified_at=$15,
			parameter_code=$16, doctor_notes=$17, tags=$18, added_by=$19, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		h.ID, h.Category, h.Source, h.Title, h.Description, data,
		h.Status, h.StartDate, h.EndDate, h.Severity, h.IsChronic,
		h.RequiresMonitoring, h.IsCritical, h.VerifiedByDoctor, h.VerifiedAt,
		h.ParameterCode, h.DoctorNotes, tagsOf(h), h.AddedBy).Scan(&h.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM history_records WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, workspaceID uuid.UUID, f Filter) ([]*HistoryRecord, int, error) {
	where := []string{"workspace_id = $1"}
	args := []interface{}{workspaceID}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.Category != "" {
		add("category = $%d", f.Category)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Source != "" {
		add("source = $%d", f.Source)
	}
	if f.Critical != nil {
		add("is_critical = $%d", *f.Critical)
	}
	if f.Monitoring != nil {
		add("requires_monitoring = $%d", *f.Monitoring)
	}
	if f.Verified != nil {
		add("verified_by_doctor = $%d", *f.Verified)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		args = append(args, containsPattern(s))
		where = append(where, fmt.Sprintf(`(title ILIKE $%d ESCAPE '\' OR description ILIKE $%d ESCAPE '\')`, len(args), len(args)))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM history_records WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	order := "recorded_date DESC"
	if col, ok := sortColumns[f.Sort]; ok {
		order = col + " ASC"
		if f.Desc {
			order = col + " DESC"
		}
	}
	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf(`SELECT %s FROM history_records WHERE %s ORDER BY %s NULLS LAST, id LIMIT $%d OFFSET $%d`,
		recordCols, clause, order, len(args)-1, len(args))
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := collect(rows)
	return items, total, err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern turns free text into an ILIKE substring pattern that
// matches wildcard characters literally.
func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}

func (r *repoPG) ListAll(ctx context.Context, workspaceID uuid.UUID) ([]*HistoryRecord, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+recordCols+` FROM history_records WHERE workspace_id = $1 ORDER BY recorded_date DESC, id`, workspaceID)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *repoPG) ListByParameter(ctx context.Context, workspaceID uuid.UUID, code string) ([]*HistoryRecord, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+recordCols+` FROM history_records
		WHERE workspace_id = $1 AND category = 'lab_result' AND parameter_code = $2
		ORDER BY COALESCE(start_date, recorded_date::date), recorded_date`, workspaceID, code)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *repoPG) SetTrend(ctx context.Context, workspaceID uuid.UUID, code string, direction, lastValue *string) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE history_records SET trending_direction = $3, last_value = $4
		WHERE workspace_id = $1 AND category = 'lab_result' AND parameter_code = $2`,
		workspaceID, code, direction, lastValue)
	return err
}
