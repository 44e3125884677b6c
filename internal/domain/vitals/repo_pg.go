package vitals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medicare/medicare/internal/platform/apperr"
	"github.com/medicare/medicare/internal/platform/db"
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

const recordCols = `id, patient_id, recorded_at, systolic_bp, diastolic_bp, heart_rate, temperature,
	respiratory_rate, oxygen_saturation, blood_sugar, record_type, notes, anomaly_processed, created_at`

func scanRecord(row pgx.Row) (*HealthRecord, error) {
	var h HealthRecord
	err := row.Scan(&h.ID, &h.PatientID, &h.RecordedAt, &h.SystolicBP, &h.DiastolicBP, &h.HeartRate,
		&h.Temperature, &h.RespiratoryRate, &h.OxygenSaturation, &h.BloodSugar, &h.RecordType,
		&h.Notes, &h.AnomalyProcessed, &h.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	return &h, err
}

func collect(rows pgx.Rows) ([]*HealthRecord, error) {
	defer rows.Close()
	var out []*HealthRecord
	for rows.Next() {
		h, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *repoPG) Create(ctx context.Context, h *HealthRecord) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO health_records (id, patient_id, recorded_at, systolic_bp, diastolic_bp, heart_rate,
			temperature, respiratory_rate, oxygen_saturation, blood_sugar, record_type, notes,
			anomaly_processed, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		h.ID, h.PatientID, h.RecordedAt, h.SystolicBP, h.DiastolicBP, h.HeartRate,
		h.Temperature, h.RespiratoryRate, h.OxygenSaturation, h.BloodSugar, h.RecordType, h.Notes,
		h.AnomalyProcessed, h.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return apperr.Validation("patient_id", "unknown patient %s", h.PatientID)
	}
	if err != nil {
		return fmt.Errorf("insert health record: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*HealthRecord, error) {
	return scanRecord(r.conn(ctx).QueryRow(ctx, `SELECT `+recordCols+` FROM health_records WHERE id = $1`, id))
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*HealthRecord, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM health_records WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count health records: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+recordCols+` FROM health_records
		WHERE patient_id = $1 ORDER BY recorded_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list health records: %w", err)
	}
	items, err := collect(rows)
	return items, total, err
}

func (r *repoPG) ListUnprocessedSince(ctx context.Context, since time.Time, after uuid.UUID, limit int) ([]*HealthRecord, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+recordCols+` FROM health_records
		WHERE anomaly_processed = FALSE AND recorded_at >= $1 AND id > $2 ORDER BY id LIMIT $3`,
		since, after, limit)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed health records: %w", err)
	}
	return collect(rows)
}

func (r *repoPG) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE health_records SET anomaly_processed = TRUE WHERE id = $1 AND anomaly_processed = FALSE`, id)
	if err != nil {
		return fmt.Errorf("mark health record processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrConflict
	}
	return nil
}
