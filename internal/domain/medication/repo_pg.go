package medication

import (
	"context"
	"errors"
	"fmt"
	"math"
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

const medCols = `id, patient_id, name, frequency, dosage_amount, dosage_unit, route, instructions,
	quantity_prescribed, quantity_remaining, refills_remaining, last_refill_date, next_refill_due,
	status, is_critical, start_date, end_date, missed_doses, last_taken, adherence_score,
	discontinued_at, discontinue_reason, notes, version, created_at, updated_at`

func scanMed(row pgx.Row) (*Medication, error) {
	var m Medication
	err := row.Scan(&m.ID, &m.PatientID, &m.Name, &m.Frequency, &m.DosageAmount, &m.DosageUnit,
		&m.Route, &m.Instructions, &m.QuantityPrescribed, &m.QuantityRemaining, &m.RefillsRemaining,
		&m.LastRefillDate, &m.NextRefillDue, &m.Status, &m.IsCritical, &m.StartDate, &m.EndDate,
		&m.MissedDoses, &m.LastTaken, &m.AdherenceScore, &m.DiscontinuedAt, &m.DiscontinueReason,
		&m.Notes, &m.Version, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	return &m, err
}

func (r *repoPG) Create(ctx context.Context, m *Medication) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Version == 0 {
		m.Version = 1
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO medications (id, patient_id, name, frequency, dosage_amount, dosage_unit, route,
			instructions, quantity_prescribed, quantity_remaining, refills_remaining, last_refill_date,
			next_refill_due, status, is_critical, start_date, end_date, missed_doses, last_taken,
			adherence_score, notes, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)`,
		m.ID, m.PatientID, m.Name, m.Frequency, m.DosageAmount, m.DosageUnit, m.Route,
		m.Instructions, m.QuantityPrescribed, m.QuantityRemaining, m.RefillsRemaining, m.LastRefillDate,
		m.NextRefillDue, m.Status, m.IsCritical, m.StartDate, m.EndDate, m.MissedDoses, m.LastTaken,
		m.AdherenceScore, m.Notes, m.Version, m.CreatedAt, m.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return apperr.Validation("patient_id", "unknown patient %s", m.PatientID)
	}
	if err != nil {
		return fmt.Errorf("insert medication: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Medication, error) {
	return scanMed(r.conn(ctx).QueryRow(ctx, `SELECT `+medCols+` FROM medications WHERE id = $1`, id))
}

// Update writes the mutable columns if the row still carries m.Version and
// bumps the version. A row changed since it was read, or a terminal row being
// moved elsewhere, yields apperr.ErrConflict.
func (r *repoPG) Update(ctx context.Context, m *Medication) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE medications SET quantity_remaining=$3, refills_remaining=$4, last_refill_date=$5,
			next_refill_due=$6, status=$7, missed_doses=$8, last_taken=$9, adherence_score=$10,
			discontinued_at=$11, discontinue_reason=$12, notes=$13, end_date=$14, updated_at=$15,
			version = version + 1
		WHERE id = $1 AND version = $2
			AND (status NOT IN ('discontinued', 'completed') OR status = $7)`,
		m.ID, m.Version, m.QuantityRemaining, m.RefillsRemaining, m.LastRefillDate,
		m.NextRefillDue, m.Status, m.MissedDoses, m.LastTaken, m.AdherenceScore,
		m.DiscontinuedAt, m.DiscontinueReason, m.Notes, m.EndDate, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update medication: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrConflict
	}
	m.Version++
	return nil
}

func collect(rows pgx.Rows) ([]*Medication, error) {
	defer rows.Close()
	var out []*Medication
	for rows.Next() {
		m, err := scanMed(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Medication, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM medications WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count medications: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+medCols+` FROM medications
		WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list medications: %w", err)
	}
	meds, err := collect(rows)
	return meds, total, err
}

func (r *repoPG) ListActive(ctx context.Context, after uuid.UUID, limit int) ([]*Medication, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+medCols+` FROM medications
		WHERE status = 'active' AND id > $1 ORDER BY id LIMIT $2`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("list active medications: %w", err)
	}
	return collect(rows)
}

func (r *repoPG) ListRefillDue(ctx context.Context, now time.Time, after uuid.UUID, limit int) ([]*Medication, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+medCols+` FROM medications
		WHERE status = 'active' AND next_refill_due <= $1 AND id > $2 ORDER BY id LIMIT $3`,
		now, after, limit)
	if err != nil {
		return nil, fmt.Errorf("list refill-due medications: %w", err)
	}
	return collect(rows)
}

func (r *repoPG) AdherenceSummary(ctx context.Context, patientID uuid.UUID, now time.Time) (*AdherenceSummary, error) {
	s := &AdherenceSummary{PatientID: patientID}
	var avg *float64
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(missed_doses), 0),
			AVG(adherence_score)::float8,
			COUNT(*) FILTER (WHERE next_refill_due <= $2)
		FROM medications WHERE patient_id = $1 AND status = 'active'`,
		patientID, now).Scan(&s.ActiveMedications, &s.TotalMissedDoses, &avg, &s.RefillsDue)
	if err != nil {
		return nil, fmt.Errorf("adherence summary: %w", err)
	}
	if avg != nil {
		v := math.Round(*avg*100) / 100
		s.AverageAdherence = &v
	}
	return s, nil
}
