package notification

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

const notifCols = `id, user_id, patient_id, medication_id, appointment_id, health_record_id,
	title, message, type, priority, channel, action_text, status, is_read,
	scheduled_for, expires_at, sent_at, delivered_at, read_at, failed_at, cancelled_at,
	failure_reason, retry_count, max_retries, next_retry_at, dispatch_started_at, version,
	created_at, updated_at`

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	err := row.Scan(&n.ID, &n.UserID, &n.PatientID, &n.MedicationID, &n.AppointmentID, &n.HealthRecordID,
		&n.Title, &n.Message, &n.Type, &n.Priority, &n.Channel, &n.ActionText, &n.Status, &n.IsRead,
		&n.ScheduledFor, &n.ExpiresAt, &n.SentAt, &n.DeliveredAt, &n.ReadAt, &n.FailedAt, &n.CancelledAt,
		&n.FailureReason, &n.RetryCount, &n.MaxRetries, &n.NextRetryAt, &n.DispatchStartedAt, &n.Version,
		&n.CreatedAt, &n.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	return &n, err
}

func (r *repoPG) Create(ctx context.Context, n *Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.Version == 0 {
		n.Version = 1
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO notifications (`+notifCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,
			$21,$22,$23,$24,$25,$26,$27,$28,$29)`,
		n.ID, n.UserID, n.PatientID, n.MedicationID, n.AppointmentID, n.HealthRecordID,
		n.Title, n.Message, n.Type, n.Priority, n.Channel, n.ActionText, n.Status, n.IsRead,
		n.ScheduledFor, n.ExpiresAt, n.SentAt, n.DeliveredAt, n.ReadAt, n.FailedAt, n.CancelledAt,
		n.FailureReason, n.RetryCount, n.MaxRetries, n.NextRetryAt, n.DispatchStartedAt, n.Version,
		n.CreatedAt, n.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return apperr.Validation(pgErr.ColumnName, "references an unknown entity (%s)", pgErr.ConstraintName)
	}
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Notification, error) {
	return scanNotification(r.conn(ctx).QueryRow(ctx, `SELECT `+notifCols+` FROM notifications WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, n *Notification) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE notifications SET status=$3, is_read=$4, sent_at=$5, delivered_at=$6, read_at=$7,
			failed_at=$8, cancelled_at=$9, failure_reason=$10, retry_count=$11, next_retry_at=$12,
			dispatch_started_at=$13, updated_at=$14, version = version + 1
		WHERE id = $1 AND version = $2`,
		n.ID, n.Version, n.Status, n.IsRead, n.SentAt, n.DeliveredAt, n.ReadAt,
		n.FailedAt, n.CancelledAt, n.FailureReason, n.RetryCount, n.NextRetryAt,
		n.DispatchStartedAt, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrConflict
	}
	n.Version++
	return nil
}

func collect(rows pgx.Rows) ([]*Notification, error) {
	defer rows.Close()
	var out []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *repoPG) ListByUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	where := `user_id = $1`
	if unreadOnly {
		where += ` AND is_read = FALSE`
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE `+where, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+notifCols+` FROM notifications
		WHERE `+where+` ORDER BY created_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	items, err := collect(rows)
	return items, total, err
}

func (r *repoPG) ListDispatchable(ctx context.Context, now, staleBefore time.Time, after uuid.UUID, limit int) ([]*Notification, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+notifCols+` FROM notifications
		WHERE status = 'pending'
			AND (scheduled_for IS NULL OR scheduled_for <= $1)
			AND (dispatch_started_at IS NULL OR dispatch_started_at < $2)
			AND id > $3
		ORDER BY id LIMIT $4`, now, staleBefore, after, limit)
	if err != nil {
		return nil, fmt.Errorf("list dispatchable notifications: %w", err)
	}
	return collect(rows)
}

func (r *repoPG) ListRetryable(ctx context.Context, now time.Time, after uuid.UUID, limit int) ([]*Notification, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+notifCols+` FROM notifications
		WHERE status = 'failed' AND retry_count < max_retries
			AND next_retry_at <= $1
			AND (expires_at IS NULL OR expires_at >= $1)
			AND id > $2
		ORDER BY id LIMIT $3`, now, after, limit)
	if err != nil {
		return nil, fmt.Errorf("list retryable notifications: %w", err)
	}
	return collect(rows)
}

func (r *repoPG) ListExpiredPending(ctx context.Context, now time.Time, after uuid.UUID, limit int) ([]*Notification, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+notifCols+` FROM notifications
		WHERE status = 'pending' AND expires_at < $1 AND id > $2
		ORDER BY id LIMIT $3`, now, after, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired notifications: %w", err)
	}
	return collect(rows)
}

func (r *repoPG) CountByStatus(ctx context.Context, userID *uuid.UUID) (map[Status]int, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT status, COUNT(*) FROM notifications
		WHERE $1::uuid IS NULL OR user_id = $1 GROUP BY status`, userID)
	if err != nil {
		return nil, fmt.Errorf("count notifications by status: %w", err)
	}
	defer rows.Close()
	out := make(map[Status]int)
	for rows.Next() {
		var s Status
		var c int
		if err := rows.Scan(&s, &c); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		out[s] = c
	}
	return out, rows.Err()
}

func (r *repoPG) DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM notifications WHERE status = 'read' AND read_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete read notifications: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *repoPG) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM notifications
		WHERE updated_at < $1 AND (status IN ('read', 'cancelled')
			OR (status = 'failed' AND retry_count >= max_retries))`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete finished notifications: %w", err)
	}
	return tag.RowsAffected(), nil
}
