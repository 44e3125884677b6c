package patient

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medicare/medicare/internal/platform/apperr"
	"github.com/medicare/medicare/internal/platform/db"
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

func (r *repoPG) CreateUser(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO users (id, full_name, email, phone, push_topic, notification_channel, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.FullName, nullable(u.Email), nullable(u.Phone), nullable(u.PushTopic),
		u.PreferredChannel(), u.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *repoPG) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	var u User
	var email, phone, topic *string
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, full_name, email, phone, push_topic, notification_channel, created_at
		FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.FullName, &email, &phone, &topic, &u.NotificationChannel, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if email != nil {
		u.Email = *email
	}
	if phone != nil {
		u.Phone = *phone
	}
	if topic != nil {
		u.PushTopic = *topic
	}
	return &u, nil
}

func (r *repoPG) UpdateUser(ctx context.Context, u *User) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE users SET full_name=$2, email=$3, phone=$4, push_topic=$5, notification_channel=$6
		WHERE id = $1`,
		u.ID, u.FullName, nullable(u.Email), nullable(u.Phone), nullable(u.PushTopic), u.PreferredChannel())
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (r *repoPG) CreatePatient(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patients (id, user_id, primary_physician_id, created_at) VALUES ($1, $2, $3, $4)`,
		p.ID, p.UserID, p.PrimaryPhysicianID, p.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return apperr.Validation("user_id", "unknown user")
	}
	if err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

func (r *repoPG) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, user_id, primary_physician_id, created_at FROM patients WHERE id = $1`, id).
		Scan(&p.ID, &p.UserID, &p.PrimaryPhysicianID, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get patient: %w", err)
	}
	return &p, nil
}

func (r *repoPG) UpdatePatient(ctx context.Context, p *Patient) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE patients SET primary_physician_id = $2 WHERE id = $1`, p.ID, p.PrimaryPhysicianID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return apperr.Validation("physician_id", "unknown user")
	}
	if err != nil {
		return fmt.Errorf("update patient: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}
