package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, n *Notification) error
	GetByID(ctx context.Context, id uuid.UUID) (*Notification, error)
	// Update persists n only if the stored version still equals n.Version,
	// then increments n.Version. A lost race returns apperr.ErrConflict.
	Update(ctx context.Context, n *Notification) error
	ListByUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error)
	// ListDispatchable pages through pending notifications that are due at now
	// and carry no dispatch intent newer than staleBefore, ordered by id.
	ListDispatchable(ctx context.Context, now, staleBefore time.Time, after uuid.UUID, limit int) ([]*Notification, error)
	// ListRetryable pages through failed notifications whose backoff elapsed.
	ListRetryable(ctx context.Context, now time.Time, after uuid.UUID, limit int) ([]*Notification, error)
	ListExpiredPending(ctx context.Context, now time.Time, after uuid.UUID, limit int) ([]*Notification, error)
	CountByStatus(ctx context.Context, userID *uuid.UUID) (map[Status]int, error)
	DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// DeleteFinishedBefore removes rows that can never change again: read,
	// cancelled and failed with no retries left.
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
