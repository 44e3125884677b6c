package vitals

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, r *HealthRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*HealthRecord, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*HealthRecord, int, error)
	// ListUnprocessedSince pages through records recorded at or after since
	// that have not been through alert evaluation, ordered by id.
	ListUnprocessedSince(ctx context.Context, since time.Time, after uuid.UUID, limit int) ([]*HealthRecord, error)
	// MarkProcessed flips anomaly_processed once. It returns apperr.ErrConflict
	// when the record was already processed.
	MarkProcessed(ctx context.Context, id uuid.UUID) error
}
