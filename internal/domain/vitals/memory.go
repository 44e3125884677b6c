package vitals

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medicare/medicare/internal/platform/apperr"
)

// MemoryRepository is an in-process Repository for tests.
type MemoryRepository struct {
	mu      sync.Mutex
	records map[uuid.UUID]HealthRecord
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[uuid.UUID]HealthRecord)}
}

func (m *MemoryRepository) Create(_ context.Context, r *HealthRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	m.records[r.ID] = *r
	return nil
}

func (m *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*HealthRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &r, nil
}

func (m *MemoryRepository) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*HealthRecord, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*HealthRecord
	for _, r := range m.records {
		if r.PatientID == patientID {
			cp := r
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].RecordedAt.After(all[j].RecordedAt) })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *MemoryRepository) ListUnprocessedSince(_ context.Context, since time.Time, after uuid.UUID, limit int) ([]*HealthRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*HealthRecord
	for _, r := range m.records {
		if r.AnomalyProcessed || r.RecordedAt.Before(since) {
			continue
		}
		if after != uuid.Nil && r.ID.String() <= after.String() {
			continue
		}
		cp := r
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID.String() < all[j].ID.String() })
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *MemoryRepository) MarkProcessed(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return apperr.ErrNotFound
	}
	if r.AnomalyProcessed {
		return apperr.ErrConflict
	}
	r.AnomalyProcessed = true
	m.records[id] = r
	return nil
}
