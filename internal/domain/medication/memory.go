package medication

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medicare/medicare/internal/platform/apperr"
)

// MemoryRepository is an in-process Repository used by tests of this package
// and of the orchestrator. Stored values are copied on the way in and out.
type MemoryRepository struct {
	mu   sync.Mutex
	meds map[uuid.UUID]*Medication
	// FailUpdate, when set, makes Update return the error for that id.
	FailUpdate map[uuid.UUID]error
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{meds: make(map[uuid.UUID]*Medication), FailUpdate: make(map[uuid.UUID]error)}
}

func (r *MemoryRepository) Create(_ context.Context, m *Medication) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Version == 0 {
		m.Version = 1
	}
	cp := *m
	r.meds[m.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Medication, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.meds[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *MemoryRepository) Update(_ context.Context, m *Medication) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.FailUpdate[m.ID]; err != nil {
		return err
	}
	cur, ok := r.meds[m.ID]
	if !ok {
		return apperr.ErrNotFound
	}
	if cur.Version != m.Version || (cur.Status.Terminal() && cur.Status != m.Status) {
		return apperr.ErrConflict
	}
	m.Version++
	cp := *m
	r.meds[m.ID] = &cp
	return nil
}

func (r *MemoryRepository) sorted(filter func(*Medication) bool) []*Medication {
	var out []*Medication
	for _, m := range r.meds {
		if filter(m) {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

func page(meds []*Medication, after uuid.UUID, limit int) []*Medication {
	var out []*Medication
	for _, m := range meds {
		if after != uuid.Nil && m.ID.String() <= after.String() {
			continue
		}
		out = append(out, m)
		if len(out) == limit {
			break
		}
	}
	return out
}

func (r *MemoryRepository) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Medication, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.sorted(func(m *Medication) bool { return m.PatientID == patientID })
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

func (r *MemoryRepository) ListActive(_ context.Context, after uuid.UUID, limit int) ([]*Medication, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return page(r.sorted(func(m *Medication) bool { return m.IsActive() }), after, limit), nil
}

func (r *MemoryRepository) ListRefillDue(_ context.Context, now time.Time, after uuid.UUID, limit int) ([]*Medication, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return page(r.sorted(func(m *Medication) bool { return m.IsActive() && m.NeedsRefill(now) }), after, limit), nil
}

func (r *MemoryRepository) AdherenceSummary(_ context.Context, patientID uuid.UUID, now time.Time) (*AdherenceSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &AdherenceSummary{PatientID: patientID}
	var sum float64
	var scored int
	for _, m := range r.meds {
		if m.PatientID != patientID || !m.IsActive() {
			continue
		}
		s.ActiveMedications++
		s.TotalMissedDoses += m.MissedDoses
		if m.NeedsRefill(now) {
			s.RefillsDue++
		}
		if m.AdherenceScore != nil {
			sum += *m.AdherenceScore
			scored++
		}
	}
	if scored > 0 {
		avg := math.Round(sum/float64(scored)*100) / 100
		s.AverageAdherence = &avg
	}
	return s, nil
}
