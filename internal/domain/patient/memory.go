package patient

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/medicare/medicare/internal/platform/apperr"
)

// MemoryRepository is an in-process Repository for tests.
type MemoryRepository struct {
	mu       sync.Mutex
	users    map[uuid.UUID]User
	patients map[uuid.UUID]Patient
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{users: make(map[uuid.UUID]User), patients: make(map[uuid.UUID]Patient)}
}

func (r *MemoryRepository) CreateUser(_ context.Context, u *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	r.users[u.ID] = *u
	return nil
}

func (r *MemoryRepository) GetUser(_ context.Context, id uuid.UUID) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &u, nil
}

func (r *MemoryRepository) UpdateUser(_ context.Context, u *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[u.ID]; !ok {
		return apperr.ErrNotFound
	}
	r.users[u.ID] = *u
	return nil
}

func (r *MemoryRepository) CreatePatient(_ context.Context, p *Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[p.UserID]; !ok {
		return apperr.Validation("user_id", "unknown user")
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	r.patients[p.ID] = *p
	return nil
}

func (r *MemoryRepository) GetPatient(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) UpdatePatient(_ context.Context, p *Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.patients[p.ID]; !ok {
		return apperr.ErrNotFound
	}
	if p.PrimaryPhysicianID != nil {
		if _, ok := r.users[*p.PrimaryPhysicianID]; !ok {
			return apperr.Validation("physician_id", "unknown user")
		}
	}
	r.patients[p.ID] = *p
	return nil
}
