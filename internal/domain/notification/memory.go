package notification

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medicare/medicare/internal/platform/apperr"
)

// MemoryRepository is an in-process Repository for tests. Update enforces the
// same version guard as the Postgres implementation.
type MemoryRepository struct {
	mu    sync.Mutex
	items map[uuid.UUID]Notification
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: make(map[uuid.UUID]Notification)}
}

func (m *MemoryRepository) Create(_ context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.Version == 0 {
		n.Version = 1
	}
	m.items[n.ID] = *n
	return nil
}

func (m *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.items[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &n, nil
}

func (m *MemoryRepository) Update(_ context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.items[n.ID]
	if !ok || cur.Version != n.Version {
		return apperr.ErrConflict
	}
	n.Version++
	m.items[n.ID] = *n
	return nil
}

// All returns every stored notification ordered by creation time.
func (m *MemoryRepository) All() []*Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Notification, 0, len(m.items))
	for _, n := range m.items {
		cp := n
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *MemoryRepository) filter(match func(*Notification) bool, after uuid.UUID, limit int) []*Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Notification
	for _, n := range m.items {
		cp := n
		if after != uuid.Nil && cp.ID.String() <= after.String() {
			continue
		}
		if match(&cp) {
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *MemoryRepository) ListByUser(_ context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	all := m.filter(func(n *Notification) bool {
		return n.UserID == userID && (!unreadOnly || !n.IsRead)
	}, uuid.Nil, 0)
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
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

func (m *MemoryRepository) ListDispatchable(_ context.Context, now, staleBefore time.Time, after uuid.UUID, limit int) ([]*Notification, error) {
	return m.filter(func(n *Notification) bool {
		return n.Status == StatusPending && n.IsDue(now) &&
			(n.DispatchStartedAt == nil || n.DispatchStartedAt.Before(staleBefore))
	}, after, limit), nil
}

func (m *MemoryRepository) ListRetryable(_ context.Context, now time.Time, after uuid.UUID, limit int) ([]*Notification, error) {
	return m.filter(func(n *Notification) bool { return n.RetryDue(now) }, after, limit), nil
}

func (m *MemoryRepository) ListExpiredPending(_ context.Context, now time.Time, after uuid.UUID, limit int) ([]*Notification, error) {
	return m.filter(func(n *Notification) bool {
		return n.Status == StatusPending && n.IsExpired(now)
	}, after, limit), nil
}

func (m *MemoryRepository) CountByStatus(_ context.Context, userID *uuid.UUID) (map[Status]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[Status]int)
	for _, n := range m.items {
		if userID == nil || n.UserID == *userID {
			out[n.Status]++
		}
	}
	return out, nil
}

func (m *MemoryRepository) deleteWhere(match func(Notification) bool) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, item := range m.items {
		if match(item) {
			delete(m.items, id)
			n++
		}
	}
	return n
}

func (m *MemoryRepository) DeleteReadBefore(_ context.Context, cutoff time.Time) (int64, error) {
	return m.deleteWhere(func(n Notification) bool {
		return n.Status == StatusRead && n.ReadAt != nil && n.ReadAt.Before(cutoff)
	}), nil
}

func (m *MemoryRepository) DeleteFinishedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	return m.deleteWhere(func(n Notification) bool {
		if !n.UpdatedAt.Before(cutoff) {
			return false
		}
		return n.Status == StatusRead || n.Status == StatusCancelled ||
			(n.Status == StatusFailed && !n.RetriesRemaining())
	}), nil
}
