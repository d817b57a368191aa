package notify

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStorage is an in-memory Storage for tests and single-node
// development.
type MemoryStorage struct {
	mu   sync.RWMutex
	rows map[uuid.UUID][]Notification // keyed by user id
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{rows: make(map[uuid.UUID][]Notification)}
}

func (s *MemoryStorage) Create(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[n.UserID] = append(s.rows[n.UserID], n)
	return nil
}

func (s *MemoryStorage) List(_ context.Context, userID uuid.UUID, opts ListOptions) ([]Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.rows[userID]
	out := make([]Notification, 0, len(all))
	for _, n := range all {
		if opts.OnlyUnread && n.Read {
			continue
		}
		out = append(out, n)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *MemoryStorage) MarkRead(_ context.Context, userID uuid.UUID, ids ...uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	rows := s.rows[userID]
	for i := range rows {
		if _, ok := want[rows[i].ID]; ok && !rows[i].Read {
			rows[i].MarkAsRead()
		}
	}
	return nil
}

func (s *MemoryStorage) CountUnread(_ context.Context, userID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, n := range s.rows[userID] {
		if !n.Read {
			count++
		}
	}
	return count, nil
}
