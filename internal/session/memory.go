package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process memory behind a single mutex. It is
// only consistent within one server process.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
	now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Session),
		now:      time.Now,
	}
}

// CreateIfAbsent implements Store.
func (s *MemoryStore) CreateIfAbsent(_ context.Context, sess Session) (Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[sess.Room]; ok {
		return existing, false, nil
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = s.now()
	}
	s.sessions[sess.Room] = sess
	return sess, true, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, room string) (Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[room]
	return sess, ok, nil
}

// Delete implements Store. Deleting a missing room is not an error.
func (s *MemoryStore) Delete(_ context.Context, room string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, room)
	return nil
}

// List implements Store. Sessions are ordered by room name.
func (s *MemoryStore) List(_ context.Context) ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Room < out[j].Room })
	return out, nil
}
