package store

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"sidechat/internal/domain/session"
)

// MemoryStore is a mutex-based in-memory session store.
// Thread-safe via sync.RWMutex.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
	log      zerolog.Logger
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore(log zerolog.Logger) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*session.Session),
		log:      log.With().Str("component", "session-store").Logger(),
	}
}

// Get retrieves a session by ID.
func (s *MemoryStore) Get(ctx context.Context, id string) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess.Clone(), nil
}

// Save stores a session, replacing any existing record for its ID.
func (s *MemoryStore) Save(ctx context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sess.SessionID] = sess.Clone()
	return nil
}

// Delete removes a session by ID.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	return nil
}

// List returns all sessions ordered by ID.
func (s *MemoryStore) List(ctx context.Context) ([]*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		result = append(result, sess.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].SessionID < result[j].SessionID
	})
	return result, nil
}
