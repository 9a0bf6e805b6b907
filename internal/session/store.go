package session

import (
	"context"
	"sync"
	"time"

	"TubeDigest/internal/domain"
)

// Store persists per-user sessions and the single-flight busy guard. A nil
// session from Get means the user has no state yet.
type Store interface {
	Get(ctx context.Context, userID string) (*domain.UserSession, error)
	Put(ctx context.Context, s *domain.UserSession) error
	// TryAcquire claims the user's in-flight slot; false means a request
	// is already running for them.
	TryAcquire(ctx context.Context, userID string) (bool, error)
	Release(ctx context.Context, userID string) error
	Snapshot(ctx context.Context) ([]domain.UserSession, error)
}

// InMemoryStore keeps sessions in a map. Suitable for a single-process bot;
// the Redis store replaces it when an address is configured.
type InMemoryStore struct {
	idleTTL time.Duration

	mu       sync.Mutex
	sessions map[string]*domain.UserSession
	inFlight map[string]bool
}

// NewInMemoryStore builds the map-backed store. idleTTL <= 0 keeps sessions
// for the process lifetime.
func NewInMemoryStore(idleTTL time.Duration) *InMemoryStore {
	return &InMemoryStore{
		idleTTL:  idleTTL,
		sessions: map[string]*domain.UserSession{},
		inFlight: map[string]bool{},
	}
}

func (s *InMemoryStore) Get(_ context.Context, userID string) (*domain.UserSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[userID]
	if !ok {
		return nil, nil
	}
	if s.idleTTL > 0 && time.Since(sess.LastActivity) > s.idleTTL {
		delete(s.sessions, userID)
		return nil, nil
	}
	copied := *sess
	copied.ChatHistory = append([]domain.ChatTurn(nil), sess.ChatHistory...)
	return &copied, nil
}

func (s *InMemoryStore) Put(_ context.Context, sess *domain.UserSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *sess
	copied.ChatHistory = append([]domain.ChatTurn(nil), sess.ChatHistory...)
	s.sessions[sess.UserID] = &copied
	return nil
}

func (s *InMemoryStore) TryAcquire(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[userID] {
		return false, nil
	}
	s.inFlight[userID] = true
	return true, nil
}

func (s *InMemoryStore) Release(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, userID)
	return nil
}

func (s *InMemoryStore) Snapshot(_ context.Context) ([]domain.UserSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	return out, nil
}
