package recovery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/orderdesk/orderdesk/pkg/crypto"
)

// MemorySessionStore keeps recovery sessions in a process-local map. Expired
// entries linger until overwritten or deleted; they are harmless because
// validity is checked on read.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
	now      func() time.Time
}

// MemoryOption customises a MemorySessionStore.
type MemoryOption func(*MemorySessionStore)

// WithMemoryClock injects a time source, primarily for tests.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemorySessionStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemorySessionStore constructs an empty in-process store.
func NewMemorySessionStore(opts ...MemoryOption) *MemorySessionStore {
	store := &MemorySessionStore{
		sessions: make(map[string]Session),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *MemorySessionStore) Create(_ context.Context, email string, ttl time.Duration) (string, error) {
	if email == "" {
		return "", errors.New("session store: email is required")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	token, err := crypto.GenerateToken(sessionTokenBytes)
	if err != nil {
		return "", err
	}

	now := s.now()

	s.mu.Lock()
	s.sessions[token] = Session{
		Email:     email,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	s.mu.Unlock()

	return token, nil
}

func (s *MemorySessionStore) Validate(_ context.Context, token, email string) (bool, error) {
	s.mu.RLock()
	session, ok := s.sessions[token]
	s.mu.RUnlock()

	if !ok {
		return false, nil
	}
	return session.ValidFor(email, s.now()), nil
}

func (s *MemorySessionStore) MarkUsed(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[token]
	if !ok {
		return nil
	}
	session.Used = true
	s.sessions[token] = session
	return nil
}

func (s *MemorySessionStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
	return nil
}

var _ SessionStore = (*MemorySessionStore)(nil)
