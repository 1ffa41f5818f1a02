package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/orderdesk/orderdesk/internal/cache"
	"github.com/orderdesk/orderdesk/pkg/crypto"
)

const sessionKeyPrefix = "recovery:session:"

// CacheSessionStore keeps recovery sessions in a shared cache so that any
// instance behind a load balancer can validate a token issued by another.
// The cache entry's own TTL garbage-collects expired sessions.
type CacheSessionStore struct {
	store cache.Store
	now   func() time.Time
}

// CacheOption customises a CacheSessionStore.
type CacheOption func(*CacheSessionStore)

// WithCacheClock injects a time source, primarily for tests.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(s *CacheSessionStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewCacheSessionStore wraps a shared cache store.
func NewCacheSessionStore(store cache.Store, opts ...CacheOption) (*CacheSessionStore, error) {
	if store == nil {
		return nil, errors.New("session store: cache store is required")
	}

	s := &CacheSessionStore{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *CacheSessionStore) Create(ctx context.Context, email string, ttl time.Duration) (string, error) {
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
	session := Session{
		Email:     email,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	payload, err := json.Marshal(session)
	if err != nil {
		return "", fmt.Errorf("session store: encode session: %w", err)
	}

	if err := s.store.Set(ctx, sessionKeyPrefix+token, payload, ttl); err != nil {
		return "", fmt.Errorf("session store: persist session: %w", err)
	}

	return token, nil
}

func (s *CacheSessionStore) Validate(ctx context.Context, token, email string) (bool, error) {
	session, ok, err := s.load(ctx, token)
	if err != nil || !ok {
		return false, err
	}
	return session.ValidFor(email, s.now()), nil
}

// MarkUsed is a get-then-set: two concurrent callers racing on the same
// still-valid token can both observe Used=false before either write lands.
// That consistency gap is inherited from the observed design; closing it
// would need compare-and-swap support the cache contract does not offer.
func (s *CacheSessionStore) MarkUsed(ctx context.Context, token string) error {
	session, ok, err := s.load(ctx, token)
	if err != nil || !ok {
		return err
	}

	session.Used = true

	remaining := session.ExpiresAt.Sub(s.now())
	if remaining <= 0 {
		// Already expired; the entry will age out on its own.
		return nil
	}

	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("session store: encode session: %w", err)
	}

	if err := s.store.Set(ctx, sessionKeyPrefix+token, payload, remaining); err != nil {
		return fmt.Errorf("session store: persist session: %w", err)
	}
	return nil
}

func (s *CacheSessionStore) Delete(ctx context.Context, token string) error {
	return s.store.Delete(ctx, sessionKeyPrefix+token)
}

func (s *CacheSessionStore) load(ctx context.Context, token string) (Session, bool, error) {
	payload, found, err := s.store.Get(ctx, sessionKeyPrefix+token)
	if err != nil {
		return Session{}, false, fmt.Errorf("session store: read session: %w", err)
	}
	if !found {
		return Session{}, false, nil
	}

	var session Session
	if err := json.Unmarshal(payload, &session); err != nil {
		return Session{}, false, fmt.Errorf("session store: decode session: %w", err)
	}
	return session, true, nil
}

var _ SessionStore = (*CacheSessionStore)(nil)
