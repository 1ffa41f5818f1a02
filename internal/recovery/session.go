package recovery

import (
	"context"
	"strings"
	"time"
)

// sessionTokenBytes is the entropy of generated session tokens. 32 random
// bytes comfortably clears the 128-bit floor the flow requires.
const sessionTokenBytes = 32

// DefaultSessionTTL bounds how long a recovery session stays redeemable.
const DefaultSessionTTL = 10 * time.Minute

// Session is an ephemeral, single-use record binding one recovery attempt to
// one email address. It is keyed externally by an opaque token and is valid
// iff it is unused and unexpired.
type Session struct {
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Used      bool      `json:"used"`
}

// ValidFor reports whether the session may still vouch for the given email.
// Email comparison is case-insensitive; expiry is lazy, checked here on read
// rather than by any sweeper.
func (s Session) ValidFor(email string, now time.Time) bool {
	if s.Used {
		return false
	}
	if !now.Before(s.ExpiresAt) {
		return false
	}
	return strings.EqualFold(s.Email, email)
}

// SessionStore holds recovery sessions keyed by opaque token. The in-process
// and shared-cache implementations satisfy the same contract; picking one is
// a deployment decision invisible to the orchestrator.
type SessionStore interface {
	// Create persists a fresh unused session and returns its token.
	Create(ctx context.Context, email string, ttl time.Duration) (string, error)

	// Validate reports whether token names a live session bound to email.
	// It has no side effects.
	Validate(ctx context.Context, token, email string) (bool, error)

	// MarkUsed consumes the session. It is a no-op for unknown tokens and
	// idempotent for known ones.
	MarkUsed(ctx context.Context, token string) error

	// Delete removes the session record. Explicit cleanup only; correctness
	// never depends on it.
	Delete(ctx context.Context, token string) error
}
