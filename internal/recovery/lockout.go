package recovery

import "time"

const (
	// DefaultLockoutThreshold is the consecutive-failure count that trips a lockout.
	DefaultLockoutThreshold = 5
	// DefaultLockoutDuration is how long a tripped lockout lasts.
	DefaultLockoutDuration = 15 * time.Minute
)

// LockoutPolicy is pure decision logic over a user's failed-attempt counter
// and lockout-expiry timestamp. It never touches storage.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration

	now func() time.Time
}

// NewLockoutPolicy builds a policy, applying defaults for non-positive values.
func NewLockoutPolicy(threshold int, duration time.Duration) LockoutPolicy {
	if threshold <= 0 {
		threshold = DefaultLockoutThreshold
	}
	if duration <= 0 {
		duration = DefaultLockoutDuration
	}
	return LockoutPolicy{Threshold: threshold, Duration: duration, now: time.Now}
}

// WithClock returns a copy of the policy using the supplied time source.
func (p LockoutPolicy) WithClock(now func() time.Time) LockoutPolicy {
	if now != nil {
		p.now = now
	}
	return p
}

// OnFailure returns the state after one more failed attempt. When the counter
// reaches the threshold the lockout activates and the counter resets to zero,
// so the next cycle after the lockout expires again needs a full run of fresh
// failures. That reset-at-activation behaviour is load-bearing; keep it.
func (p LockoutPolicy) OnFailure(attempts int, lockoutEnd *time.Time) (int, *time.Time) {
	attempts++
	if attempts >= p.Threshold {
		end := p.timeNow().Add(p.Duration)
		return 0, &end
	}
	return attempts, lockoutEnd
}

// OnSuccess returns the cleared state: both fields reset unconditionally.
func (p LockoutPolicy) OnSuccess() (int, *time.Time) {
	return 0, nil
}

// IsLockedOut reports whether the lockout end is set and still in the future.
func (p LockoutPolicy) IsLockedOut(lockoutEnd *time.Time) bool {
	return lockoutEnd != nil && lockoutEnd.After(p.timeNow())
}

// RemainingWait returns how long until the lockout lifts, or zero when it is
// not active.
func (p LockoutPolicy) RemainingWait(lockoutEnd *time.Time) time.Duration {
	if !p.IsLockedOut(lockoutEnd) {
		return 0
	}
	return lockoutEnd.Sub(p.timeNow())
}

func (p LockoutPolicy) timeNow() time.Time {
	if p.now == nil {
		return time.Now()
	}
	return p.now()
}
