package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orderdesk/orderdesk/internal/models"
)

// stubCaptcha is a canned captcha verdict.
type stubCaptcha struct {
	ok  bool
	err error
}

func (c stubCaptcha) IsValid(ctx context.Context, token string) (bool, error) {
	return c.ok, c.err
}

// captureRecorder collects audit events for assertions.
type captureRecorder struct {
	events []Event
}

func (r *captureRecorder) RecordRecoveryEvent(ctx context.Context, event Event) error {
	r.events = append(r.events, event)
	return nil
}

func (r *captureRecorder) last(t *testing.T) Event {
	t.Helper()
	require.NotEmpty(t, r.events)
	return r.events[len(r.events)-1]
}

// countingSessionStore counts Create calls on its way through.
type countingSessionStore struct {
	SessionStore
	creates int
}

func (c *countingSessionStore) Create(ctx context.Context, email string, ttl time.Duration) (string, error) {
	c.creates++
	return c.SessionStore.Create(ctx, email, ttl)
}

type serviceFixture struct {
	svc      *Service
	identity *GormIdentityStore
	sessions *MemorySessionStore
	recorder *captureRecorder
	clock    *testClock
	user     *models.User
}

func newServiceFixture(t *testing.T, opts ...Option) *serviceFixture {
	t.Helper()

	clock := newTestClock()
	db := openIdentityTestDB(t)
	identity, err := NewGormIdentityStore(db, WithIdentityClock(clock.Now))
	require.NoError(t, err)

	sessions := NewMemorySessionStore(WithMemoryClock(clock.Now))
	recorder := &captureRecorder{}

	all := append([]Option{
		WithClock(clock.Now),
		WithRecorder(recorder),
	}, opts...)

	svc, err := NewService(sessions, identity, stubCaptcha{ok: true}, Config{}, all...)
	require.NoError(t, err)

	return &serviceFixture{
		svc:      svc,
		identity: identity,
		sessions: sessions,
		recorder: recorder,
		clock:    clock,
		user:     seedUser(t, identity),
	}
}

func (f *serviceFixture) reload(t *testing.T) *models.User {
	t.Helper()
	user, found, err := f.identity.FindByEmail(context.Background(), f.user.Email)
	require.NoError(t, err)
	require.True(t, found)
	return user
}

func TestServiceHappyPath(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	question, err := f.svc.RequestQuestion(ctx, RequestQuestionInput{
		Email:        "dana.keel@example.com",
		CaptchaToken: "human",
	})
	require.NoError(t, err)
	require.Equal(t, "What was your first pet's name?", question.SecurityQuestion)
	require.NotEmpty(t, question.SessionToken)

	result, err := f.svc.VerifyAnswer(ctx, VerifyAnswerInput{
		Email:        "dana.keel@example.com",
		Answer:       "Biscuit",
		SessionToken: question.SessionToken,
		CaptchaToken: "human",
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.ResetToken)

	// The session is consumed by the successful verification.
	ok, err := f.sessions.Validate(ctx, question.SessionToken, "dana.keel@example.com")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, f.svc.ResetPassword(ctx, ResetPasswordInput{
		Email:       "dana.keel@example.com",
		Token:       result.ResetToken,
		NewPassword: "fresh-password-7",
	}))

	require.Equal(t, ActionPasswordReset, f.recorder.last(t).Action)
}

func TestServiceRequestQuestion(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown email is a distinct outcome", func(t *testing.T) {
		f := newServiceFixture(t)

		_, err := f.svc.RequestQuestion(ctx, RequestQuestionInput{Email: "nobody@example.com"})
		require.ErrorIs(t, err, ErrUserNotFound)
		require.Equal(t, "not_found", f.recorder.last(t).Result)
	})

	t.Run("unknown email leaves no session behind", func(t *testing.T) {
		f := newServiceFixture(t)
		spy := &countingSessionStore{SessionStore: f.sessions}
		svc, err := NewService(spy, f.identity, stubCaptcha{ok: true}, Config{}, WithClock(f.clock.Now))
		require.NoError(t, err)

		_, err = svc.RequestQuestion(ctx, RequestQuestionInput{Email: "nobody@example.com"})
		require.ErrorIs(t, err, ErrUserNotFound)
		require.Zero(t, spy.creates)
	})

	t.Run("captcha gate runs first", func(t *testing.T) {
		f := newServiceFixture(t)
		svc, err := NewService(f.sessions, f.identity, stubCaptcha{ok: false}, Config{}, WithClock(f.clock.Now))
		require.NoError(t, err)

		_, err = svc.RequestQuestion(ctx, RequestQuestionInput{Email: "dana.keel@example.com"})
		require.ErrorIs(t, err, ErrCaptchaInvalid)
	})

	t.Run("each request issues a fresh session", func(t *testing.T) {
		f := newServiceFixture(t)

		first, err := f.svc.RequestQuestion(ctx, RequestQuestionInput{Email: "dana.keel@example.com"})
		require.NoError(t, err)
		second, err := f.svc.RequestQuestion(ctx, RequestQuestionInput{Email: "dana.keel@example.com"})
		require.NoError(t, err)
		require.NotEqual(t, first.SessionToken, second.SessionToken)

		// Earlier sessions stay live until used or expired.
		ok, err := f.sessions.Validate(ctx, first.SessionToken, "dana.keel@example.com")
		require.NoError(t, err)
		require.True(t, ok)
	})
}

func TestServiceVerifyAnswerFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("wrong answer is generic and counted", func(t *testing.T) {
		f := newServiceFixture(t)

		_, err := f.svc.VerifyAnswer(ctx, VerifyAnswerInput{
			Email:  "dana.keel@example.com",
			Answer: "biscuit", // case matters
		})
		require.ErrorIs(t, err, ErrInvalidAttempt)
		require.Equal(t, 1, f.reload(t).FailedSecurityQuestionAttempts)
	})

	t.Run("unknown account folds into the same failure", func(t *testing.T) {
		f := newServiceFixture(t)

		_, err := f.svc.VerifyAnswer(ctx, VerifyAnswerInput{
			Email:  "nobody@example.com",
			Answer: "Biscuit",
		})
		require.ErrorIs(t, err, ErrInvalidAttempt)
	})

	t.Run("bad session folds into the same failure", func(t *testing.T) {
		f := newServiceFixture(t)

		_, err := f.svc.VerifyAnswer(ctx, VerifyAnswerInput{
			Email:        "dana.keel@example.com",
			Answer:       "Biscuit",
			SessionToken: "forged-session",
		})
		require.ErrorIs(t, err, ErrInvalidAttempt)

		// A rejected session does not burn an answer attempt.
		require.Zero(t, f.reload(t).FailedSecurityQuestionAttempts)
	})

	t.Run("expired session folds into the same failure", func(t *testing.T) {
		f := newServiceFixture(t)

		question, err := f.svc.RequestQuestion(ctx, RequestQuestionInput{Email: "dana.keel@example.com"})
		require.NoError(t, err)

		f.clock.Advance(DefaultSessionTTL + time.Second)

		_, err = f.svc.VerifyAnswer(ctx, VerifyAnswerInput{
			Email:        "dana.keel@example.com",
			Answer:       "Biscuit",
			SessionToken: question.SessionToken,
		})
		require.ErrorIs(t, err, ErrInvalidAttempt)
	})

	t.Run("used session cannot be replayed", func(t *testing.T) {
		f := newServiceFixture(t)

		question, err := f.svc.RequestQuestion(ctx, RequestQuestionInput{Email: "dana.keel@example.com"})
		require.NoError(t, err)

		_, err = f.svc.VerifyAnswer(ctx, VerifyAnswerInput{
			Email:        "dana.keel@example.com",
			Answer:       "Biscuit",
			SessionToken: question.SessionToken,
		})
		require.NoError(t, err)

		_, err = f.svc.VerifyAnswer(ctx, VerifyAnswerInput{
			Email:        "dana.keel@example.com",
			Answer:       "Biscuit",
			SessionToken: question.SessionToken,
		})
		require.ErrorIs(t, err, ErrInvalidAttempt)
	})

	t.Run("session is optional", func(t *testing.T) {
		f := newServiceFixture(t)

		result, err := f.svc.VerifyAnswer(ctx, VerifyAnswerInput{
			Email:  "dana.keel@example.com",
			Answer: "Biscuit",
		})
		require.NoError(t, err)
		require.NotEmpty(t, result.ResetToken)
	})

	t.Run("captcha error surfaces as error, not generic failure", func(t *testing.T) {
		f := newServiceFixture(t)
		svc, err := NewService(f.sessions, f.identity, stubCaptcha{err: errors.New("upstream down")}, Config{})
		require.NoError(t, err)

		_, err = svc.VerifyAnswer(ctx, VerifyAnswerInput{Email: "dana.keel@example.com", Answer: "Biscuit"})
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrInvalidAttempt)
	})
}

func TestServiceVerifyAnswerConcurrentReplay(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	question, err := f.svc.RequestQuestion(ctx, RequestQuestionInput{Email: "dana.keel@example.com"})
	require.NoError(t, err)

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := f.svc.VerifyAnswer(ctx, VerifyAnswerInput{
				Email:        "dana.keel@example.com",
				Answer:       "Biscuit",
				SessionToken: question.SessionToken,
			})
			results <- err
		}()
	}

	succeeded := 0
	for i := 0; i < 2; i++ {
		if err := <-results; err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, ErrInvalidAttempt)
		}
	}
	require.GreaterOrEqual(t, succeeded, 1)

	// Whichever way the race went, the session is spent afterwards.
	ok, err := f.sessions.Validate(ctx, question.SessionToken, "dana.keel@example.com")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestServiceLockout(t *testing.T) {
	ctx := context.Background()

	t.Run("fifth failure trips a lockout and resets the counter", func(t *testing.T) {
		f := newServiceFixture(t)

		for i := 0; i < DefaultLockoutThreshold; i++ {
			_, err := f.svc.VerifyAnswer(ctx, VerifyAnswerInput{
				Email:  "dana.keel@example.com",
				Answer: "wrong",
			})
			require.ErrorIs(t, err, ErrInvalidAttempt, "failure %d stays generic", i+1)
		}

		user := f.reload(t)
		require.Zero(t, user.FailedSecurityQuestionAttempts, "counter resets when the lockout activates")
		require.NotNil(t, user.SecurityQuestionLockoutEnd)

		// The next attempt, right or wrong, reports the lockout with its wait.
		_, err := f.svc.VerifyAnswer(ctx, VerifyAnswerInput{
			Email:  "dana.keel@example.com",
			Answer: "Biscuit",
		})
		var locked *LockedOutError
		require.ErrorAs(t, err, &locked)
		require.Equal(t, 15, locked.WaitMinutes())
	})

	t.Run("lockout expires by itself", func(t *testing.T) {
		f := newServiceFixture(t)

		for i := 0; i < DefaultLockoutThreshold; i++ {
			_, _ = f.svc.VerifyAnswer(ctx, VerifyAnswerInput{Email: "dana.keel@example.com", Answer: "wrong"})
		}

		f.clock.Advance(DefaultLockoutDuration + time.Second)

		result, err := f.svc.VerifyAnswer(ctx, VerifyAnswerInput{
			Email:  "dana.keel@example.com",
			Answer: "Biscuit",
		})
		require.NoError(t, err)
		require.NotEmpty(t, result.ResetToken)
	})

	t.Run("after expiry a new lockout needs a full run of failures", func(t *testing.T) {
		f := newServiceFixture(t)

		for i := 0; i < DefaultLockoutThreshold; i++ {
			_, _ = f.svc.VerifyAnswer(ctx, VerifyAnswerInput{Email: "dana.keel@example.com", Answer: "wrong"})
		}
		f.clock.Advance(DefaultLockoutDuration + time.Second)

		// Four fresh failures: counted, but no lockout yet.
		for i := 0; i < DefaultLockoutThreshold-1; i++ {
			_, err := f.svc.VerifyAnswer(ctx, VerifyAnswerInput{Email: "dana.keel@example.com", Answer: "wrong"})
			require.ErrorIs(t, err, ErrInvalidAttempt)
		}
		require.Equal(t, DefaultLockoutThreshold-1, f.reload(t).FailedSecurityQuestionAttempts)
	})

	t.Run("success clears the counter", func(t *testing.T) {
		f := newServiceFixture(t)

		for i := 0; i < 3; i++ {
			_, _ = f.svc.VerifyAnswer(ctx, VerifyAnswerInput{Email: "dana.keel@example.com", Answer: "wrong"})
		}
		require.Equal(t, 3, f.reload(t).FailedSecurityQuestionAttempts)

		_, err := f.svc.VerifyAnswer(ctx, VerifyAnswerInput{Email: "dana.keel@example.com", Answer: "Biscuit"})
		require.NoError(t, err)

		user := f.reload(t)
		require.Zero(t, user.FailedSecurityQuestionAttempts)
		require.Nil(t, user.SecurityQuestionLockoutEnd)
	})

	t.Run("lockout check runs before session and answer", func(t *testing.T) {
		f := newServiceFixture(t)

		for i := 0; i < DefaultLockoutThreshold; i++ {
			_, _ = f.svc.VerifyAnswer(ctx, VerifyAnswerInput{Email: "dana.keel@example.com", Answer: "wrong"})
		}

		// Even a forged session reports the lockout, not the generic failure.
		_, err := f.svc.VerifyAnswer(ctx, VerifyAnswerInput{
			Email:        "dana.keel@example.com",
			Answer:       "Biscuit",
			SessionToken: "forged-session",
		})
		var locked *LockedOutError
		require.ErrorAs(t, err, &locked)
	})
}

func TestServiceForgotPassword(t *testing.T) {
	ctx := context.Background()

	t.Run("known account gets a token", func(t *testing.T) {
		f := newServiceFixture(t)

		issue, err := f.svc.ForgotPassword(ctx, ForgotPasswordInput{Email: "dana.keel@example.com"})
		require.NoError(t, err)
		require.NotNil(t, issue)
		require.NotEmpty(t, issue.ResetToken)
		require.Equal(t, "dana.keel@example.com", issue.User.Email)
	})

	t.Run("unknown account is silent", func(t *testing.T) {
		f := newServiceFixture(t)

		issue, err := f.svc.ForgotPassword(ctx, ForgotPasswordInput{Email: "nobody@example.com"})
		require.NoError(t, err, "absence is not an error here")
		require.Nil(t, issue)
		require.Equal(t, "not_found", f.recorder.last(t).Result)
	})

	t.Run("bypasses lockout", func(t *testing.T) {
		f := newServiceFixture(t)

		for i := 0; i < DefaultLockoutThreshold; i++ {
			_, _ = f.svc.VerifyAnswer(ctx, VerifyAnswerInput{Email: "dana.keel@example.com", Answer: "wrong"})
		}

		issue, err := f.svc.ForgotPassword(ctx, ForgotPasswordInput{Email: "dana.keel@example.com"})
		require.NoError(t, err)
		require.NotNil(t, issue)
	})
}

func TestServiceResetPassword(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown email reads as a bad token", func(t *testing.T) {
		f := newServiceFixture(t)

		err := f.svc.ResetPassword(ctx, ResetPasswordInput{
			Email:       "nobody@example.com",
			Token:       "whatever",
			NewPassword: "fresh-password-7",
		})
		require.ErrorIs(t, err, ErrResetTokenInvalid)
	})

	t.Run("token from forgot-password flow", func(t *testing.T) {
		f := newServiceFixture(t)

		issue, err := f.svc.ForgotPassword(ctx, ForgotPasswordInput{Email: "dana.keel@example.com"})
		require.NoError(t, err)

		require.NoError(t, f.svc.ResetPassword(ctx, ResetPasswordInput{
			Email:       "dana.keel@example.com",
			Token:       issue.ResetToken,
			NewPassword: "fresh-password-7",
		}))

		require.ErrorIs(t, f.svc.ResetPassword(ctx, ResetPasswordInput{
			Email:       "dana.keel@example.com",
			Token:       issue.ResetToken,
			NewPassword: "another-password",
		}), ErrResetTokenInvalid)
	})
}

func TestLockedOutErrorWaitMinutes(t *testing.T) {
	tests := []struct {
		wait time.Duration
		want int
	}{
		{wait: 15 * time.Minute, want: 15},
		{wait: 14*time.Minute + time.Second, want: 15},
		{wait: time.Second, want: 1},
		{wait: 0, want: 1},
	}
	for _, tc := range tests {
		err := &LockedOutError{Wait: tc.wait}
		require.Equal(t, tc.want, err.WaitMinutes(), "wait %s", tc.wait)
	}
}
