package recovery

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/orderdesk/orderdesk/internal/models"
	"github.com/orderdesk/orderdesk/pkg/logger"
)

var (
	// ErrCaptchaInvalid reports a failed bot-detection check.
	ErrCaptchaInvalid = errors.New("recovery: captcha validation failed")
	// ErrUserNotFound is returned by RequestQuestion only. VerifyAnswer folds
	// account absence into ErrInvalidAttempt instead.
	ErrUserNotFound = errors.New("recovery: user not found")
	// ErrInvalidAttempt is the one generic failure for a wrong answer, an
	// absent account and a bad, expired or used session. The reasons must not
	// be distinguishable from outside.
	ErrInvalidAttempt = errors.New("recovery: invalid attempt")
)

// LockedOutError is the single deliberately specific failure: it carries the
// remaining wait. It is only reachable by a caller who already learned the
// account exists from a prior successful RequestQuestion.
type LockedOutError struct {
	Wait time.Duration
}

func (e *LockedOutError) Error() string {
	return fmt.Sprintf("recovery: locked out for another %s", e.Wait)
}

// WaitMinutes returns the remaining wait rounded up to whole minutes, never
// below one while the lockout is active.
func (e *LockedOutError) WaitMinutes() int {
	minutes := int(math.Ceil(e.Wait.Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}

// Config carries the tunable policy knobs, passed at construction instead of
// scattering literals.
type Config struct {
	// SessionTTL bounds recovery sessions. Default 10 minutes.
	SessionTTL time.Duration
	// LockoutThreshold is the consecutive-failure count that trips a lockout. Default 5.
	LockoutThreshold int
	// LockoutDuration is how long a tripped lockout lasts. Default 15 minutes.
	LockoutDuration time.Duration
}

func (c Config) withDefaults() Config {
	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if c.LockoutThreshold <= 0 {
		c.LockoutThreshold = DefaultLockoutThreshold
	}
	if c.LockoutDuration <= 0 {
		c.LockoutDuration = DefaultLockoutDuration
	}
	return c
}

// Event describes one recovery operation for the audit trail.
type Event struct {
	UserID    *string
	Email     string
	Action    string
	Result    string
	IPAddress string
	UserAgent string
	Metadata  map[string]any
}

// EventRecorder persists recovery events. Recording is best-effort: a failed
// write never fails the operation that produced it.
type EventRecorder interface {
	RecordRecoveryEvent(ctx context.Context, event Event) error
}

// Audit actions emitted by the orchestrator.
const (
	ActionQuestionRequested = "recovery.question_requested"
	ActionAnswerVerified    = "recovery.answer_verified"
	ActionForgotPassword    = "recovery.forgot_password"
	ActionPasswordReset     = "recovery.password_reset"
)

// Service orchestrates the security-question recovery flow: it composes the
// session store, lockout policy and answer verifier with the external
// captcha validator and identity store without becoming any of them.
type Service struct {
	sessions SessionStore
	identity IdentityStore
	captcha  CaptchaValidator
	verifier AnswerVerifier
	policy   LockoutPolicy
	recorder EventRecorder
	cfg      Config
	now      func() time.Time
	log      *zap.Logger
}

// Option customises the Service.
type Option func(*Service)

// WithClock injects a time source shared by the lockout policy.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithVerifier swaps the answer verifier.
func WithVerifier(v AnswerVerifier) Option {
	return func(s *Service) {
		if v != nil {
			s.verifier = v
		}
	}
}

// WithRecorder attaches an audit recorder.
func WithRecorder(r EventRecorder) Option {
	return func(s *Service) {
		s.recorder = r
	}
}

// NewService constructs the recovery orchestrator.
func NewService(sessions SessionStore, identity IdentityStore, captcha CaptchaValidator, cfg Config, opts ...Option) (*Service, error) {
	if sessions == nil {
		return nil, errors.New("recovery service: session store is required")
	}
	if identity == nil {
		return nil, errors.New("recovery service: identity store is required")
	}
	if captcha == nil {
		return nil, errors.New("recovery service: captcha validator is required")
	}

	svc := &Service{
		sessions: sessions,
		identity: identity,
		captcha:  captcha,
		verifier: BcryptVerifier{},
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		log:      logger.WithModule("recovery"),
	}
	for _, opt := range opts {
		opt(svc)
	}

	svc.policy = NewLockoutPolicy(svc.cfg.LockoutThreshold, svc.cfg.LockoutDuration).WithClock(svc.now)

	return svc, nil
}

// RequestQuestionInput identifies the account whose question is requested.
type RequestQuestionInput struct {
	Email        string
	CaptchaToken string
	IPAddress    string
	UserAgent    string
}

// Question is the successful outcome of RequestQuestion.
type Question struct {
	SecurityQuestion string
	SessionToken     string
}

// RequestQuestion returns the account's security question together with a
// fresh session token bound to the email.
//
// Unlike ForgotPassword, this operation leaks account existence through its
// distinct not-found outcome. The asymmetry is deliberate source behaviour;
// unifying the two is a product decision, not an implementation one.
func (s *Service) RequestQuestion(ctx context.Context, input RequestQuestionInput) (*Question, error) {
	if err := s.checkCaptcha(ctx, input.CaptchaToken); err != nil {
		return nil, err
	}

	user, found, err := s.identity.FindByEmail(ctx, input.Email)
	if err != nil {
		return nil, err
	}
	if !found {
		s.record(ctx, Event{
			Email: input.Email, Action: ActionQuestionRequested, Result: "not_found",
			IPAddress: input.IPAddress, UserAgent: input.UserAgent,
		})
		return nil, ErrUserNotFound
	}

	token, err := s.sessions.Create(ctx, user.Email, s.cfg.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("recovery service: create session: %w", err)
	}

	s.record(ctx, Event{
		UserID: &user.ID, Email: user.Email, Action: ActionQuestionRequested, Result: "success",
		IPAddress: input.IPAddress, UserAgent: input.UserAgent,
	})

	return &Question{SecurityQuestion: user.SecurityQuestion, SessionToken: token}, nil
}

// VerifyAnswerInput carries one verification attempt.
type VerifyAnswerInput struct {
	Email  string
	Answer string
	// SessionToken is optional: it is validated only when supplied, while the
	// lockout check always applies. Whether the token should become mandatory
	// (making the question-retrieval step unskippable) is an open product
	// question; current behaviour keeps it optional.
	SessionToken string
	CaptchaToken string
	IPAddress    string
	UserAgent    string
}

// VerifyResult is the successful outcome of VerifyAnswer.
type VerifyResult struct {
	// ResetToken is opaque: issued by the identity store and forwarded raw,
	// never interpreted or re-encoded here.
	ResetToken string
	Email      string
}

// VerifyAnswer checks a submitted answer against the stored hash, enforcing
// the short-circuit order captcha, lockout, session, answer. The lockout
// check runs before any answer work so a locked account costs nothing and
// reveals nothing new.
func (s *Service) VerifyAnswer(ctx context.Context, input VerifyAnswerInput) (*VerifyResult, error) {
	if err := s.checkCaptcha(ctx, input.CaptchaToken); err != nil {
		return nil, err
	}

	user, found, err := s.identity.FindByEmail(ctx, input.Email)
	if err != nil {
		return nil, err
	}
	if !found {
		// Fold absence into the generic failure.
		s.record(ctx, Event{
			Email: input.Email, Action: ActionAnswerVerified, Result: "invalid",
			IPAddress: input.IPAddress, UserAgent: input.UserAgent,
		})
		return nil, ErrInvalidAttempt
	}

	if s.policy.IsLockedOut(user.SecurityQuestionLockoutEnd) {
		wait := s.policy.RemainingWait(user.SecurityQuestionLockoutEnd)
		s.record(ctx, Event{
			UserID: &user.ID, Email: user.Email, Action: ActionAnswerVerified, Result: "locked_out",
			IPAddress: input.IPAddress, UserAgent: input.UserAgent,
			Metadata: map[string]any{"wait_seconds": int(wait.Seconds())},
		})
		return nil, &LockedOutError{Wait: wait}
	}

	if input.SessionToken != "" {
		ok, err := s.sessions.Validate(ctx, input.SessionToken, user.Email)
		if err != nil {
			return nil, fmt.Errorf("recovery service: validate session: %w", err)
		}
		if !ok {
			s.record(ctx, Event{
				UserID: &user.ID, Email: user.Email, Action: ActionAnswerVerified, Result: "invalid",
				IPAddress: input.IPAddress, UserAgent: input.UserAgent,
			})
			return nil, ErrInvalidAttempt
		}
	}

	if !s.verifier.Verify(user.SecurityAnswerHash, input.Answer) {
		attempts, lockoutEnd := s.policy.OnFailure(user.FailedSecurityQuestionAttempts, user.SecurityQuestionLockoutEnd)
		user.FailedSecurityQuestionAttempts = attempts
		user.SecurityQuestionLockoutEnd = lockoutEnd
		if err := s.identity.Save(ctx, user); err != nil {
			return nil, err
		}

		s.record(ctx, Event{
			UserID: &user.ID, Email: user.Email, Action: ActionAnswerVerified, Result: "invalid",
			IPAddress: input.IPAddress, UserAgent: input.UserAgent,
			Metadata: map[string]any{"locked": lockoutEnd != nil},
		})
		return nil, ErrInvalidAttempt
	}

	user.FailedSecurityQuestionAttempts, user.SecurityQuestionLockoutEnd = s.policy.OnSuccess()
	if err := s.identity.Save(ctx, user); err != nil {
		return nil, err
	}

	if input.SessionToken != "" {
		if err := s.sessions.MarkUsed(ctx, input.SessionToken); err != nil {
			return nil, fmt.Errorf("recovery service: consume session: %w", err)
		}
	}

	resetToken, err := s.identity.GenerateResetToken(ctx, user)
	if err != nil {
		return nil, err
	}

	s.record(ctx, Event{
		UserID: &user.ID, Email: user.Email, Action: ActionAnswerVerified, Result: "success",
		IPAddress: input.IPAddress, UserAgent: input.UserAgent,
	})

	return &VerifyResult{ResetToken: resetToken, Email: user.Email}, nil
}

// ForgotPasswordInput identifies the account asking for an emailed reset link.
type ForgotPasswordInput struct {
	Email        string
	CaptchaToken string
	IPAddress    string
	UserAgent    string
}

// ResetIssue is returned by ForgotPassword when the account exists.
type ResetIssue struct {
	User       *models.User
	ResetToken string
}

// ForgotPassword issues a reset token directly, bypassing sessions and
// lockout. It returns (nil, nil) for unknown accounts so the transport layer
// can acknowledge uniformly regardless of existence; the caller is the one
// who mails the link.
func (s *Service) ForgotPassword(ctx context.Context, input ForgotPasswordInput) (*ResetIssue, error) {
	if err := s.checkCaptcha(ctx, input.CaptchaToken); err != nil {
		return nil, err
	}

	user, found, err := s.identity.FindByEmail(ctx, input.Email)
	if err != nil {
		return nil, err
	}
	if !found {
		s.record(ctx, Event{
			Email: input.Email, Action: ActionForgotPassword, Result: "not_found",
			IPAddress: input.IPAddress, UserAgent: input.UserAgent,
		})
		return nil, nil
	}

	resetToken, err := s.identity.GenerateResetToken(ctx, user)
	if err != nil {
		return nil, err
	}

	s.record(ctx, Event{
		UserID: &user.ID, Email: user.Email, Action: ActionForgotPassword, Result: "success",
		IPAddress: input.IPAddress, UserAgent: input.UserAgent,
	})

	return &ResetIssue{User: user, ResetToken: resetToken}, nil
}

// ResetPasswordInput redeems a reset token.
type ResetPasswordInput struct {
	Email       string
	Token       string
	NewPassword string
	IPAddress   string
	UserAgent   string
}

// ResetPassword delegates token validation and the password update to the
// identity store and passes its verdict through uninterpreted.
func (s *Service) ResetPassword(ctx context.Context, input ResetPasswordInput) error {
	user, found, err := s.identity.FindByEmail(ctx, input.Email)
	if err != nil {
		return err
	}
	if !found {
		// Indistinguishable from a bad token.
		return ErrResetTokenInvalid
	}

	if err := s.identity.ResetPassword(ctx, user, input.Token, input.NewPassword); err != nil {
		return err
	}

	s.record(ctx, Event{
		UserID: &user.ID, Email: user.Email, Action: ActionPasswordReset, Result: "success",
		IPAddress: input.IPAddress, UserAgent: input.UserAgent,
	})
	return nil
}

func (s *Service) checkCaptcha(ctx context.Context, token string) error {
	ok, err := s.captcha.IsValid(ctx, token)
	if err != nil {
		return fmt.Errorf("recovery service: captcha check: %w", err)
	}
	if !ok {
		return ErrCaptchaInvalid
	}
	return nil
}

func (s *Service) record(ctx context.Context, event Event) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordRecoveryEvent(ctx, event); err != nil {
		s.log.Warn("audit record failed",
			zap.String("action", event.Action),
			zap.Error(err),
		)
	}
}
