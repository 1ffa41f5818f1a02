package recovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/orderdesk/orderdesk/internal/models"
	"github.com/orderdesk/orderdesk/pkg/crypto"
)

var (
	// ErrResetTokenInvalid covers unknown, expired and already-spent reset
	// tokens: the caller must not be able to tell which one it hit.
	ErrResetTokenInvalid = errors.New("identity: reset token invalid")
	// ErrEmailTaken indicates a duplicate registration email.
	ErrEmailTaken = errors.New("identity: email already registered")
)

// IdentityStore is the narrow contract the orchestrator needs from the
// identity/credential store. Absence is an explicit return value, not an
// error: the orchestrator's branching stays visible in its own logic.
type IdentityStore interface {
	FindByEmail(ctx context.Context, email string) (*models.User, bool, error)
	GenerateResetToken(ctx context.Context, user *models.User) (string, error)
	ResetPassword(ctx context.Context, user *models.User, token, newPassword string) error
	Save(ctx context.Context, user *models.User) error
}

const (
	defaultResetTokenExpiry = time.Hour
	resetTokenBytes         = 48
)

// GormIdentityStore implements IdentityStore over the portal's user table.
type GormIdentityStore struct {
	db    *gorm.DB
	now   func() time.Time
	ttl   time.Duration
	bytes int
}

// IdentityOption customises the GormIdentityStore.
type IdentityOption func(*GormIdentityStore)

// WithIdentityClock injects a time source.
func WithIdentityClock(now func() time.Time) IdentityOption {
	return func(s *GormIdentityStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithResetTokenExpiry overrides the reset token lifetime.
func WithResetTokenExpiry(d time.Duration) IdentityOption {
	return func(s *GormIdentityStore) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// NewGormIdentityStore constructs an identity store over the given database.
func NewGormIdentityStore(db *gorm.DB, opts ...IdentityOption) (*GormIdentityStore, error) {
	if db == nil {
		return nil, errors.New("identity store: db is required")
	}

	store := &GormIdentityStore{
		db:    db,
		now:   time.Now,
		ttl:   defaultResetTokenExpiry,
		bytes: resetTokenBytes,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// FindByEmail looks a user up case-insensitively.
func (s *GormIdentityStore) FindByEmail(ctx context.Context, email string) (*models.User, bool, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, false, nil
	}

	var user models.User
	err := s.db.WithContext(ctx).
		Where("LOWER(email) = LOWER(?)", email).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("identity store: query user: %w", err)
	}

	return &user, true, nil
}

// Save persists the recovery-relevant fields of the user record. The counter
// update is a plain read-modify-write: concurrent failures against the same
// account can under-count. Inherited from the observed design; a
// serialisable transaction would be the stronger alternative.
func (s *GormIdentityStore) Save(ctx context.Context, user *models.User) error {
	if user == nil || user.ID == "" {
		return errors.New("identity store: user with id is required")
	}

	err := s.db.WithContext(ctx).Model(user).Updates(map[string]any{
		"security_question":                 user.SecurityQuestion,
		"security_answer_hash":              user.SecurityAnswerHash,
		"failed_security_question_attempts": user.FailedSecurityQuestionAttempts,
		"security_question_lockout_end":     user.SecurityQuestionLockoutEnd,
	}).Error
	if err != nil {
		return fmt.Errorf("identity store: save user: %w", err)
	}
	return nil
}

// GenerateResetToken issues a fresh single-use reset token for the user. Only
// the SHA-256 digest is stored; the raw token is returned for forwarding.
func (s *GormIdentityStore) GenerateResetToken(ctx context.Context, user *models.User) (string, error) {
	if user == nil || user.ID == "" {
		return "", errors.New("identity store: user with id is required")
	}

	token, err := crypto.GenerateToken(s.bytes)
	if err != nil {
		return "", fmt.Errorf("identity store: generate token: %w", err)
	}

	record := models.PasswordResetToken{
		UserID:    user.ID,
		TokenHash: crypto.TokenDigest(token),
		ExpiresAt: s.now().Add(s.ttl),
	}

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return "", fmt.Errorf("identity store: persist token: %w", err)
	}

	return token, nil
}

// ResetPassword redeems a reset token and installs the new password.
func (s *GormIdentityStore) ResetPassword(ctx context.Context, user *models.User, token, newPassword string) error {
	if user == nil || user.ID == "" {
		return errors.New("identity store: user with id is required")
	}
	if token == "" || newPassword == "" {
		return ErrResetTokenInvalid
	}

	var record models.PasswordResetToken
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND token_hash = ?", user.ID, crypto.TokenDigest(token)).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrResetTokenInvalid
	}
	if err != nil {
		return fmt.Errorf("identity store: query token: %w", err)
	}

	now := s.now()
	if record.UsedAt != nil || record.ExpiresAt.Before(now) {
		return ErrResetTokenInvalid
	}

	hashed, err := crypto.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("identity store: hash password: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(user).Update("password", hashed).Error; err != nil {
		return fmt.Errorf("identity store: update password: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(&record).Update("used_at", now).Error; err != nil {
		return fmt.Errorf("identity store: spend token: %w", err)
	}

	return nil
}

// CreateUserInput captures registration-time provisioning details, including
// the security question secret.
type CreateUserInput struct {
	Email            string
	Password         string
	FirstName        string
	LastName         string
	SecurityQuestion string
	SecurityAnswer   string
}

// CreateUser provisions a portal account with hashed credentials.
func (s *GormIdentityStore) CreateUser(ctx context.Context, input CreateUserInput) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" || input.Password == "" {
		return nil, errors.New("identity store: email and password are required")
	}

	hashedPassword, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("identity store: hash password: %w", err)
	}

	user := &models.User{
		Email:     email,
		Password:  hashedPassword,
		FirstName: strings.TrimSpace(input.FirstName),
		LastName:  strings.TrimSpace(input.LastName),
		IsActive:  true,
	}

	if strings.TrimSpace(input.SecurityQuestion) != "" {
		answerHash, err := crypto.HashAnswer(input.SecurityAnswer)
		if err != nil {
			return nil, fmt.Errorf("identity store: hash answer: %w", err)
		}
		user.SecurityQuestion = strings.TrimSpace(input.SecurityQuestion)
		user.SecurityAnswerHash = answerHash
	}

	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("identity store: create user: %w", err)
	}

	return user, nil
}

// isUniqueConstraintError detects database uniqueness constraint violations across vendors.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil && pgErr.Code == "23505" {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil && myErr.Number == 1062 {
		return true
	}

	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique") ||
		strings.Contains(lower, "duplicate") ||
		strings.Contains(lower, "constraint")
}

var _ IdentityStore = (*GormIdentityStore)(nil)
