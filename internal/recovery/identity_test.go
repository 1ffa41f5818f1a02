package recovery

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/orderdesk/orderdesk/internal/models"
	"github.com/orderdesk/orderdesk/pkg/crypto"
)

func openIdentityTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.PasswordResetToken{}))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// Shared-cache SQLite returns table-lock errors under concurrent writers.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return db
}

func seedUser(t *testing.T, store *GormIdentityStore) *models.User {
	t.Helper()

	user, err := store.CreateUser(context.Background(), CreateUserInput{
		Email:            "Dana.Keel@Example.com",
		Password:         "orig-password-1",
		FirstName:        "Dana",
		LastName:         "Keel",
		SecurityQuestion: "What was your first pet's name?",
		SecurityAnswer:   "Biscuit",
	})
	require.NoError(t, err)
	return user
}

func TestGormIdentityStoreFindByEmail(t *testing.T) {
	db := openIdentityTestDB(t)
	store, err := NewGormIdentityStore(db)
	require.NoError(t, err)
	seedUser(t, store)

	ctx := context.Background()

	user, found, err := store.FindByEmail(ctx, "dana.keel@example.com")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "dana.keel@example.com", user.Email, "stored lowercased at registration")
	require.Equal(t, "What was your first pet's name?", user.SecurityQuestion)

	_, found, err = store.FindByEmail(ctx, "DANA.KEEL@EXAMPLE.COM")
	require.NoError(t, err)
	require.True(t, found, "lookup is case-insensitive")

	_, found, err = store.FindByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	require.False(t, found)

	_, found, err = store.FindByEmail(ctx, "  ")
	require.NoError(t, err)
	require.False(t, found)
}

func TestGormIdentityStoreCreateUser(t *testing.T) {
	db := openIdentityTestDB(t)
	store, err := NewGormIdentityStore(db)
	require.NoError(t, err)

	user := seedUser(t, store)
	require.NotEmpty(t, user.ID)
	require.NotEqual(t, "orig-password-1", user.Password, "password stored hashed")
	require.NotEmpty(t, user.SecurityAnswerHash)
	require.NotEqual(t, "Biscuit", user.SecurityAnswerHash, "answer stored hashed")
	require.True(t, crypto.VerifyPassword(user.Password, "orig-password-1"))

	_, err = store.CreateUser(context.Background(), CreateUserInput{
		Email:    "dana.keel@example.com",
		Password: "another",
	})
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestGormIdentityStoreSave(t *testing.T) {
	db := openIdentityTestDB(t)
	store, err := NewGormIdentityStore(db)
	require.NoError(t, err)
	user := seedUser(t, store)

	ctx := context.Background()

	lockoutEnd := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	user.FailedSecurityQuestionAttempts = 3
	user.SecurityQuestionLockoutEnd = &lockoutEnd
	require.NoError(t, store.Save(ctx, user))

	reloaded, found, err := store.FindByEmail(ctx, user.Email)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 3, reloaded.FailedSecurityQuestionAttempts)
	require.NotNil(t, reloaded.SecurityQuestionLockoutEnd)
	require.True(t, lockoutEnd.Equal(*reloaded.SecurityQuestionLockoutEnd))

	// Clearing writes NULL, not a zero timestamp.
	user.FailedSecurityQuestionAttempts = 0
	user.SecurityQuestionLockoutEnd = nil
	require.NoError(t, store.Save(ctx, user))

	reloaded, _, err = store.FindByEmail(ctx, user.Email)
	require.NoError(t, err)
	require.Zero(t, reloaded.FailedSecurityQuestionAttempts)
	require.Nil(t, reloaded.SecurityQuestionLockoutEnd)
}

func TestGormIdentityStoreResetTokens(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		db := openIdentityTestDB(t)
		store, err := NewGormIdentityStore(db)
		require.NoError(t, err)
		user := seedUser(t, store)

		token, err := store.GenerateResetToken(ctx, user)
		require.NoError(t, err)
		require.NotEmpty(t, token)

		var record models.PasswordResetToken
		require.NoError(t, db.Take(&record).Error)
		require.Equal(t, crypto.TokenDigest(token), record.TokenHash)
		require.NotEqual(t, token, record.TokenHash, "only the digest is persisted")

		require.NoError(t, store.ResetPassword(ctx, user, token, "new-password-9"))

		reloaded, _, err := store.FindByEmail(ctx, user.Email)
		require.NoError(t, err)
		require.True(t, crypto.VerifyPassword(reloaded.Password, "new-password-9"))
		require.False(t, crypto.VerifyPassword(reloaded.Password, "orig-password-1"))
	})

	t.Run("token is single use", func(t *testing.T) {
		db := openIdentityTestDB(t)
		store, err := NewGormIdentityStore(db)
		require.NoError(t, err)
		user := seedUser(t, store)

		token, err := store.GenerateResetToken(ctx, user)
		require.NoError(t, err)

		require.NoError(t, store.ResetPassword(ctx, user, token, "new-password-9"))
		require.ErrorIs(t, store.ResetPassword(ctx, user, token, "third-password"), ErrResetTokenInvalid)
	})

	t.Run("expired token", func(t *testing.T) {
		db := openIdentityTestDB(t)

		current := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
		store, err := NewGormIdentityStore(db, WithIdentityClock(func() time.Time { return current }))
		require.NoError(t, err)
		user := seedUser(t, store)

		token, err := store.GenerateResetToken(ctx, user)
		require.NoError(t, err)

		current = current.Add(2 * time.Hour)
		require.ErrorIs(t, store.ResetPassword(ctx, user, token, "new-password-9"), ErrResetTokenInvalid)
	})

	t.Run("unknown or blank token", func(t *testing.T) {
		db := openIdentityTestDB(t)
		store, err := NewGormIdentityStore(db)
		require.NoError(t, err)
		user := seedUser(t, store)

		require.ErrorIs(t, store.ResetPassword(ctx, user, "forged-token", "new-password-9"), ErrResetTokenInvalid)
		require.ErrorIs(t, store.ResetPassword(ctx, user, "", "new-password-9"), ErrResetTokenInvalid)
	})
}
