package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/straye-as/purchase-api/internal/auth"
	"github.com/straye-as/purchase-api/internal/config"
	"github.com/straye-as/purchase-api/internal/domain"
	"github.com/straye-as/purchase-api/internal/repository"
	"github.com/straye-as/purchase-api/internal/service"
	"github.com/straye-as/purchase-api/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func testTokens() *auth.TokenService {
	return auth.NewTokenService(&config.AuthConfig{JWTSecret: "test-secret", Issuer: "purchase-test", TokenTTL: 60})
}

func newAuthService(db *gorm.DB, userRepo *repository.UserRepository, tokens *auth.TokenService, sessions auth.SessionStore, mailer *fakeQueue) *service.AuthService {
	return service.NewAuthService(
		userRepo,
		repository.NewPasswordResetRepository(db),
		repository.NewTransactionManager(db),
		tokens,
		sessions,
		mailer,
		time.Hour,
		zap.NewNop(),
	)
}

// authFixture is a user with a known password and two open sessions
type authFixture struct {
	db       *gorm.DB
	svc      *service.AuthService
	sessions *auth.MemorySessionStore
	mailer   *fakeQueue
	user     *domain.User
	current  string
	other    string
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	userRepo := repository.NewUserRepository(db)
	tokens := testTokens()
	sessions := auth.NewMemorySessionStore()
	mailer := &fakeQueue{}

	hash, err := auth.HashPassword("old-password")
	require.NoError(t, err)
	user := &domain.User{Name: "Kari", Email: "kari@example.com", PasswordHash: hash, Role: domain.RoleRequester, Active: true}
	require.NoError(t, db.Create(user).Error)

	f := &authFixture{
		db:       db,
		svc:      newAuthService(db, userRepo, tokens, sessions, mailer),
		sessions: sessions,
		mailer:   mailer,
		user:     user,
	}
	for _, id := range []*string{&f.current, &f.other} {
		resp, err := f.svc.Login(context.Background(), &domain.LoginRequest{Email: user.Email, Password: "old-password"})
		require.NoError(t, err)
		claims, err := tokens.Parse(resp.Token)
		require.NoError(t, err)
		*id = claims.ID
	}
	return f
}

func (f *authFixture) ctx() context.Context {
	return auth.WithUserContext(context.Background(), auth.NewUserContext(f.user, f.current))
}

func (f *authFixture) canLogin(password string) bool {
	_, err := f.svc.Login(context.Background(), &domain.LoginRequest{Email: f.user.Email, Password: password})
	return err == nil
}

func (f *authFixture) sessionOpen(id string) bool {
	_, err := f.sessions.Lookup(context.Background(), id)
	return err == nil
}

func TestAuthService_ChangePassword(t *testing.T) {
	t.Run("wrong current password is a validation error", func(t *testing.T) {
		f := newAuthFixture(t)
		err := f.svc.ChangePassword(f.ctx(), &domain.ChangePasswordRequest{CurrentPassword: "guess", NewPassword: "new-password"})
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "currentPassword", verr.Field)
		assert.True(t, f.canLogin("old-password"))
		assert.True(t, f.sessionOpen(f.other))
	})

	t.Run("same password is rejected", func(t *testing.T) {
		f := newAuthFixture(t)
		err := f.svc.ChangePassword(f.ctx(), &domain.ChangePasswordRequest{CurrentPassword: "old-password", NewPassword: "old-password"})
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "newPassword", verr.Field)
	})

	t.Run("new password works and other sessions end", func(t *testing.T) {
		f := newAuthFixture(t)
		require.NoError(t, f.svc.ChangePassword(f.ctx(), &domain.ChangePasswordRequest{CurrentPassword: "old-password", NewPassword: "new-password"}))

		assert.False(t, f.canLogin("old-password"))
		assert.True(t, f.canLogin("new-password"))
		assert.True(t, f.sessionOpen(f.current))
		assert.False(t, f.sessionOpen(f.other))
	})

	t.Run("requires a signed-in user", func(t *testing.T) {
		f := newAuthFixture(t)
		err := f.svc.ChangePassword(context.Background(), &domain.ChangePasswordRequest{CurrentPassword: "old-password", NewPassword: "new-password"})
		assert.ErrorIs(t, err, service.ErrUserContextRequired)
	})
}

func TestAuthService_PasswordReset(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown and deactivated emails get no link", func(t *testing.T) {
		f := newAuthFixture(t)
		require.NoError(t, f.svc.RequestPasswordReset(ctx, "nobody@example.com"))

		inactive := testutil.CreateInactiveUser(t, f.db, "ivan", domain.RoleRequester)
		require.NoError(t, f.svc.RequestPasswordReset(ctx, inactive.Email))

		assert.Empty(t, f.mailer.allResets())
		var n int64
		require.NoError(t, f.db.Model(&domain.PasswordReset{}).Count(&n).Error)
		assert.Zero(t, n)
	})

	t.Run("link resets the password once and ends every session", func(t *testing.T) {
		f := newAuthFixture(t)
		require.NoError(t, f.svc.RequestPasswordReset(ctx, "KARI@example.com"))

		resets := f.mailer.allResets()
		require.Len(t, resets, 1)
		assert.Equal(t, f.user.Email, resets[0].To)
		assert.Equal(t, "Kari", resets[0].Name)
		assert.Len(t, resets[0].Token, 32)
		assert.WithinDuration(t, time.Now().Add(time.Hour), resets[0].ExpiresAt, time.Minute)

		require.NoError(t, f.svc.ResetPassword(ctx, &domain.ResetPasswordRequest{Token: resets[0].Token, NewPassword: "new-password"}))
		assert.True(t, f.canLogin("new-password"))
		assert.False(t, f.canLogin("old-password"))
		assert.False(t, f.sessionOpen(f.current))
		assert.False(t, f.sessionOpen(f.other))

		err := f.svc.ResetPassword(ctx, &domain.ResetPasswordRequest{Token: resets[0].Token, NewPassword: "third-password"})
		assert.ErrorIs(t, err, service.ErrPasswordResetNotFound)
		assert.ErrorIs(t, err, service.ErrNotFound)
	})

	t.Run("expired and unknown tokens are rejected", func(t *testing.T) {
		f := newAuthFixture(t)
		require.NoError(t, f.svc.RequestPasswordReset(ctx, f.user.Email))
		token := f.mailer.allResets()[0].Token

		f.svc.WithClock(func() time.Time { return time.Now().Add(2 * time.Hour) })
		err := f.svc.ResetPassword(ctx, &domain.ResetPasswordRequest{Token: token, NewPassword: "new-password"})
		assert.ErrorIs(t, err, service.ErrPasswordResetNotFound)

		err = f.svc.ResetPassword(ctx, &domain.ResetPasswordRequest{Token: "unknown", NewPassword: "new-password"})
		assert.ErrorIs(t, err, service.ErrPasswordResetNotFound)
		assert.True(t, f.canLogin("old-password"))
	})

	t.Run("changing the password closes open reset links", func(t *testing.T) {
		f := newAuthFixture(t)
		require.NoError(t, f.svc.RequestPasswordReset(ctx, f.user.Email))
		token := f.mailer.allResets()[0].Token

		require.NoError(t, f.svc.ChangePassword(f.ctx(), &domain.ChangePasswordRequest{CurrentPassword: "old-password", NewPassword: "new-password"}))
		err := f.svc.ResetPassword(ctx, &domain.ResetPasswordRequest{Token: token, NewPassword: "attacker-password"})
		assert.ErrorIs(t, err, service.ErrPasswordResetNotFound)
		assert.True(t, f.canLogin("new-password"))
	})

	t.Run("a full outbox still answers nil", func(t *testing.T) {
		f := newAuthFixture(t)
		f.mailer.reject = true
		assert.NoError(t, f.svc.RequestPasswordReset(ctx, f.user.Email))
	})
}
