package beacon

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunbeamfin/beacon/domain"
	serrors "github.com/sunbeamfin/beacon/errors"
	"github.com/sunbeamfin/beacon/internal/audit"
	"github.com/sunbeamfin/beacon/internal/auth"
)

// captureMailer records the last magic link instead of sending it.
type captureMailer struct {
	email string
	link  string
}

func (m *captureMailer) SendMagicLink(_ context.Context, email, link string) error {
	m.email = email
	m.link = link
	return nil
}

func enrollTOTP(t *testing.T, env *testEnv, user *domain.User) string {
	t.Helper()
	secret, otpauthURL, err := auth.GenerateTOTPSecret("beacon", user.Email)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(otpauthURL, "otpauth://totp/"))

	user.MFAEnrolled = true
	user.TOTPSecret = secret
	require.NoError(t, env.users.UpdateUser(context.Background(), user))
	return secret
}

func TestLoginWithPassword(t *testing.T) {
	env := newTestEnv(t)
	user := env.addUser(t, "pat@sunbeam.test")
	ctx := context.Background()

	result, err := env.authSvc.LoginWithPassword(ctx, LoginInput{
		Email:      user.Email,
		Password:   testPassword,
		ClientType: domain.ClientTypeWeb,
		IPAddress:  "198.51.100.7",
		UserAgent:  "test-agent",
	})
	require.NoError(t, err)

	assert.Equal(t, user.ID, result.User.ID)
	assert.Equal(t, domain.MFALevelAAL1, result.Session.MFALevel)
	assert.NotEmpty(t, result.SessionToken)
	assert.NotEmpty(t, result.RefreshToken)
	assert.Positive(t, result.ExpiresIn)

	session, err := env.sessionSvc.ValidateSessionToken(ctx, result.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, result.Session.ID, session.ID)

	claims, err := env.issuer.VerifyAccessToken(result.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.Subject)
	assert.Equal(t, session.ID, claims.SessionID)
	assert.Equal(t, string(domain.ClientTypeWeb), claims.ClientType)

	stored, err := env.users.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastLoginAt)

	events := env.sink.ByAction(audit.ActionLogin)
	require.Len(t, events, 1)
	assert.Equal(t, user.ID, events[0].UserID)
}

func TestLoginWithPasswordRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)
	user := env.addUser(t, "pat@sunbeam.test")
	ctx := context.Background()

	_, err := env.authSvc.LoginWithPassword(ctx, LoginInput{
		Email:    "nobody@sunbeam.test",
		Password: testPassword,
	})
	assert.ErrorIs(t, err, serrors.ErrInvalidCredentials)

	_, err = env.authSvc.LoginWithPassword(ctx, LoginInput{
		Email:    user.Email,
		Password: "wrong password",
	})
	assert.ErrorIs(t, err, serrors.ErrInvalidCredentials)

	stored, err := env.users.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.FailedLoginAttempts)
	assert.Len(t, env.sink.ByAction(audit.ActionLoginFailed), 2)

	// A successful login clears the failure counter.
	env.login(t, user)
	stored, err = env.users.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.FailedLoginAttempts)
}

func TestLoginWithPasswordRejectsInactiveUser(t *testing.T) {
	env := newTestEnv(t)
	user := env.addUser(t, "pat@sunbeam.test")
	ctx := context.Background()

	user.Status = domain.UserStatusLocked
	require.NoError(t, env.users.UpdateUser(ctx, user))

	_, err := env.authSvc.LoginWithPassword(ctx, LoginInput{
		Email:    user.Email,
		Password: testPassword,
	})
	assert.ErrorIs(t, err, serrors.ErrUserInactive)
}

func TestLoginWithTOTP(t *testing.T) {
	env := newTestEnv(t)
	user := env.addUser(t, "pat@sunbeam.test")
	secret := enrollTOTP(t, env, user)
	ctx := context.Background()

	// Enrolled users cannot log in on password alone.
	_, err := env.authSvc.LoginWithPassword(ctx, LoginInput{
		Email:    user.Email,
		Password: testPassword,
	})
	assert.ErrorIs(t, err, serrors.ErrMFARequired)

	_, err = env.authSvc.LoginWithPassword(ctx, LoginInput{
		Email:    user.Email,
		Password: testPassword,
		TOTPCode: "000000",
	})
	assert.ErrorIs(t, err, serrors.ErrInvalidCredentials)

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)

	result, err := env.authSvc.LoginWithPassword(ctx, LoginInput{
		Email:      user.Email,
		Password:   testPassword,
		TOTPCode:   code,
		ClientType: domain.ClientTypeWeb,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.MFALevelAAL2, result.Session.MFALevel)

	claims, err := env.issuer.VerifyAccessToken(result.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, string(domain.MFALevelAAL2), claims.MFALevel)
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	user := env.addUser(t, "pat@sunbeam.test")
	ctx := context.Background()

	login := env.login(t, user)
	require.NoError(t, env.authSvc.Logout(ctx, login.SessionToken, "198.51.100.7"))

	_, err := env.sessionSvc.ValidateSessionToken(ctx, login.SessionToken)
	assert.ErrorIs(t, err, serrors.ErrSessionRevoked)

	_, err = env.refreshSvc.Rotate(ctx, login.RefreshToken, "", "")
	assert.ErrorIs(t, err, serrors.ErrTokenRevoked)

	// Logging out a dead or unknown token is not an error.
	assert.NoError(t, env.authSvc.Logout(ctx, login.SessionToken, ""))
	assert.NoError(t, env.authSvc.Logout(ctx, "garbage", ""))

	events := env.sink.ByAction(audit.ActionLogout)
	require.Len(t, events, 1)
	assert.Equal(t, login.Session.ID, events[0].SessionID)
}

func TestRefreshSession(t *testing.T) {
	env := newTestEnv(t)
	user := env.addUser(t, "pat@sunbeam.test")
	ctx := context.Background()

	login := env.login(t, user)

	result, err := env.authSvc.RefreshSession(ctx, login.RefreshToken, "198.51.100.7")
	require.NoError(t, err)
	assert.Equal(t, login.Session.ID, result.Session.ID)
	assert.NotEqual(t, login.RefreshToken, result.RefreshToken)
	assert.Empty(t, result.SessionToken)

	claims, err := env.issuer.VerifyAccessToken(result.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, login.Session.ID, claims.SessionID)

	// The successor keeps working.
	_, err = env.authSvc.RefreshSession(ctx, result.RefreshToken, "")
	assert.NoError(t, err)
}

func TestMagicLinkFlow(t *testing.T) {
	env := newTestEnv(t)
	user := env.addUser(t, "pat@sunbeam.test")
	mailer := &captureMailer{}
	env.authSvc.mailer = mailer
	ctx := context.Background()

	require.NoError(t, env.authSvc.IssueMagicLink(ctx, user.Email, "/dashboard", "198.51.100.7"))
	assert.Equal(t, user.Email, mailer.email)
	assert.True(t, strings.HasPrefix(mailer.link, "https://auth.test/auth/magic-link/verify?token="))

	parsed, err := url.Parse(mailer.link)
	require.NoError(t, err)
	raw := parsed.Query().Get("token")
	require.NotEmpty(t, raw)

	result, err := env.authSvc.VerifyMagicLink(ctx, raw, domain.ClientTypeWeb, "198.51.100.7", "test-agent")
	require.NoError(t, err)
	assert.Equal(t, user.ID, result.User.ID)
	assert.Equal(t, domain.MFALevelAAL1, result.Session.MFALevel)
	assert.NotEmpty(t, result.SessionToken)

	require.Len(t, env.sink.ByAction(audit.ActionMagicLinkVerified), 1)

	// Links verify at most once.
	_, err = env.authSvc.VerifyMagicLink(ctx, raw, domain.ClientTypeWeb, "", "")
	assert.ErrorIs(t, err, serrors.ErrTokenNotFound)
}

func TestMagicLinkUnknownEmailIsSilent(t *testing.T) {
	env := newTestEnv(t)
	mailer := &captureMailer{}
	env.authSvc.mailer = mailer
	ctx := context.Background()

	require.NoError(t, env.authSvc.IssueMagicLink(ctx, "nobody@sunbeam.test", "", ""))
	assert.Empty(t, mailer.link)

	events := env.sink.ByAction(audit.ActionMagicLinkIssued)
	require.Len(t, events, 1)
	assert.False(t, events[0].Success)
}

func TestMagicLinkExpiry(t *testing.T) {
	env := newTestEnv(t)
	user := env.addUser(t, "pat@sunbeam.test")
	mailer := &captureMailer{}
	env.authSvc.mailer = mailer
	env.authSvc.magicLinkTTL = -time.Second
	ctx := context.Background()

	require.NoError(t, env.authSvc.IssueMagicLink(ctx, user.Email, "", ""))
	parsed, err := url.Parse(mailer.link)
	require.NoError(t, err)

	_, err = env.authSvc.VerifyMagicLink(ctx, parsed.Query().Get("token"), domain.ClientTypeWeb, "", "")
	assert.ErrorIs(t, err, serrors.ErrTokenExpired)
}

func TestSessionTransferFlow(t *testing.T) {
	env := newTestEnv(t)
	user := env.addUser(t, "pat@sunbeam.test")
	secret := enrollTOTP(t, env, user)
	ctx := context.Background()

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	origin, err := env.authSvc.LoginWithPassword(ctx, LoginInput{
		Email:      user.Email,
		Password:   testPassword,
		TOTPCode:   code,
		ClientType: domain.ClientTypeWeb,
	})
	require.NoError(t, err)

	raw, err := env.authSvc.CreateSessionTransfer(ctx, origin.SessionToken, "198.51.100.7")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, "st_"))

	result, err := env.authSvc.ConsumeSessionTransfer(ctx, raw, domain.ClientTypeMobile, "203.0.113.9", "mobile-app")
	require.NoError(t, err)
	assert.Equal(t, user.ID, result.User.ID)
	assert.NotEqual(t, origin.Session.ID, result.Session.ID)

	// The new session carries over the assurance level of the origin.
	assert.Equal(t, domain.MFALevelAAL2, result.Session.MFALevel)

	// One shot only.
	_, err = env.authSvc.ConsumeSessionTransfer(ctx, raw, domain.ClientTypeMobile, "", "")
	assert.ErrorIs(t, err, serrors.ErrTokenNotFound)
}

func TestSessionTransferRequiresLiveOrigin(t *testing.T) {
	env := newTestEnv(t)
	user := env.addUser(t, "pat@sunbeam.test")
	ctx := context.Background()

	login := env.login(t, user)
	raw, err := env.authSvc.CreateSessionTransfer(ctx, login.SessionToken, "")
	require.NoError(t, err)

	require.NoError(t, env.sessionSvc.RevokeSession(ctx, login.Session.ID, domain.SessionRevokedLogout))

	_, err = env.authSvc.ConsumeSessionTransfer(ctx, raw, domain.ClientTypeWeb, "", "")
	assert.ErrorIs(t, err, serrors.ErrSessionExpired)
}

func TestSessionTransferRejectsOtherTokenKinds(t *testing.T) {
	env := newTestEnv(t)
	user := env.addUser(t, "pat@sunbeam.test")
	mailer := &captureMailer{}
	env.authSvc.mailer = mailer
	ctx := context.Background()

	require.NoError(t, env.authSvc.IssueMagicLink(ctx, user.Email, "", ""))
	parsed, err := url.Parse(mailer.link)
	require.NoError(t, err)

	_, err = env.authSvc.ConsumeSessionTransfer(ctx, parsed.Query().Get("token"), domain.ClientTypeWeb, "", "")
	assert.ErrorIs(t, err, serrors.ErrTokenMalformed)
}

func TestLoginWithIdentityProvisionsUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.authSvc.LoginWithIdentity(ctx, IdentityLoginInput{
		Provider:   "google",
		Subject:    "google-sub-1",
		Email:      "new@sunbeam.test",
		FirstName:  "New",
		LastName:   "Person",
		ClientType: domain.ClientTypeWeb,
	})
	require.NoError(t, err)
	assert.Equal(t, "new@sunbeam.test", result.User.Email)
	assert.Equal(t, domain.UserStatusActive, result.User.Status)
	assert.NotEmpty(t, result.SessionToken)

	identity, err := env.identities.GetByProviderSubject(ctx, "google", "google-sub-1")
	require.NoError(t, err)
	assert.Equal(t, result.User.ID, identity.UserID)

	// A second sign-in through the same identity reuses the account.
	again, err := env.authSvc.LoginWithIdentity(ctx, IdentityLoginInput{
		Provider: "google",
		Subject:  "google-sub-1",
		Email:    "new@sunbeam.test",
	})
	require.NoError(t, err)
	assert.Equal(t, result.User.ID, again.User.ID)
}

func TestLoginWithIdentityLinksExistingAccount(t *testing.T) {
	env := newTestEnv(t)
	user := env.addUser(t, "pat@sunbeam.test")
	ctx := context.Background()

	result, err := env.authSvc.LoginWithIdentity(ctx, IdentityLoginInput{
		Provider: "github",
		Subject:  "gh-42",
		Email:    user.Email,
	})
	require.NoError(t, err)
	assert.Equal(t, user.ID, result.User.ID)

	identity, err := env.identities.GetByProviderSubject(ctx, "github", "gh-42")
	require.NoError(t, err)
	assert.Equal(t, user.ID, identity.UserID)
}

func TestLoginWithIdentityRejectsInactiveUser(t *testing.T) {
	env := newTestEnv(t)
	user := env.addUser(t, "pat@sunbeam.test")
	ctx := context.Background()

	user.Status = domain.UserStatusLocked
	require.NoError(t, env.users.UpdateUser(ctx, user))

	_, err := env.authSvc.LoginWithIdentity(ctx, IdentityLoginInput{
		Provider: "google",
		Subject:  "google-sub-9",
		Email:    user.Email,
	})
	assert.ErrorIs(t, err, serrors.ErrUserInactive)
}
