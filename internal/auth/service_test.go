// Copyright (c) 2026 Keyra. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/z9k1/Keyra/internal/auth"
	"github.com/z9k1/Keyra/internal/platform/apperr"
	"github.com/z9k1/Keyra/pkg/uuidv7"
)

const (
	testIP        = "10.0.0.1"
	testUserAgent = "keyra-test/1.0"
)

// bootstrapSession walks the full magic-link flow and returns the minted
// token pair: request a link, lift the token off the delivery side channel,
// verify it.
func bootstrapSession(t *testing.T, fixture *serviceFixture, email string) *auth.AuthSession {
	t.Helper()

	err := fixture.service.RequestMagicLink(context.Background(), auth.MagicLinkInput{
		Email:            email,
		RequestIP:        testIP,
		RequestUserAgent: testUserAgent,
	})
	require.NoError(t, err)

	token := fixture.logs.issuedToken()
	require.NotEmpty(t, token, "magic token must reach the delivery side channel")

	session, err := fixture.service.VerifyMagicLink(context.Background(), auth.VerifyInput{
		Token:            token,
		RequestIP:        testIP,
		RequestUserAgent: testUserAgent,
	})
	require.NoError(t, err)

	return session
}

// # Magic Link Issuance

func TestRequestMagicLink_IssuesChallenge(t *testing.T) {
	fixture := newServiceFixture()

	err := fixture.service.RequestMagicLink(context.Background(), auth.MagicLinkInput{
		Email:            "  Alice@Example.COM ",
		RequestIP:        testIP,
		RequestUserAgent: testUserAgent,
	})
	require.NoError(t, err)

	// The limiter and the challenge both operate on the normalized address
	assert.Equal(t, "alice@example.com", fixture.limiter.email)
	require.Equal(t, 1, fixture.store.challengeCount())

	token := fixture.logs.issuedToken()
	require.NotEmpty(t, token)

	// Only the digest is persisted, and it matches the emitted token
	challenge := fixture.store.challengeByHash(auth.DigestToken(token))
	require.NotNil(t, challenge)
	assert.Equal(t, "alice@example.com", challenge.Email)
	assert.Nil(t, challenge.UsedAt)
	assert.Equal(t, testIP, challenge.RequestIP)
	assert.True(t, challenge.ExpiresAt.After(time.Now()))

	assert.Contains(t, fixture.store.auditEvents(), auth.EventMagicRequested)
}

func TestRequestMagicLink_RateLimitedIsSilent(t *testing.T) {
	fixture := newServiceFixture()
	fixture.limiter.allowed = false

	err := fixture.service.RequestMagicLink(context.Background(), auth.MagicLinkInput{
		Email:     "alice@example.com",
		RequestIP: testIP,
	})

	// Denial looks exactly like success and issues nothing
	require.NoError(t, err)
	assert.Equal(t, 0, fixture.store.challengeCount())
	assert.Contains(t, fixture.store.auditEvents(), auth.EventMagicRateLimited)
	assert.NotContains(t, fixture.store.auditEvents(), auth.EventMagicRequested)
}

func TestRequestMagicLink_LimiterOutageFailsOpen(t *testing.T) {
	fixture := newServiceFixture()
	fixture.limiter.allowed = false
	fixture.limiter.err = assert.AnError

	err := fixture.service.RequestMagicLink(context.Background(), auth.MagicLinkInput{
		Email: "alice@example.com",
	})

	require.NoError(t, err)
	assert.Equal(t, 1, fixture.store.challengeCount(), "limiter outage must not block logins")
}

// # Magic Link Verification

func TestVerifyMagicLink_BootstrapsUserAndSession(t *testing.T) {
	fixture := newServiceFixture()

	session := bootstrapSession(t, fixture, "Alice@Example.com")

	require.NotEmpty(t, session.AccessToken)
	require.NotEmpty(t, session.RefreshToken)

	// Lazily created account with the normalized address
	user := fixture.store.userByEmail("alice@example.com")
	require.NotNil(t, user)
	assert.Nil(t, user.EmailVerifiedAt, "verification does not set the marker")

	// Access token names the user
	claims, err := fixture.signer.VerifyToken(session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID())

	// Root session: no parent, bound to the requesting client
	stored := fixture.store.sessionByHash(auth.DigestToken(session.RefreshToken))
	require.NotNil(t, stored)
	assert.Equal(t, user.ID, stored.UserID)
	assert.Nil(t, stored.RotatedFromSessionID)
	assert.Nil(t, stored.RevokedAt)
	assert.Equal(t, testIP, stored.IP)

	assert.Contains(t, fixture.store.auditEvents(), auth.EventMagicVerified)
}

func TestVerifyMagicLink_TokenIsSingleUse(t *testing.T) {
	fixture := newServiceFixture()

	require.NoError(t, fixture.service.RequestMagicLink(context.Background(), auth.MagicLinkInput{
		Email: "alice@example.com",
	}))
	token := fixture.logs.issuedToken()

	_, err := fixture.service.VerifyMagicLink(context.Background(), auth.VerifyInput{Token: token})
	require.NoError(t, err)

	// Replay fails and no second session appears
	_, err = fixture.service.VerifyMagicLink(context.Background(), auth.VerifyInput{Token: token})
	assert.ErrorIs(t, err, auth.ErrInvalidOrExpiredToken)
	assert.Equal(t, 1, fixture.store.sessionCount())
}

func TestVerifyMagicLink_RejectsExpiredAndUnknown(t *testing.T) {
	fixture := newServiceFixture()

	expiredToken, err := auth.GenerateChallengeToken()
	require.NoError(t, err)

	require.NoError(t, fixture.store.CreateChallenge(context.Background(), &auth.LoginChallenge{
		ID:        uuidv7.New(),
		Email:     "alice@example.com",
		TokenHash: auth.DigestToken(expiredToken),
		ExpiresAt: time.Now().Add(-time.Minute),
		CreatedAt: time.Now().Add(-time.Hour),
	}))

	tests := []struct {
		name  string
		token string
	}{
		{"expired_token", expiredToken},
		{"unknown_token", "never-issued"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fixture.service.VerifyMagicLink(context.Background(), auth.VerifyInput{Token: tt.token})
			assert.ErrorIs(t, err, auth.ErrInvalidOrExpiredToken)
		})
	}
}

func TestVerifyMagicLink_ReusesExistingAccount(t *testing.T) {
	fixture := newServiceFixture()

	first := bootstrapSession(t, fixture, "alice@example.com")
	second := bootstrapSession(t, fixture, "alice@example.com")

	firstSession := fixture.store.sessionByHash(auth.DigestToken(first.RefreshToken))
	secondSession := fixture.store.sessionByHash(auth.DigestToken(second.RefreshToken))
	require.NotNil(t, firstSession)
	require.NotNil(t, secondSession)

	// Same account, two independent root sessions
	assert.Equal(t, firstSession.UserID, secondSession.UserID)
	assert.Equal(t, 2, fixture.store.sessionCount())
}

// # Session Refresh

func TestRefreshSession_RotatesGeneration(t *testing.T) {
	fixture := newServiceFixture()
	bootstrap := bootstrapSession(t, fixture, "alice@example.com")

	rotated, err := fixture.service.RefreshSession(context.Background(), bootstrap.RefreshToken, testUserAgent, testIP)
	require.NoError(t, err)
	require.NotEqual(t, bootstrap.RefreshToken, rotated.RefreshToken)

	oldSession := fixture.store.sessionByHash(auth.DigestToken(bootstrap.RefreshToken))
	newSession := fixture.store.sessionByHash(auth.DigestToken(rotated.RefreshToken))
	require.NotNil(t, oldSession)
	require.NotNil(t, newSession)

	// Parent tombstoned, child chained to it
	assert.NotNil(t, oldSession.RevokedAt)
	assert.Nil(t, newSession.RevokedAt)
	require.NotNil(t, newSession.RotatedFromSessionID)
	assert.Equal(t, oldSession.ID, *newSession.RotatedFromSessionID)
	assert.Equal(t, oldSession.UserID, newSession.UserID)

	assert.Contains(t, fixture.store.auditEvents(), auth.EventRefreshRotated)
}

func TestRefreshSession_ReuseBurnsWholeChain(t *testing.T) {
	fixture := newServiceFixture()
	bootstrap := bootstrapSession(t, fixture, "alice@example.com")

	rotated, err := fixture.service.RefreshSession(context.Background(), bootstrap.RefreshToken, testUserAgent, testIP)
	require.NoError(t, err)

	commitsBefore := fixture.store.commitCount()

	// Replaying the pre-rotation token is treated as theft
	_, err = fixture.service.RefreshSession(context.Background(), bootstrap.RefreshToken, testUserAgent, testIP)
	assert.ErrorIs(t, err, auth.ErrRefreshTokenReuse)

	// Both generations are revoked, and the revocation was committed even
	// though the call failed
	oldSession := fixture.store.sessionByHash(auth.DigestToken(bootstrap.RefreshToken))
	newSession := fixture.store.sessionByHash(auth.DigestToken(rotated.RefreshToken))
	assert.NotNil(t, oldSession.RevokedAt)
	assert.NotNil(t, newSession.RevokedAt)
	assert.Greater(t, fixture.store.commitCount(), commitsBefore)

	// The descendant token is now dead too
	_, err = fixture.service.RefreshSession(context.Background(), rotated.RefreshToken, testUserAgent, testIP)
	assert.ErrorIs(t, err, auth.ErrRefreshTokenReuse)

	assert.Contains(t, fixture.store.auditEvents(), auth.EventRefreshReuse)
}

func TestRefreshSession_ExpiredTokenRevokesChain(t *testing.T) {
	fixture := newServiceFixture()

	token, err := auth.GenerateRefreshToken()
	require.NoError(t, err)

	userID := uuidv7.New()
	sessionID := uuidv7.New()
	tx, err := fixture.store.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.CreateSession(context.Background(), &auth.Session{
		ID:               sessionID,
		UserID:           userID,
		RefreshTokenHash: auth.DigestToken(token),
		RefreshExpiresAt: time.Now().Add(-time.Hour),
		CreatedAt:        time.Now().Add(-48 * time.Hour),
		LastSeenAt:       time.Now().Add(-48 * time.Hour),
	}))

	_, err = fixture.service.RefreshSession(context.Background(), token, testUserAgent, testIP)
	assert.ErrorIs(t, err, auth.ErrRefreshTokenExpired)
	assert.NotNil(t, fixture.store.sessionByID(sessionID).RevokedAt)
}

func TestRefreshSession_HijackDetection(t *testing.T) {
	tests := []struct {
		name      string
		userAgent string
		ip        string
	}{
		{"ip_changed", testUserAgent, "10.0.0.2"},
		{"user_agent_changed", "evil-browser/6.6", testIP},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fixture := newServiceFixture()
			bootstrap := bootstrapSession(t, fixture, "alice@example.com")

			_, err := fixture.service.RefreshSession(context.Background(), bootstrap.RefreshToken, tt.userAgent, tt.ip)
			assert.ErrorIs(t, err, auth.ErrSessionHijacking)

			stored := fixture.store.sessionByHash(auth.DigestToken(bootstrap.RefreshToken))
			assert.NotNil(t, stored.RevokedAt, "suspect session must be revoked")
			assert.Contains(t, fixture.store.auditEvents(), auth.EventRefreshHijack)
		})
	}
}

func TestRefreshSession_HijackCheckSkippedWhenSideUnknown(t *testing.T) {
	fixture := newServiceFixture()

	// Session bootstrapped without a client address
	err := fixture.service.RequestMagicLink(context.Background(), auth.MagicLinkInput{
		Email: "alice@example.com",
	})
	require.NoError(t, err)

	bootstrap, err := fixture.service.VerifyMagicLink(context.Background(), auth.VerifyInput{
		Token: fixture.logs.issuedToken(),
	})
	require.NoError(t, err)

	// A later refresh that does carry an IP must not read as a hijack
	_, err = fixture.service.RefreshSession(context.Background(), bootstrap.RefreshToken, "", "10.0.0.9")
	assert.NoError(t, err)
}

func TestRefreshSession_UnknownToken(t *testing.T) {
	fixture := newServiceFixture()

	_, err := fixture.service.RefreshSession(context.Background(), "no-such-token", testUserAgent, testIP)
	assert.ErrorIs(t, err, auth.ErrInvalidRefreshToken)
}

// # Logout

func TestLogout_IsIdempotentWhileRowExists(t *testing.T) {
	fixture := newServiceFixture()
	bootstrap := bootstrapSession(t, fixture, "alice@example.com")

	require.NoError(t, fixture.service.Logout(context.Background(), bootstrap.RefreshToken))

	firstRevokedAt := fixture.store.sessionByHash(auth.DigestToken(bootstrap.RefreshToken)).RevokedAt
	require.NotNil(t, firstRevokedAt)

	// Second logout with the same token still succeeds and the original
	// revocation instant is preserved
	require.NoError(t, fixture.service.Logout(context.Background(), bootstrap.RefreshToken))
	assert.Equal(t, *firstRevokedAt, *fixture.store.sessionByHash(auth.DigestToken(bootstrap.RefreshToken)).RevokedAt)
}

func TestLogout_UnknownToken(t *testing.T) {
	fixture := newServiceFixture()

	err := fixture.service.Logout(context.Background(), "no-such-token")
	assert.ErrorIs(t, err, auth.ErrInvalidRefreshToken)
}

func TestLogoutAll_RevokesEveryActiveSession(t *testing.T) {
	fixture := newServiceFixture()

	first := bootstrapSession(t, fixture, "alice@example.com")
	second := bootstrapSession(t, fixture, "alice@example.com")
	userID := fixture.store.userByEmail("alice@example.com").ID

	require.NoError(t, fixture.service.LogoutAll(context.Background(), userID))

	assert.NotNil(t, fixture.store.sessionByHash(auth.DigestToken(first.RefreshToken)).RevokedAt)
	assert.NotNil(t, fixture.store.sessionByHash(auth.DigestToken(second.RefreshToken)).RevokedAt)

	// Idempotent: a second sweep is a no-op success
	require.NoError(t, fixture.service.LogoutAll(context.Background(), userID))
	assert.Contains(t, fixture.store.auditEvents(), auth.EventLogoutAll)
}

// # Identity

func TestCurrentUser(t *testing.T) {
	fixture := newServiceFixture()
	bootstrapSession(t, fixture, "alice@example.com")
	userID := fixture.store.userByEmail("alice@example.com").ID

	user, err := fixture.service.CurrentUser(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)

	// A valid token for a vanished account reads as unauthenticated
	_, err = fixture.service.CurrentUser(context.Background(), uuidv7.New())
	appError := apperr.As(err)
	require.NotNil(t, appError)
	assert.Equal(t, "unauthorized", appError.Code)
}

// # Helpers

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"already_normal", "alice@example.com", "alice@example.com"},
		{"mixed_case", "Alice@Example.COM", "alice@example.com"},
		{"surrounding_space", "  alice@example.com\t", "alice@example.com"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, auth.NormalizeEmail(tt.input))
		})
	}
}
