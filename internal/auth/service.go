// Copyright (c) 2026 Keyra. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package auth implements passwordless, email-based authentication.

There are no passwords anywhere in the system. A user proves control of an
inbox by following a short-lived single-use magic link; from then on a
rotating refresh-token session keeps them signed in.

Architecture:

  - Service: Orchestrates the flows (request link, verify, refresh, logout).
  - Store: Postgres persistence with row-locking transactions for every
    token state transition.
  - RateLimiter: Redis fixed-window counters shared across replicas.
  - Recorder: Append-only audit trail of security events.

Security model: tokens are high-entropy random strings; only SHA-256 digests
touch the database. Refresh tokens rotate on every use, and presenting a
stale token burns the entire session chain descended from it.
*/
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/z9k1/Keyra/internal/platform/apperr"
	"github.com/z9k1/Keyra/internal/platform/dberr"
	"github.com/z9k1/Keyra/pkg/pointer"
	"github.com/z9k1/Keyra/pkg/uuidv7"
)

// # Contracts & Types

// TokenProvider defines the contract for minting access tokens.
type TokenProvider interface {
	// GenerateAccessToken creates a signed JWT whose subject is the user ID.
	//
	// # Parameters
	//   - userID: The ID of the account.
	//   - timeToLive: The duration before the token expires.
	//
	// # Returns
	//   - A signed JWT string, or an err if signing fails.
	GenerateAccessToken(userID string, timeToLive time.Duration) (string, error)
}

// ServiceConfig carries the deployment-tunable lifetimes.
type ServiceConfig struct {
	// AccessTokenTTL is the JWT lifetime (default 15 minutes).
	AccessTokenTTL time.Duration

	// RefreshTokenTTL is the session lifetime (default 30 days).
	RefreshTokenTTL time.Duration

	// ChallengeTTL is the magic-link lifetime (default 10 minutes).
	ChallengeTTL time.Duration
}

// Service implements the passwordless authentication use cases.
//
// # Review Process
//
// This service is critical for security. Any changes to token handling,
// rotation, or the reuse/hijack checks must be reviewed by the security team.
type Service struct {
	store         Store
	rateLimiter   RateLimiter
	tokenProvider TokenProvider
	audit         *Recorder
	config        ServiceConfig
	log           *slog.Logger
}

// NewService constructs a new auth [Service] with necessary dependencies.
func NewService(
	store Store,
	rateLimiter RateLimiter,
	tokenProvider TokenProvider,
	audit *Recorder,
	config ServiceConfig,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:         store,
		rateLimiter:   rateLimiter,
		tokenProvider: tokenProvider,
		audit:         audit,
		config:        config,
		log:           logger,
	}
}

// # Magic Link Issuance

// MagicLinkInput holds the data for a magic-link request.
type MagicLinkInput struct {
	Email            string
	RequestIP        string
	RequestUserAgent string
}

/*
RequestMagicLink issues a single-use login challenge for an email address.

Description: The response never reveals whether the address has an account
or whether the request was rate limited; every accepted input produces the
same success. The raw token leaves the process only through the delivery
side channel, the database keeps its digest.

Parameters:
  - context: context.Context
  - input: MagicLinkInput

Returns:
  - error: Internal failures only; denials are silent by design
*/
func (service *Service) RequestMagicLink(context context.Context, input MagicLinkInput) error {

	// 1. Normalize the email so budgets and user lookups agree on the key
	email := NormalizeEmail(input.Email)

	// 2. Count the request against the shared email and IP budgets.
	// A limiter outage fails open: losing login availability platform-wide
	// would hurt more than briefly losing abuse control.
	allowed, err := service.rateLimiter.Admit(context, email, input.RequestIP)
	if err != nil {
		service.log.WarnContext(context, "rate_limiter_unavailable_failing_open",
			slog.Any("error", err),
		)
		allowed = true
	}

	// 3. Deny silently: audit the denial, answer success, issue nothing
	if !allowed {
		service.audit.Record(context, nil, EventMagicRateLimited, input.RequestIP, input.RequestUserAgent)
		return nil
	}

	// 4. Mint the challenge token; only its digest is persisted
	token, err := GenerateChallengeToken()
	if err != nil {
		return fmt.Errorf("auth_service_challenge_token_failed: %w", err)
	}

	now := time.Now()
	challenge := &LoginChallenge{
		ID:               uuidv7.New(),
		Email:            email,
		TokenHash:        DigestToken(token),
		ExpiresAt:        now.Add(service.config.ChallengeTTL),
		RequestIP:        input.RequestIP,
		RequestUserAgent: input.RequestUserAgent,
		CreatedAt:        now,
	}

	if err := service.store.CreateChallenge(context, challenge); err != nil {
		return fmt.Errorf("auth_service_challenge_create_failed: %w", err)
	}

	// 5. Hand the raw token to the delivery side channel. The structured log
	// is the only transport today.
	// TODO: Replace the log line with the mail sender once the SMTP relay is provisioned.
	service.log.InfoContext(context, "magic_link_issued",
		slog.String("email", email),
		slog.String("token", token),
	)

	service.audit.Record(context, nil, EventMagicRequested, input.RequestIP, input.RequestUserAgent)

	return nil
}

// # Magic Link Verification

// VerifyInput holds the data for consuming a magic link.
type VerifyInput struct {
	Token            string
	RequestIP        string
	RequestUserAgent string
}

/*
VerifyMagicLink consumes a challenge and establishes a session.

Description: Runs as one transaction: the challenge row is locked FOR UPDATE,
marked used, the user is found or lazily created, and a root session is
inserted. Concurrent verifications of the same link serialize on the lock,
so exactly one wins.

Parameters:
  - context: context.Context
  - input: VerifyInput

Returns:
  - *AuthSession: Freshly minted access and refresh tokens
  - error: ErrInvalidOrExpiredToken for every client-addressable failure
*/
func (service *Service) VerifyMagicLink(context context.Context, input VerifyInput) (*AuthSession, error) {
	tx, err := service.store.Begin(context)
	if err != nil {
		return nil, fmt.Errorf("auth_service_verify_begin_failed: %w", err)
	}
	defer func() { _ = tx.Rollback(context) }()

	now := time.Now()

	// 1. Lock the unused, unexpired challenge matching the token digest.
	// Absent, used, and expired all collapse into one client error so the
	// endpoint cannot be used to probe token state.
	challenge, err := tx.LockValidChallenge(context, DigestToken(input.Token), now)
	if err != nil {
		if errors.Is(err, dberr.ErrNotFound) {
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, fmt.Errorf("auth_service_verify_lock_failed: %w", err)
	}

	// 2. Consume the challenge under the lock
	if err := tx.MarkChallengeUsed(context, challenge.ID, now); err != nil {
		return nil, fmt.Errorf("auth_service_verify_consume_failed: %w", err)
	}

	// 3. Find or lazily create the account. First successful login IS registration.
	user, err := tx.FindUserByEmail(context, challenge.Email)
	if errors.Is(err, dberr.ErrNotFound) {
		user = &User{
			ID:        uuidv7.New(),
			Email:     challenge.Email,
			CreatedAt: now,
		}
		if err := tx.CreateUser(context, user); err != nil {
			return nil, fmt.Errorf("auth_service_verify_create_user_failed: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("auth_service_verify_find_user_failed: %w", err)
	}

	// 4. Mint the refresh token and insert the root session (no parent)
	refreshToken, err := GenerateRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("auth_service_refresh_token_failed: %w", err)
	}

	session := &Session{
		ID:               uuidv7.New(),
		UserID:           user.ID,
		RefreshTokenHash: DigestToken(refreshToken),
		RefreshExpiresAt: now.Add(service.config.RefreshTokenTTL),
		CreatedAt:        now,
		LastSeenAt:       now,
		IP:               input.RequestIP,
		UserAgent:        input.RequestUserAgent,
	}

	if err := tx.CreateSession(context, session); err != nil {
		return nil, fmt.Errorf("auth_service_verify_create_session_failed: %w", err)
	}

	// 5. Mint the access token before committing so a signing failure
	// leaves the challenge unconsumed
	accessToken, err := service.tokenProvider.GenerateAccessToken(user.ID, service.config.AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("auth_service_token_generation_failed: %w", err)
	}

	if err := tx.Commit(context); err != nil {
		return nil, fmt.Errorf("auth_service_verify_commit_failed: %w", err)
	}

	service.audit.Record(context, pointer.To(user.ID), EventMagicVerified, input.RequestIP, input.RequestUserAgent)

	return &AuthSession{
		AccessToken:           accessToken,
		RefreshToken:          refreshToken,
		RefreshTokenExpiresAt: session.RefreshExpiresAt,
	}, nil
}

// # Session Refresh

/*
RefreshSession rotates a refresh token into a new session generation.

Description: The presented token's session row is locked and classified in
strict order: unknown, reused, expired, hijacked, healthy. Every unhealthy
classification except "unknown" burns the entire session chain, and that
revocation is committed even though the call fails.

Parameters:
  - context: context.Context
  - refreshToken: string (raw token from the cookie)
  - userAgent: string
  - ipAddress: string

Returns:
  - *AuthSession: New token pair on success
  - error: One of the contract errors, or internal failures
*/
func (service *Service) RefreshSession(context context.Context, refreshToken, userAgent, ipAddress string) (*AuthSession, error) {
	tx, err := service.store.Begin(context)
	if err != nil {
		return nil, fmt.Errorf("auth_service_refresh_begin_failed: %w", err)
	}
	defer func() { _ = tx.Rollback(context) }()

	now := time.Now()

	// 1. Lock the session row for the presented token, whatever its state
	session, err := tx.LockSessionByTokenHash(context, DigestToken(refreshToken))
	if err != nil {
		if errors.Is(err, dberr.ErrNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("auth_service_refresh_lock_failed: %w", err)
	}

	// 2. Reuse: the token was already rotated away or logged out. Someone
	// is replaying an old token, so the whole chain is burned.
	if session.RevokedAt != nil {
		if err := service.revokeChain(context, tx, session.ID, now); err != nil {
			return nil, err
		}
		service.audit.Record(context, pointer.To(session.UserID), EventRefreshReuse, ipAddress, userAgent)
		return nil, ErrRefreshTokenReuse
	}

	// 3. Expiry: the session aged out. The chain is closed for hygiene.
	if !session.RefreshExpiresAt.After(now) {
		if err := service.revokeChain(context, tx, session.ID, now); err != nil {
			return nil, err
		}
		return nil, ErrRefreshTokenExpired
	}

	// 4. Hijack heuristics: a changed IP or user agent on a healthy token
	// reads as theft. Only enforced when both sides are known.
	if session.IP != "" && ipAddress != "" && session.IP != ipAddress {
		if err := service.revokeChain(context, tx, session.ID, now); err != nil {
			return nil, err
		}
		service.audit.Record(context, pointer.To(session.UserID), EventRefreshHijack, ipAddress, userAgent)
		return nil, ErrSessionHijacking
	}

	if session.UserAgent != "" && userAgent != "" && session.UserAgent != userAgent {
		if err := service.revokeChain(context, tx, session.ID, now); err != nil {
			return nil, err
		}
		service.audit.Record(context, pointer.To(session.UserID), EventRefreshHijack, ipAddress, userAgent)
		return nil, ErrSessionHijacking
	}

	// 5. Healthy: insert the child generation, then tombstone the parent
	newRefreshToken, err := GenerateRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("auth_service_refresh_token_failed: %w", err)
	}

	newSession := &Session{
		ID:                   uuidv7.New(),
		UserID:               session.UserID,
		RefreshTokenHash:     DigestToken(newRefreshToken),
		RefreshExpiresAt:     now.Add(service.config.RefreshTokenTTL),
		RotatedFromSessionID: pointer.To(session.ID),
		CreatedAt:            now,
		LastSeenAt:           now,
		IP:                   ipAddress,
		UserAgent:            userAgent,
	}

	if err := tx.CreateSession(context, newSession); err != nil {
		return nil, fmt.Errorf("auth_service_refresh_create_session_failed: %w", err)
	}

	if err := tx.RevokeSession(context, session.ID, now); err != nil {
		return nil, fmt.Errorf("auth_service_refresh_revoke_failed: %w", err)
	}

	accessToken, err := service.tokenProvider.GenerateAccessToken(session.UserID, service.config.AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("auth_service_token_generation_failed: %w", err)
	}

	if err := tx.Commit(context); err != nil {
		return nil, fmt.Errorf("auth_service_refresh_commit_failed: %w", err)
	}

	service.audit.Record(context, pointer.To(session.UserID), EventRefreshRotated, ipAddress, userAgent)

	return &AuthSession{
		AccessToken:           accessToken,
		RefreshToken:          newRefreshToken,
		RefreshTokenExpiresAt: newSession.RefreshExpiresAt,
	}, nil
}

// revokeChain burns a session and every generation rotated from it, then
// commits. The commit happens here because reuse/expiry/hijack handling
// must persist the revocations even though the request itself fails.
func (service *Service) revokeChain(context context.Context, tx Tx, rootSessionID string, revokedAt time.Time) error {
	chainIDs, err := tx.CollectChainIDs(context, rootSessionID)
	if err != nil {
		return fmt.Errorf("auth_service_chain_collect_failed: %w", err)
	}

	if err := tx.RevokeSessions(context, chainIDs, revokedAt); err != nil {
		return fmt.Errorf("auth_service_chain_revoke_failed: %w", err)
	}

	if err := tx.Commit(context); err != nil {
		return fmt.Errorf("auth_service_chain_commit_failed: %w", err)
	}

	return nil
}

// # Logout

/*
Logout revokes the session matching the presented refresh token.

Description: Succeeds for as long as the session row exists, already revoked
or not, so clients can safely retry. Only a token that matches no row at all
is rejected.

Parameters:
  - context: context.Context
  - refreshToken: string (raw token from the cookie)

Returns:
  - error: ErrInvalidRefreshToken if no session matches
*/
func (service *Service) Logout(context context.Context, refreshToken string) error {
	tx, err := service.store.Begin(context)
	if err != nil {
		return fmt.Errorf("auth_service_logout_begin_failed: %w", err)
	}
	defer func() { _ = tx.Rollback(context) }()

	session, err := tx.LockSessionByTokenHash(context, DigestToken(refreshToken))
	if err != nil {
		if errors.Is(err, dberr.ErrNotFound) {
			return ErrInvalidRefreshToken
		}
		return fmt.Errorf("auth_service_logout_lock_failed: %w", err)
	}

	// COALESCE keeps the original revocation instant on repeat logouts
	if err := tx.RevokeSession(context, session.ID, time.Now()); err != nil {
		return fmt.Errorf("auth_service_logout_revoke_failed: %w", err)
	}

	if err := tx.Commit(context); err != nil {
		return fmt.Errorf("auth_service_logout_commit_failed: %w", err)
	}

	service.audit.Record(context, pointer.To(session.UserID), EventLogout, "", "")

	return nil
}

/*
LogoutAll revokes every active session of the authenticated user.

Parameters:
  - context: context.Context
  - userID: string (from the verified access token)

Returns:
  - error: Execution failures
*/
func (service *Service) LogoutAll(context context.Context, userID string) error {
	count, err := service.store.RevokeUserSessions(context, userID, time.Now())
	if err != nil {
		return fmt.Errorf("auth_service_logout_all_failed: %w", err)
	}

	service.log.InfoContext(context, "sessions_revoked",
		slog.String("user_id", userID),
		slog.Int64("count", count),
	)

	service.audit.Record(context, pointer.To(userID), EventLogoutAll, "", "")

	return nil
}

// # Identity

/*
CurrentUser resolves the account behind a verified access token.

Description: A valid JWT whose user row has vanished (deleted account) is
treated as unauthenticated, not as an internal error.

Parameters:
  - context: context.Context
  - userID: string (from the verified access token)

Returns:
  - *User: Public account projection
  - error: apperr.Unauthorized if the account no longer exists
*/
func (service *Service) CurrentUser(context context.Context, userID string) (*User, error) {
	user, err := service.store.FindUserByID(context, userID)
	if err != nil {
		if errors.Is(err, dberr.ErrNotFound) {
			return nil, apperr.Unauthorized("Unauthorized")
		}
		return nil, fmt.Errorf("auth_service_current_user_failed: %w", err)
	}

	return user, nil
}

// # Helpers

// NormalizeEmail canonicalizes an address: trimmed and lowercased. Budgets,
// challenges, and the unique user index all operate on this form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
