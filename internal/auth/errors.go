// Copyright (c) 2026 Keyra. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"net/http"

	"github.com/z9k1/Keyra/internal/platform/apperr"
)

// Contract errors of the authentication API. The codes are fixed wire tags
// that clients branch on; changing one is a breaking API change.
//
// Note the deliberate vagueness of invalid_or_expired_token: expired, used,
// and never-issued challenges are indistinguishable to the caller, so a
// token cannot be probed for its state.
var (
	// ErrInvalidOrExpiredToken covers every way a magic-link token can fail.
	ErrInvalidOrExpiredToken = apperr.Tagged(http.StatusBadRequest, "invalid_or_expired_token", "Invalid or expired token")

	// ErrMissingRefreshToken is returned when the refresh_token cookie is absent.
	ErrMissingRefreshToken = apperr.Tagged(http.StatusUnauthorized, "missing_refresh_token", "Missing refresh token")

	// ErrInvalidRefreshToken is returned when no session matches the presented token.
	ErrInvalidRefreshToken = apperr.Tagged(http.StatusUnauthorized, "invalid_refresh_token", "Invalid refresh token")

	// ErrRefreshTokenExpired is returned when the matched session has aged out.
	ErrRefreshTokenExpired = apperr.Tagged(http.StatusUnauthorized, "refresh_token_expired", "Refresh token expired")

	// ErrRefreshTokenReuse is returned when an already-revoked token is presented
	// again. The whole session chain is revoked before this error is returned.
	ErrRefreshTokenReuse = apperr.Tagged(http.StatusUnauthorized, "refresh_token_reuse", "Refresh token reuse detected")

	// ErrSessionHijacking is returned when the presenting client's IP or user
	// agent contradicts the one bound to the session.
	ErrSessionHijacking = apperr.Tagged(http.StatusUnauthorized, "session_hijacking", "Session hijacking detected")
)
