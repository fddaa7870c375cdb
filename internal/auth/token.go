// Copyright (c) 2026 Keyra. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import "github.com/z9k1/Keyra/internal/platform/sec"

// # Token Codec
//
// Opaque credentials are unpadded URL-safe base64 over crypto/rand bytes.
// The database only ever sees SHA-256 digests; the plaintext exists in the
// response (refresh cookie) or the delivery side channel (magic link) and
// nowhere else.

// GenerateChallengeToken mints a magic-link token (256 bits of entropy).
func GenerateChallengeToken() (string, error) {
	return sec.GenerateSecureToken(ChallengeTokenLength)
}

// GenerateRefreshToken mints a refresh token (384 bits of entropy).
func GenerateRefreshToken() (string, error) {
	return sec.GenerateSecureToken(RefreshTokenLength)
}

// DigestToken computes the stable digest under which a token is persisted
// and looked up: lowercase hex SHA-256 of the token's UTF-8 bytes.
func DigestToken(token string) string {
	return sec.HashToken(token)
}
