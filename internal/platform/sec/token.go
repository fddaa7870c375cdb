// Copyright (c) 2026 Keyra. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package sec

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// GenerateSecureToken returns byteLength random bytes from the OS entropy
// source, encoded as unpadded URL-safe base64.
//
// The encoded form is what travels to the client (magic-link token,
// refresh cookie); only its digest is ever persisted.
func GenerateSecureToken(byteLength int) (string, error) {
	buffer := make([]byte, byteLength)
	if _, err := rand.Read(buffer); err != nil {
		return "", fmt.Errorf("sec: failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}

// HashToken returns the lowercase hex SHA-256 digest of a token.
//
// Storing digests instead of tokens means a leaked database dump cannot be
// replayed against the API. SHA-256 is sufficient here because the input is
// high-entropy random material, not a user-chosen password.
func HashToken(token string) string {
	digest := sha256.Sum256([]byte(token))
	return hex.EncodeToString(digest[:])
}
