// Copyright (c) 2026 Keyra. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import "time"

// # Domain Entities

// User is an account identified by email alone. There is no password
// column anywhere: possession of the email inbox is the credential.
type User struct {
	// ID is the user's unique identifier (UUIDv7).
	ID string `json:"id"`

	// Email is the unique, normalized (trimmed, lowercased) address.
	Email string `json:"email"`

	// EmailVerifiedAt is reserved for a future explicit verification flow.
	// Completing a magic link proves inbox possession for login purposes,
	// but does not set this marker.
	EmailVerifiedAt *time.Time `json:"email_verified_at"`

	// CreatedAt is when the account was first seen.
	CreatedAt time.Time `json:"created_at"`
}

// LoginChallenge is a single-use, short-lived magic-link token issuance.
// Only the SHA-256 digest of the token is stored.
type LoginChallenge struct {
	// ID is the challenge's unique identifier (UUIDv7).
	ID string `json:"id"`

	// Email is the normalized address the link was issued for. The user row
	// is created lazily at verification time, so this is a plain string,
	// not a foreign key.
	Email string `json:"email"`

	// TokenHash is the lowercase hex SHA-256 digest of the emailed token.
	TokenHash string `json:"-"`

	// ExpiresAt bounds the challenge lifetime (default 10 minutes).
	ExpiresAt time.Time `json:"expires_at"`

	// UsedAt is set exactly once, when the challenge is consumed.
	UsedAt *time.Time `json:"used_at"`

	// RequestIP is the client address that requested the link.
	// Empty means the address could not be determined.
	RequestIP string `json:"request_ip"`

	// RequestUserAgent is the client user agent that requested the link.
	RequestUserAgent string `json:"request_user_agent"`

	// CreatedAt is when the challenge was issued.
	CreatedAt time.Time `json:"created_at"`
}

// Session is one refresh-token generation. Rotation creates a child row
// pointing at its parent, so a compromised token can be traced and its
// whole descendant chain revoked together.
type Session struct {
	// ID is the session's unique identifier (UUIDv7).
	ID string `json:"id"`

	// UserID references the owning user.
	UserID string `json:"user_id"`

	// RefreshTokenHash is the lowercase hex SHA-256 digest of the refresh token.
	RefreshTokenHash string `json:"-"`

	// RefreshExpiresAt bounds the refresh token lifetime (default 30 days).
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`

	// RotatedFromSessionID links to the parent session this one was rotated
	// from. Nil marks a root session created by magic-link verification.
	RotatedFromSessionID *string `json:"rotated_from_session_id"`

	// RevokedAt is a tombstone: once set it is never cleared or overwritten.
	RevokedAt *time.Time `json:"revoked_at"`

	// CreatedAt is when this generation was minted.
	CreatedAt time.Time `json:"created_at"`

	// LastSeenAt tracks the most recent successful use.
	LastSeenAt time.Time `json:"last_seen_at"`

	// IP is the client address bound to this session generation.
	// Empty means the address could not be determined.
	IP string `json:"ip"`

	// UserAgent is the client user agent bound to this session generation.
	UserAgent string `json:"user_agent"`
}

// AuditEntry is an append-only security event record.
type AuditEntry struct {
	// ID is the entry's unique identifier (UUIDv7).
	ID string `json:"id"`

	// UserID is the affected user, when one is known. Rate-limit denials
	// and anonymous magic-link requests have no user yet.
	UserID *string `json:"user_id"`

	// Event is the dot-separated event tag (see the Event* constants).
	Event string `json:"event"`

	// IP is the client address observed on the triggering request.
	IP string `json:"ip"`

	// UserAgent is the client user agent observed on the triggering request.
	UserAgent string `json:"user_agent"`

	// CreatedAt is when the event was recorded.
	CreatedAt time.Time `json:"created_at"`
}

// # Service Results

// AuthSession carries the freshly minted token pair out of the service layer.
// The raw refresh token exists only here and in the Set-Cookie header; it is
// never persisted or logged.
type AuthSession struct {
	AccessToken           string
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
}

// # Field Identifiers
// JSON field names referenced by the HTTP layer for validation errors.

const (
	FieldEmail = "email"
	FieldToken = "token"
)
