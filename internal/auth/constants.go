// Copyright (c) 2026 Keyra. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import "time"

// # Token Shapes

const (
	// ChallengeTokenLength is the entropy (in bytes) of a magic-link token.
	// 32 bytes encodes to a 43-character URL-safe string.
	ChallengeTokenLength = 32

	// RefreshTokenLength is the entropy (in bytes) of a refresh token.
	// Refresh tokens live for weeks, so they carry more entropy than
	// the ten-minute challenges.
	RefreshTokenLength = 48
)

// # Magic-Link Rate Limiting
//
// Counted per normalized email AND per client IP over a fixed window.
// Both budgets must hold for a challenge to be issued.

const (
	// RateLimitWindow is the fixed counting window.
	RateLimitWindow = 10 * time.Minute

	// RateLimitMaxRequests is the number of requests admitted per key per window.
	RateLimitMaxRequests = 5

	// RateLimitTimeout caps the Redis round trip. When the deadline is hit
	// the limiter reports an error and the caller falls open: login
	// availability outranks abuse control.
	RateLimitTimeout = 200 * time.Millisecond

	// UnknownIP substitutes for an undeterminable client address so that
	// addressless requests still share one rate-limit bucket.
	UnknownIP = "unknown"
)

// # Audit Event Tags

const (
	EventMagicRequested   = "magic.requested"
	EventMagicRateLimited = "magic.rate_limited"
	EventMagicVerified    = "magic.verified"
	EventRefreshRotated   = "refresh.rotated"
	EventRefreshReuse     = "refresh.reuse_detected"
	EventRefreshHijack    = "refresh.hijack_detected"
	EventLogout           = "logout"
	EventLogoutAll        = "logout_all"
)

// # Background Sweeping

const (
	// JanitorInterval is how often dead rows are swept.
	JanitorInterval = 1 * time.Hour

	// JanitorRetention keeps expired rows around briefly for incident
	// forensics before the sweeper deletes them.
	JanitorRetention = 24 * time.Hour
)
