// Copyright (c) 2026 Keyra. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"context"
	"time"
)

// # Persistent Data Access

// Store defines the persistence contract for the auth domain.
//
// Multi-step state transitions (verify, refresh) run inside one database
// transaction obtained via Begin; everything else is a single atomic
// statement executed directly on the pool.
type Store interface {

	/*
		Begin opens a transaction scoped to one service entry point.

		Parameters:
		  - context: context.Context

		Returns:
		  - Tx: Transaction handle exposing row-locking transitions
		  - error: Connection acquisition failures
	*/
	Begin(context context.Context) (Tx, error)

	/*
		CreateChallenge persists a freshly issued login challenge.

		Parameters:
		  - context: context.Context
		  - challenge: *LoginChallenge

		Returns:
		  - error: Persistence failures
	*/
	CreateChallenge(context context.Context, challenge *LoginChallenge) error

	/*
		FindUserByID returns the account with the given ID.

		Parameters:
		  - context: context.Context
		  - userID: string

		Returns:
		  - *User: Hydrated entity
		  - error: dberr.ErrNotFound or retrieval failures
	*/
	FindUserByID(context context.Context, userID string) (*User, error)

	/*
		RevokeUserSessions tombstones every active session of a user in one
		statement. Already-revoked rows keep their original timestamp.

		Parameters:
		  - context: context.Context
		  - userID: string
		  - revokedAt: time.Time

		Returns:
		  - int64: Number of sessions revoked
		  - error: Persistence failures
	*/
	RevokeUserSessions(context context.Context, userID string, revokedAt time.Time) (int64, error)

	/*
		InsertAudit appends one security event record.

		Parameters:
		  - context: context.Context
		  - entry: *AuditEntry

		Returns:
		  - error: Persistence failures
	*/
	InsertAudit(context context.Context, entry *AuditEntry) error

	/*
		DeleteDeadChallenges physically removes challenges that expired
		before the cutoff.

		Parameters:
		  - context: context.Context
		  - cutoff: time.Time

		Returns:
		  - int64: Number of rows deleted
		  - error: Persistence failures
	*/
	DeleteDeadChallenges(context context.Context, cutoff time.Time) (int64, error)

	/*
		DeleteExpiredSessions physically removes sessions whose refresh
		window closed before the cutoff.

		Parameters:
		  - context: context.Context
		  - cutoff: time.Time

		Returns:
		  - int64: Number of rows deleted
		  - error: Persistence failures
	*/
	DeleteExpiredSessions(context context.Context, cutoff time.Time) (int64, error)
}

// # Transactional Data Access

// Tx exposes the row-level state transitions available inside a single
// database transaction. Locking reads use SELECT ... FOR UPDATE so that
// concurrent presentations of the same token serialize instead of racing.
type Tx interface {

	// Commit finalizes the transaction.
	Commit(context context.Context) error

	// Rollback aborts the transaction. Safe to call after Commit.
	Rollback(context context.Context) error

	/*
		LockValidChallenge locks and returns the unused, unexpired challenge
		matching the token digest.

		Parameters:
		  - context: context.Context
		  - tokenHash: string (lowercase hex SHA-256)
		  - now: time.Time (expiry comparison instant)

		Returns:
		  - *LoginChallenge: Hydrated entity, row-locked for this transaction
		  - error: dberr.ErrNotFound if absent, used, or expired
	*/
	LockValidChallenge(context context.Context, tokenHash string, now time.Time) (*LoginChallenge, error)

	/*
		MarkChallengeUsed consumes a challenge. It is called exactly once,
		under the lock taken by LockValidChallenge.

		Parameters:
		  - context: context.Context
		  - challengeID: string
		  - usedAt: time.Time

		Returns:
		  - error: Persistence failures
	*/
	MarkChallengeUsed(context context.Context, challengeID string, usedAt time.Time) error

	/*
		FindUserByEmail returns the account with the given normalized email.

		Parameters:
		  - context: context.Context
		  - email: string

		Returns:
		  - *User: Hydrated entity
		  - error: dberr.ErrNotFound or retrieval failures
	*/
	FindUserByEmail(context context.Context, email string) (*User, error)

	/*
		CreateUser persists a brand-new account.

		Parameters:
		  - context: context.Context
		  - user: *User

		Returns:
		  - error: dberr.ErrDuplicate on email collision, or persistence failures
	*/
	CreateUser(context context.Context, user *User) error

	/*
		CreateSession persists a new refresh-token generation.

		Parameters:
		  - context: context.Context
		  - session: *Session

		Returns:
		  - error: Persistence failures
	*/
	CreateSession(context context.Context, session *Session) error

	/*
		LockSessionByTokenHash locks and returns the session matching the
		refresh token digest, regardless of its revocation or expiry state.
		The caller inspects the row and decides the transition.

		Parameters:
		  - context: context.Context
		  - tokenHash: string (lowercase hex SHA-256)

		Returns:
		  - *Session: Hydrated entity, row-locked for this transaction
		  - error: dberr.ErrNotFound if no session matches
	*/
	LockSessionByTokenHash(context context.Context, tokenHash string) (*Session, error)

	/*
		RevokeSession tombstones one session. An existing revocation
		timestamp is preserved, never overwritten.

		Parameters:
		  - context: context.Context
		  - sessionID: string
		  - revokedAt: time.Time

		Returns:
		  - error: Persistence failures
	*/
	RevokeSession(context context.Context, sessionID string, revokedAt time.Time) error

	/*
		CollectChainIDs walks rotated_from_session_id edges breadth-first
		from the root and returns the root plus every descendant session ID.

		Parameters:
		  - context: context.Context
		  - rootSessionID: string

		Returns:
		  - []string: Root and descendant IDs, root first
		  - error: Retrieval failures
	*/
	CollectChainIDs(context context.Context, rootSessionID string) ([]string, error)

	/*
		RevokeSessions tombstones the given sessions in one statement.
		Already-revoked rows keep their original timestamp.

		Parameters:
		  - context: context.Context
		  - sessionIDs: []string
		  - revokedAt: time.Time

		Returns:
		  - error: Persistence failures
	*/
	RevokeSessions(context context.Context, sessionIDs []string, revokedAt time.Time) error
}

// # Abuse Control

// RateLimiter is the shared issuance budget for magic links, counted per
// normalized email and per client IP across all API replicas.
type RateLimiter interface {

	/*
		Admit counts the request against both budgets and reports whether
		it fits. Counters are incremented even for denied requests.

		Parameters:
		  - context: context.Context
		  - email: string (normalized)
		  - ip: string (empty is mapped to the shared "unknown" bucket)

		Returns:
		  - bool: true if the request is within both budgets
		  - error: Backend failures; callers treat errors as admission
	*/
	Admit(context context.Context, email, ip string) (bool, error)
}

