// Copyright (c) 2026 Keyra. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// PostgreSQL implementation of the auth storage contracts.
//
// # Architecture
//
// The store is strictly separated from domain logic: it implements the
// domain-defined [Store] and [Tx] interfaces on top of a [pgxpool.Pool].
//
// # err Mapping
//
// Storage-specific errors (pgx.ErrNoRows, SQLSTATE codes) are mapped through
// [dberr.Wrap] to domain-friendly [apperr.AppError] values, so callers branch
// on dberr.ErrNotFound instead of driver sentinels.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/z9k1/Keyra/internal/platform/dberr"
)

// # Store

// PostgresAuthStore implements the [Store] interface using pgx.
type PostgresAuthStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates the PostgreSQL implementation of the auth [Store].
func NewPostgresStore(pool *pgxpool.Pool) *PostgresAuthStore {
	return &PostgresAuthStore{pool: pool}
}

/*
Begin opens a database transaction and wraps it in the domain [Tx] handle.

Parameters:
  - context: context.Context

Returns:
  - Tx: Transaction handle
  - error: Connection acquisition failures
*/
func (store *PostgresAuthStore) Begin(context context.Context) (Tx, error) {
	tx, err := store.pool.Begin(context)
	if err != nil {
		return nil, fmt.Errorf("postgres_auth_store_begin_failed: %w", err)
	}
	return &PostgresAuthTx{tx: tx}, nil
}

/*
CreateChallenge persists a freshly issued login challenge.

Description: Single-statement insert, atomic on its own, so it runs directly
on the pool without an explicit transaction.

Parameters:
  - context: context.Context
  - challenge: *LoginChallenge (Entity to persist)

Returns:
  - error: Constraint violations or connectivity errors
*/
func (store *PostgresAuthStore) CreateChallenge(context context.Context, challenge *LoginChallenge) error {
	const query = `
		INSERT INTO login_challenges (
			id, email, token_hash, expires_at, used_at, request_ip, request_user_agent, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	if challenge.CreatedAt.IsZero() {
		challenge.CreatedAt = time.Now()
	}

	_, err := store.pool.Exec(context, query,
		challenge.ID,
		challenge.Email,
		challenge.TokenHash,
		challenge.ExpiresAt,
		challenge.UsedAt,
		nullIfEmpty(challenge.RequestIP),
		nullIfEmpty(challenge.RequestUserAgent),
		challenge.CreatedAt,
	)

	if err != nil {
		return dberr.Wrap(err, "postgres_auth_store_create_challenge")
	}

	return nil
}

/*
FindUserByID retrieves a user record by primary key.

Parameters:
  - context: context.Context
  - userID: string

Returns:
  - *User: Hydrated account entity
  - error: dberr.ErrNotFound or database errors
*/
func (store *PostgresAuthStore) FindUserByID(context context.Context, userID string) (*User, error) {
	const query = `
		SELECT id, email, email_verified_at, created_at
		FROM users
		WHERE id = $1`

	user := &User{}
	err := store.pool.QueryRow(context, query, userID).Scan(
		&user.ID,
		&user.Email,
		&user.EmailVerifiedAt,
		&user.CreatedAt,
	)

	if err != nil {
		return nil, dberr.Wrap(err, "postgres_auth_store_find_user_by_id")
	}

	return user, nil
}

/*
RevokeUserSessions tombstones every active session of a user.

Description: One UPDATE filtered on revoked_at IS NULL, so rows revoked
earlier keep their original timestamp and the statement stays idempotent.

Parameters:
  - context: context.Context
  - userID: string
  - revokedAt: time.Time

Returns:
  - int64: Number of sessions transitioned to revoked
  - error: Execution failures
*/
func (store *PostgresAuthStore) RevokeUserSessions(context context.Context, userID string, revokedAt time.Time) (int64, error) {
	const query = `
		UPDATE sessions
		SET revoked_at = $2
		WHERE user_id = $1 AND revoked_at IS NULL`

	tag, err := store.pool.Exec(context, query, userID, revokedAt)
	if err != nil {
		return 0, dberr.Wrap(err, "postgres_auth_store_revoke_user_sessions")
	}

	return tag.RowsAffected(), nil
}

/*
InsertAudit appends one security event record.

Parameters:
  - context: context.Context
  - entry: *AuditEntry

Returns:
  - error: Execution failures
*/
func (store *PostgresAuthStore) InsertAudit(context context.Context, entry *AuditEntry) error {
	const query = `
		INSERT INTO audit_logs (
			id, user_id, event, ip, user_agent, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)`

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	_, err := store.pool.Exec(context, query,
		entry.ID,
		entry.UserID,
		entry.Event,
		nullIfEmpty(entry.IP),
		nullIfEmpty(entry.UserAgent),
		entry.CreatedAt,
	)

	if err != nil {
		return dberr.Wrap(err, "postgres_auth_store_insert_audit")
	}

	return nil
}

/*
DeleteDeadChallenges physically removes challenges that expired before the cutoff.

Parameters:
  - context: context.Context
  - cutoff: time.Time

Returns:
  - int64: Number of rows deleted
  - error: Execution failures
*/
func (store *PostgresAuthStore) DeleteDeadChallenges(context context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM login_challenges WHERE expires_at <= $1`

	tag, err := store.pool.Exec(context, query, cutoff)
	if err != nil {
		return 0, dberr.Wrap(err, "postgres_auth_store_delete_dead_challenges")
	}

	return tag.RowsAffected(), nil
}

/*
DeleteExpiredSessions physically removes sessions whose refresh window closed
before the cutoff.

Description: Revoked-but-unexpired rows deliberately survive: they are the
evidence the reuse detector matches presented tokens against.

Parameters:
  - context: context.Context
  - cutoff: time.Time

Returns:
  - int64: Number of rows deleted
  - error: Execution failures
*/
func (store *PostgresAuthStore) DeleteExpiredSessions(context context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM sessions WHERE refresh_expires_at <= $1`

	tag, err := store.pool.Exec(context, query, cutoff)
	if err != nil {
		return 0, dberr.Wrap(err, "postgres_auth_store_delete_expired_sessions")
	}

	return tag.RowsAffected(), nil
}

// # Transaction Handle

// PostgresAuthTx implements the [Tx] interface over a live pgx transaction.
type PostgresAuthTx struct {
	tx pgx.Tx
}

// Commit finalizes the transaction.
func (transaction *PostgresAuthTx) Commit(context context.Context) error {
	if err := transaction.tx.Commit(context); err != nil {
		return fmt.Errorf("postgres_auth_tx_commit_failed: %w", err)
	}
	return nil
}

// Rollback aborts the transaction. Calling it after a successful Commit is
// a no-op, which keeps the deferred-rollback idiom in the service layer safe.
func (transaction *PostgresAuthTx) Rollback(context context.Context) error {
	if err := transaction.tx.Rollback(context); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("postgres_auth_tx_rollback_failed: %w", err)
	}
	return nil
}

/*
LockValidChallenge locks and returns the unused, unexpired challenge matching
the token digest.

Description: FOR UPDATE serializes concurrent verifications of the same link;
the loser of the race re-evaluates the predicate and finds used_at set.

Parameters:
  - context: context.Context
  - tokenHash: string
  - now: time.Time

Returns:
  - *LoginChallenge: Row-locked entity
  - error: dberr.ErrNotFound if absent, used, or expired
*/
func (transaction *PostgresAuthTx) LockValidChallenge(context context.Context, tokenHash string, now time.Time) (*LoginChallenge, error) {
	const query = `
		SELECT id, email, token_hash, expires_at, used_at,
		       COALESCE(request_ip, ''), COALESCE(request_user_agent, ''), created_at
		FROM login_challenges
		WHERE token_hash = $1 AND used_at IS NULL AND expires_at > $2
		FOR UPDATE`

	challenge := &LoginChallenge{}
	err := transaction.tx.QueryRow(context, query, tokenHash, now).Scan(
		&challenge.ID,
		&challenge.Email,
		&challenge.TokenHash,
		&challenge.ExpiresAt,
		&challenge.UsedAt,
		&challenge.RequestIP,
		&challenge.RequestUserAgent,
		&challenge.CreatedAt,
	)

	if err != nil {
		return nil, dberr.Wrap(err, "postgres_auth_tx_lock_valid_challenge")
	}

	return challenge, nil
}

/*
MarkChallengeUsed consumes a challenge under the row lock.

Parameters:
  - context: context.Context
  - challengeID: string
  - usedAt: time.Time

Returns:
  - error: Execution failures
*/
func (transaction *PostgresAuthTx) MarkChallengeUsed(context context.Context, challengeID string, usedAt time.Time) error {
	const query = `UPDATE login_challenges SET used_at = $2 WHERE id = $1`

	if _, err := transaction.tx.Exec(context, query, challengeID, usedAt); err != nil {
		return dberr.Wrap(err, "postgres_auth_tx_mark_challenge_used")
	}

	return nil
}

/*
FindUserByEmail retrieves a user record by normalized email.

Parameters:
  - context: context.Context
  - email: string

Returns:
  - *User: Hydrated account entity
  - error: dberr.ErrNotFound or database errors
*/
func (transaction *PostgresAuthTx) FindUserByEmail(context context.Context, email string) (*User, error) {
	const query = `
		SELECT id, email, email_verified_at, created_at
		FROM users
		WHERE email = $1`

	user := &User{}
	err := transaction.tx.QueryRow(context, query, email).Scan(
		&user.ID,
		&user.Email,
		&user.EmailVerifiedAt,
		&user.CreatedAt,
	)

	if err != nil {
		return nil, dberr.Wrap(err, "postgres_auth_tx_find_user_by_email")
	}

	return user, nil
}

/*
CreateUser persists a brand-new account inside the transaction.

Parameters:
  - context: context.Context
  - user: *User

Returns:
  - error: dberr.ErrDuplicate on email collision, or execution failures
*/
func (transaction *PostgresAuthTx) CreateUser(context context.Context, user *User) error {
	const query = `
		INSERT INTO users (
			id, email, email_verified_at, created_at
		) VALUES ($1, $2, $3, $4)`

	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}

	_, err := transaction.tx.Exec(context, query,
		user.ID,
		user.Email,
		user.EmailVerifiedAt,
		user.CreatedAt,
	)

	if err != nil {
		return dberr.Wrap(err, "postgres_auth_tx_create_user")
	}

	return nil
}

/*
CreateSession persists a new refresh-token generation inside the transaction.

Parameters:
  - context: context.Context
  - session: *Session

Returns:
  - error: Execution failures
*/
func (transaction *PostgresAuthTx) CreateSession(context context.Context, session *Session) error {
	const query = `
		INSERT INTO sessions (
			id, user_id, refresh_token_hash, refresh_expires_at,
			rotated_from_session_id, revoked_at, created_at, last_seen_at, ip, user_agent
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.LastSeenAt.IsZero() {
		session.LastSeenAt = now
	}

	_, err := transaction.tx.Exec(context, query,
		session.ID,
		session.UserID,
		session.RefreshTokenHash,
		session.RefreshExpiresAt,
		session.RotatedFromSessionID,
		session.RevokedAt,
		session.CreatedAt,
		session.LastSeenAt,
		nullIfEmpty(session.IP),
		nullIfEmpty(session.UserAgent),
	)

	if err != nil {
		return dberr.Wrap(err, "postgres_auth_tx_create_session")
	}

	return nil
}

/*
LockSessionByTokenHash locks and returns the session matching the refresh
token digest, in whatever state it is in.

Description: No state predicate in the WHERE clause: the refresh flow must
see revoked and expired rows to classify reuse and expiry itself.

Parameters:
  - context: context.Context
  - tokenHash: string

Returns:
  - *Session: Row-locked entity
  - error: dberr.ErrNotFound if no session matches
*/
func (transaction *PostgresAuthTx) LockSessionByTokenHash(context context.Context, tokenHash string) (*Session, error) {
	const query = `
		SELECT id, user_id, refresh_token_hash, refresh_expires_at,
		       rotated_from_session_id, revoked_at, created_at, last_seen_at,
		       COALESCE(ip, ''), COALESCE(user_agent, '')
		FROM sessions
		WHERE refresh_token_hash = $1
		FOR UPDATE`

	session := &Session{}
	err := transaction.tx.QueryRow(context, query, tokenHash).Scan(
		&session.ID,
		&session.UserID,
		&session.RefreshTokenHash,
		&session.RefreshExpiresAt,
		&session.RotatedFromSessionID,
		&session.RevokedAt,
		&session.CreatedAt,
		&session.LastSeenAt,
		&session.IP,
		&session.UserAgent,
	)

	if err != nil {
		return nil, dberr.Wrap(err, "postgres_auth_tx_lock_session_by_token_hash")
	}

	return session, nil
}

/*
RevokeSession tombstones one session, preserving any earlier revocation.

Parameters:
  - context: context.Context
  - sessionID: string
  - revokedAt: time.Time

Returns:
  - error: Execution failures
*/
func (transaction *PostgresAuthTx) RevokeSession(context context.Context, sessionID string, revokedAt time.Time) error {
	const query = `
		UPDATE sessions
		SET revoked_at = COALESCE(revoked_at, $2)
		WHERE id = $1`

	if _, err := transaction.tx.Exec(context, query, sessionID, revokedAt); err != nil {
		return dberr.Wrap(err, "postgres_auth_tx_revoke_session")
	}

	return nil
}

/*
CollectChainIDs walks rotated_from_session_id edges breadth-first from the
root session.

Description: Chains are short (one edge per legitimate rotation), so a
per-level query loop is simpler and plenty fast with the index on
rotated_from_session_id.

Parameters:
  - context: context.Context
  - rootSessionID: string

Returns:
  - []string: Root plus every descendant ID, root first
  - error: Retrieval failures
*/
func (transaction *PostgresAuthTx) CollectChainIDs(context context.Context, rootSessionID string) ([]string, error) {
	ids := []string{rootSessionID}
	seen := map[string]bool{rootSessionID: true}
	queue := []string{rootSessionID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		children, err := transaction.childSessionIDs(context, current)
		if err != nil {
			return nil, err
		}

		for _, childID := range children {
			if seen[childID] {
				continue
			}
			seen[childID] = true
			ids = append(ids, childID)
			queue = append(queue, childID)
		}
	}

	return ids, nil
}

// childSessionIDs returns the direct children of one session.
func (transaction *PostgresAuthTx) childSessionIDs(context context.Context, parentID string) ([]string, error) {
	const query = `SELECT id FROM sessions WHERE rotated_from_session_id = $1`

	rows, err := transaction.tx.Query(context, query, parentID)
	if err != nil {
		return nil, dberr.Wrap(err, "postgres_auth_tx_child_sessions_query")
	}
	defer rows.Close()

	var children []string
	for rows.Next() {
		var childID string
		if err := rows.Scan(&childID); err != nil {
			return nil, dberr.Wrap(err, "postgres_auth_tx_child_sessions_scan")
		}
		children = append(children, childID)
	}

	if err := rows.Err(); err != nil {
		return nil, dberr.Wrap(err, "postgres_auth_tx_child_sessions_rows")
	}

	return children, nil
}

/*
RevokeSessions tombstones the given sessions in one statement, preserving any
earlier revocation timestamps.

Parameters:
  - context: context.Context
  - sessionIDs: []string
  - revokedAt: time.Time

Returns:
  - error: Execution failures
*/
func (transaction *PostgresAuthTx) RevokeSessions(context context.Context, sessionIDs []string, revokedAt time.Time) error {
	if len(sessionIDs) == 0 {
		return nil
	}

	const query = `
		UPDATE sessions
		SET revoked_at = COALESCE(revoked_at, $2)
		WHERE id = ANY($1::uuid[])`

	if _, err := transaction.tx.Exec(context, query, sessionIDs, revokedAt); err != nil {
		return dberr.Wrap(err, "postgres_auth_tx_revoke_sessions")
	}

	return nil
}

// # Helpers

// nullIfEmpty maps the domain's empty-string convention for unknown values
// to SQL NULL.
func nullIfEmpty(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
