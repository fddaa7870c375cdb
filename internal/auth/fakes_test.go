// Copyright (c) 2026 Keyra. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth_test

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/z9k1/Keyra/internal/auth"
	"github.com/z9k1/Keyra/internal/platform/dberr"
	"github.com/z9k1/Keyra/internal/platform/sec"
)

// Hand-rolled in-memory fakes for the repository contracts. Writes apply
// immediately; Commit only counts, so tests can assert that the revocations
// of the reuse/hijack branches were actually committed.

// # Fake Store

type memoryStore struct {
	mu         sync.Mutex
	users      map[string]*auth.User
	challenges map[string]*auth.LoginChallenge
	sessions   map[string]*auth.Session
	audits     []*auth.AuditEntry
	commits    int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		users:      make(map[string]*auth.User),
		challenges: make(map[string]*auth.LoginChallenge),
		sessions:   make(map[string]*auth.Session),
	}
}

func (store *memoryStore) Begin(ctx context.Context) (auth.Tx, error) {
	return &memoryTx{store: store}, nil
}

func (store *memoryStore) CreateChallenge(ctx context.Context, challenge *auth.LoginChallenge) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	copied := *challenge
	store.challenges[challenge.ID] = &copied
	return nil
}

func (store *memoryStore) FindUserByID(ctx context.Context, userID string) (*auth.User, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	user, ok := store.users[userID]
	if !ok {
		return nil, dberr.ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func (store *memoryStore) RevokeUserSessions(ctx context.Context, userID string, revokedAt time.Time) (int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var count int64
	for _, session := range store.sessions {
		if session.UserID == userID && session.RevokedAt == nil {
			at := revokedAt
			session.RevokedAt = &at
			count++
		}
	}
	return count, nil
}

func (store *memoryStore) InsertAudit(ctx context.Context, entry *auth.AuditEntry) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	copied := *entry
	store.audits = append(store.audits, &copied)
	return nil
}

func (store *memoryStore) DeleteDeadChallenges(ctx context.Context, cutoff time.Time) (int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var count int64
	for id, challenge := range store.challenges {
		if !challenge.ExpiresAt.After(cutoff) {
			delete(store.challenges, id)
			count++
		}
	}
	return count, nil
}

func (store *memoryStore) DeleteExpiredSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var count int64
	deleted := make(map[string]bool)
	for id, session := range store.sessions {
		if !session.RefreshExpiresAt.After(cutoff) {
			delete(store.sessions, id)
			deleted[id] = true
			count++
		}
	}
	// Mirror the schema's ON DELETE SET NULL on rotated_from_session_id
	for _, session := range store.sessions {
		if session.RotatedFromSessionID != nil && deleted[*session.RotatedFromSessionID] {
			session.RotatedFromSessionID = nil
		}
	}
	return count, nil
}

// # Inspection helpers

func (store *memoryStore) challengeByHash(tokenHash string) *auth.LoginChallenge {
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, challenge := range store.challenges {
		if challenge.TokenHash == tokenHash {
			copied := *challenge
			return &copied
		}
	}
	return nil
}

func (store *memoryStore) sessionByHash(tokenHash string) *auth.Session {
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, session := range store.sessions {
		if session.RefreshTokenHash == tokenHash {
			copied := *session
			return &copied
		}
	}
	return nil
}

func (store *memoryStore) sessionByID(id string) *auth.Session {
	store.mu.Lock()
	defer store.mu.Unlock()
	session, ok := store.sessions[id]
	if !ok {
		return nil
	}
	copied := *session
	return &copied
}

func (store *memoryStore) userByEmail(email string) *auth.User {
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, user := range store.users {
		if user.Email == email {
			copied := *user
			return &copied
		}
	}
	return nil
}

func (store *memoryStore) sessionCount() int {
	store.mu.Lock()
	defer store.mu.Unlock()
	return len(store.sessions)
}

func (store *memoryStore) challengeCount() int {
	store.mu.Lock()
	defer store.mu.Unlock()
	return len(store.challenges)
}

func (store *memoryStore) auditEvents() []string {
	store.mu.Lock()
	defer store.mu.Unlock()
	events := make([]string, 0, len(store.audits))
	for _, entry := range store.audits {
		events = append(events, entry.Event)
	}
	return events
}

func (store *memoryStore) commitCount() int {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.commits
}

// # Fake Transaction

type memoryTx struct {
	store *memoryStore
}

func (tx *memoryTx) Commit(ctx context.Context) error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	tx.store.commits++
	return nil
}

func (tx *memoryTx) Rollback(ctx context.Context) error { return nil }

func (tx *memoryTx) LockValidChallenge(ctx context.Context, tokenHash string, now time.Time) (*auth.LoginChallenge, error) {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	for _, challenge := range tx.store.challenges {
		if challenge.TokenHash == tokenHash && challenge.UsedAt == nil && challenge.ExpiresAt.After(now) {
			copied := *challenge
			return &copied, nil
		}
	}
	return nil, dberr.ErrNotFound
}

func (tx *memoryTx) MarkChallengeUsed(ctx context.Context, challengeID string, usedAt time.Time) error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	if challenge, ok := tx.store.challenges[challengeID]; ok && challenge.UsedAt == nil {
		at := usedAt
		challenge.UsedAt = &at
	}
	return nil
}

func (tx *memoryTx) FindUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	for _, user := range tx.store.users {
		if user.Email == email {
			copied := *user
			return &copied, nil
		}
	}
	return nil, dberr.ErrNotFound
}

func (tx *memoryTx) CreateUser(ctx context.Context, user *auth.User) error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	for _, existing := range tx.store.users {
		if existing.Email == user.Email {
			return dberr.ErrDuplicate
		}
	}
	copied := *user
	tx.store.users[user.ID] = &copied
	return nil
}

func (tx *memoryTx) CreateSession(ctx context.Context, session *auth.Session) error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	copied := *session
	tx.store.sessions[session.ID] = &copied
	return nil
}

func (tx *memoryTx) LockSessionByTokenHash(ctx context.Context, tokenHash string) (*auth.Session, error) {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	for _, session := range tx.store.sessions {
		if session.RefreshTokenHash == tokenHash {
			copied := *session
			return &copied, nil
		}
	}
	return nil, dberr.ErrNotFound
}

func (tx *memoryTx) RevokeSession(ctx context.Context, sessionID string, revokedAt time.Time) error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	if session, ok := tx.store.sessions[sessionID]; ok && session.RevokedAt == nil {
		at := revokedAt
		session.RevokedAt = &at
	}
	return nil
}

func (tx *memoryTx) CollectChainIDs(ctx context.Context, rootSessionID string) ([]string, error) {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()

	ids := []string{rootSessionID}
	seen := map[string]bool{rootSessionID: true}
	queue := []string{rootSessionID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for id, session := range tx.store.sessions {
			if session.RotatedFromSessionID != nil && *session.RotatedFromSessionID == current && !seen[id] {
				seen[id] = true
				ids = append(ids, id)
				queue = append(queue, id)
			}
		}
	}

	return ids, nil
}

func (tx *memoryTx) RevokeSessions(ctx context.Context, sessionIDs []string, revokedAt time.Time) error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	for _, id := range sessionIDs {
		if session, ok := tx.store.sessions[id]; ok && session.RevokedAt == nil {
			at := revokedAt
			session.RevokedAt = &at
		}
	}
	return nil
}

// # Fake Rate Limiter

type fakeLimiter struct {
	mu      sync.Mutex
	allowed bool
	err     error
	calls   int
	email   string
	ip      string
}

func (limiter *fakeLimiter) Admit(ctx context.Context, email, ip string) (bool, error) {
	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	limiter.calls++
	limiter.email = email
	limiter.ip = ip
	return limiter.allowed, limiter.err
}

// # Delivery Capture
//
// The magic-link token leaves the service only through the structured log
// (the delivery side channel). This handler captures it for tests.

type recordingHandler struct {
	mu      sync.Mutex
	records []map[string]string
}

func (handler *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (handler *recordingHandler) Handle(_ context.Context, record slog.Record) error {
	attrs := map[string]string{"msg": record.Message}
	record.Attrs(func(attr slog.Attr) bool {
		attrs[attr.Key] = attr.Value.String()
		return true
	})
	handler.mu.Lock()
	handler.records = append(handler.records, attrs)
	handler.mu.Unlock()
	return nil
}

func (handler *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return handler }
func (handler *recordingHandler) WithGroup(string) slog.Handler      { return handler }

// issuedToken returns the token attribute of the most recent magic_link_issued
// log record, or empty.
func (handler *recordingHandler) issuedToken() string {
	handler.mu.Lock()
	defer handler.mu.Unlock()
	for i := len(handler.records) - 1; i >= 0; i-- {
		if handler.records[i]["msg"] == "magic_link_issued" {
			return handler.records[i]["token"]
		}
	}
	return ""
}

// # Assembly

type serviceFixture struct {
	service *auth.Service
	store   *memoryStore
	limiter *fakeLimiter
	signer  *sec.TokenService
	logs    *recordingHandler
}

func newServiceFixture() *serviceFixture {
	store := newMemoryStore()
	limiter := &fakeLimiter{allowed: true}
	logs := &recordingHandler{}
	logger := slog.New(logs)

	signer, err := sec.NewTokenService("test-secret-please-rotate", "HS256")
	if err != nil {
		panic(err)
	}

	service := auth.NewService(
		store,
		limiter,
		signer,
		auth.NewRecorder(store, logger),
		auth.ServiceConfig{
			AccessTokenTTL:  15 * time.Minute,
			RefreshTokenTTL: 30 * 24 * time.Hour,
			ChallengeTTL:    10 * time.Minute,
		},
		logger,
	)

	return &serviceFixture{
		service: service,
		store:   store,
		limiter: limiter,
		signer:  signer,
		logs:    logs,
	}
}
