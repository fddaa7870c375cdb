// Copyright (c) 2026 Keyra. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/z9k1/Keyra/internal/auth"
	"github.com/z9k1/Keyra/pkg/uuidv7"
)

func TestJanitor_SweepsOnlyLongDeadRows(t *testing.T) {
	store := newMemoryStore()
	now := time.Now()

	// Challenge dead for two days: swept
	require.NoError(t, store.CreateChallenge(context.Background(), &auth.LoginChallenge{
		ID:        uuidv7.New(),
		Email:     "old@example.com",
		TokenHash: "old-challenge-hash",
		ExpiresAt: now.Add(-48 * time.Hour),
	}))

	// Challenge still live: kept
	require.NoError(t, store.CreateChallenge(context.Background(), &auth.LoginChallenge{
		ID:        uuidv7.New(),
		Email:     "fresh@example.com",
		TokenHash: "fresh-challenge-hash",
		ExpiresAt: now.Add(10 * time.Minute),
	}))

	tx, err := store.Begin(context.Background())
	require.NoError(t, err)

	// Session expired two days ago: swept
	require.NoError(t, tx.CreateSession(context.Background(), &auth.Session{
		ID:               uuidv7.New(),
		UserID:           uuidv7.New(),
		RefreshTokenHash: "old-session-hash",
		RefreshExpiresAt: now.Add(-48 * time.Hour),
	}))

	// Revoked but unexpired session: kept, it still feeds reuse detection
	revokedAt := now.Add(-time.Hour)
	require.NoError(t, tx.CreateSession(context.Background(), &auth.Session{
		ID:               uuidv7.New(),
		UserID:           uuidv7.New(),
		RefreshTokenHash: "revoked-session-hash",
		RefreshExpiresAt: now.Add(29 * 24 * time.Hour),
		RevokedAt:        &revokedAt,
	}))

	// Rotation pair: the expired parent goes even though its live child still
	// points at it; the child survives with the back-link detached.
	chainUserID := uuidv7.New()
	parentID := uuidv7.New()
	require.NoError(t, tx.CreateSession(context.Background(), &auth.Session{
		ID:               parentID,
		UserID:           chainUserID,
		RefreshTokenHash: "chain-parent-hash",
		RefreshExpiresAt: now.Add(-48 * time.Hour),
	}))
	require.NoError(t, tx.CreateSession(context.Background(), &auth.Session{
		ID:                   uuidv7.New(),
		UserID:               chainUserID,
		RefreshTokenHash:     "chain-child-hash",
		RefreshExpiresAt:     now.Add(20 * 24 * time.Hour),
		RotatedFromSessionID: &parentID,
	}))

	// A cancelled context makes Run perform exactly one sweep and return
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	auth.NewJanitor(store, slog.Default()).Run(ctx)

	assert.Equal(t, 1, store.challengeCount())
	assert.Nil(t, store.challengeByHash("old-challenge-hash"))
	assert.NotNil(t, store.challengeByHash("fresh-challenge-hash"))

	assert.Equal(t, 2, store.sessionCount())
	assert.Nil(t, store.sessionByHash("old-session-hash"))
	assert.NotNil(t, store.sessionByHash("revoked-session-hash"))

	assert.Nil(t, store.sessionByHash("chain-parent-hash"))
	child := store.sessionByHash("chain-child-hash")
	require.NotNil(t, child)
	assert.Nil(t, child.RotatedFromSessionID)
}
