// Copyright (c) 2026 Keyra. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/z9k1/Keyra/internal/auth"
	"github.com/z9k1/Keyra/internal/platform/constants"
)

func newLimiterFixture(t *testing.T) (*auth.RedisRateLimitRepository, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return auth.NewRedisRateLimiter(client), server
}

func TestRedisRateLimiter_EmailBudget(t *testing.T) {
	limiter, server := newLimiterFixture(t)

	// The whole budget is spent on one address from rotating IPs, so only
	// the email counter can trip.
	for i := 1; i <= auth.RateLimitMaxRequests; i++ {
		allowed, err := limiter.Admit(context.Background(), "kai@keyra.dev", fmt.Sprintf("10.0.0.%d", i))
		require.NoError(t, err)
		assert.True(t, allowed, "request %d is within budget", i)
	}

	allowed, err := limiter.Admit(context.Background(), "kai@keyra.dev", "10.0.0.99")
	require.NoError(t, err)
	assert.False(t, allowed, "request over budget must be denied")

	// Other addresses are untouched by the exhausted bucket
	allowed, err = limiter.Admit(context.Background(), "rin@keyra.dev", "10.0.0.99")
	require.NoError(t, err)
	assert.True(t, allowed)

	// Denied attempts still count: the window stays loaded
	count, err := server.Get(constants.RedisPrefixRateLimitEmail + "kai@keyra.dev")
	require.NoError(t, err)
	assert.Equal(t, "6", count)
}

func TestRedisRateLimiter_IPBudget(t *testing.T) {
	limiter, _ := newLimiterFixture(t)

	// Rotating addresses from one IP: the IP counter trips on its own
	for i := 1; i <= auth.RateLimitMaxRequests; i++ {
		allowed, err := limiter.Admit(context.Background(), fmt.Sprintf("user%d@keyra.dev", i), "203.0.113.7")
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	allowed, err := limiter.Admit(context.Background(), "fresh@keyra.dev", "203.0.113.7")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestRedisRateLimiter_MissingIPSharesUnknownBucket(t *testing.T) {
	limiter, server := newLimiterFixture(t)

	// Addressless clients may not bypass the IP budget: they all draw from
	// one shared bucket.
	for i := 1; i <= auth.RateLimitMaxRequests; i++ {
		allowed, err := limiter.Admit(context.Background(), fmt.Sprintf("ghost%d@keyra.dev", i), "")
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	allowed, err := limiter.Admit(context.Background(), "ghost99@keyra.dev", "")
	require.NoError(t, err)
	assert.False(t, allowed)

	count, err := server.Get(constants.RedisPrefixRateLimitIP + auth.UnknownIP)
	require.NoError(t, err)
	assert.Equal(t, "6", count)
}

func TestRedisRateLimiter_WindowExpiryResetsBudget(t *testing.T) {
	limiter, server := newLimiterFixture(t)

	for i := 1; i <= auth.RateLimitMaxRequests; i++ {
		_, err := limiter.Admit(context.Background(), "kai@keyra.dev", "10.0.0.1")
		require.NoError(t, err)
	}

	allowed, err := limiter.Admit(context.Background(), "kai@keyra.dev", "10.0.0.1")
	require.NoError(t, err)
	require.False(t, allowed)

	server.FastForward(auth.RateLimitWindow + time.Second)

	allowed, err = limiter.Admit(context.Background(), "kai@keyra.dev", "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, allowed, "counters expire with the window")
}

func TestRedisRateLimiter_OutageSurfacesError(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter := auth.NewRedisRateLimiter(client)
	server.Close()

	// The caller decides whether to fail open; the limiter only reports
	allowed, err := limiter.Admit(context.Background(), "kai@keyra.dev", "10.0.0.1")
	assert.Error(t, err)
	assert.False(t, allowed)
}
