// Copyright (c) 2026 Keyra. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	stdctx "context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/z9k1/Keyra/internal/platform/constants"
)

// # Rate Limit Repository

// RedisRateLimitRepository implements [RateLimiter] with fixed-window
// counters in Redis.
//
// Redis is the source of truth so that every API replica draws from the
// same budget. A fixed window is deliberately simple: the worst case is a
// short burst of 2x the budget straddling a window boundary, which is
// acceptable for a five-per-ten-minutes email budget.
type RedisRateLimitRepository struct {
	client *redis.Client
}

// NewRedisRateLimiter creates a new Redis-backed [RateLimiter].
func NewRedisRateLimiter(client *redis.Client) *RedisRateLimitRepository {
	return &RedisRateLimitRepository{client: client}
}

/*
Admit counts one magic-link request against the email and IP budgets.

Description: Both counters are incremented atomically in a MULTI/EXEC
pipeline and have their expiry refreshed to the window length. A denied
request still counts: hammering the endpoint keeps the window loaded.

Parameters:
  - context: context.Context
  - email: string (normalized)
  - ip: string (empty is mapped to the shared "unknown" bucket)

Returns:
  - bool: true when both counters are within budget
  - error: Connectivity or execution errors (callers fail open)
*/
func (repository *RedisRateLimitRepository) Admit(context stdctx.Context, email, ip string) (bool, error) {

	// Addressless clients share one bucket rather than bypassing the limit
	if ip == "" {
		ip = UnknownIP
	}

	emailKey := constants.RedisPrefixRateLimitEmail + email
	ipKey := constants.RedisPrefixRateLimitIP + ip

	// The limiter sits on the hot path of an unauthenticated endpoint, so
	// it gets a tight deadline independent of the request deadline.
	opCtx, cancel := stdctx.WithTimeout(context, RateLimitTimeout)
	defer cancel()

	// Increment both counters and refresh the window atomically
	pipeline := repository.client.TxPipeline()
	emailCount := pipeline.Incr(opCtx, emailKey)
	pipeline.Expire(opCtx, emailKey, RateLimitWindow)
	ipCount := pipeline.Incr(opCtx, ipKey)
	pipeline.Expire(opCtx, ipKey, RateLimitWindow)

	if _, err := pipeline.Exec(opCtx); err != nil {
		return false, fmt.Errorf("redis_rate_limit_exec_failed: %w", err)
	}

	// Deny when either budget is exceeded
	if emailCount.Val() > RateLimitMaxRequests || ipCount.Val() > RateLimitMaxRequests {
		return false, nil
	}

	return true, nil
}
