// Copyright (c) 2026 Keyra. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"context"
	"log/slog"
	"time"
)

// # Background Sweeping

// Janitor periodically deletes rows that can no longer influence any auth
// decision: challenges and sessions whose expiry lies more than the retention
// period in the past.
//
// Retention matters for security forensics: a revoked-but-unexpired session
// row is the evidence the reuse detector matches against, so the sweeper only
// ever touches rows past refresh_expires_at.
type Janitor struct {
	store     Store
	log       *slog.Logger
	interval  time.Duration
	retention time.Duration
}

// NewJanitor creates a [Janitor] with the default sweep cadence.
func NewJanitor(store Store, logger *slog.Logger) *Janitor {
	return &Janitor{
		store:     store,
		log:       logger,
		interval:  JanitorInterval,
		retention: JanitorRetention,
	}
}

// Run blocks, sweeping on a fixed ticker until the context is cancelled.
// It is meant to be started as a goroutine from main.
func (janitor *Janitor) Run(context context.Context) {
	ticker := time.NewTicker(janitor.interval)
	defer ticker.Stop()

	// One sweep at startup so a long-stopped deployment catches up immediately
	janitor.sweep(context)

	for {
		select {
		case <-ticker.C:
			janitor.sweep(context)
		case <-context.Done():
			return
		}
	}
}

// sweep deletes one batch of dead rows. Failures are logged and retried on
// the next tick; the janitor never takes the process down.
func (janitor *Janitor) sweep(context context.Context) {
	cutoff := time.Now().Add(-janitor.retention)

	challenges, err := janitor.store.DeleteDeadChallenges(context, cutoff)
	if err != nil {
		janitor.log.WarnContext(context, "janitor_challenge_sweep_failed", slog.Any("error", err))
	}

	sessions, err := janitor.store.DeleteExpiredSessions(context, cutoff)
	if err != nil {
		janitor.log.WarnContext(context, "janitor_session_sweep_failed", slog.Any("error", err))
	}

	if challenges > 0 || sessions > 0 {
		janitor.log.InfoContext(context, "janitor_sweep_completed",
			slog.Int64("challenges_deleted", challenges),
			slog.Int64("sessions_deleted", sessions),
		)
	}
}
