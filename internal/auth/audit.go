// Copyright (c) 2026 Keyra. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/z9k1/Keyra/pkg/uuidv7"
)

// # Security Audit Trail

// AuditStore is the narrow persistence surface the recorder needs.
// [Store] satisfies it, and tests can substitute a buffer.
type AuditStore interface {
	InsertAudit(context context.Context, entry *AuditEntry) error
}

// Recorder appends security events to the audit log.
//
// Recording is strictly fire-and-forget: a failed write is logged and
// swallowed, because no authentication outcome may ever depend on the
// audit trail being writable.
type Recorder struct {
	store AuditStore
	log   *slog.Logger
}

// NewRecorder creates an audit [Recorder].
func NewRecorder(store AuditStore, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, log: logger}
}

/*
Record appends one event to the audit trail.

Parameters:
  - context: context.Context
  - userID: *string (nil when no user is associated yet)
  - event: string (one of the Event* tags)
  - ip: string
  - userAgent: string
*/
func (recorder *Recorder) Record(context context.Context, userID *string, event, ip, userAgent string) {
	entry := &AuditEntry{
		ID:        uuidv7.New(),
		UserID:    userID,
		Event:     event,
		IP:        ip,
		UserAgent: userAgent,
		CreatedAt: time.Now(),
	}

	if err := recorder.store.InsertAudit(context, entry); err != nil {
		recorder.log.WarnContext(context, "audit_write_failed",
			slog.String("event", event),
			slog.Any("error", err),
		)
	}
}
