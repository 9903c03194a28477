package models

import (
	"time"

	"github.com/uptrace/bun"
)

// SyncOutcome classifies the result of a reconciliation attempt.
type SyncOutcome string

const (
	SyncSuccess SyncOutcome = "success"
	SyncFailed  SyncOutcome = "failed"
	SyncRetry   SyncOutcome = "retry"
)

// SyncLog is the append-only audit trail of reconciliation attempts.
// Diagnostics reads it; the authorization hot path never does.
type SyncLog struct {
	bun.BaseModel `bun:"table:sync_logs,alias:sl"`

	ID          int64       `bun:"id,pk,autoincrement"`
	ExternalID  string      `bun:"external_id,notnull"`
	EventType   string      `bun:"event_type,notnull"`
	Outcome     SyncOutcome `bun:"outcome,notnull"`
	ErrorDetail string      `bun:"error_detail"`
	RawPayload  []byte      `bun:"raw_payload,type:jsonb"`
	CreatedAt   time.Time   `bun:"created_at,notnull,default:current_timestamp"`
}

// PendingSync is a durable retry marker written when a client-triggered sync
// exhausts its retries. One row per subject; dropped on the next successful
// sync or once it exceeds the staleness bound.
type PendingSync struct {
	bun.BaseModel `bun:"table:pending_syncs,alias:ps"`

	ExternalID string    `bun:"external_id,pk"`
	Email      string    `bun:"email,notnull"`
	IsNewUser  bool      `bun:"is_new_user,notnull,default:false"`
	CreatedAt  time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
