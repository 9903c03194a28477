package models

import (
	"time"

	"github.com/uptrace/bun"
)

// InvitationStatus enumerates the invitation lifecycle.
//
// "expired" is derived at read time (status still pending but past expiry);
// it is never written back, so a lazily-read row stays pending in storage.
type InvitationStatus string

const (
	InvitationPending   InvitationStatus = "pending"
	InvitationAccepted  InvitationStatus = "accepted"
	InvitationCancelled InvitationStatus = "cancelled"
	InvitationExpired   InvitationStatus = "expired"
)

// Invitation records one admin invite. The token is the sole capability
// needed to accept, so it must be unguessable and single-use.
type Invitation struct {
	bun.BaseModel `bun:"table:invitations,alias:inv"`

	ID                  string           `bun:"id,pk,type:uuid"`
	Email               string           `bun:"email,notnull"`
	RoleID              int              `bun:"role_id,notnull"`
	InvitedByExternalID string           `bun:"invited_by_external_id,notnull"`
	CustomMessage       string           `bun:"custom_message"`
	Status              InvitationStatus `bun:"status,notnull,default:'pending'"`
	Token               string           `bun:"token,notnull,unique"`
	ExpiresAt           time.Time        `bun:"expires_at,notnull"`
	CreatedAt           time.Time        `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt           time.Time        `bun:"updated_at,notnull,default:current_timestamp"`
	AcceptedAt          *time.Time       `bun:"accepted_at"`
	CancelledAt         *time.Time       `bun:"cancelled_at"`
}

// EffectiveStatus applies the lazy expiry derivation: a pending invitation
// past its expiry reads as expired without a separate write.
func (inv *Invitation) EffectiveStatus(now time.Time) InvitationStatus {
	if inv.Status == InvitationPending && now.After(inv.ExpiresAt) {
		return InvitationExpired
	}
	return inv.Status
}

// IsExpired reports whether the invitation has lapsed.
func (inv *Invitation) IsExpired(now time.Time) bool {
	return inv.EffectiveStatus(now) == InvitationExpired
}

// TimeRemaining returns the time left before expiry, or zero when lapsed or terminal.
func (inv *Invitation) TimeRemaining(now time.Time) time.Duration {
	if inv.EffectiveStatus(now) != InvitationPending {
		return 0
	}
	return inv.ExpiresAt.Sub(now)
}
