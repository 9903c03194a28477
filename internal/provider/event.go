package provider

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType tags the provider lifecycle events this service understands.
// Unknown types are preserved verbatim so they can be acknowledged as no-ops
// instead of crashing the ingest path.
type EventType string

const (
	EventUserCreated EventType = "user.created"
	EventUserUpdated EventType = "user.updated"
	EventUserDeleted EventType = "user.deleted"
	EventUnknown     EventType = ""
)

// Event is one decoded webhook delivery.
type Event struct {
	Type EventType
	User UserPayload
	// Raw is the original event body, persisted in the sync log for diagnostics.
	Raw json.RawMessage
}

// IsKnown reports whether the event type maps to a handled branch.
func (e Event) IsKnown() bool {
	switch e.Type {
	case EventUserCreated, EventUserUpdated, EventUserDeleted:
		return true
	}
	return false
}

// UserPayload mirrors the Clerk user object subset this service consumes.
type UserPayload struct {
	ID                    string         `json:"id"`
	FirstName             string         `json:"first_name"`
	LastName              string         `json:"last_name"`
	ImageURL              string         `json:"image_url"`
	PrimaryEmailAddressID string         `json:"primary_email_address_id"`
	EmailAddresses        []EmailAddress `json:"email_addresses"`
	PublicMetadata        map[string]any `json:"public_metadata"`
	CreatedAtMillis       int64          `json:"created_at"`
}

// EmailAddress is one entry of the provider-side email list.
type EmailAddress struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
	Verification struct {
		Status string `json:"status"`
	} `json:"verification"`
}

// PrimaryEmail resolves the primary email address: the entry matching
// primary_email_address_id, falling back to the first listed address.
func (u UserPayload) PrimaryEmail() string {
	for _, addr := range u.EmailAddresses {
		if addr.ID != "" && addr.ID == u.PrimaryEmailAddressID {
			return addr.EmailAddress
		}
	}
	if len(u.EmailAddresses) > 0 {
		return u.EmailAddresses[0].EmailAddress
	}
	return ""
}

// PrimaryEmailVerified reports whether the resolved primary address is verified.
func (u UserPayload) PrimaryEmailVerified() bool {
	for _, addr := range u.EmailAddresses {
		if addr.ID != "" && addr.ID == u.PrimaryEmailAddressID {
			return addr.Verification.Status == "verified"
		}
	}
	if len(u.EmailAddresses) > 0 {
		return u.EmailAddresses[0].Verification.Status == "verified"
	}
	return false
}

// CreatedAt converts the provider's millisecond timestamp.
func (u UserPayload) CreatedAt() time.Time {
	if u.CreatedAtMillis == 0 {
		return time.Time{}
	}
	return time.UnixMilli(u.CreatedAtMillis).UTC()
}

type eventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ParseEvent decodes a verified webhook body into a tagged Event.
func ParseEvent(body []byte) (Event, error) {
	var envelope eventEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Event{}, fmt.Errorf("decode event envelope: %w", err)
	}

	evt := Event{Raw: json.RawMessage(body)}
	switch EventType(envelope.Type) {
	case EventUserCreated, EventUserUpdated, EventUserDeleted:
		evt.Type = EventType(envelope.Type)
	default:
		// Keep the raw type around for logging but treat it as unknown.
		evt.Type = EventUnknown
		return evt, nil
	}

	if err := json.Unmarshal(envelope.Data, &evt.User); err != nil {
		return Event{}, fmt.Errorf("decode %s payload: %w", envelope.Type, err)
	}
	if evt.User.ID == "" {
		return Event{}, fmt.Errorf("%s payload missing user id", envelope.Type)
	}
	return evt, nil
}
