package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ArielSulton/tunarasa-sub001/internal/db/models"
	"github.com/ArielSulton/tunarasa-sub001/internal/invitation"
	"github.com/ArielSulton/tunarasa-sub001/internal/provider"
	"github.com/ArielSulton/tunarasa-sub001/internal/synclog"
)

// ErrInvalidInput is returned when a sync request is missing its subject id
// or email; such requests fail fast before any store or network access.
var ErrInvalidInput = errors.New("sync input requires subject id and email")

// Outcome summarizes one handled event for the webhook acknowledgment.
type Outcome struct {
	EventType string `json:"eventType"`
	SubjectID string `json:"subjectId"`
}

// SyncInput is the normalized payload of a client-triggered sync.
type SyncInput struct {
	ExternalID string
	Email      string
	FirstName  string
	LastName   string
	ImageURL   string
	IsNewUser  bool
}

// SyncResult reports the resolved local state after an upsert.
type SyncResult struct {
	RoleID      int  `json:"roleId"`
	IsActive    bool `json:"isActive"`
	IsNewRecord bool `json:"isNewRecord"`
}

// Service mirrors provider-side user lifecycle into the local store. Webhook
// ingestion, client-triggered sync, and the diagnostics escape hatch all
// funnel into the same upsert so concurrent and duplicate deliveries stay
// idempotent.
type Service interface {
	// IngestEvent handles one verified webhook event. Processing failures are
	// logged with a failed outcome and swallowed so the caller can still
	// acknowledge the delivery; only the audit write itself can error.
	IngestEvent(ctx context.Context, evt provider.Event) (Outcome, error)
	// SyncUser applies a created-equivalent upsert for a client-triggered sync.
	// The payload carries no verification status or metadata, so those columns
	// are never written for an existing record.
	SyncUser(ctx context.Context, in SyncInput) (*SyncResult, error)
	// AcceptInvitation redeems a resolved pending invitation for the given
	// subject: it creates the identity with the invited role when none exists,
	// or grants the invited role to the existing record. Either path marks the
	// invitation accepted in the same transaction; a concurrently consumed
	// token surfaces as invitation.ErrAlreadyAccepted.
	AcceptInvitation(ctx context.Context, in SyncInput, inv *models.Invitation) (*SyncResult, error)
	// ForceSync re-runs the created-equivalent path from a fresh provider
	// record, regardless of current local state.
	ForceSync(ctx context.Context, user provider.UserPayload) (*SyncResult, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.Identity, error)
}

type service struct {
	repo        Repository
	invitations invitation.Repository
	audit       synclog.Repository
	logger      *slog.Logger
	now         func() time.Time
}

// NewService creates a new identity service
func NewService(repo Repository, invitations invitation.Repository, audit synclog.Repository, logger *slog.Logger) Service {
	return &service{
		repo:        repo,
		invitations: invitations,
		audit:       audit,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *service) IngestEvent(ctx context.Context, evt provider.Event) (Outcome, error) {
	outcome := Outcome{EventType: string(evt.Type), SubjectID: evt.User.ID}

	if !evt.IsKnown() {
		// Unknown event types are a no-op branch, not a crash.
		outcome.EventType = "unknown"
		if s.logger != nil {
			s.logger.Info("ignoring unknown webhook event type")
		}
		return outcome, nil
	}

	var err error
	switch evt.Type {
	case provider.EventUserCreated:
		_, err = s.applyCreated(ctx, evt.User, true)
	case provider.EventUserUpdated:
		err = s.applyUpdated(ctx, evt.User)
	case provider.EventUserDeleted:
		err = s.applyDeleted(ctx, evt.User)
	}

	if logErr := s.logAttempt(ctx, evt.User.ID, string(evt.Type), evt.Raw, err); logErr != nil {
		return outcome, logErr
	}

	if err != nil && s.logger != nil {
		// Swallowed on purpose: redelivery storms are worse than one lost
		// event, and the failure is durably recorded above.
		s.logger.Error("webhook event processing failed",
			slog.String("eventType", string(evt.Type)),
			slog.String("subjectId", evt.User.ID),
			slog.Any("error", err))
	}
	return outcome, nil
}

func (s *service) SyncUser(ctx context.Context, in SyncInput) (*SyncResult, error) {
	if strings.TrimSpace(in.ExternalID) == "" || strings.TrimSpace(in.Email) == "" {
		return nil, ErrInvalidInput
	}

	user := provider.UserPayload{
		ID:        in.ExternalID,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		ImageURL:  in.ImageURL,
		EmailAddresses: []provider.EmailAddress{
			{EmailAddress: strings.ToLower(strings.TrimSpace(in.Email))},
		},
	}

	result, err := s.applyCreated(ctx, user, false)
	if logErr := s.logAttempt(ctx, in.ExternalID, "client.sync", nil, err); logErr != nil && s.logger != nil {
		s.logger.Error("failed to record sync attempt", slog.Any("error", logErr))
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) ForceSync(ctx context.Context, user provider.UserPayload) (*SyncResult, error) {
	result, err := s.applyCreated(ctx, user, true)
	if logErr := s.logAttempt(ctx, user.ID, "force.sync", nil, err); logErr != nil && s.logger != nil {
		s.logger.Error("failed to record force sync attempt", slog.Any("error", logErr))
	}
	return result, err
}

func (s *service) AcceptInvitation(ctx context.Context, in SyncInput, inv *models.Invitation) (*SyncResult, error) {
	if strings.TrimSpace(in.ExternalID) == "" {
		return nil, ErrInvalidInput
	}

	result, err := s.acceptInvitation(ctx, in, inv)
	if logErr := s.logAttempt(ctx, in.ExternalID, "invitation.accept", nil, err); logErr != nil && s.logger != nil {
		s.logger.Error("failed to record invitation acceptance", slog.Any("error", logErr))
	}
	return result, err
}

func (s *service) GetByExternalID(ctx context.Context, externalID string) (*models.Identity, error) {
	return s.repo.GetByExternalID(ctx, externalID)
}

// applyCreated is the single creation path shared by webhook created events,
// client-triggered syncs, and forced resyncs. Invitation matching only runs
// when no record exists yet: a replayed sync for a known subject is a plain
// profile refresh and must not consume a pending invitation for its email.
// Creation-time role assignment: invitation-derived when a pending invitation
// matches the email, else the default role, with the bootstrap-first-user
// override on an empty table. fromProvider marks payloads carrying
// authoritative verification status and metadata; client payloads do not,
// and leave those columns untouched on an existing record.
func (s *service) applyCreated(ctx context.Context, user provider.UserPayload, fromProvider bool) (*SyncResult, error) {
	email := user.PrimaryEmail()
	if email == "" {
		return nil, fmt.Errorf("created event for %s carries no email address", user.ID)
	}
	email = strings.ToLower(email)

	now := s.now().UTC()

	existing, err := s.repo.GetByExternalID(ctx, user.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if existing != nil {
		record := s.newRecord(user, email, models.RoleUserID, now)
		if fromProvider {
			_, err = s.repo.Upsert(ctx, record)
		} else {
			_, err = s.repo.UpsertProfile(ctx, record)
		}
		if err != nil {
			return nil, err
		}
		return s.resolveStored(ctx, user.ID, false)
	}

	count, err := s.repo.Count(ctx)
	if err != nil {
		return nil, err
	}

	roleID := models.RoleUserID
	var matched *models.Invitation
	inv, err := s.invitations.FindPendingByEmail(ctx, email, now)
	switch {
	case err == nil:
		matched = inv
		roleID = inv.RoleID
	case errors.Is(err, invitation.ErrNotFound):
		// No invitation; default role stands.
	default:
		return nil, err
	}

	// Bootstrap-first-user policy: an empty identity table promotes whoever
	// arrives first, invitation or not.
	if count == 0 {
		roleID = models.RoleSuperAdminID
	}

	record := s.newRecord(user, email, roleID, now)

	var created bool
	if matched != nil {
		record.InvitedBy = &matched.ID
		record.InvitationAcceptedAt = &now
		created, err = s.repo.UpsertAcceptingInvitation(ctx, record, matched.ID)
	} else {
		created, err = s.repo.Upsert(ctx, record)
	}
	if err != nil {
		return nil, err
	}

	return s.resolveStored(ctx, user.ID, created)
}

func (s *service) acceptInvitation(ctx context.Context, in SyncInput, inv *models.Invitation) (*SyncResult, error) {
	now := s.now().UTC()

	existing, err := s.repo.GetByExternalID(ctx, in.ExternalID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if existing != nil {
		granted, err := s.repo.AcceptInvitationForExisting(ctx, in.ExternalID, inv, now)
		if err != nil {
			return nil, err
		}
		if !granted {
			return nil, invitation.ErrAlreadyAccepted
		}
		return s.resolveStored(ctx, in.ExternalID, false)
	}

	count, err := s.repo.Count(ctx)
	if err != nil {
		return nil, err
	}
	roleID := inv.RoleID
	if count == 0 {
		roleID = models.RoleSuperAdminID
	}

	user := provider.UserPayload{
		ID:        in.ExternalID,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		ImageURL:  in.ImageURL,
	}
	record := s.newRecord(user, strings.ToLower(strings.TrimSpace(inv.Email)), roleID, now)
	record.InvitedBy = &inv.ID
	record.InvitationAcceptedAt = &now

	created, err := s.repo.UpsertAcceptingInvitation(ctx, record, inv.ID)
	if err != nil {
		return nil, err
	}
	if !created {
		// The row appeared between the lookup and the insert; grant through
		// the existing-record path instead.
		granted, err := s.repo.AcceptInvitationForExisting(ctx, in.ExternalID, inv, now)
		if err != nil {
			return nil, err
		}
		if !granted {
			return nil, invitation.ErrAlreadyAccepted
		}
	}

	return s.resolveStored(ctx, in.ExternalID, created)
}

func (s *service) newRecord(user provider.UserPayload, email string, roleID int, now time.Time) *models.Identity {
	return &models.Identity{
		ID:               uuid.NewString(),
		ExternalID:       user.ID,
		Email:            email,
		FirstName:        user.FirstName,
		LastName:         user.LastName,
		ImageURL:         user.ImageURL,
		RoleID:           roleID,
		IsActive:         true,
		EmailVerified:    user.PrimaryEmailVerified(),
		ProviderMetadata: models.Metadata(user.PublicMetadata),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// resolveStored reports the stored role and active flag rather than the
// computed ones: on replay the upsert left both alone.
func (s *service) resolveStored(ctx context.Context, externalID string, created bool) (*SyncResult, error) {
	stored, err := s.repo.GetByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	return &SyncResult{RoleID: stored.RoleID, IsActive: stored.IsActive, IsNewRecord: created}, nil
}

// applyUpdated upserts mutable profile fields only. Role id is excluded from
// the update set, so a delayed profile event can never demote or promote.
func (s *service) applyUpdated(ctx context.Context, user provider.UserPayload) error {
	email := strings.ToLower(user.PrimaryEmail())
	if email == "" {
		return fmt.Errorf("updated event for %s carries no email address", user.ID)
	}

	now := s.now().UTC()
	// The default role only applies if the created event was lost and this
	// upsert inserts.
	record := s.newRecord(user, email, models.RoleUserID, now)
	_, err := s.repo.Upsert(ctx, record)
	return err
}

func (s *service) applyDeleted(ctx context.Context, user provider.UserPayload) error {
	err := s.repo.Deactivate(ctx, user.ID)
	if errors.Is(err, ErrNotFound) {
		// Deleting an unknown identity is a no-op, not a failure.
		return nil
	}
	return err
}

func (s *service) logAttempt(ctx context.Context, externalID, eventType string, raw []byte, procErr error) error {
	entry := &models.SyncLog{
		ExternalID: externalID,
		EventType:  eventType,
		Outcome:    models.SyncSuccess,
		RawPayload: raw,
		CreatedAt:  s.now().UTC(),
	}
	if procErr != nil {
		entry.Outcome = models.SyncFailed
		entry.ErrorDetail = procErr.Error()
	}
	return s.audit.Append(ctx, entry)
}
