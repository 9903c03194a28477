package invitation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ArielSulton/tunarasa-sub001/internal/db/models"
)

// Invitations are valid for a fixed duration from creation.
const defaultValidity = 7 * 24 * time.Hour

// Typed consistency errors; callers route users differently per case, so
// these are never collapsed into a generic failure.
var (
	ErrInvalidToken    = errors.New("invitation token is invalid")
	ErrExpired         = errors.New("invitation has expired")
	ErrCancelled       = errors.New("invitation was cancelled")
	ErrAlreadyAccepted = errors.New("invitation was already accepted")
	ErrInvalidInput    = errors.New("invalid invitation input")
)

// CreateInput describes a new invitation request.
type CreateInput struct {
	Email               string
	RoleID              int
	InvitedByExternalID string
	CustomMessage       string
}

// Snapshot is the validation view returned for a token lookup.
type Snapshot struct {
	Invitation        *models.Invitation
	IsExpired         bool
	IsAlreadyAccepted bool
	IsCancelled       bool
	TimeRemaining     time.Duration
}

// Service manages the invitation lifecycle.
type Service interface {
	Create(ctx context.Context, in CreateInput) (*models.Invitation, error)
	// Validate resolves a token to a snapshot with derived flags. Unlike
	// Accept it never errors on terminal states; the flags carry them.
	Validate(ctx context.Context, token string) (*Snapshot, error)
	// ResolveForAcceptance returns the invitation iff it is still pending and
	// unexpired, mapping every terminal state to its typed error.
	ResolveForAcceptance(ctx context.Context, token string) (*models.Invitation, error)
	Cancel(ctx context.Context, id string) error
	List(ctx context.Context) ([]models.Invitation, error)
}

type service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a new invitation service
func NewService(repo Repository) Service {
	return &service{repo: repo, now: time.Now}
}

func (s *service) Create(ctx context.Context, in CreateInput) (*models.Invitation, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if in.RoleID != models.RoleSuperAdminID && in.RoleID != models.RoleAdminID {
		return nil, fmt.Errorf("%w: role must be superadmin or admin", ErrInvalidInput)
	}
	if strings.TrimSpace(in.InvitedByExternalID) == "" {
		return nil, fmt.Errorf("%w: inviter is required", ErrInvalidInput)
	}

	token, err := newToken()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	inv := &models.Invitation{
		ID:                  uuid.NewString(),
		Email:               email,
		RoleID:              in.RoleID,
		InvitedByExternalID: in.InvitedByExternalID,
		CustomMessage:       strings.TrimSpace(in.CustomMessage),
		Status:              models.InvitationPending,
		Token:               token,
		ExpiresAt:           now.Add(defaultValidity),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.repo.Create(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *service) Validate(ctx context.Context, token string) (*Snapshot, error) {
	inv, err := s.lookup(ctx, token)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	status := inv.EffectiveStatus(now)
	return &Snapshot{
		Invitation:        inv,
		IsExpired:         status == models.InvitationExpired,
		IsAlreadyAccepted: status == models.InvitationAccepted,
		IsCancelled:       status == models.InvitationCancelled,
		TimeRemaining:     inv.TimeRemaining(now),
	}, nil
}

func (s *service) ResolveForAcceptance(ctx context.Context, token string) (*models.Invitation, error) {
	inv, err := s.lookup(ctx, token)
	if err != nil {
		return nil, err
	}

	// "Already accepted" is surfaced distinctly from "invalid token" so the
	// caller can route the user to sign-in instead of showing an error.
	switch inv.EffectiveStatus(s.now().UTC()) {
	case models.InvitationAccepted:
		return nil, ErrAlreadyAccepted
	case models.InvitationCancelled:
		return nil, ErrCancelled
	case models.InvitationExpired:
		return nil, ErrExpired
	}
	return inv, nil
}

func (s *service) Cancel(ctx context.Context, id string) error {
	inv, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	switch inv.EffectiveStatus(s.now().UTC()) {
	case models.InvitationAccepted:
		return ErrAlreadyAccepted
	case models.InvitationCancelled:
		return ErrCancelled
	case models.InvitationExpired:
		return ErrExpired
	}

	done, err := s.repo.MarkCancelled(ctx, id, s.now().UTC())
	if err != nil {
		return err
	}
	if !done {
		// Lost the race against an acceptance or another cancel.
		return ErrAlreadyAccepted
	}
	return nil
}

func (s *service) List(ctx context.Context) ([]models.Invitation, error) {
	return s.repo.List(ctx)
}

func (s *service) lookup(ctx context.Context, token string) (*models.Invitation, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrInvalidToken
	}
	inv, err := s.repo.GetByToken(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// newToken returns a 64-char hex bearer token from 32 random bytes.
// Possession of the token implies authorization to accept.
func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate invitation token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
