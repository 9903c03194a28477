package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ArielSulton/tunarasa-sub001/internal/db/models"
	"github.com/ArielSulton/tunarasa-sub001/internal/identity"
	"github.com/ArielSulton/tunarasa-sub001/internal/provider"
	"github.com/ArielSulton/tunarasa-sub001/internal/synclog"
)

// Divergence flags form a fixed taxonomy; the operator tool surfaces them
// verbatim.
const (
	FlagNotInLocalStore     = "not_in_local_store"
	FlagInactive            = "inactive"
	FlagInsufficientRole    = "insufficient_role"
	FlagVerifiedButUnsynced = "verified_but_unsynced"
	FlagRecentSyncFailures  = "recent_sync_failures"
	FlagEmailUnverified     = "email_unverified"
)

// Repair actions accepted by the diagnostics endpoint.
const (
	ActionPromoteToSuperadmin = "promote_to_superadmin"
	ActionForceSync           = "force_sync"
)

const recentFailureWindow = 24 * time.Hour

var (
	// ErrUnknownAction is returned for repair actions outside the taxonomy.
	ErrUnknownAction = errors.New("unknown repair action")
	// ErrNeedsSync is returned when a promotion targets an identity the local
	// store has not seen yet; the caller should sync first instead of guessing.
	ErrNeedsSync = errors.New("identity not synced locally yet")
)

// ProviderReader fetches the provider-side record for a subject.
type ProviderReader interface {
	GetUser(ctx context.Context, externalID string) (*provider.UserPayload, error)
}

// Snapshot combines both sides of the split-brain identity state.
type Snapshot struct {
	SubjectID string                `json:"subjectId"`
	Provider  *provider.UserPayload `json:"provider,omitempty"`
	Local     *models.Identity      `json:"local,omitempty"`
	Flags     []string              `json:"flags"`
	Failures  []models.SyncLog      `json:"recentFailures,omitempty"`
}

// PromoteResult reports the bootstrap outcome.
type PromoteResult struct {
	Promoted            bool `json:"promoted"`
	AlreadyBootstrapped bool `json:"alreadyBootstrapped"`
}

// Service is the operator tool that reconciles divergence between provider
// and local state. Never part of the authorization hot path.
type Service interface {
	Snapshot(ctx context.Context, subjectID string) (*Snapshot, error)
	Repair(ctx context.Context, subjectID, action string, force bool) (any, error)
	PromoteFirstSuperadmin(ctx context.Context, subjectID string, force bool) (*PromoteResult, error)
}

type service struct {
	identities identity.Repository
	sync       identity.Service
	providers  ProviderReader
	audit      synclog.Repository
	now        func() time.Time
}

// NewService creates a new diagnostics service
func NewService(identities identity.Repository, sync identity.Service, providers ProviderReader, audit synclog.Repository) Service {
	return &service{
		identities: identities,
		sync:       sync,
		providers:  providers,
		audit:      audit,
		now:        time.Now,
	}
}

func (s *service) Snapshot(ctx context.Context, subjectID string) (*Snapshot, error) {
	var (
		providerUser *provider.UserPayload
		local        *models.Identity
		failures     []models.SyncLog
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		u, err := s.providers.GetUser(ctx, subjectID)
		if errors.Is(err, provider.ErrUserNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("fetch provider record: %w", err)
		}
		providerUser = u
		return nil
	})

	g.Go(func() error {
		rec, err := s.identities.GetByExternalID(ctx, subjectID)
		if errors.Is(err, identity.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		local = rec
		return nil
	})

	g.Go(func() error {
		entries, err := s.audit.RecentFailures(ctx, subjectID, s.now().UTC().Add(-recentFailureWindow))
		if err != nil {
			return err
		}
		failures = entries
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Snapshot{
		SubjectID: subjectID,
		Provider:  providerUser,
		Local:     local,
		Flags:     computeFlags(providerUser, local, failures),
		Failures:  failures,
	}, nil
}

func computeFlags(providerUser *provider.UserPayload, local *models.Identity, failures []models.SyncLog) []string {
	flags := make([]string, 0, 4)

	if local == nil {
		flags = append(flags, FlagNotInLocalStore)
	} else {
		if !local.IsActive {
			flags = append(flags, FlagInactive)
		}
		if !local.HasPrivilegedRole() {
			flags = append(flags, FlagInsufficientRole)
		}
	}

	if providerUser != nil {
		if providerUser.PrimaryEmailVerified() {
			if local == nil || !local.EmailVerified {
				flags = append(flags, FlagVerifiedButUnsynced)
			}
		} else {
			flags = append(flags, FlagEmailUnverified)
		}
	}

	if len(failures) > 0 {
		flags = append(flags, FlagRecentSyncFailures)
	}

	return flags
}

func (s *service) Repair(ctx context.Context, subjectID, action string, force bool) (any, error) {
	switch action {
	case ActionPromoteToSuperadmin:
		return s.PromoteFirstSuperadmin(ctx, subjectID, force)
	case ActionForceSync:
		return s.forceSync(ctx, subjectID)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
}

// forceSync re-runs the created-equivalent upsert from a fresh provider
// record. An explicit escape hatch, never part of the automatic hot path.
func (s *service) forceSync(ctx context.Context, subjectID string) (*identity.SyncResult, error) {
	user, err := s.providers.GetUser(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	return s.sync.ForceSync(ctx, *user)
}

func (s *service) PromoteFirstSuperadmin(ctx context.Context, subjectID string, force bool) (*PromoteResult, error) {
	identities, err := s.identities.List(ctx)
	if err != nil {
		return nil, err
	}

	for _, rec := range identities {
		if rec.RoleID == models.RoleSuperAdminID {
			if !force {
				return &PromoteResult{AlreadyBootstrapped: true}, nil
			}
			break
		}
	}

	_, err = s.identities.GetByExternalID(ctx, subjectID)
	if errors.Is(err, identity.ErrNotFound) {
		// The caller's identity has not propagated yet; surface that rather
		// than guessing at role assignment.
		return nil, ErrNeedsSync
	}
	if err != nil {
		return nil, err
	}

	if err := s.identities.SetRole(ctx, subjectID, models.RoleSuperAdminID); err != nil {
		return nil, err
	}
	return &PromoteResult{Promoted: true}, nil
}
