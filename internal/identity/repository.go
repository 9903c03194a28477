package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/ArielSulton/tunarasa-sub001/internal/db/models"
)

// ErrNotFound is returned when no identity matches the lookup.
var ErrNotFound = errors.New("identity not found")

// Repository defines identity record access. The unique constraint on
// external_id backs every upsert; there is no other locking.
type Repository interface {
	GetByExternalID(ctx context.Context, externalID string) (*models.Identity, error)
	Count(ctx context.Context) (int, error)
	// Upsert inserts the identity or, on conflict by external id, updates the
	// provider-sourced fields: profile, verification flag, and metadata. Role
	// id, active flag, and invitation provenance are never touched on the
	// update path. Returns true when a new row was created.
	Upsert(ctx context.Context, identity *models.Identity) (bool, error)
	// UpsertProfile is Upsert with a narrower update set for callers whose
	// payload carries no verification status or metadata. On conflict only
	// email, name parts, and avatar change; the provider-owned columns keep
	// their stored values.
	UpsertProfile(ctx context.Context, identity *models.Identity) (bool, error)
	// UpsertAcceptingInvitation runs Upsert plus the status-gated acceptance
	// of the given invitation in one transaction. Acceptance fires only when
	// the upsert actually created the row; a conflicting pre-existing
	// identity leaves the invitation pending.
	UpsertAcceptingInvitation(ctx context.Context, identity *models.Identity, invitationID string) (bool, error)
	// AcceptInvitationForExisting applies the invitation's role and
	// provenance to an already-present identity and marks the invitation
	// accepted, in one transaction. Returns false without touching the
	// identity when the invitation was no longer pending.
	AcceptInvitationForExisting(ctx context.Context, externalID string, inv *models.Invitation, now time.Time) (bool, error)
	// Deactivate clears the active flag (soft delete).
	Deactivate(ctx context.Context, externalID string) error
	SetRole(ctx context.Context, externalID string, roleID int) error
	List(ctx context.Context) ([]models.Identity, error)
}

// BunRepository implements Repository using Bun ORM
type BunRepository struct {
	db *bun.DB
}

// NewBunRepository creates a new Bun-based identity repository
func NewBunRepository(db *bun.DB) *BunRepository {
	return &BunRepository{db: db}
}

// GetByExternalID retrieves an identity by its provider-issued id.
func (r *BunRepository) GetByExternalID(ctx context.Context, externalID string) (*models.Identity, error) {
	identity := new(models.Identity)
	err := r.db.NewSelect().
		Model(identity).
		Where("external_id = ?", externalID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get identity by external id: %w", err)
	}
	return identity, nil
}

// Count returns the number of identity records.
func (r *BunRepository) Count(ctx context.Context) (int, error) {
	count, err := r.db.NewSelect().
		Model((*models.Identity)(nil)).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return count, nil
}

func (r *BunRepository) Upsert(ctx context.Context, identity *models.Identity) (bool, error) {
	return upsert(ctx, r.db, identity, true)
}

func (r *BunRepository) UpsertProfile(ctx context.Context, identity *models.Identity) (bool, error) {
	return upsert(ctx, r.db, identity, false)
}

func (r *BunRepository) UpsertAcceptingInvitation(ctx context.Context, identity *models.Identity, invitationID string) (bool, error) {
	var created bool
	err := r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var err error
		created, err = upsert(ctx, tx, identity, false)
		if err != nil {
			return err
		}
		if !created {
			// Lost the insert race: the row predates this call, so the
			// invitation stays pending for an explicit acceptance.
			return nil
		}

		// Status-gated: acceptance only fires while the invitation is still
		// pending, so event redelivery leaves it untouched.
		_, err = tx.NewUpdate().
			Model((*models.Invitation)(nil)).
			Set("status = ?", models.InvitationAccepted).
			Set("accepted_at = ?", identity.UpdatedAt).
			Set("updated_at = ?", identity.UpdatedAt).
			Where("id = ?", invitationID).
			Where("status = ?", models.InvitationPending).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("accept invitation: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("upsert identity with invitation: %w", err)
	}
	return created, nil
}

func (r *BunRepository) AcceptInvitationForExisting(ctx context.Context, externalID string, inv *models.Invitation, now time.Time) (bool, error) {
	var granted bool
	err := r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		// The invitation transition goes first: if it is no longer pending,
		// the identity must not change either.
		res, err := tx.NewUpdate().
			Model((*models.Invitation)(nil)).
			Set("status = ?", models.InvitationAccepted).
			Set("accepted_at = ?", now).
			Set("updated_at = ?", now).
			Where("id = ?", inv.ID).
			Where("status = ?", models.InvitationPending).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("accept invitation: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return nil
		}

		res, err = tx.NewUpdate().
			Model((*models.Identity)(nil)).
			Set("role_id = ?", inv.RoleID).
			Set("invited_by = ?", inv.ID).
			Set("invitation_accepted_at = ?", now).
			Set("updated_at = ?", now).
			Where("external_id = ?", externalID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("apply invited role: %w", err)
		}
		rows, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return ErrNotFound
		}
		granted = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("accept invitation for existing identity: %w", err)
	}
	return granted, nil
}

// upsert is shared by the plain and transactional paths. The conflict target
// is the external id; the update set deliberately excludes role_id,
// is_active, and invitation provenance so later events cannot rewrite
// creation-time decisions. providerFields widens the set to the columns only
// the provider is authoritative for; client-sourced payloads leave those
// columns alone.
func upsert(ctx context.Context, db bun.IDB, identity *models.Identity, providerFields bool) (bool, error) {
	q := db.NewInsert().
		Model(identity).
		On("CONFLICT (external_id) DO UPDATE").
		Set("email = EXCLUDED.email").
		Set("first_name = EXCLUDED.first_name").
		Set("last_name = EXCLUDED.last_name").
		Set("image_url = EXCLUDED.image_url").
		Set("updated_at = EXCLUDED.updated_at")
	if providerFields {
		q = q.Set("email_verified = EXCLUDED.email_verified").
			Set("provider_metadata = EXCLUDED.provider_metadata")
	}

	res, err := q.Returning("created_at").Exec(ctx, identity)
	if err != nil {
		return false, fmt.Errorf("upsert identity: %w", err)
	}
	if _, err := res.RowsAffected(); err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}

	// A freshly inserted row reports the created_at this call supplied; a
	// conflicting row keeps its original one.
	created := !identity.CreatedAt.Before(identity.UpdatedAt)
	return created, nil
}

// Deactivate clears the active flag; the record itself is preserved for
// audit and FK integrity.
func (r *BunRepository) Deactivate(ctx context.Context, externalID string) error {
	now := time.Now().UTC()
	res, err := r.db.NewUpdate().
		Model((*models.Identity)(nil)).
		Set("is_active = ?", false).
		Set("updated_at = ?", now).
		Where("external_id = ?", externalID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("deactivate identity: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SetRole assigns a role explicitly (bootstrap/diagnostics only; never part
// of the event ingest path).
func (r *BunRepository) SetRole(ctx context.Context, externalID string, roleID int) error {
	now := time.Now().UTC()
	res, err := r.db.NewUpdate().
		Model((*models.Identity)(nil)).
		Set("role_id = ?", roleID).
		Set("updated_at = ?", now).
		Where("external_id = ?", externalID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("set identity role: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// List retrieves all identities, newest first.
func (r *BunRepository) List(ctx context.Context) ([]models.Identity, error) {
	var identities []models.Identity
	err := r.db.NewSelect().
		Model(&identities).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	return identities, nil
}
