package invitation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/ArielSulton/tunarasa-sub001/internal/db/models"
)

// ErrNotFound is returned when no invitation matches the lookup.
var ErrNotFound = errors.New("invitation not found")

// Repository defines invitation ledger access.
type Repository interface {
	Create(ctx context.Context, inv *models.Invitation) error
	GetByID(ctx context.Context, id string) (*models.Invitation, error)
	GetByToken(ctx context.Context, token string) (*models.Invitation, error)
	// FindPendingByEmail returns the newest pending, unexpired invitation for
	// an email, or ErrNotFound.
	FindPendingByEmail(ctx context.Context, email string, now time.Time) (*models.Invitation, error)
	// MarkAccepted performs the status-gated pending→accepted transition.
	// Returns false when the row was not pending anymore (safe under replay).
	MarkAccepted(ctx context.Context, id string, now time.Time) (bool, error)
	// MarkCancelled performs the status-gated pending→cancelled transition.
	MarkCancelled(ctx context.Context, id string, now time.Time) (bool, error)
	List(ctx context.Context) ([]models.Invitation, error)
}

// BunRepository implements Repository using Bun ORM
type BunRepository struct {
	db *bun.DB
}

// NewBunRepository creates a new Bun-based invitation repository
func NewBunRepository(db *bun.DB) *BunRepository {
	return &BunRepository{db: db}
}

// Create inserts a new invitation.
func (r *BunRepository) Create(ctx context.Context, inv *models.Invitation) error {
	_, err := r.db.NewInsert().
		Model(inv).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create invitation: %w", err)
	}
	return nil
}

// GetByID retrieves an invitation by id.
func (r *BunRepository) GetByID(ctx context.Context, id string) (*models.Invitation, error) {
	inv := new(models.Invitation)
	err := r.db.NewSelect().
		Model(inv).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get invitation by id: %w", err)
	}
	return inv, nil
}

// GetByToken retrieves an invitation by its bearer token.
func (r *BunRepository) GetByToken(ctx context.Context, token string) (*models.Invitation, error) {
	inv := new(models.Invitation)
	err := r.db.NewSelect().
		Model(inv).
		Where("token = ?", token).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get invitation by token: %w", err)
	}
	return inv, nil
}

// FindPendingByEmail returns the newest still-valid pending invitation for an email.
func (r *BunRepository) FindPendingByEmail(ctx context.Context, email string, now time.Time) (*models.Invitation, error) {
	inv := new(models.Invitation)
	err := r.db.NewSelect().
		Model(inv).
		Where("email = ?", email).
		Where("status = ?", models.InvitationPending).
		Where("expires_at > ?", now).
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find pending invitation: %w", err)
	}
	return inv, nil
}

// MarkAccepted transitions pending→accepted; no-op when not pending.
func (r *BunRepository) MarkAccepted(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := r.db.NewUpdate().
		Model((*models.Invitation)(nil)).
		Set("status = ?", models.InvitationAccepted).
		Set("accepted_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", models.InvitationPending).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("accept invitation: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rows > 0, nil
}

// MarkCancelled transitions pending→cancelled; no-op when not pending.
func (r *BunRepository) MarkCancelled(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := r.db.NewUpdate().
		Model((*models.Invitation)(nil)).
		Set("status = ?", models.InvitationCancelled).
		Set("cancelled_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", models.InvitationPending).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("cancel invitation: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rows > 0, nil
}

// List retrieves all invitations, newest first.
func (r *BunRepository) List(ctx context.Context) ([]models.Invitation, error) {
	var invitations []models.Invitation
	err := r.db.NewSelect().
		Model(&invitations).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	return invitations, nil
}
