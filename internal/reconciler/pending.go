package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/ArielSulton/tunarasa-sub001/internal/db/models"
)

// PendingStore persists sync attempts that exhausted their retries so a later
// bootstrap can retry them without user action.
type PendingStore interface {
	Upsert(ctx context.Context, pending *models.PendingSync) error
	Delete(ctx context.Context, externalID string) error
	List(ctx context.Context) ([]models.PendingSync, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// BunPendingStore implements PendingStore using Bun ORM
type BunPendingStore struct {
	db *bun.DB
}

// NewBunPendingStore creates a new Bun-based pending sync store
func NewBunPendingStore(db *bun.DB) *BunPendingStore {
	return &BunPendingStore{db: db}
}

// Upsert records one pending sync per subject; a repeat failure refreshes the
// payload but keeps the original created_at so the staleness bound holds.
func (s *BunPendingStore) Upsert(ctx context.Context, pending *models.PendingSync) error {
	if pending.CreatedAt.IsZero() {
		pending.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.NewInsert().
		Model(pending).
		On("CONFLICT (external_id) DO UPDATE").
		Set("email = EXCLUDED.email").
		Set("is_new_user = EXCLUDED.is_new_user").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert pending sync: %w", err)
	}
	return nil
}

// Delete drops the pending record for a subject.
func (s *BunPendingStore) Delete(ctx context.Context, externalID string) error {
	_, err := s.db.NewDelete().
		Model((*models.PendingSync)(nil)).
		Where("external_id = ?", externalID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete pending sync: %w", err)
	}
	return nil
}

// List returns all pending records, oldest first.
func (s *BunPendingStore) List(ctx context.Context) ([]models.PendingSync, error) {
	var pending []models.PendingSync
	err := s.db.NewSelect().
		Model(&pending).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending syncs: %w", err)
	}
	return pending, nil
}

// DeleteOlderThan drops records past the staleness bound.
func (s *BunPendingStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.NewDelete().
		Model((*models.PendingSync)(nil)).
		Where("created_at < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("prune pending syncs: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return int(rows), nil
}
