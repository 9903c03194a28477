package synclog

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/ArielSulton/tunarasa-sub001/internal/db/models"
)

// Repository is the append-only sync audit trail.
type Repository interface {
	Append(ctx context.Context, entry *models.SyncLog) error
	RecentFailures(ctx context.Context, externalID string, since time.Time) ([]models.SyncLog, error)
}

// BunRepository implements Repository using Bun ORM
type BunRepository struct {
	db *bun.DB
}

// NewBunRepository creates a new Bun-based sync log repository
func NewBunRepository(db *bun.DB) *BunRepository {
	return &BunRepository{db: db}
}

// Append inserts one audit entry.
func (r *BunRepository) Append(ctx context.Context, entry *models.SyncLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.NewInsert().
		Model(entry).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("append sync log: %w", err)
	}
	return nil
}

// RecentFailures lists failed attempts for a subject since the given time.
func (r *BunRepository) RecentFailures(ctx context.Context, externalID string, since time.Time) ([]models.SyncLog, error) {
	var entries []models.SyncLog
	err := r.db.NewSelect().
		Model(&entries).
		Where("external_id = ?", externalID).
		Where("outcome = ?", models.SyncFailed).
		Where("created_at >= ?", since).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sync failures: %w", err)
	}
	return entries, nil
}
