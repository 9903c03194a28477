package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/ArielSulton/tunarasa-sub001/internal/db/models"
)

func init() {
	Migrations.MustRegister(up_20250812000001, down_20250812000001)
}

// up_20250812000001 creates the identity, invitation, and sync tables
func up_20250812000001(ctx context.Context, db *bun.DB) error {
	tables := []struct {
		name  string
		model any
	}{
		{"roles", (*models.Role)(nil)},
		{"genders", (*models.Gender)(nil)},
		{"invitations", (*models.Invitation)(nil)},
		{"identities", (*models.Identity)(nil)},
		{"sync_logs", (*models.SyncLog)(nil)},
		{"pending_syncs", (*models.PendingSync)(nil)},
	}

	for _, t := range tables {
		_, err := db.NewCreateTable().
			Model(t.model).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create %s table: %w", t.name, err)
		}
	}

	// The unique constraint on identities.external_id is the sole
	// mutual-exclusion primitive for concurrent upserts.
	indexes := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_identities_external_id ON identities(external_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_identities_email ON identities(email)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_invitations_token ON invitations(token)`,
		`CREATE INDEX IF NOT EXISTS idx_invitations_email_status ON invitations(email, status)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_logs_external_id ON sync_logs(external_id)`,
	}
	for _, stmt := range indexes {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

func down_20250812000001(ctx context.Context, db *bun.DB) error {
	for _, table := range []string{"pending_syncs", "sync_logs", "identities", "invitations", "genders", "roles"} {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", table)); err != nil {
			return fmt.Errorf("failed to drop %s: %w", table, err)
		}
	}
	return nil
}
