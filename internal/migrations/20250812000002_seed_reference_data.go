package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/ArielSulton/tunarasa-sub001/internal/db/models"
)

func init() {
	Migrations.MustRegister(up_20250812000002, down_20250812000002)
}

// up_20250812000002 seeds roles and genders
func up_20250812000002(ctx context.Context, db *bun.DB) error {
	roles := []models.Role{
		{ID: models.RoleSuperAdminID, Name: models.RoleSuperAdminName, Description: "Full administrative access, including role management"},
		{ID: models.RoleAdminID, Name: models.RoleAdminName, Description: "Dashboard and content management access"},
		{ID: models.RoleUserID, Name: models.RoleUserName, Description: "Default role for uninvited sign-ups; no dashboard access"},
	}
	for _, role := range roles {
		_, err := db.NewInsert().
			Model(&role).
			On("CONFLICT (id) DO NOTHING"). // Idempotent
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to seed role %s: %w", role.Name, err)
		}
	}

	genders := []models.Gender{
		{ID: 1, Name: "male"},
		{ID: 2, Name: "female"},
	}
	for _, gender := range genders {
		_, err := db.NewInsert().
			Model(&gender).
			On("CONFLICT (id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to seed gender %s: %w", gender.Name, err)
		}
	}

	return nil
}

func down_20250812000002(ctx context.Context, db *bun.DB) error {
	if _, err := db.ExecContext(ctx, "DELETE FROM genders"); err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM roles"); err != nil {
		return err
	}
	return nil
}
