package migrations

import "github.com/uptrace/bun/migrate"

// Migrations holds all registered schema migrations.
var Migrations = migrate.NewMigrations()
