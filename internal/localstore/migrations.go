package localstore

import (
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/hearthapp/hearth/migrations"
)

// RunMigrations brings the local database up to the current schema from the
// embedded migration files. Goose output is silenced; migration failures
// surface as errors, not log noise.
func RunMigrations(db *sql.DB) error {
	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(migrations.FS)

	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
