package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	pgmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/streamtune/acl/acl/postgres/migrations"
)

// runMigrations brings db up to the latest embedded schema version. It
// relies on golang-migrate's Postgres advisory lock to make concurrent
// callers (e.g. several instances starting at once) safe.
func runMigrations(db *sql.DB) error {
	driver, err := pgmigrate.WithInstance(db, &pgmigrate.Config{})
	if err != nil {
		return fmt.Errorf("acl/postgres: migration driver: %w", err)
	}

	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("acl/postgres: migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("acl/postgres: migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("acl/postgres: migrate up: %w", err)
	}
	return nil
}

// RunMigrations applies the embedded schema migrations to the database
// described by cfg. Intended for a deploy-time migration step run ahead of
// cfg.AutoMigrate-disabled instances.
func RunMigrations(cfg Config) error {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("acl/postgres: invalid config: %w", err)
	}
	db, err := sql.Open("postgres", cfg.ConnectionString())
	if err != nil {
		return fmt.Errorf("acl/postgres: open: %w", err)
	}
	defer db.Close()
	return runMigrations(db)
}

// Version reports the currently applied migration version and whether the
// schema is in a dirty (partially applied) state.
func Version(cfg Config) (version uint, dirty bool, err error) {
	cfg.ApplyDefaults()
	db, err := sql.Open("postgres", cfg.ConnectionString())
	if err != nil {
		return 0, false, fmt.Errorf("acl/postgres: open: %w", err)
	}
	defer db.Close()

	driver, err := pgmigrate.WithInstance(db, &pgmigrate.Config{})
	if err != nil {
		return 0, false, fmt.Errorf("acl/postgres: migration driver: %w", err)
	}
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return 0, false, fmt.Errorf("acl/postgres: migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return 0, false, fmt.Errorf("acl/postgres: migrate instance: %w", err)
	}

	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return version, dirty, nil
}
