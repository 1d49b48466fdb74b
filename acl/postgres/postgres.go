// Package postgres wires acl/provider to a real PostgreSQL database: it
// opens a *sql.DB over github.com/lib/pq, adapts it to the
// acl/internal/sqlexec.Beginner the provider consumes, and bundles the
// golang-migrate migrations that create the five tables spec §6 names.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // registers the "postgres" database/sql driver

	"github.com/streamtune/acl/acl/internal/sqlexec"
)

// Open connects to the database described by cfg and returns it adapted to
// sqlexec.Beginner, ready to hand to provider.New. When cfg.AutoMigrate is
// set, the embedded schema migrations are applied first.
func Open(ctx context.Context, cfg Config) (sqlexec.Beginner, *sql.DB, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("acl/postgres: invalid config: %w", err)
	}

	db, err := sql.Open("postgres", cfg.ConnectionString())
	if err != nil {
		return nil, nil, fmt.Errorf("acl/postgres: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("acl/postgres: ping: %w", err)
	}

	if cfg.AutoMigrate {
		if err := runMigrations(db); err != nil {
			db.Close()
			return nil, nil, err
		}
	}

	return sqlexec.NewDB(db), db, nil
}
