// Package storemigrate applies the embedded SQL migrations under
// /migrations to a Postgres database using golang-migrate, the way the
// teacher's pkg/database/client.go brings up its own schema before
// serving traffic.
package storemigrate

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/axiscore/axiscore/migrations"
)

// Apply runs every pending up migration against dsn, using
// migrationsTable as the schema-version bookkeeping table name (config's
// Database.MigrationsTable, so two differently-configured deployments
// sharing a database don't collide).
func Apply(dsn, migrationsTable string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("storemigrate: open database: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: migrationsTable})
	if err != nil {
		return fmt.Errorf("storemigrate: build postgres driver: %w", err)
	}

	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("storemigrate: load embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("storemigrate: build migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("storemigrate: apply migrations: %w", err)
	}
	return nil
}
