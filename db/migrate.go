package db

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// newMigrate builds a migrate instance over the embedded migrations for d's dialect.
// The instance is never closed: closing it would close the shared *sql.DB.
func newMigrate(d *DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations/"+string(d.dialect))
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	var driver database.Driver
	switch d.dialect {
	case DialectPostgres:
		driver, err = postgres.WithInstance(d.DB, &postgres.Config{})
	case DialectSQLite:
		driver, err = sqlite.WithInstance(d.DB, &sqlite.Config{})
	default:
		return nil, fmt.Errorf("no migration driver for dialect %q", d.dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s driver: %w", d.dialect, err)
	}
	m, err := migrate.NewWithInstance("iofs", src, string(d.dialect), driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// RunMigrations applies versioned migrations (000001_init.up.sql, ...) from the embedded
// migrations directory of the DB's dialect. It is idempotent.
func RunMigrations(d *DB) error {
	m, err := newMigrate(d)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("database schema is up to date", slog.String("component", "db_migrate"))
			return nil
		}
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil {
		slog.Warn("could not determine migration version", slog.Any("err", err), slog.String("component", "db_migrate"))
		return nil
	}
	if dirty {
		return fmt.Errorf("database is in dirty state at version %d - manual intervention required", version)
	}
	slog.Info("migrations applied successfully",
		slog.Uint64("version", uint64(version)),
		slog.String("component", "db_migrate"))
	return nil
}

// MigrationVersion returns the current migration version and dirty state (0 when none applied).
func MigrationVersion(d *DB) (version uint, dirty bool, err error) {
	m, err := newMigrate(d)
	if err != nil {
		return 0, false, err
	}
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return v, dirty, nil
}
