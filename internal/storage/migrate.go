package storage

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func openMigrations(databaseURL, migrationsPath string) (*migrate.Migrate, error) {
	m, err := migrate.New(fmt.Sprintf("file://%s", migrationsPath), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

func closeMigrations(m *migrate.Migrate) {
	_, _ = m.Close() // nolint:errcheck // cleanup in defer
}

// RunMigrations applies every pending migration
func RunMigrations(databaseURL, migrationsPath string) error {
	m, err := openMigrations(databaseURL, migrationsPath)
	if err != nil {
		return err
	}
	defer closeMigrations(m)

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// RollbackMigrations rolls back the given number of migrations
func RollbackMigrations(databaseURL, migrationsPath string, steps int) error {
	if steps < 1 {
		return fmt.Errorf("steps must be positive, got %d", steps)
	}
	m, err := openMigrations(databaseURL, migrationsPath)
	if err != nil {
		return err
	}
	defer closeMigrations(m)

	if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to rollback migration: %w", err)
	}
	return nil
}

// MigrationVersion returns the current schema version
func MigrationVersion(databaseURL, migrationsPath string) (version uint, dirty bool, err error) {
	m, err := openMigrations(databaseURL, migrationsPath)
	if err != nil {
		return 0, false, err
	}
	defer closeMigrations(m)

	version, dirty, err = m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, dirty, nil
}
