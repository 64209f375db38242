// Package main provides a CLI tool for running database migrations.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/invoice-sync/internal/config"
	"github.com/invoice-sync/internal/storage"
)

func main() {
	var (
		action = flag.String("action", "up", "Migration action: up, down, version")
		steps  = flag.Int("steps", 1, "Number of migrations to roll back with -action=down")
		path   = flag.String("path", "", "Migrations directory (default: MIGRATIONS_PATH)")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Database.Backend != config.StoragePostgres {
		log.Fatalf("Migrations need STORAGE_BACKEND=%s, got %s", config.StoragePostgres, cfg.Database.Backend)
	}

	migrationsPath := cfg.Database.MigrationsPath
	if *path != "" {
		migrationsPath = *path
	}
	if _, err := os.Stat(migrationsPath); os.IsNotExist(err) {
		log.Fatalf("Migrations directory not found: %s", migrationsPath)
	}

	if err := runPostgresMigrations(cfg.Database.Postgres.PostgresDSN(), migrationsPath, *action, *steps); err != nil {
		log.Fatalf("Postgres migration failed: %v", err)
	}
}

func runPostgresMigrations(databaseURL, migrationsPath, action string, steps int) error {
	switch action {
	case "up":
		log.Println("Running Postgres migrations...")
		if err := storage.RunMigrations(databaseURL, migrationsPath); err != nil {
			return err
		}
		log.Println("Postgres migrations completed successfully")

	case "down":
		log.Printf("Rolling back %d Postgres migration(s)...", steps)
		if err := storage.RollbackMigrations(databaseURL, migrationsPath, steps); err != nil {
			return err
		}
		log.Println("Postgres migration rolled back successfully")

	case "version":
		version, dirty, err := storage.MigrationVersion(databaseURL, migrationsPath)
		if err != nil {
			return err
		}
		log.Printf("Current Postgres migration version: %d (dirty: %v)", version, dirty)

	default:
		return fmt.Errorf("unknown action: %s", action)
	}

	return nil
}
