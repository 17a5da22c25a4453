package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

const (
	migrationsPath = "migrations"

	// Keep in sync with the SQL files under migrations/.
	versionLineIndexes     = 1
	versionHashedURLIndex  = 2
	LatestMigrationVersion = versionHashedURLIndex
	migrateDefaultTable    = "schema_migrations"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies the additive migrations on top of CreateDDL.
// The tables themselves are never created here; CreateDDL must run first.
func Migrate(db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("migrate %s: nil db", migrationsPath)
	}

	sourceDriver, err := iofs.New(migrationsFS, migrationsPath)
	if err != nil {
		return fmt.Errorf("migrate %s: init source: %w", migrationsPath, err)
	}

	dbDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{
		MigrationsTable: migrateDefaultTable,
	})
	if err != nil {
		return fmt.Errorf("migrate %s: init db driver: %w", migrationsPath, err)
	}

	// m is intentionally not closed: closing it would close db.
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("migrate %s: init migrator: %w", migrationsPath, err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate %s: up: %w", migrationsPath, err)
	}
	return nil
}

// MigrationVersion returns the applied migration version and dirty flag.
// A database that never ran Migrate reports version 0.
func MigrationVersion(db *sql.DB) (uint, bool, error) {
	var (
		version int64
		dirty   bool
	)
	err := db.QueryRow(fmt.Sprintf("SELECT version, dirty FROM %s LIMIT 1", migrateDefaultTable)).Scan(&version, &dirty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read %s: %w", migrateDefaultTable, err)
	}
	return uint(version), dirty, nil
}
