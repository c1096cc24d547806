package store

import (
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"

	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// The snapshot schema is embedded so the binary can bring a fresh
// database up to date on its own; Open runs the migrations before the
// store is handed out.
//
//go:embed migrations/*.sql
var migrationFiles embed.FS

func (s *PersistentStore) RunMigrations() error {
	d, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return err
	}

	// The sqlite driver here is compatible with modernc.org/sqlite.
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", d, "sqlite", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("snapshot migrations: %w", err)
	}

	return nil
}
