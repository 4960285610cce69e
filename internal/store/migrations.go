package store

import (
	"fmt"
)

// Migration is a single schema migration step
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations lists schema changes in order. The base schema is version 1;
// later versions alter it in place.
var Migrations = []Migration{
	{
		Version:     1,
		Description: "base schema",
		SQL:         schema,
	},
}

// GetSchemaVersion returns the current schema version from the store
func (s *Store) GetSchemaVersion() (int, error) {
	var version string
	err := s.conn.QueryRow("SELECT value FROM schema_info WHERE key = 'version'").Scan(&version)
	if err != nil {
		// No row or no table yet: pre-migration store
		return 0, nil
	}
	var v int
	fmt.Sscanf(version, "%d", &v)
	return v, nil
}

// setSchemaVersionInternal sets schema version without acquiring the lock
func (s *Store) setSchemaVersionInternal(version int) error {
	_, err := s.conn.Exec(`INSERT OR REPLACE INTO schema_info (key, value) VALUES ('version', ?)`,
		fmt.Sprintf("%d", version))
	return err
}

// RunMigrations runs any pending schema migrations
func (s *Store) RunMigrations() (int, error) {
	// Quick check without lock - if already at current version, skip
	currentVersion, _ := s.GetSchemaVersion()
	if currentVersion >= SchemaVersion {
		return 0, nil
	}

	var migrationsRun int
	err := s.withWriteLock(func() error {
		var err error
		migrationsRun, err = s.runMigrationsInternal()
		return err
	})
	return migrationsRun, err
}

func (s *Store) runMigrationsInternal() (int, error) {
	_, err := s.conn.Exec(`CREATE TABLE IF NOT EXISTS schema_info (key TEXT PRIMARY KEY, value TEXT NOT NULL)`)
	if err != nil {
		return 0, fmt.Errorf("create schema_info: %w", err)
	}

	currentVersion, err := s.GetSchemaVersion()
	if err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}

	migrationsRun := 0
	for _, migration := range Migrations {
		if migration.Version > currentVersion {
			if _, err := s.conn.Exec(migration.SQL); err != nil {
				return migrationsRun, fmt.Errorf("migration %d (%s): %w", migration.Version, migration.Description, err)
			}
			if err := s.setSchemaVersionInternal(migration.Version); err != nil {
				return migrationsRun, fmt.Errorf("set version %d: %w", migration.Version, err)
			}
			migrationsRun++
		}
	}

	return migrationsRun, nil
}
