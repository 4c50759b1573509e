package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
)

// ErrNoMigration indicates no migration has been applied yet.
var ErrNoMigration = errors.New("no migration")

// Migration is one forward schema step. Versions must be unique and
// positive; they are applied in ascending order.
type Migration struct {
	Version uint
	Name    string
	Up      string
}

// Dialect selects placeholder syntax for the bookkeeping queries.
type Dialect int

// Supported dialects.
const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// Migrator applies embedded migrations and tracks the applied version in a
// schema_migrations table. Each migration runs in its own transaction
// together with its version record.
type Migrator struct {
	db      *sql.DB
	dialect Dialect
}

// NewMigrator creates a migrator for db.
func NewMigrator(db *sql.DB, dialect Dialect) (*Migrator, error) {
	if db == nil {
		return nil, fmt.Errorf("migrations: database connection is required")
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("migrations: failed to create schema table: %w", err)
	}

	return &Migrator{db: db, dialect: dialect}, nil
}

// Up applies every migration newer than the current version and returns how
// many were applied.
func (m *Migrator) Up(ctx context.Context, migrations []Migration) (int, error) {
	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Version < sorted[j].Version
	})

	current, err := m.Version(ctx)
	if err != nil && !errors.Is(err, ErrNoMigration) {
		return 0, err
	}

	insert := "INSERT INTO schema_migrations (version, name) VALUES (?, ?)"
	if m.dialect == DialectPostgres {
		insert = "INSERT INTO schema_migrations (version, name) VALUES ($1, $2)"
	}

	applied := 0
	for _, mig := range sorted {
		if mig.Version <= current {
			continue
		}
		if err := m.apply(ctx, mig, insert); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

func (m *Migrator) apply(ctx context.Context, mig Migration, insert string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrations: failed to begin version %d: %w", mig.Version, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, mig.Up); err != nil {
		return fmt.Errorf("migrations: failed to apply version %d (%s): %w", mig.Version, mig.Name, err)
	}
	if _, err := tx.ExecContext(ctx, insert, mig.Version, mig.Name); err != nil {
		return fmt.Errorf("migrations: failed to record version %d: %w", mig.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrations: failed to commit version %d: %w", mig.Version, err)
	}
	return nil
}

// Version returns the highest applied migration version.
// Returns ErrNoMigration when nothing has been applied.
func (m *Migrator) Version(ctx context.Context) (uint, error) {
	var version uint
	err := m.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("migrations: failed to query version: %w", err)
	}
	if version == 0 {
		return 0, ErrNoMigration
	}
	return version, nil
}
