package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
)

// Migration is one schema step. Versions are tracked in PRAGMA user_version.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

type Migrator struct {
	pool       *Pool
	migrations []Migration
}

func NewMigrator(pool *Pool, migrations []Migration) *Migrator {
	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Version < sorted[j].Version
	})

	return &Migrator{
		pool:       pool,
		migrations: sorted,
	}
}

// Latest returns the highest known schema version.
func (m *Migrator) Latest() int {
	if len(m.migrations) == 0 {
		return 0
	}
	return m.migrations[len(m.migrations)-1].Version
}

// Migrate applies every migration newer than the stored version, each in its
// own transaction. A database stamped with a version this build does not know
// is refused untouched.
func (m *Migrator) Migrate(ctx context.Context) error {
	currentVersion, err := m.pool.Version(ctx)
	if err != nil {
		return fmt.Errorf("get version: %w", err)
	}
	if latest := m.Latest(); currentVersion > latest {
		return fmt.Errorf("%w: schema version %d, newest known is %d", ErrUnsupportedSchema, currentVersion, latest)
	}

	for _, migration := range m.migrations {
		if migration.Version <= currentVersion {
			continue
		}
		if err := m.apply(ctx, migration); err != nil {
			return fmt.Errorf("migration %d (%s): %w", migration.Version, migration.Description, err)
		}
	}

	return nil
}

func (m *Migrator) apply(ctx context.Context, migration Migration) error {
	return m.pool.Transaction(ctx, func(tx *sql.Tx) error {
		if migration.Up != nil {
			if err := migration.Up(tx); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", migration.Version))
		return err
	})
}
