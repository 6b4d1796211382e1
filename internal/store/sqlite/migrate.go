package sqlite

import (
	"cmp"
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"slices"
	"strconv"
	"strings"

	"github.com/revittco/sare/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migration is one embedded NNN_name.sql file.
type migration struct {
	version int
	name    string
}

func (m migration) path() string { return "migrations/" + m.name }

// migrate brings the archive schema up to the newest embedded version.
// An archive written by a newer binary is refused rather than modified.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL DEFAULT '',
			applied_at TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("ensure schema table: %w", err)
	}

	current, err := schemaVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	pending, err := embeddedMigrations()
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	if n := len(pending); n > 0 && current > pending[n-1].version {
		return fmt.Errorf("%w: version %d, supported %d",
			store.ErrSchemaTooNew, current, pending[n-1].version)
	}

	for _, m := range pending {
		if m.version <= current {
			continue
		}
		if err := apply(ctx, db, m); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
	}
	return nil
}

func schemaVersion(ctx context.Context, q queryable) (int, error) {
	var v int
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_version`,
	).Scan(&v)
	return v, err
}

// embeddedMigrations returns the embedded migrations ordered by version.
// Files without a numeric prefix are ignored.
func embeddedMigrations() ([]migration, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, err
	}

	var out []migration
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		ver, err := strconv.Atoi(prefix)
		if err != nil || ver <= 0 {
			continue
		}
		out = append(out, migration{version: ver, name: name})
	}
	slices.SortFunc(out, func(a, b migration) int { return cmp.Compare(a.version, b.version) })
	return out, nil
}

func apply(ctx context.Context, db *sql.DB, m migration) error {
	script, err := migrationsFS.ReadFile(m.path())
	if err != nil {
		return fmt.Errorf("read %s: %w", m.name, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, string(script)); err != nil {
		return fmt.Errorf("exec %s: %w", m.name, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_version (version, name, applied_at) VALUES (?, ?, ?)`,
		m.version, m.name, formatTime(nowUTC()),
	); err != nil {
		return fmt.Errorf("record version: %w", err)
	}
	return tx.Commit()
}

// SchemaVersion reports the archive's applied schema version.
func (d *DB) SchemaVersion(ctx context.Context) (int, error) {
	return schemaVersion(ctx, d.q)
}
