// Package migrate applies the embedded SQL schema and tracks what has run
// in a schema_migrations table.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"time"

	"go.uber.org/zap"

	"smsinbox/pkg/logger"
)

// Migration is one versioned schema change
type Migration struct {
	Version   int
	Name      string
	Up        string
	Down      string
	Applied   bool
	AppliedAt *time.Time
}

// Runner applies migrations from a filesystem of NNN_name.up.sql and
// NNN_name.down.sql files
type Runner struct {
	db  *sql.DB
	fs  fs.FS
	log *logger.Logger
}

// NewRunner creates a runner
func NewRunner(db *sql.DB, migrations fs.FS, log *logger.Logger) *Runner {
	return &Runner{db: db, fs: migrations, log: log}
}

var filePattern = regexp.MustCompile(`^(\d{3})_(.+)\.(up|down)\.sql$`)

// Load reads every migration from the filesystem, ordered by version
func (r *Runner) Load() ([]*Migration, error) {
	entries, err := fs.ReadDir(r.fs, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	byVersion := make(map[int]*Migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matches := filePattern.FindStringSubmatch(entry.Name())
		if len(matches) != 4 {
			continue
		}

		var version int
		fmt.Sscanf(matches[1], "%d", &version)

		content, err := fs.ReadFile(r.fs, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}

		m, ok := byVersion[version]
		if !ok {
			m = &Migration{Version: version, Name: matches[2]}
			byVersion[version] = m
		}
		if matches[3] == "up" {
			m.Up = string(content)
		} else {
			m.Down = string(content)
		}
	}

	migrations := make([]*Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" {
			return nil, fmt.Errorf("migration %03d_%s has no up file", m.Version, m.Name)
		}
		migrations = append(migrations, m)
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

func (r *Runner) ensureTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)
	`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}
	return nil
}

func (r *Runner) applied(ctx context.Context) (map[int]time.Time, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT version, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var at time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[version] = at
	}
	return applied, rows.Err()
}

// Status returns every known migration with its applied state
func (r *Runner) Status(ctx context.Context) ([]*Migration, error) {
	if err := r.ensureTable(ctx); err != nil {
		return nil, err
	}
	migrations, err := r.Load()
	if err != nil {
		return nil, err
	}
	applied, err := r.applied(ctx)
	if err != nil {
		return nil, err
	}

	for _, m := range migrations {
		if at, ok := applied[m.Version]; ok {
			m.Applied = true
			at := at
			m.AppliedAt = &at
		}
	}
	return migrations, nil
}

// Up applies every pending migration in order and returns how many ran
func (r *Runner) Up(ctx context.Context) (int, error) {
	migrations, err := r.Status(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, m := range migrations {
		if m.Applied {
			continue
		}
		if err := r.exec(ctx, m.Up, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name); err != nil {
			return count, fmt.Errorf("failed to apply migration %03d_%s: %w", m.Version, m.Name, err)
		}
		r.log.Info("migration applied", zap.Int("version", m.Version), zap.String("name", m.Name))
		count++
	}
	return count, nil
}

// Down rolls back the most recently applied migration. It returns nil
// when nothing is applied.
func (r *Runner) Down(ctx context.Context) (*Migration, error) {
	migrations, err := r.Status(ctx)
	if err != nil {
		return nil, err
	}

	var last *Migration
	for _, m := range migrations {
		if m.Applied {
			last = m
		}
	}
	if last == nil {
		return nil, nil
	}
	if last.Down == "" {
		return nil, fmt.Errorf("no rollback defined for migration version %d", last.Version)
	}

	if err := r.exec(ctx, last.Down, `DELETE FROM schema_migrations WHERE version = $1`, last.Version); err != nil {
		return nil, fmt.Errorf("failed to roll back migration %03d_%s: %w", last.Version, last.Name, err)
	}
	r.log.Info("migration rolled back", zap.Int("version", last.Version), zap.String("name", last.Name))
	return last, nil
}

// Reset rolls everything back and reapplies it
func (r *Runner) Reset(ctx context.Context) (int, error) {
	for {
		m, err := r.Down(ctx)
		if err != nil {
			return 0, err
		}
		if m == nil {
			break
		}
	}
	return r.Up(ctx)
}

// exec runs a schema script and its bookkeeping statement in one transaction
func (r *Runner) exec(ctx context.Context, script, bookkeeping string, args ...interface{}) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit()
}
