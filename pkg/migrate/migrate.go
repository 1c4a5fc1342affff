package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/angelmondragon/paysaga-backend/pkg/logger"
)

const DefaultDir = "pkg/migrate/migrations"

// DirFor returns the migrations directory owned by a service kind. Each
// service migrates its own database.
func DirFor(base, kind string) string {
	if base == "" {
		base = DefaultDir
	}
	return filepath.Join(base, strings.ToLower(strings.TrimSpace(kind)))
}

// Migrator applies one service's goose migrations to its database.
type Migrator struct {
	provider *goose.Provider
	dir      string
	logg     *logger.Logger
}

// VersionStatus is one row of Migrator.Status.
type VersionStatus struct {
	Version   int64
	File      string
	Applied   bool
	AppliedAt time.Time
}

func NewMigrator(db *sql.DB, dir string, logg *logger.Logger) (*Migrator, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if dir == "" {
		return nil, fmt.Errorf("dir is required")
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, os.DirFS(dir))
	if err != nil {
		return nil, fmt.Errorf("goose provider for %q: %w", dir, err)
	}
	return &Migrator{provider: provider, dir: dir, logg: logg}, nil
}

// Up applies every pending migration.
func (m *Migrator) Up(ctx context.Context) error {
	results, err := m.provider.Up(ctx)
	m.logResults(ctx, results...)
	if err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// Down rolls back the most recent migration.
func (m *Migrator) Down(ctx context.Context) error {
	result, err := m.provider.Down(ctx)
	if result != nil {
		m.logResults(ctx, result)
	}
	if err != nil {
		return fmt.Errorf("goose down: %w", err)
	}
	return nil
}

// To moves the schema up or down until target is the current version.
func (m *Migrator) To(ctx context.Context, target int64) error {
	current, err := m.provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("current version: %w", err)
	}
	var results []*goose.MigrationResult
	switch {
	case current == target:
		return nil
	case current < target:
		results, err = m.provider.UpTo(ctx, target)
	default:
		results, err = m.provider.DownTo(ctx, target)
	}
	m.logResults(ctx, results...)
	if err != nil {
		return fmt.Errorf("migrate %d -> %d: %w", current, target, err)
	}
	return nil
}

func (m *Migrator) Status(ctx context.Context) ([]VersionStatus, error) {
	rows, err := m.provider.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("goose status: %w", err)
	}
	out := make([]VersionStatus, 0, len(rows))
	for _, row := range rows {
		out = append(out, VersionStatus{
			Version:   row.Source.Version,
			File:      filepath.Base(row.Source.Path),
			Applied:   row.State == goose.StateApplied,
			AppliedAt: row.AppliedAt,
		})
	}
	return out, nil
}

func (m *Migrator) logResults(ctx context.Context, results ...*goose.MigrationResult) {
	if m.logg == nil {
		return
	}
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		fields := map[string]any{
			"version":     r.Source.Version,
			"file":        filepath.Base(r.Source.Path),
			"direction":   r.Direction,
			"duration_ms": r.Duration.Milliseconds(),
		}
		if r.Error != nil {
			m.logg.Error(m.logg.WithFields(ctx, fields), "migration failed", r.Error)
			continue
		}
		m.logg.Info(m.logg.WithFields(ctx, fields), "migration applied")
	}
}

// ParseVersion parses a YYYYMMDDHHMMSS migration version.
func ParseVersion(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if !versionRe.MatchString(raw) {
		return 0, fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS)", raw)
	}
	return strconv.ParseInt(raw, 10, 64)
}
