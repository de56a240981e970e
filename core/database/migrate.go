package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	coreconfig "github.com/m3rciful/betbot/core/config"
	"github.com/m3rciful/betbot/core/logger"
)

const upSuffix = ".up.sql"

// RunMigrations applies every pending up migration from cfg.MigrationsDir.
// A relative directory is resolved against the working directory.
func RunMigrations(ctx context.Context, cfg coreconfig.DatabaseConfig) error {
	dir, err := resolveMigrationsDir(cfg.MigrationsDir)
	if err != nil {
		return err
	}
	files := listMigrationFiles(dir)
	logFiles(ctx, "migrations resolved", "resolve", files, slog.String("path", dir))

	m, err := migrate.New("file://"+filepath.ToSlash(dir), URLDSN(cfg))
	if err != nil {
		logger.MIG.ErrorContext(ctx, "init failed",
			slog.String("event", "db.migrate"),
			slog.String("err", logger.ErrAttr(err)),
		)
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	m.Log = migrateLog{ctx: ctx}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			logger.MIG.WarnContext(ctx, "migrate close failed",
				slog.String("event", "db.migrate"),
				slog.String("err", logger.ErrAttr(errors.Join(srcErr, dbErr))),
			)
		}
	}()

	from := currentVersion(ctx, m)
	start := time.Now()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.MIG.ErrorContext(ctx, "migration failed",
			slog.String("event", "apply"),
			slog.Uint64("from_ver", from),
			slog.String("err", logger.ErrAttr(err)),
			slog.Duration("duration", logger.RoundMS(time.Since(start))),
		)
		return fmt.Errorf("migration execution failed: %w", err)
	}
	took := time.Since(start)

	to := currentVersion(ctx, m)
	applied := selectApplied(files, from, to)
	if len(applied) > 0 {
		logFiles(ctx, "applied files", "apply", applied)
	}
	logger.MIG.InfoContext(ctx, "migrations summary",
		slog.String("event", "summary"),
		slog.Uint64("from_ver", from),
		slog.Uint64("to_ver", to),
		slog.Int("count", len(applied)),
		slog.Duration("duration", logger.RoundMS(took)),
	)
	return nil
}

// currentVersion reports the schema version, 0 before the first migration.
func currentVersion(ctx context.Context, m *migrate.Migrate) uint64 {
	v, dirty, err := m.Version()
	if err != nil {
		return 0
	}
	if dirty {
		logger.MIG.WarnContext(ctx, "schema is dirty",
			slog.String("event", "db.migrate"),
			slog.Uint64("from_ver", uint64(v)),
		)
	}
	return uint64(v)
}

func logFiles(ctx context.Context, msg, event string, files []string, extra ...slog.Attr) {
	attrs := append([]slog.Attr{
		slog.String("event", event),
		slog.Int("files_total", len(files)),
	}, extra...)
	if preview, truncated := logger.SummarizeStrings(files, 6); preview != "" {
		attrs = append(attrs, slog.String("files_preview", preview))
		if truncated {
			attrs = append(attrs, slog.Bool("files_truncated", true))
		}
	}
	logger.MIG.LogAttrs(ctx, slog.LevelDebug, msg, attrs...)
}

// migrateLog routes golang-migrate's own progress lines to the MIG logger.
type migrateLog struct{ ctx context.Context }

func (l migrateLog) Printf(format string, v ...any) {
	logger.MIG.DebugContext(l.ctx, strings.TrimSpace(fmt.Sprintf(format, v...)),
		slog.String("event", "db.migrate"),
	)
}

func (l migrateLog) Verbose() bool {
	return logger.MIG.Enabled(l.ctx, slog.LevelDebug)
}

func resolveMigrationsDir(dir string) (string, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		dir = "migrations"
	}
	if filepath.IsAbs(dir) {
		return dir, nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve migrations dir: %w", err)
	}
	return abs, nil
}

// listMigrationFiles returns the up migrations in dir, oldest first.
func listMigrationFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), upSuffix) {
			names = append(names, e.Name())
		}
	}
	slices.SortFunc(names, func(a, b string) int {
		if va, vb := fileVersion(a), fileVersion(b); va != vb {
			if va < vb {
				return -1
			}
			return 1
		}
		return strings.Compare(a, b)
	})
	return names
}

func fileVersion(name string) uint64 {
	prefix, _, _ := strings.Cut(name, "_")
	v, _ := strconv.ParseUint(prefix, 10, 64)
	return v
}

// selectApplied returns the files whose version lies in (from, to].
func selectApplied(files []string, from, to uint64) []string {
	var out []string
	for _, f := range files {
		if v := fileVersion(f); v > from && v <= to {
			out = append(out, f)
		}
	}
	return out
}
