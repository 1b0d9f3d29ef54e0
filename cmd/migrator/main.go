package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rlarcher1021/seazwf-sub000/pkg/config"
	"github.com/rlarcher1021/seazwf-sub000/pkg/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type migrationDB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type migratorDBCloser interface {
	migrationDB
	Close()
}

// migrationSource lists and reads *.sql files. Nil funcs use the filesystem.
type migrationSource struct {
	Dir      string
	ReadFile func(name string) ([]byte, error)
	Glob     func(pattern string) ([]string, error)
}

// Testable variables for main()
var (
	logFatalf  = log.Fatalf
	loadDotenv = config.LoadDotenv
	openDBFn   = func(ctx context.Context) (migratorDBCloser, error) {
		return store.NewPostgresPool(ctx, store.PostgresConfigFromEnv())
	}
)

func main() {
	if err := loadDotenv(); err != nil {
		logFatalf("dotenv: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), config.DurationSec("MIGRATE_TIMEOUT_SEC", 60))
	defer cancel()

	pool, err := openDBFn(ctx)
	if err != nil {
		logFatalf("db: %v", err)
		return
	}
	defer pool.Close()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "migrator")
	src := migrationSource{Dir: config.String("MIGRATIONS_DIR", "migrations")}
	if _, err := runMigrations(ctx, pool, src, logger); err != nil {
		logFatalf("migration: %v", err)
	}
}

func validateMigrationPath(migrationsDir, file string) (string, error) {
	cleanDir := filepath.Clean(migrationsDir)
	cleanFile := filepath.Clean(file)
	if !strings.HasPrefix(cleanFile, cleanDir+string(os.PathSeparator)) {
		return "", fmt.Errorf("path %q is outside migrations dir %q", file, migrationsDir)
	}
	return cleanFile, nil
}

func checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// runMigrations applies pending files in name order, one transaction each, and
// returns how many it applied. A file whose content changed after it was
// applied stops the run.
func runMigrations(ctx context.Context, db migrationDB, src migrationSource, logger *slog.Logger) (int, error) {
	if db == nil {
		return 0, errors.New("db required")
	}
	if src.ReadFile == nil {
		// #nosec G304 -- migration file path is validated by validateMigrationPath before read.
		src.ReadFile = os.ReadFile
	}
	if src.Glob == nil {
		src.Glob = filepath.Glob
	}
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			checksum TEXT NOT NULL DEFAULT '',
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return 0, fmt.Errorf("create schema_migrations: %w", err)
	}

	dir := filepath.Clean(src.Dir)
	files, err := src.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return 0, fmt.Errorf("glob migrations: %w", err)
	}
	sort.Strings(files)

	applied := 0
	for _, file := range files {
		cleanFile, err := validateMigrationPath(dir, file)
		if err != nil {
			return applied, fmt.Errorf("invalid migration path: %s", file)
		}
		name := filepath.Base(cleanFile)
		sqlBytes, err := src.ReadFile(cleanFile)
		if err != nil {
			return applied, fmt.Errorf("read migration %s: %w", name, err)
		}
		sum := checksum(sqlBytes)

		var recorded string
		err = db.QueryRow(ctx, `SELECT checksum FROM schema_migrations WHERE filename=$1`, name).Scan(&recorded)
		switch {
		case err == nil:
			if recorded != "" && recorded != sum {
				return applied, fmt.Errorf("migration %s changed after it was applied", name)
			}
			continue
		case !errors.Is(err, pgx.ErrNoRows):
			return applied, fmt.Errorf("migration lookup %s: %w", name, err)
		}

		start := time.Now()
		tx, err := db.Begin(ctx)
		if err != nil {
			return applied, fmt.Errorf("begin migration tx: %w", err)
		}
		if _, err := tx.Exec(ctx, string(sqlBytes)); err != nil {
			_ = tx.Rollback(ctx)
			return applied, fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations(filename, checksum) VALUES($1, $2)`, name, sum); err != nil {
			_ = tx.Rollback(ctx)
			return applied, fmt.Errorf("mark migration %s: %w", name, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return applied, fmt.Errorf("commit migration %s: %w", name, err)
		}
		applied++
		logger.Info("applied migration", "file", name, "duration_ms", time.Since(start).Milliseconds())
	}

	logger.Info("migrations complete", "applied", applied, "total", len(files))
	return applied, nil
}
