package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeMigratorDB struct {
	applied  map[string]string
	execErr  error
	lookupFn func(name string) (string, error)
	beginErr error
	tx       *fakeMigratorTx
	closed   bool
}

func newFakeMigratorDB() *fakeMigratorDB {
	return &fakeMigratorDB{applied: map[string]string{}}
}

func (f *fakeMigratorDB) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag("CREATE TABLE"), f.execErr
}

func (f *fakeMigratorDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	name := args[0].(string)
	if f.lookupFn != nil {
		sum, err := f.lookupFn(name)
		return fakeMigratorRow{value: sum, err: err}
	}
	sum, ok := f.applied[name]
	if !ok {
		return fakeMigratorRow{err: pgx.ErrNoRows}
	}
	return fakeMigratorRow{value: sum}
}

func (f *fakeMigratorDB) Begin(ctx context.Context) (pgx.Tx, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	if f.tx == nil {
		f.tx = &fakeMigratorTx{}
	}
	f.tx.db = f
	f.tx.pending = nil
	return f.tx, nil
}

func (f *fakeMigratorDB) Close() { f.closed = true }

type fakeMigratorRow struct {
	value string
	err   error
}

func (r fakeMigratorRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*string) = r.value
	return nil
}

// fakeMigratorTx only implements the calls runMigrations makes.
type fakeMigratorTx struct {
	pgx.Tx
	db            *fakeMigratorDB
	pending       []any
	applyErr      error
	markErr       error
	commitErr     error
	rollbackCalls int
	statements    []string
}

func (t *fakeMigratorTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.statements = append(t.statements, sql)
	if strings.HasPrefix(sql, "INSERT INTO schema_migrations") {
		if t.markErr != nil {
			return pgconn.CommandTag{}, t.markErr
		}
		t.pending = args
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}
	return pgconn.NewCommandTag("CREATE TABLE"), t.applyErr
}

func (t *fakeMigratorTx) Commit(ctx context.Context) error {
	if t.commitErr != nil {
		return t.commitErr
	}
	if len(t.pending) == 2 {
		t.db.applied[t.pending[0].(string)] = t.pending[1].(string)
	}
	return nil
}

func (t *fakeMigratorTx) Rollback(ctx context.Context) error {
	t.rollbackCalls++
	return nil
}

func memSource(files map[string]string) migrationSource {
	return migrationSource{
		Dir: "migrations",
		Glob: func(pattern string) ([]string, error) {
			var out []string
			for name := range files {
				out = append(out, filepath.Join("migrations", name))
			}
			return out, nil
		},
		ReadFile: func(name string) ([]byte, error) {
			body, ok := files[filepath.Base(name)]
			if !ok {
				return nil, os.ErrNotExist
			}
			return []byte(body), nil
		},
	}
}

func TestRunMigrationsAppliesInOrderOnce(t *testing.T) {
	db := newFakeMigratorDB()
	src := memSource(map[string]string{
		"0002_vendors.sql": "ALTER TABLE vendors ADD COLUMN note TEXT;",
		"0001_init.sql":    "CREATE TABLE budgets (id BIGSERIAL PRIMARY KEY);",
	})
	n, err := runMigrations(context.Background(), db, src, nil)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 applied got=%d err=%v", n, err)
	}
	if !strings.HasPrefix(db.tx.statements[0], "CREATE TABLE budgets") {
		t.Fatalf("expected 0001 to run first, got %q", db.tx.statements[0])
	}
	if db.applied["0001_init.sql"] != checksum([]byte("CREATE TABLE budgets (id BIGSERIAL PRIMARY KEY);")) {
		t.Fatalf("expected checksum to be recorded, got %v", db.applied)
	}

	n, err = runMigrations(context.Background(), db, src, nil)
	if err != nil || n != 0 {
		t.Fatalf("expected rerun to be a no-op got=%d err=%v", n, err)
	}
}

func TestRunMigrationsDetectsChangedFile(t *testing.T) {
	db := newFakeMigratorDB()
	db.applied["0001_init.sql"] = checksum([]byte("CREATE TABLE budgets ();"))
	src := memSource(map[string]string{"0001_init.sql": "CREATE TABLE budgets (id INT);"})
	if _, err := runMigrations(context.Background(), db, src, nil); err == nil || !strings.Contains(err.Error(), "changed after it was applied") {
		t.Fatalf("expected drift error, got %v", err)
	}

	legacy := newFakeMigratorDB()
	legacy.applied["0001_init.sql"] = ""
	if n, err := runMigrations(context.Background(), legacy, src, nil); err != nil || n != 0 {
		t.Fatalf("rows without checksum must be accepted, got n=%d err=%v", n, err)
	}
}

func TestRunMigrationsErrors(t *testing.T) {
	src := memSource(map[string]string{"0001_init.sql": "CREATE TABLE budgets ();"})
	ctx := context.Background()

	if _, err := runMigrations(ctx, nil, src, nil); err == nil {
		t.Fatal("expected error for nil db")
	}

	db := newFakeMigratorDB()
	db.execErr = errors.New("no permission")
	if _, err := runMigrations(ctx, db, src, nil); err == nil || !strings.Contains(err.Error(), "create schema_migrations") {
		t.Fatalf("expected bootstrap error, got %v", err)
	}

	bad := src
	bad.Glob = func(string) ([]string, error) { return nil, errors.New("bad pattern") }
	if _, err := runMigrations(ctx, newFakeMigratorDB(), bad, nil); err == nil {
		t.Fatal("expected glob error")
	}

	outside := src
	outside.Glob = func(string) ([]string, error) { return []string{"/etc/passwd.sql"}, nil }
	if _, err := runMigrations(ctx, newFakeMigratorDB(), outside, nil); err == nil || !strings.Contains(err.Error(), "invalid migration path") {
		t.Fatalf("expected path error, got %v", err)
	}

	unreadable := src
	unreadable.ReadFile = func(string) ([]byte, error) { return nil, os.ErrPermission }
	if _, err := runMigrations(ctx, newFakeMigratorDB(), unreadable, nil); err == nil || !strings.Contains(err.Error(), "read migration") {
		t.Fatalf("expected read error, got %v", err)
	}

	db = newFakeMigratorDB()
	db.lookupFn = func(string) (string, error) { return "", errors.New("conn reset") }
	if _, err := runMigrations(ctx, db, src, nil); err == nil || !strings.Contains(err.Error(), "migration lookup") {
		t.Fatalf("expected lookup error, got %v", err)
	}

	db = newFakeMigratorDB()
	db.beginErr = errors.New("pool exhausted")
	if _, err := runMigrations(ctx, db, src, nil); err == nil || !strings.Contains(err.Error(), "begin migration tx") {
		t.Fatalf("expected begin error, got %v", err)
	}

	for name, tx := range map[string]*fakeMigratorTx{
		"apply":  {applyErr: errors.New("syntax error")},
		"mark":   {markErr: errors.New("duplicate key")},
		"commit": {commitErr: errors.New("serialization failure")},
	} {
		db := newFakeMigratorDB()
		db.tx = tx
		n, err := runMigrations(ctx, db, src, nil)
		if err == nil || !strings.Contains(err.Error(), name) || n != 0 {
			t.Fatalf("%s: expected error, got n=%d err=%v", name, n, err)
		}
		if name != "commit" && tx.rollbackCalls != 1 {
			t.Fatalf("%s: expected rollback, got %d", name, tx.rollbackCalls)
		}
		if len(db.applied) != 0 {
			t.Fatalf("%s: nothing should be recorded, got %v", name, db.applied)
		}
	}
}

func TestValidateMigrationPath(t *testing.T) {
	if _, err := validateMigrationPath("migrations", filepath.Join("migrations", "0001_init.sql")); err != nil {
		t.Fatalf("expected valid path, got %v", err)
	}
	if _, err := validateMigrationPath("migrations", filepath.Join("migrations", "..", "secrets.sql")); err == nil {
		t.Fatal("expected traversal to be rejected")
	}
}

func TestMain_Entrypoint(t *testing.T) {
	origFatal, origOpen, origDotenv := logFatalf, openDBFn, loadDotenv
	defer func() { logFatalf, openDBFn, loadDotenv = origFatal, origOpen, origDotenv }()
	loadDotenv = func(...string) error { return nil }

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "0001_init.sql"), []byte("SELECT 1;"), 0o600); err != nil {
		t.Fatalf("write migration: %v", err)
	}
	t.Setenv("MIGRATIONS_DIR", dir)

	db := newFakeMigratorDB()
	var fatal string
	logFatalf = func(format string, args ...any) { fatal = format }
	openDBFn = func(context.Context) (migratorDBCloser, error) { return db, nil }
	main()
	if fatal != "" || !db.closed || len(db.applied) != 1 {
		t.Fatalf("expected clean run, fatal=%q closed=%v applied=%v", fatal, db.closed, db.applied)
	}

	openDBFn = func(context.Context) (migratorDBCloser, error) { return nil, errors.New("refused") }
	main()
	if fatal != "db: %v" {
		t.Fatalf("expected db fatal, got %q", fatal)
	}

	fatal = ""
	loadDotenv = func(...string) error { return errors.New("bad .env") }
	main()
	if fatal != "dotenv: %v" {
		t.Fatalf("expected dotenv fatal, got %q", fatal)
	}
}
