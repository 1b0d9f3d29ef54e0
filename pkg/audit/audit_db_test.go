package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeAuditDB struct {
	execErr   error
	queryErr  error
	rows      [][]any
	execArgs  []any
	queryArgs []any
}

func (f *fakeAuditDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	_ = ctx
	_ = sql
	f.execArgs = append([]any(nil), args...)
	return pgconn.NewCommandTag("INSERT 0 1"), f.execErr
}

func (f *fakeAuditDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	_ = ctx
	_ = sql
	f.queryArgs = append([]any(nil), args...)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return &fakeAuditRows{rows: f.rows}, nil
}

type fakeAuditRows struct {
	rows [][]any
	idx  int
}

func (r *fakeAuditRows) Close() {}

func (r *fakeAuditRows) Err() error { return nil }

func (r *fakeAuditRows) CommandTag() pgconn.CommandTag { return pgconn.NewCommandTag("SELECT 1") }

func (r *fakeAuditRows) FieldDescriptions() []pgconn.FieldDescription { return nil }

func (r *fakeAuditRows) RawValues() [][]byte { return nil }

func (r *fakeAuditRows) Conn() *pgx.Conn { return nil }

func (r *fakeAuditRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeAuditRows) Values() ([]any, error) {
	return append([]any(nil), r.rows[r.idx-1]...), nil
}

func (r *fakeAuditRows) Scan(dest ...any) error {
	current := r.rows[r.idx-1]
	if len(dest) != len(current) {
		return fmt.Errorf("scan arity mismatch: got=%d want=%d", len(dest), len(current))
	}
	for i := range dest {
		if err := assignAuditScan(dest[i], current[i]); err != nil {
			return err
		}
	}
	return nil
}

func assignAuditScan(dest any, val any) error {
	switch d := dest.(type) {
	case *string:
		v, ok := val.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", val)
		}
		*d = v
		return nil
	case *int64:
		v, ok := val.(int64)
		if !ok {
			return fmt.Errorf("expected int64, got %T", val)
		}
		*d = v
		return nil
	case *json.RawMessage:
		switch v := val.(type) {
		case json.RawMessage:
			*d = append((*d)[:0], v...)
		case string:
			*d = json.RawMessage(v)
		default:
			return fmt.Errorf("expected json raw, got %T", val)
		}
		return nil
	case *time.Time:
		v, ok := val.(time.Time)
		if !ok {
			return fmt.Errorf("expected time.Time, got %T", val)
		}
		*d = v
		return nil
	default:
		return fmt.Errorf("unsupported scan dest %T", dest)
	}
}

func rawArgString(v any) string {
	switch t := v.(type) {
	case json.RawMessage:
		return string(t)
	case []byte:
		return string(t)
	case string:
		return t
	default:
		return fmt.Sprint(v)
	}
}

func TestWriterAppendAndList(t *testing.T) {
	now := time.Date(2026, 2, 6, 12, 0, 0, 0, time.UTC)
	changes := json.RawMessage(`{"payment_status":"Paid"}`)
	db := &fakeAuditDB{
		rows: [][]any{
			{int64(11), int64(3), int64(7), ActionCreate, `{"vendor_id":"4"}`, now},
			{int64(11), int64(3), int64(7), ActionUpdate, changes, now.Add(time.Minute)},
		},
	}
	w := &Writer{DB: db}

	rec := Record{AllocationID: 11, BudgetID: 3, ActorUserID: 7, Action: ActionUpdate, Changes: changes, CreatedAt: now}
	if err := w.Append(context.Background(), rec); err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(db.execArgs) != 6 {
		t.Fatalf("expected 6 exec args, got %d", len(db.execArgs))
	}
	if got := rawArgString(db.execArgs[4]); got != string(changes) {
		t.Fatalf("unexpected changes arg: %s", got)
	}

	history, err := w.List(context.Background(), 11)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(history) != 2 || history[0].Action != ActionCreate || history[1].Action != ActionUpdate {
		t.Fatalf("unexpected history: %+v", history)
	}
	if len(db.queryArgs) != 1 || db.queryArgs[0] != int64(11) {
		t.Fatalf("unexpected query args: %v", db.queryArgs)
	}
}

func TestWriterDefaults(t *testing.T) {
	db := &fakeAuditDB{}
	w := &Writer{DB: db}
	if err := w.Append(context.Background(), Record{AllocationID: 1, Action: ActionDelete}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if got := rawArgString(db.execArgs[4]); got != "{}" {
		t.Fatalf("expected empty changes object, got %s", got)
	}
	if ts, ok := db.execArgs[5].(time.Time); !ok || ts.IsZero() {
		t.Fatalf("expected created_at default, got %v", db.execArgs[5])
	}
}

func TestWriterRedactionAndErrors(t *testing.T) {
	db := &fakeAuditDB{}
	w := &Writer{DB: db, HashSalt: []byte("salt-1"), Redact: true}
	rec := Record{
		AllocationID: 1,
		Action:       ActionUpdate,
		Changes:      json.RawMessage(`{"client_name":"Jane Client","fin_comments":"ok"}`),
		CreatedAt:    time.Now().UTC(),
	}
	if err := w.Append(context.Background(), rec); err != nil {
		t.Fatalf("append redacted: %v", err)
	}
	stored := rawArgString(db.execArgs[4])
	if strings.Contains(stored, "Jane Client") || strings.Contains(stored, `"client_name"`) {
		t.Fatalf("client name leaked into audit record: %s", stored)
	}
	if !strings.Contains(stored, "client_name_hash") || !strings.Contains(stored, "fin_comments") {
		t.Fatalf("expected hashed client name and untouched comments: %s", stored)
	}

	rec.Changes = json.RawMessage(`not-json`)
	if err := w.Append(context.Background(), rec); err != nil {
		t.Fatalf("append invalid json: %v", err)
	}
	if stored := rawArgString(db.execArgs[4]); !strings.Contains(stored, "invalid_json") {
		t.Fatalf("expected redaction error marker: %s", stored)
	}

	db.execErr = errors.New("exec failed")
	if err := w.Append(context.Background(), rec); err == nil {
		t.Fatal("expected append error")
	}
	db.queryErr = errors.New("query failed")
	if _, err := w.List(context.Background(), 1); err == nil {
		t.Fatal("expected list error")
	}
}

func TestHashBytesUsesSalt(t *testing.T) {
	a := hashString("Jane", []byte("s1"))
	b := hashString("Jane", []byte("s2"))
	if a == b {
		t.Fatal("expected salt to change hash")
	}
	if hashString("Jane", nil) != hashBytes([]byte("Jane"), nil) {
		t.Fatal("hashString must match hashBytes")
	}
}
