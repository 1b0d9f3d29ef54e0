package visibility

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rlarcher1021/seazwf-sub000/pkg/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeRows struct {
	rows [][]any
	idx  int
	err  error
}

func (r *fakeRows) Close() {}

func (r *fakeRows) Err() error { return r.err }

func (r *fakeRows) CommandTag() pgconn.CommandTag { return pgconn.NewCommandTag("SELECT 1") }

func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }

func (r *fakeRows) Next() bool {
	if r.err != nil || r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.idx-1]
	if len(dest) != len(row) {
		return errors.New("scan arity mismatch")
	}
	for i := range dest {
		switch d := dest[i].(type) {
		case *int64:
			*d = row[i].(int64)
		case *string:
			*d = row[i].(string)
		case **int64:
			if row[i] == nil {
				*d = nil
				continue
			}
			v := row[i].(int64)
			*d = &v
		default:
			return errors.New("unsupported scan destination")
		}
	}
	return nil
}

func (r *fakeRows) Values() ([]any, error) { return nil, errors.New("not supported") }

func (r *fakeRows) RawValues() [][]byte { return nil }

func (r *fakeRows) Conn() *pgx.Conn { return nil }

type recordingDB struct {
	calls int
	sql   string
	args  []any
	rows  [][]any
	err   error
}

func (d *recordingDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	d.calls++
	d.sql, d.args = sql, args
	if d.err != nil {
		return nil, d.err
	}
	return &fakeRows{rows: d.rows}, nil
}

func i64(v int64) *int64 { return &v }

func staffActor(id int64, membership models.Membership) models.Actor {
	return models.Actor{UserID: id, Role: models.RoleStaff, DepartmentID: i64(10), Membership: membership}
}

func TestResolveDirectorSeesAllWithFilters(t *testing.T) {
	db := &recordingDB{rows: [][]any{
		{int64(1), "Owner FY26", "Staff", int64(7), nil},
		{int64(2), "Admin FY26", "Admin", nil, int64(3)},
	}}
	fy := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	r := &Resolver{DB: db}
	out, err := r.ResolveVisibleBudgets(context.Background(), models.Actor{UserID: 1, Role: models.RoleDirector}, models.BudgetFilter{FiscalYearStart: &fy, GrantID: i64(4)})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(out) != 2 || out[1].Type != models.BudgetTypeAdmin || out[0].OwnerID == nil || *out[0].OwnerID != 7 {
		t.Fatalf("unexpected summaries %+v", out)
	}
	if strings.Contains(db.sql, "type = ANY") || strings.Contains(db.sql, "owner_user_id =") {
		t.Fatalf("director must not be scoped: %s", db.sql)
	}
	if !strings.Contains(db.sql, "fiscal_year_start = $1") || !strings.Contains(db.sql, "grant_id = $2") || len(db.args) != 2 {
		t.Fatalf("unexpected filter clauses %s %v", db.sql, db.args)
	}
}

func TestResolveOperationalStaffScopedToOwnStaffBudgets(t *testing.T) {
	db := &recordingDB{}
	r := &Resolver{DB: db}
	out, err := r.ResolveVisibleBudgets(context.Background(), staffActor(7, models.MembershipOperational), models.BudgetFilter{DepartmentID: i64(10)})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if out == nil || len(out) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", out)
	}
	if !strings.Contains(db.sql, "type = ANY($1)") || !strings.Contains(db.sql, "owner_user_id = $2") || !strings.Contains(db.sql, "department_id = $3") {
		t.Fatalf("unexpected sql %s", db.sql)
	}
	if types := db.args[0].([]string); len(types) != 1 || types[0] != "Staff" {
		t.Fatalf("expected Staff only, got %v", types)
	}
	if db.args[1].(int64) != 7 {
		t.Fatalf("expected owner 7, got %v", db.args[1])
	}
}

func TestResolveFinanceSeesStaffAndAdmin(t *testing.T) {
	db := &recordingDB{}
	r := &Resolver{DB: db}
	if _, err := r.ResolveVisibleBudgets(context.Background(), staffActor(9, models.MembershipFinance), models.BudgetFilter{}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	_, where, _ := strings.Cut(db.sql, "WHERE")
	if strings.Contains(where, "owner_user_id =") || strings.Contains(where, "department_id =") {
		t.Fatalf("finance must not be owner or department scoped: %s", db.sql)
	}
	if types := db.args[0].([]string); len(types) != 2 {
		t.Fatalf("expected Staff and Admin, got %v", types)
	}

	admin := models.BudgetTypeAdmin
	if _, err := r.ResolveVisibleBudgets(context.Background(), staffActor(9, models.MembershipFinance), models.BudgetFilter{Type: &admin}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if types := db.args[0].([]string); len(types) != 1 || types[0] != "Admin" {
		t.Fatalf("expected type filter to narrow scope, got %v", types)
	}
}

func TestResolveShortCircuits(t *testing.T) {
	db := &recordingDB{}
	r := &Resolver{DB: db}
	out, err := r.ResolveVisibleBudgets(context.Background(), models.Actor{UserID: 3, Role: models.RoleKiosk}, models.BudgetFilter{})
	if err != nil || out == nil || len(out) != 0 {
		t.Fatalf("kiosk expected empty result, got %v %v", out, err)
	}
	admin := models.BudgetTypeAdmin
	out, err = r.ResolveVisibleBudgets(context.Background(), staffActor(7, models.MembershipOperational), models.BudgetFilter{Type: &admin})
	if err != nil || len(out) != 0 {
		t.Fatalf("operational staff filtering on Admin expected empty, got %v %v", out, err)
	}
	if db.calls != 0 {
		t.Fatalf("expected no queries, got %d", db.calls)
	}
}

func TestResolveQueryFailure(t *testing.T) {
	r := &Resolver{DB: &recordingDB{err: errors.New("conn refused")}}
	if _, err := r.ResolveVisibleBudgets(context.Background(), models.Actor{UserID: 1, Role: models.RoleAdministrator}, models.BudgetFilter{}); err == nil {
		t.Fatal("expected query error")
	}
}

func TestParseFilter(t *testing.T) {
	f, err := ParseFilter(url.Values{
		"fiscal_year_start": {"2025-07-01"},
		"grant_id":          {"4"},
		"department_id":     {" "},
		"type":              {"admin"},
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.FiscalYearStart == nil || *f.GrantID != 4 || f.DepartmentID != nil || *f.Type != models.BudgetTypeAdmin {
		t.Fatalf("unexpected filter %+v", f)
	}
	for _, bad := range []url.Values{
		{"fiscal_year_start": {"07/01/2025"}},
		{"grant_id": {"-1"}},
		{"department_id": {"x"}},
		{"type": {"Grant"}},
	} {
		if _, err := ParseFilter(bad); err == nil {
			t.Fatalf("expected error for %v", bad)
		}
	}
}
