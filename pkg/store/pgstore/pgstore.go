// Package pgstore is the Postgres repository behind the allocation service.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rlarcher1021/seazwf-sub000/pkg/allocation"
	"github.com/rlarcher1021/seazwf-sub000/pkg/audit"
	"github.com/rlarcher1021/seazwf-sub000/pkg/models"
	"github.com/rlarcher1021/seazwf-sub000/pkg/telemetry"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/codes"
)

type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type beginner interface {
	querier
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Store satisfies allocation.Store on top of a pgxpool.Pool.
type Store struct {
	DB       beginner
	HashSalt []byte
	Redact   bool
}

func New(db beginner, hashSalt []byte, redact bool) *Store {
	return &Store{DB: db, HashSalt: hashSalt, Redact: redact}
}

// InTx commits when fn returns nil and rolls back otherwise.
func (s *Store) InTx(ctx context.Context, fn func(tx allocation.Tx) error) (err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "pgstore.InTx")
	defer func() {
		if err != nil && !errors.Is(err, models.ErrNoRecord) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "transaction failed")
		}
		span.End()
	}()
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(s.bind(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) bind(q querier) *Tx {
	return &Tx{q: q, audit: &audit.Writer{DB: q, HashSalt: s.HashSalt, Redact: s.Redact}}
}

// Tx runs repository statements against one open transaction.
type Tx struct {
	q     querier
	audit *audit.Writer
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNoRecord
	}
	return err
}

func (t *Tx) LoadBudget(ctx context.Context, id int64) (models.Budget, error) {
	var (
		b       models.Budget
		rawType string
	)
	err := t.q.QueryRow(ctx, `
		SELECT id, name, type, owner_user_id, department_id, grant_id, fiscal_year_start, fiscal_year_end
		FROM budgets WHERE id=$1 AND deleted_at IS NULL
	`, id).Scan(&b.ID, &b.Name, &rawType, &b.OwnerUserID, &b.DepartmentID, &b.GrantID, &b.FiscalYearStart, &b.FiscalYearEnd)
	if err != nil {
		return models.Budget{}, notFound(err)
	}
	b.Type = models.BudgetType(rawType)
	if parsed, ok := models.ParseBudgetType(rawType); ok {
		b.Type = parsed
	}
	return b, nil
}

func (t *Tx) LoadVendor(ctx context.Context, id int64) (models.Vendor, error) {
	var v models.Vendor
	err := t.q.QueryRow(ctx, `
		SELECT id, name, client_name_required, is_active
		FROM vendors WHERE id=$1 AND deleted_at IS NULL
	`, id).Scan(&v.ID, &v.Name, &v.ClientNameRequired, &v.IsActive)
	if err != nil {
		return models.Vendor{}, notFound(err)
	}
	return v, nil
}

func (t *Tx) GetAllocation(ctx context.Context, id int64) (models.Allocation, error) {
	a, err := scanAllocation(t.q.QueryRow(ctx,
		`SELECT `+allocationColumns+` FROM allocations WHERE id=$1 AND deleted_at IS NULL`, id))
	return a, notFound(err)
}

func (t *Tx) LockAllocation(ctx context.Context, id int64) (models.Allocation, error) {
	a, err := scanAllocation(t.q.QueryRow(ctx,
		`SELECT `+allocationColumns+` FROM allocations WHERE id=$1 AND deleted_at IS NULL FOR UPDATE`, id))
	return a, notFound(err)
}

func (t *Tx) ListAllocations(ctx context.Context, budgetID int64) ([]models.Allocation, error) {
	rows, err := t.q.Query(ctx, `SELECT `+allocationColumns+` FROM allocations
		WHERE budget_id=$1 AND deleted_at IS NULL
		ORDER BY transaction_date DESC NULLS LAST, id DESC`, budgetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Allocation, 0)
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (t *Tx) InsertAllocation(ctx context.Context, a *models.Allocation) error {
	cols := []string{"budget_id"}
	args := []any{a.BudgetID}
	for _, f := range fieldColumns {
		cols = append(cols, string(f))
		args = append(args, fieldArg(*a, f))
	}
	cols = append(cols, "fin_processed_by_user_id", "fin_processed_at", "created_by_user_id", "created_at", "updated_at")
	args = append(args, a.FinProcessedBy, a.FinProcessedAt, a.CreatedByUserID, a.CreatedAt, a.UpdatedAt)
	sql := `INSERT INTO allocations (` + strings.Join(cols, ", ") + `) VALUES (` + placeholders(1, len(args)) + `) RETURNING id`
	return t.q.QueryRow(ctx, sql, args...).Scan(&a.ID)
}

func (t *Tx) UpdateAllocation(ctx context.Context, a models.Allocation, fields models.FieldMask, financeStamp bool) error {
	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, col+"=$"+strconv.Itoa(len(args)))
	}
	for _, f := range fields.Fields() {
		set(string(f), fieldArg(a, f))
	}
	set("updated_by_user_id", a.UpdatedByUserID)
	set("updated_at", a.UpdatedAt)
	if financeStamp {
		set("fin_processed_by_user_id", a.FinProcessedBy)
		set("fin_processed_at", a.FinProcessedAt)
	}
	args = append(args, a.ID)
	tag, err := t.q.Exec(ctx, `UPDATE allocations SET `+strings.Join(sets, ", ")+
		` WHERE id=$`+strconv.Itoa(len(args))+` AND deleted_at IS NULL`, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNoRecord
	}
	return nil
}

func (t *Tx) SoftDeleteAllocation(ctx context.Context, id, actorUserID int64, at time.Time) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE allocations SET deleted_at=$2, updated_at=$2, updated_by_user_id=$3
		WHERE id=$1 AND deleted_at IS NULL
	`, id, at, actorUserID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNoRecord
	}
	return nil
}

func (t *Tx) AppendAudit(ctx context.Context, rec audit.Record) error {
	return t.audit.Append(ctx, rec)
}

func (t *Tx) ListAudit(ctx context.Context, allocationID int64) ([]audit.Record, error) {
	return t.audit.List(ctx, allocationID)
}

func placeholders(from, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "$" + strconv.Itoa(from+i)
	}
	return strings.Join(parts, ", ")
}
