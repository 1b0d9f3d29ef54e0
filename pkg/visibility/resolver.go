// Package visibility lists the budgets an actor may see.
package visibility

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rlarcher1021/seazwf-sub000/pkg/access"
	"github.com/rlarcher1021/seazwf-sub000/pkg/models"

	"github.com/jackc/pgx/v5"
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Resolver struct {
	DB querier
}

// ResolveVisibleBudgets applies the actor's scope and the optional filters.
// No match yields an empty, non-nil slice; only a failing query returns an error.
func (r *Resolver) ResolveVisibleBudgets(ctx context.Context, actor models.Actor, filter models.BudgetFilter) ([]models.BudgetSummary, error) {
	out := make([]models.BudgetSummary, 0)
	sql, args, ok := buildQuery(access.ScopeFor(actor), filter)
	if !ok {
		return out, nil
	}
	rows, err := r.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("resolve visible budgets: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			b       models.BudgetSummary
			rawType string
		)
		if err := rows.Scan(&b.ID, &b.Name, &rawType, &b.OwnerID, &b.DepartmentID); err != nil {
			return nil, fmt.Errorf("resolve visible budgets: %w", err)
		}
		b.Type = models.BudgetType(rawType)
		if parsed, ok := models.ParseBudgetType(rawType); ok {
			b.Type = parsed
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("resolve visible budgets: %w", err)
	}
	return out, nil
}

// buildQuery returns ok=false when the scope and filters cannot match anything.
func buildQuery(scope access.Scope, filter models.BudgetFilter) (string, []any, bool) {
	if scope.None {
		return "", nil, false
	}
	types := scope.Types
	if filter.Type != nil {
		if len(types) > 0 && !containsType(types, *filter.Type) {
			return "", nil, false
		}
		types = []models.BudgetType{*filter.Type}
	}
	var (
		where = []string{"deleted_at IS NULL"}
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, strings.Replace(clause, "?", "$"+strconv.Itoa(len(args)), 1))
	}
	if len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		add("type = ANY(?)", names)
	}
	if scope.OwnerUserID != nil {
		add("owner_user_id = ?", *scope.OwnerUserID)
	}
	if filter.FiscalYearStart != nil {
		add("fiscal_year_start = ?", *filter.FiscalYearStart)
	}
	if filter.GrantID != nil {
		add("grant_id = ?", *filter.GrantID)
	}
	if filter.DepartmentID != nil {
		add("department_id = ?", *filter.DepartmentID)
	}
	sql := `SELECT id, name, type, owner_user_id, department_id FROM budgets WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY fiscal_year_start DESC, name ASC, id ASC`
	return sql, args, true
}

func containsType(types []models.BudgetType, t models.BudgetType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}
