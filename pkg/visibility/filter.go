package visibility

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rlarcher1021/seazwf-sub000/pkg/models"
)

// ParseFilter reads fiscal_year_start, grant_id, department_id and type from a
// query string. Blank values are treated as absent.
func ParseFilter(q url.Values) (models.BudgetFilter, error) {
	var f models.BudgetFilter
	if raw := strings.TrimSpace(q.Get("fiscal_year_start")); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return f, fmt.Errorf("fiscal_year_start must be YYYY-MM-DD")
		}
		f.FiscalYearStart = &t
	}
	for _, p := range []struct {
		key string
		dst **int64
	}{
		{"grant_id", &f.GrantID},
		{"department_id", &f.DepartmentID},
	} {
		raw := strings.TrimSpace(q.Get(p.key))
		if raw == "" {
			continue
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return f, fmt.Errorf("%s must be a positive integer", p.key)
		}
		*p.dst = &id
	}
	if raw := strings.TrimSpace(q.Get("type")); raw != "" {
		t, ok := models.ParseBudgetType(raw)
		if !ok {
			return f, fmt.Errorf("type must be Staff or Admin")
		}
		f.Type = &t
	}
	return f, nil
}
