package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type auditDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionVoid   = "void"
	ActionDelete = "delete"
)

// Writer appends allocation history. DB is usually the mutation's transaction so the
// audit row commits or rolls back with the change itself.
type Writer struct {
	DB       auditDB
	HashSalt []byte
	Redact   bool
}

type Record struct {
	AllocationID int64           `json:"allocation_id"`
	BudgetID     int64           `json:"budget_id"`
	ActorUserID  int64           `json:"actor_user_id"`
	Action       string          `json:"action"`
	Changes      json.RawMessage `json:"changes"`
	CreatedAt    time.Time       `json:"created_at"`
}

func (w *Writer) Append(ctx context.Context, rec Record) error {
	if w.Redact {
		rec = redactRecord(rec, w.HashSalt)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if len(rec.Changes) == 0 {
		rec.Changes = json.RawMessage(`{}`)
	}
	_, err := w.DB.Exec(ctx, `
		INSERT INTO allocation_audit
		(allocation_id, budget_id, actor_user_id, action, changes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, rec.AllocationID, rec.BudgetID, rec.ActorUserID, rec.Action, rec.Changes, rec.CreatedAt)
	return err
}

func (w *Writer) List(ctx context.Context, allocationID int64) ([]Record, error) {
	rows, err := w.DB.Query(ctx, `
		SELECT allocation_id, budget_id, actor_user_id, action, changes, created_at
		FROM allocation_audit WHERE allocation_id=$1
		ORDER BY created_at ASC, id ASC
	`, allocationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Record, 0)
	for rows.Next() {
		var rec Record
		var changes json.RawMessage
		if err := rows.Scan(&rec.AllocationID, &rec.BudgetID, &rec.ActorUserID, &rec.Action, &changes, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Changes = changes
		out = append(out, rec)
	}
	return out, rows.Err()
}
