package allocation

import (
	"context"
	"time"

	"github.com/rlarcher1021/seazwf-sub000/pkg/audit"
	"github.com/rlarcher1021/seazwf-sub000/pkg/models"
)

// Store opens one transaction per operation. Permission checks and writes for a
// request always happen inside the same Tx.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the repository surface the service needs. Missing or soft-deleted rows are
// reported as models.ErrNoRecord.
type Tx interface {
	LoadBudget(ctx context.Context, id int64) (models.Budget, error)
	LoadVendor(ctx context.Context, id int64) (models.Vendor, error)
	GetAllocation(ctx context.Context, id int64) (models.Allocation, error)
	// LockAllocation reads the row FOR UPDATE so the permission check and the write see the same state.
	LockAllocation(ctx context.Context, id int64) (models.Allocation, error)
	ListAllocations(ctx context.Context, budgetID int64) ([]models.Allocation, error)
	InsertAllocation(ctx context.Context, a *models.Allocation) error
	// UpdateAllocation persists the masked columns plus updated_by/updated_at, and the finance stamp when set.
	UpdateAllocation(ctx context.Context, a models.Allocation, fields models.FieldMask, financeStamp bool) error
	SoftDeleteAllocation(ctx context.Context, id, actorUserID int64, at time.Time) error
	AppendAudit(ctx context.Context, rec audit.Record) error
	ListAudit(ctx context.Context, allocationID int64) ([]audit.Record, error)
}
