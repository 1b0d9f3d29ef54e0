// Package allocation applies access decisions to allocation rows: create, update,
// void and soft delete, each inside one store transaction.
package allocation

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/rlarcher1021/seazwf-sub000/pkg/access"
	"github.com/rlarcher1021/seazwf-sub000/pkg/audit"
	"github.com/rlarcher1021/seazwf-sub000/pkg/events"
	"github.com/rlarcher1021/seazwf-sub000/pkg/models"
	"github.com/rlarcher1021/seazwf-sub000/pkg/paymentstatus"

	"github.com/shopspring/decimal"
)

// DecisionObserver receives every access decision the service makes.
type DecisionObserver interface {
	ObserveDecision(action string, allowed bool, reason string)
}

type Service struct {
	Store     Store
	Publisher events.Publisher
	Decisions DecisionObserver
	Logger    *slog.Logger
	Now       func() time.Time
}

// Listing is a budget's live allocations with totals that exclude Void rows.
type Listing struct {
	Budget      models.BudgetSummary             `json:"budget"`
	Allocations []models.Allocation              `json:"allocations"`
	Totals      map[models.Field]decimal.Decimal `json:"totals"`
	Permissions access.Permissions               `json:"permissions"`
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Service) check(op string, action access.Action, actor models.Actor, budget models.Budget) error {
	d := access.Decide(action, actor, budget)
	if s.Decisions != nil {
		s.Decisions.ObserveDecision(string(action), d.Allowed, d.Reason)
	}
	if !d.Allowed {
		return denied(op, d.Reason)
	}
	return nil
}

// Get returns one allocation of a budget the actor can see.
func (s *Service) Get(ctx context.Context, allocationID int64, actor models.Actor) (models.Allocation, error) {
	const op = "get allocation"
	var out models.Allocation
	err := s.Store.InTx(ctx, func(tx Tx) error {
		current, err := tx.GetAllocation(ctx, allocationID)
		if err != nil {
			return fromStore(op, "allocation", err)
		}
		budget, err := tx.LoadBudget(ctx, current.BudgetID)
		if err != nil {
			return fromStore(op, "budget", err)
		}
		if err := s.check(op, access.ActionView, actor, budget); err != nil {
			return err
		}
		out = current
		return nil
	})
	return out, s.finish(op, actor, allocationID, 0, err)
}

func (s *Service) List(ctx context.Context, budgetID int64, actor models.Actor) (Listing, error) {
	const op = "list allocations"
	var out Listing
	err := s.Store.InTx(ctx, func(tx Tx) error {
		budget, err := tx.LoadBudget(ctx, budgetID)
		if err != nil {
			return fromStore(op, "budget", err)
		}
		if err := s.check(op, access.ActionView, actor, budget); err != nil {
			return err
		}
		allocs, err := tx.ListAllocations(ctx, budgetID)
		if err != nil {
			return persistence(op, err)
		}
		out = Listing{
			Budget:      budget.Summary(),
			Allocations: allocs,
			Totals:      models.Totals(allocs),
			Permissions: access.Summarize(actor, budget),
		}
		return nil
	})
	return out, s.finish(op, actor, 0, budgetID, err)
}

func (s *Service) Permissions(ctx context.Context, budgetID int64, actor models.Actor) (access.Permissions, error) {
	const op = "budget permissions"
	var out access.Permissions
	err := s.Store.InTx(ctx, func(tx Tx) error {
		budget, err := tx.LoadBudget(ctx, budgetID)
		if err != nil {
			return fromStore(op, "budget", err)
		}
		if err := s.check(op, access.ActionView, actor, budget); err != nil {
			return err
		}
		out = access.Summarize(actor, budget)
		return nil
	})
	return out, s.finish(op, actor, 0, budgetID, err)
}

// History returns the audit trail of an allocation the actor can see.
func (s *Service) History(ctx context.Context, allocationID int64, actor models.Actor) ([]audit.Record, error) {
	const op = "allocation history"
	var out []audit.Record
	err := s.Store.InTx(ctx, func(tx Tx) error {
		current, err := tx.GetAllocation(ctx, allocationID)
		if err != nil {
			return fromStore(op, "allocation", err)
		}
		budget, err := tx.LoadBudget(ctx, current.BudgetID)
		if err != nil {
			return fromStore(op, "budget", err)
		}
		if err := s.check(op, access.ActionView, actor, budget); err != nil {
			return err
		}
		out, err = tx.ListAudit(ctx, allocationID)
		if err != nil {
			return persistence(op, err)
		}
		return nil
	})
	return out, s.finish(op, actor, allocationID, 0, err)
}

// Create inserts a new allocation under budgetID with the fields the actor may set.
func (s *Service) Create(ctx context.Context, budgetID int64, submitted Submission, actor models.Actor) (models.Allocation, error) {
	const op = "create allocation"
	var (
		out models.Allocation
		evt *events.Event
	)
	err := s.Store.InTx(ctx, func(tx Tx) error {
		budget, err := tx.LoadBudget(ctx, budgetID)
		if err != nil {
			return fromStore(op, "budget", err)
		}
		if err := s.check(op, access.ActionAdd, actor, budget); err != nil {
			return err
		}
		mask := access.EditableFields(actor, budget)
		blank := models.Allocation{
			BudgetID:        budget.ID,
			PaymentStatus:   models.PaymentUnpaid,
			Funding:         map[models.Field]decimal.Decimal{},
			CreatedByUserID: actor.UserID,
		}
		for _, f := range models.FundingFields {
			blank.Funding[f] = decimal.Zero
		}
		next := blank.Clone()
		applied, err := applySubmission(op, &next, submitted, mask, actor)
		if err != nil {
			return err
		}
		if next.PaymentStatus == models.PaymentVoid {
			return invalid(op, models.FieldPaymentStatus, "new allocations cannot be void")
		}
		if next.TransactionDate == nil {
			return invalid(op, models.FieldTransactionDate, "is required")
		}
		if next.VendorID == nil {
			return invalid(op, models.FieldVendorID, "is required")
		}
		if err := validateVendor(ctx, op, tx, next, mask, true); err != nil {
			return err
		}
		changed := changedFields(blank, next, applied)
		now := s.now()
		next.CreatedAt = now
		next.UpdatedAt = now
		if actor.Membership == models.MembershipFinance && changed.Intersects(models.FinanceFields) {
			stampFinance(&next, actor, now)
		}
		if err := tx.InsertAllocation(ctx, &next); err != nil {
			return persistence(op, err)
		}
		if err := tx.AppendAudit(ctx, auditRecord(next, actor, audit.ActionCreate, changed, now)); err != nil {
			return persistence(op, err)
		}
		e := events.New(events.AllocationCreated, next.ID, next.BudgetID, actor.UserID, changed.Strings())
		evt = &e
		out = next
		return nil
	})
	if err == nil && evt != nil {
		s.publish(ctx, *evt)
	}
	return out, s.finish(op, actor, out.ID, budgetID, err)
}

// ApplyUpdate writes the submitted fields the actor may edit. Fields outside the
// editable set, and a Void status from anyone but a director, are dropped without error.
// When nothing effectively changes the stored row is left untouched.
func (s *Service) ApplyUpdate(ctx context.Context, allocationID int64, submitted Submission, actor models.Actor) (models.Allocation, error) {
	const op = "update allocation"
	var (
		out models.Allocation
		evt *events.Event
	)
	err := s.Store.InTx(ctx, func(tx Tx) error {
		current, err := tx.LockAllocation(ctx, allocationID)
		if err != nil {
			return fromStore(op, "allocation", err)
		}
		budget, err := tx.LoadBudget(ctx, current.BudgetID)
		if err != nil {
			return fromStore(op, "budget", err)
		}
		if err := s.check(op, access.ActionEdit, actor, budget); err != nil {
			return err
		}
		if paymentstatus.IsTerminal(current.PaymentStatus) {
			return invalid(op, models.FieldPaymentStatus, "allocation is void and can no longer be edited")
		}
		mask := access.EditableFields(actor, budget)
		next := current.Clone()
		applied, err := applySubmission(op, &next, submitted, mask, actor)
		if err != nil {
			return err
		}
		if _, err := paymentstatus.Transition(current.PaymentStatus, next.PaymentStatus); err != nil {
			return invalid(op, models.FieldPaymentStatus, err.Error())
		}
		if err := validateVendor(ctx, op, tx, next, mask, applied.Has(models.FieldVendorID)); err != nil {
			return err
		}
		changed := changedFields(current, next, applied)
		if changed.Empty() {
			out = current
			return nil
		}
		now := s.now()
		uid := actor.UserID
		next.UpdatedByUserID = &uid
		next.UpdatedAt = now
		stamp := actor.Membership == models.MembershipFinance && changed.Intersects(models.FinanceFields)
		if stamp {
			stampFinance(&next, actor, now)
		}
		if err := tx.UpdateAllocation(ctx, next, changed, stamp); err != nil {
			return persistence(op, err)
		}
		action, evtType := audit.ActionUpdate, events.AllocationUpdated
		if changed.Has(models.FieldPaymentStatus) && next.PaymentStatus == models.PaymentVoid {
			action, evtType = audit.ActionVoid, events.AllocationVoided
		}
		if err := tx.AppendAudit(ctx, auditRecord(next, actor, action, changed, now)); err != nil {
			return persistence(op, err)
		}
		e := events.New(evtType, next.ID, next.BudgetID, actor.UserID, changed.Strings())
		evt = &e
		out = next
		return nil
	})
	if err == nil && evt != nil {
		s.publish(ctx, *evt)
	}
	return out, s.finish(op, actor, allocationID, out.BudgetID, err)
}

// Delete soft-deletes an allocation. Rows are never removed.
func (s *Service) Delete(ctx context.Context, allocationID int64, actor models.Actor) error {
	const op = "delete allocation"
	var evt *events.Event
	var budgetID int64
	err := s.Store.InTx(ctx, func(tx Tx) error {
		current, err := tx.LockAllocation(ctx, allocationID)
		if err != nil {
			return fromStore(op, "allocation", err)
		}
		budget, err := tx.LoadBudget(ctx, current.BudgetID)
		if err != nil {
			return fromStore(op, "budget", err)
		}
		budgetID = budget.ID
		if err := s.check(op, access.ActionDelete, actor, budget); err != nil {
			return err
		}
		now := s.now()
		if err := tx.SoftDeleteAllocation(ctx, allocationID, actor.UserID, now); err != nil {
			return fromStore(op, "allocation", err)
		}
		if err := tx.AppendAudit(ctx, auditRecord(current, actor, audit.ActionDelete, 0, now)); err != nil {
			return persistence(op, err)
		}
		e := events.New(events.AllocationDeleted, current.ID, current.BudgetID, actor.UserID, nil)
		evt = &e
		return nil
	})
	if err == nil && evt != nil {
		s.publish(ctx, *evt)
	}
	return s.finish(op, actor, allocationID, budgetID, err)
}

// applySubmission writes the permitted subset of submitted into a and returns that subset.
func applySubmission(op string, a *models.Allocation, submitted Submission, mask models.FieldMask, actor models.Actor) (models.FieldMask, error) {
	var applied models.FieldMask
	for _, f := range (submitted.Mask() & mask).Fields() {
		raw := submitted[f]
		if f == models.FieldPaymentStatus && !access.CanVoid(actor) {
			if status, err := paymentstatus.Parse(raw); err == nil && status == models.PaymentVoid {
				continue
			}
		}
		if err := applyField(a, f, raw); err != nil {
			return 0, invalid(op, f, err.Error())
		}
		applied |= models.MaskOf(f)
	}
	return applied, nil
}

// validateVendor checks the effective vendor. A vendor chosen in this request must exist
// and be active; the client name rule applies whenever the actor can edit client_name.
func validateVendor(ctx context.Context, op string, tx Tx, a models.Allocation, mask models.FieldMask, vendorSubmitted bool) error {
	if a.VendorID == nil {
		if vendorSubmitted {
			return invalid(op, models.FieldVendorID, "is required")
		}
		return nil
	}
	if !vendorSubmitted && !mask.Has(models.FieldClientName) {
		return nil
	}
	vendor, err := tx.LoadVendor(ctx, *a.VendorID)
	if err != nil {
		if !errors.Is(err, models.ErrNoRecord) {
			return persistence(op, err)
		}
		if vendorSubmitted {
			return invalid(op, models.FieldVendorID, "vendor not found or inactive")
		}
		return nil
	}
	if vendorSubmitted && !vendor.IsActive {
		return invalid(op, models.FieldVendorID, "vendor not found or inactive")
	}
	if vendor.ClientNameRequired && mask.Has(models.FieldClientName) && strings.TrimSpace(a.ClientName) == "" {
		return invalid(op, models.FieldClientName, "is required for vendor "+vendor.Name)
	}
	return nil
}

func stampFinance(a *models.Allocation, actor models.Actor, now time.Time) {
	uid := actor.UserID
	at := now
	a.FinProcessedBy = &uid
	a.FinProcessedAt = &at
}

func auditRecord(a models.Allocation, actor models.Actor, action string, changed models.FieldMask, now time.Time) audit.Record {
	changes, _ := json.Marshal(changeSet(a, changed))
	return audit.Record{
		AllocationID: a.ID,
		BudgetID:     a.BudgetID,
		ActorUserID:  actor.UserID,
		Action:       action,
		Changes:      changes,
		CreatedAt:    now,
	}
}

func (s *Service) publish(ctx context.Context, evt events.Event) {
	if s.Publisher == nil {
		return
	}
	if err := s.Publisher.Publish(ctx, evt); err != nil {
		s.logger().Warn("allocation event publish failed",
			"event_type", string(evt.Type),
			"allocation_id", evt.AllocationID,
			"error", err,
		)
	}
}

// finish normalises err to *Error and logs persistence failures with request context.
func (s *Service) finish(op string, actor models.Actor, allocationID, budgetID int64, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if !errors.As(err, &typed) {
		err = persistence(op, err)
		errors.As(err, &typed)
	}
	if errors.Is(typed.Kind, ErrPersistence) {
		s.logger().Error("allocation store failure",
			"action", op,
			"actor_id", actor.UserID,
			"allocation_id", allocationID,
			"budget_id", budgetID,
			"error", typed.Err,
		)
	}
	return err
}
