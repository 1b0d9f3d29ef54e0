// Package access decides what an actor may do with the allocations of a budget.
//
// Every function is pure: callers pass the actor and a freshly loaded budget,
// nothing is cached between calls.
package access

import (
	"github.com/rlarcher1021/seazwf-sub000/pkg/models"
)

type Action string

const (
	ActionView   Action = "view"
	ActionAdd    Action = "add"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
	ActionVoid   Action = "void"
)

const (
	ReasonAllow      = "ACCESS_ALLOW"
	ReasonRole       = "ACCESS_ROLE_DENIED"
	ReasonBudgetType = "ACCESS_BUDGET_TYPE_DENIED"
	ReasonNotOwner   = "ACCESS_NOT_OWNER"
)

type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision { return Decision{Allowed: true, Reason: ReasonAllow} }

func deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }

// Decide evaluates one action against the role/department/budget-type table.
func Decide(action Action, actor models.Actor, budget models.Budget) Decision {
	if action == ActionView {
		if ScopeFor(actor).Admits(budget) {
			return allow()
		}
		if actor.Role == models.RoleStaff && !actor.IsFinance() && budget.Type == models.BudgetTypeStaff {
			return deny(ReasonNotOwner)
		}
		return deny(ReasonRole)
	}
	if budget.Type != models.BudgetTypeStaff && budget.Type != models.BudgetTypeAdmin {
		return deny(ReasonBudgetType)
	}
	switch actor.Role {
	case models.RoleDirector:
		return decideDirector(action, budget)
	case models.RoleStaff:
		if actor.IsFinance() {
			return decideFinance(action, budget)
		}
		return decideOperational(action, actor, budget)
	default:
		return deny(ReasonRole)
	}
}

func decideDirector(action Action, budget models.Budget) Decision {
	if budget.Type == models.BudgetTypeAdmin {
		return deny(ReasonBudgetType)
	}
	switch action {
	case ActionAdd, ActionEdit, ActionVoid:
		return allow()
	default:
		return deny(ReasonRole)
	}
}

func decideFinance(action Action, budget models.Budget) Decision {
	switch action {
	case ActionEdit:
		return allow()
	case ActionAdd, ActionDelete:
		if budget.Type == models.BudgetTypeAdmin {
			return allow()
		}
		return deny(ReasonBudgetType)
	default:
		return deny(ReasonRole)
	}
}

func decideOperational(action Action, actor models.Actor, budget models.Budget) Decision {
	if budget.Type != models.BudgetTypeStaff {
		return deny(ReasonBudgetType)
	}
	if !budget.OwnedBy(actor.UserID) {
		return deny(ReasonNotOwner)
	}
	switch action {
	case ActionAdd, ActionEdit:
		return allow()
	default:
		return deny(ReasonRole)
	}
}

func CanView(actor models.Actor, budget models.Budget) bool {
	return Decide(ActionView, actor, budget).Allowed
}

func CanAdd(actor models.Actor, budget models.Budget) bool {
	return Decide(ActionAdd, actor, budget).Allowed
}

func CanAccessForEdit(actor models.Actor, budget models.Budget) bool {
	return Decide(ActionEdit, actor, budget).Allowed
}

func CanDelete(actor models.Actor, budget models.Budget) bool {
	return Decide(ActionDelete, actor, budget).Allowed
}

// CanVoid depends on the role alone; voiding a row additionally needs edit access to its budget.
func CanVoid(actor models.Actor) bool {
	return actor.Role == models.RoleDirector
}

// EditableFields is the column mask for add and edit. Empty when edit access is denied.
func EditableFields(actor models.Actor, budget models.Budget) models.FieldMask {
	if !CanAccessForEdit(actor, budget) {
		return 0
	}
	switch {
	case actor.Role == models.RoleDirector:
		return models.StaffFields
	case actor.IsFinance() && budget.Type == models.BudgetTypeAdmin:
		return models.AllFields
	case actor.IsFinance():
		return models.FinanceFields
	default:
		return models.StaffFields
	}
}

// Permissions summarises every decision for one budget, for form rendering.
type Permissions struct {
	CanView        bool     `json:"can_view"`
	CanAdd         bool     `json:"can_add"`
	CanEdit        bool     `json:"can_edit"`
	EditableFields []string `json:"editable_fields"`
	CanDelete      bool     `json:"can_delete"`
	CanVoid        bool     `json:"can_void"`
}

func Summarize(actor models.Actor, budget models.Budget) Permissions {
	edit := CanAccessForEdit(actor, budget)
	return Permissions{
		CanView:        CanView(actor, budget),
		CanAdd:         CanAdd(actor, budget),
		CanEdit:        edit,
		EditableFields: EditableFields(actor, budget).Strings(),
		CanDelete:      CanDelete(actor, budget),
		CanVoid:        edit && CanVoid(actor),
	}
}
