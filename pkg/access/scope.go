package access

import "github.com/rlarcher1021/seazwf-sub000/pkg/models"

// Scope is the visibility restriction derived from an actor, before user filters apply.
type Scope struct {
	None        bool
	Types       []models.BudgetType
	OwnerUserID *int64
}

// ScopeFor maps the actor onto the budgets it may see.
// Finance membership grants read access to every Staff and Admin budget regardless of department.
func ScopeFor(actor models.Actor) Scope {
	switch actor.Role {
	case models.RoleAdministrator, models.RoleDirector:
		return Scope{}
	case models.RoleStaff:
		if actor.IsFinance() {
			return Scope{Types: []models.BudgetType{models.BudgetTypeStaff, models.BudgetTypeAdmin}}
		}
		owner := actor.UserID
		return Scope{Types: []models.BudgetType{models.BudgetTypeStaff}, OwnerUserID: &owner}
	default:
		return Scope{None: true}
	}
}

func (s Scope) Admits(b models.Budget) bool {
	if s.None {
		return false
	}
	if len(s.Types) > 0 {
		matched := false
		for _, t := range s.Types {
			if b.Type == t {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if s.OwnerUserID != nil && (b.OwnerUserID == nil || *b.OwnerUserID != *s.OwnerUserID) {
		return false
	}
	return true
}
