package models

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNoRecord is returned by repositories when a row does not exist or is soft-deleted.
var ErrNoRecord = errors.New("record not found")

type Role string

const (
	RoleKiosk         Role = "kiosk"
	RoleStaff         Role = "staff"
	RoleDirector      Role = "director"
	RoleAdministrator Role = "administrator"
)

func ParseRole(raw string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleKiosk:
		return RoleKiosk, true
	case RoleStaff:
		return RoleStaff, true
	case RoleDirector:
		return RoleDirector, true
	case RoleAdministrator:
		return RoleAdministrator, true
	default:
		return "", false
	}
}

// Membership is the binary department classification the policy cares about.
type Membership string

const (
	MembershipOperational Membership = "operational"
	MembershipFinance     Membership = "finance"
)

// FinanceDepartmentName is matched case-insensitively against departments.name.
const FinanceDepartmentName = "Finance"

func MembershipForDepartment(name string) Membership {
	if strings.EqualFold(strings.TrimSpace(name), FinanceDepartmentName) {
		return MembershipFinance
	}
	return MembershipOperational
}

// Actor is the explicit identity every policy and resolver call receives.
type Actor struct {
	UserID       int64      `json:"user_id"`
	Role         Role       `json:"role"`
	DepartmentID *int64     `json:"department_id,omitempty"`
	Membership   Membership `json:"department_membership"`
	SiteID       *int64     `json:"site_id,omitempty"`
	IsSiteAdmin  bool       `json:"is_site_admin"`
}

func (a Actor) IsFinance() bool {
	return a.Role == RoleStaff && a.Membership == MembershipFinance
}

type BudgetType string

const (
	BudgetTypeStaff BudgetType = "Staff"
	BudgetTypeAdmin BudgetType = "Admin"
)

func ParseBudgetType(raw string) (BudgetType, bool) {
	switch {
	case strings.EqualFold(strings.TrimSpace(raw), string(BudgetTypeStaff)):
		return BudgetTypeStaff, true
	case strings.EqualFold(strings.TrimSpace(raw), string(BudgetTypeAdmin)):
		return BudgetTypeAdmin, true
	default:
		return "", false
	}
}

type Budget struct {
	ID              int64
	Name            string
	Type            BudgetType
	OwnerUserID     *int64
	DepartmentID    *int64
	GrantID         *int64
	FiscalYearStart time.Time
	FiscalYearEnd   time.Time
}

// OwnedBy reports whether a Staff budget is assigned to userID.
func (b Budget) OwnedBy(userID int64) bool {
	return b.Type == BudgetTypeStaff && b.OwnerUserID != nil && *b.OwnerUserID == userID
}

func (b Budget) Summary() BudgetSummary {
	return BudgetSummary{
		ID:           b.ID,
		Name:         b.Name,
		Type:         b.Type,
		OwnerID:      b.OwnerUserID,
		DepartmentID: b.DepartmentID,
	}
}

type BudgetSummary struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	Type         BudgetType `json:"type"`
	OwnerID      *int64     `json:"owner_id,omitempty"`
	DepartmentID *int64     `json:"department_id,omitempty"`
}

// BudgetFilter narrows the resolver's result. Nil fields are ignored.
type BudgetFilter struct {
	FiscalYearStart *time.Time
	GrantID         *int64
	DepartmentID    *int64
	Type            *BudgetType
}

type Vendor struct {
	ID                 int64
	Name               string
	ClientNameRequired bool
	IsActive           bool
}

type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "Unpaid"
	PaymentPaid   PaymentStatus = "Paid"
	PaymentVoid   PaymentStatus = "Void"
)

type Allocation struct {
	ID                 int64                     `json:"id"`
	BudgetID           int64                     `json:"budget_id"`
	TransactionDate    *time.Time                `json:"transaction_date,omitempty"`
	VendorID           *int64                    `json:"vendor_id,omitempty"`
	ClientName         string                    `json:"client_name"`
	VoucherNumber      string                    `json:"voucher_number"`
	EnrollmentDate     *time.Time                `json:"enrollment_date,omitempty"`
	ClassStartDate     *time.Time                `json:"class_start_date,omitempty"`
	PurchaseDate       *time.Time                `json:"purchase_date,omitempty"`
	PaymentStatus      PaymentStatus             `json:"payment_status"`
	ProgramExplanation string                    `json:"program_explanation"`
	Funding            map[Field]decimal.Decimal `json:"funding"`
	FinVoucherReceived string                    `json:"fin_voucher_received"`
	FinAccrualDate     *time.Time                `json:"fin_accrual_date,omitempty"`
	FinObligatedDate   *time.Time                `json:"fin_obligated_date,omitempty"`
	FinComments        string                    `json:"fin_comments"`
	FinExpenseCode     string                    `json:"fin_expense_code"`
	FinProcessedBy     *int64                    `json:"fin_processed_by_user_id,omitempty"`
	FinProcessedAt     *time.Time                `json:"fin_processed_at,omitempty"`
	CreatedByUserID    int64                     `json:"created_by_user_id"`
	UpdatedByUserID    *int64                    `json:"updated_by_user_id,omitempty"`
	CreatedAt          time.Time                 `json:"created_at"`
	UpdatedAt          time.Time                 `json:"updated_at"`
	DeletedAt          *time.Time                `json:"-"`
}

// Clone returns a deep copy so callers can diff before and after states.
func (a Allocation) Clone() Allocation {
	out := a
	out.Funding = make(map[Field]decimal.Decimal, len(a.Funding))
	for k, v := range a.Funding {
		out.Funding[k] = v
	}
	return out
}

// Totals sums funding categories across allocations, skipping Void and deleted rows.
func Totals(allocs []Allocation) map[Field]decimal.Decimal {
	out := make(map[Field]decimal.Decimal, len(FundingFields))
	for _, f := range FundingFields {
		out[f] = decimal.Zero
	}
	for _, a := range allocs {
		if a.PaymentStatus == PaymentVoid || a.DeletedAt != nil {
			continue
		}
		for f, amt := range a.Funding {
			out[f] = out[f].Add(amt)
		}
	}
	return out
}
