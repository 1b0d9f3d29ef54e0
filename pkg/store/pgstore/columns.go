package pgstore

import (
	"strings"

	"github.com/rlarcher1021/seazwf-sub000/pkg/models"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Allocation form fields map one-to-one onto allocations columns of the same name.
var fieldColumns = models.AllFields.Fields()

var allocationColumns = strings.Join(append(append([]string{"id", "budget_id"}, models.AllFields.Strings()...),
	"fin_processed_by_user_id", "fin_processed_at",
	"created_by_user_id", "updated_by_user_id",
	"created_at", "updated_at", "deleted_at",
), ", ")

func scanAllocation(row pgx.Row) (models.Allocation, error) {
	var (
		a      models.Allocation
		status string
	)
	funding := make(map[models.Field]*decimal.Decimal, len(models.FundingFields))
	dest := []any{&a.ID, &a.BudgetID}
	for _, f := range fieldColumns {
		dest = append(dest, fieldTarget(&a, f, funding, &status))
	}
	dest = append(dest,
		&a.FinProcessedBy, &a.FinProcessedAt,
		&a.CreatedByUserID, &a.UpdatedByUserID,
		&a.CreatedAt, &a.UpdatedAt, &a.DeletedAt,
	)
	if err := row.Scan(dest...); err != nil {
		return models.Allocation{}, err
	}
	a.PaymentStatus = models.PaymentStatus(status)
	a.Funding = make(map[models.Field]decimal.Decimal, len(funding))
	for f, amt := range funding {
		a.Funding[f] = *amt
	}
	return a, nil
}

func fieldTarget(a *models.Allocation, f models.Field, funding map[models.Field]*decimal.Decimal, status *string) any {
	switch f {
	case models.FieldTransactionDate:
		return &a.TransactionDate
	case models.FieldEnrollmentDate:
		return &a.EnrollmentDate
	case models.FieldClassStartDate:
		return &a.ClassStartDate
	case models.FieldPurchaseDate:
		return &a.PurchaseDate
	case models.FieldFinAccrualDate:
		return &a.FinAccrualDate
	case models.FieldFinObligatedDate:
		return &a.FinObligatedDate
	case models.FieldVendorID:
		return &a.VendorID
	case models.FieldPaymentStatus:
		return status
	case models.FieldClientName:
		return &a.ClientName
	case models.FieldVoucherNumber:
		return &a.VoucherNumber
	case models.FieldProgramExplanation:
		return &a.ProgramExplanation
	case models.FieldFinVoucherReceived:
		return &a.FinVoucherReceived
	case models.FieldFinComments:
		return &a.FinComments
	case models.FieldFinExpenseCode:
		return &a.FinExpenseCode
	default:
		amt := new(decimal.Decimal)
		funding[f] = amt
		return amt
	}
}

// fieldArg is the query argument for one column. Nil pointers encode as NULL.
func fieldArg(a models.Allocation, f models.Field) any {
	switch f {
	case models.FieldTransactionDate:
		return a.TransactionDate
	case models.FieldEnrollmentDate:
		return a.EnrollmentDate
	case models.FieldClassStartDate:
		return a.ClassStartDate
	case models.FieldPurchaseDate:
		return a.PurchaseDate
	case models.FieldFinAccrualDate:
		return a.FinAccrualDate
	case models.FieldFinObligatedDate:
		return a.FinObligatedDate
	case models.FieldVendorID:
		return a.VendorID
	case models.FieldPaymentStatus:
		return string(a.PaymentStatus)
	case models.FieldClientName:
		return a.ClientName
	case models.FieldVoucherNumber:
		return a.VoucherNumber
	case models.FieldProgramExplanation:
		return a.ProgramExplanation
	case models.FieldFinVoucherReceived:
		return a.FinVoucherReceived
	case models.FieldFinComments:
		return a.FinComments
	case models.FieldFinExpenseCode:
		return a.FinExpenseCode
	default:
		return a.Funding[f]
	}
}
