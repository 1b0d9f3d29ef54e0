package allocation

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/rlarcher1021/seazwf-sub000/pkg/models"
	"github.com/rlarcher1021/seazwf-sub000/pkg/paymentstatus"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// Submission is the field -> raw value map posted by the allocation form.
type Submission map[models.Field]string

// ParseSubmission keeps only known allocation fields. Unknown keys are dropped.
func ParseSubmission(raw map[string]string) Submission {
	out := make(Submission, len(raw))
	for k, v := range raw {
		if f, ok := models.ParseField(k); ok {
			out[f] = v
		}
	}
	return out
}

func (s Submission) Mask() models.FieldMask {
	var m models.FieldMask
	for f := range s {
		m |= models.MaskOf(f)
	}
	return m
}

var (
	errBadDate     = errors.New("must be a date in YYYY-MM-DD format")
	errBadAmount   = errors.New("must be a decimal amount")
	errAmountRange = errors.New("must be between 0 and 9,999,999,999.99")
	errBadVendor   = errors.New("must be a vendor id")
)

// applyField parses raw and stores it into a. Empty input clears optional columns.
func applyField(a *models.Allocation, f models.Field, raw string) error {
	raw = strings.TrimSpace(raw)
	switch f {
	case models.FieldTransactionDate:
		return setDate(&a.TransactionDate, raw)
	case models.FieldEnrollmentDate:
		return setDate(&a.EnrollmentDate, raw)
	case models.FieldClassStartDate:
		return setDate(&a.ClassStartDate, raw)
	case models.FieldPurchaseDate:
		return setDate(&a.PurchaseDate, raw)
	case models.FieldFinAccrualDate:
		return setDate(&a.FinAccrualDate, raw)
	case models.FieldFinObligatedDate:
		return setDate(&a.FinObligatedDate, raw)
	case models.FieldVendorID:
		if raw == "" {
			a.VendorID = nil
			return nil
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return errBadVendor
		}
		a.VendorID = &id
		return nil
	case models.FieldPaymentStatus:
		// An unselected status leaves the row as is; new rows start Unpaid.
		if raw == "" {
			return nil
		}
		status, err := paymentstatus.Parse(raw)
		if err != nil {
			return err
		}
		a.PaymentStatus = status
		return nil
	case models.FieldClientName:
		a.ClientName = raw
	case models.FieldVoucherNumber:
		a.VoucherNumber = raw
	case models.FieldProgramExplanation:
		a.ProgramExplanation = raw
	case models.FieldFinVoucherReceived:
		a.FinVoucherReceived = raw
	case models.FieldFinComments:
		a.FinComments = raw
	case models.FieldFinExpenseCode:
		a.FinExpenseCode = raw
	default:
		if !models.IsFundingField(f) {
			return nil
		}
		amt, err := parseAmount(raw)
		if err != nil {
			return err
		}
		if a.Funding == nil {
			a.Funding = map[models.Field]decimal.Decimal{}
		}
		a.Funding[f] = amt
	}
	return nil
}

func setDate(dst **time.Time, raw string) error {
	if raw == "" {
		*dst = nil
		return nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return errBadDate
	}
	*dst = &t
	return nil
}

// maxAmount is the first value a NUMERIC(12,2) funding column cannot hold.
var maxAmount = decimal.New(1, 10)

// parseAmount accepts form input such as "$1,250.5" and rounds to cents.
func parseAmount(raw string) (decimal.Decimal, error) {
	cleaned := strings.NewReplacer("$", "", ",", "", " ", "").Replace(raw)
	if cleaned == "" {
		return decimal.Zero, nil
	}
	amt, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, errBadAmount
	}
	amt = amt.Round(2)
	if amt.IsNegative() || amt.GreaterThanOrEqual(maxAmount) {
		return decimal.Zero, errAmountRange
	}
	return amt, nil
}

// FieldValue renders one column in its canonical form, used for diffs and audit entries.
func FieldValue(a models.Allocation, f models.Field) string {
	switch f {
	case models.FieldTransactionDate:
		return formatDate(a.TransactionDate)
	case models.FieldEnrollmentDate:
		return formatDate(a.EnrollmentDate)
	case models.FieldClassStartDate:
		return formatDate(a.ClassStartDate)
	case models.FieldPurchaseDate:
		return formatDate(a.PurchaseDate)
	case models.FieldFinAccrualDate:
		return formatDate(a.FinAccrualDate)
	case models.FieldFinObligatedDate:
		return formatDate(a.FinObligatedDate)
	case models.FieldVendorID:
		if a.VendorID == nil {
			return ""
		}
		return strconv.FormatInt(*a.VendorID, 10)
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
		if !models.IsFundingField(f) {
			return ""
		}
		return a.Funding[f].StringFixed(2)
	}
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dateLayout)
}

// changedFields returns the members of within whose value differs between before and after.
func changedFields(before, after models.Allocation, within models.FieldMask) models.FieldMask {
	var out models.FieldMask
	for _, f := range within.Fields() {
		if FieldValue(before, f) != FieldValue(after, f) {
			out |= models.MaskOf(f)
		}
	}
	return out
}

func changeSet(a models.Allocation, fields models.FieldMask) map[string]string {
	out := make(map[string]string)
	for _, f := range fields.Fields() {
		out[string(f)] = FieldValue(a, f)
	}
	return out
}
