package models

import "strings"

// Field identifies one editable allocation column.
type Field string

const (
	FieldTransactionDate    Field = "transaction_date"
	FieldVendorID           Field = "vendor_id"
	FieldClientName         Field = "client_name"
	FieldVoucherNumber      Field = "voucher_number"
	FieldEnrollmentDate     Field = "enrollment_date"
	FieldClassStartDate     Field = "class_start_date"
	FieldPurchaseDate       Field = "purchase_date"
	FieldPaymentStatus      Field = "payment_status"
	FieldProgramExplanation Field = "program_explanation"

	FieldFundingDW         Field = "funding_dw"
	FieldFundingDWAdmin    Field = "funding_dw_admin"
	FieldFundingDWSus      Field = "funding_dw_sus"
	FieldFundingAdult      Field = "funding_adult"
	FieldFundingAdultAdmin Field = "funding_adult_admin"
	FieldFundingAdultSus   Field = "funding_adult_sus"
	FieldFundingRR         Field = "funding_rr"
	FieldFundingH1B        Field = "funding_h1b"
	FieldFundingYouthIS    Field = "funding_youth_is"
	FieldFundingYouthOS    Field = "funding_youth_os"
	FieldFundingYouthAdmin Field = "funding_youth_admin"

	FieldFinVoucherReceived Field = "fin_voucher_received"
	FieldFinAccrualDate     Field = "fin_accrual_date"
	FieldFinObligatedDate   Field = "fin_obligated_date"
	FieldFinComments        Field = "fin_comments"
	FieldFinExpenseCode     Field = "fin_expense_code"
)

// FundingFields are the per-category amount columns, in display order.
var FundingFields = []Field{
	FieldFundingDW,
	FieldFundingDWAdmin,
	FieldFundingDWSus,
	FieldFundingAdult,
	FieldFundingAdultAdmin,
	FieldFundingAdultSus,
	FieldFundingRR,
	FieldFundingH1B,
	FieldFundingYouthIS,
	FieldFundingYouthOS,
	FieldFundingYouthAdmin,
}

// knownFields fixes the bit position of every field; append only.
var knownFields = []Field{
	FieldTransactionDate,
	FieldVendorID,
	FieldClientName,
	FieldVoucherNumber,
	FieldEnrollmentDate,
	FieldClassStartDate,
	FieldPurchaseDate,
	FieldPaymentStatus,
	FieldProgramExplanation,
	FieldFundingDW,
	FieldFundingDWAdmin,
	FieldFundingDWSus,
	FieldFundingAdult,
	FieldFundingAdultAdmin,
	FieldFundingAdultSus,
	FieldFundingRR,
	FieldFundingH1B,
	FieldFundingYouthIS,
	FieldFundingYouthOS,
	FieldFundingYouthAdmin,
	FieldFinVoucherReceived,
	FieldFinAccrualDate,
	FieldFinObligatedDate,
	FieldFinComments,
	FieldFinExpenseCode,
}

var fieldIndex = func() map[Field]uint {
	out := make(map[Field]uint, len(knownFields))
	for i, f := range knownFields {
		out[f] = uint(i)
	}
	return out
}()

// FieldMask is a set of fields.
type FieldMask uint64

var (
	StaffFields = MaskOf(append([]Field{
		FieldTransactionDate,
		FieldVendorID,
		FieldClientName,
		FieldVoucherNumber,
		FieldEnrollmentDate,
		FieldClassStartDate,
		FieldPurchaseDate,
		FieldPaymentStatus,
		FieldProgramExplanation,
	}, FundingFields...)...)

	FinanceFields = MaskOf(
		FieldFinVoucherReceived,
		FieldFinAccrualDate,
		FieldFinObligatedDate,
		FieldFinComments,
		FieldFinExpenseCode,
	)

	AllFields = StaffFields | FinanceFields
)

func ParseField(raw string) (Field, bool) {
	f := Field(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := fieldIndex[f]
	return f, ok
}

func IsFundingField(f Field) bool {
	switch f {
	case FieldFundingDW, FieldFundingDWAdmin, FieldFundingDWSus,
		FieldFundingAdult, FieldFundingAdultAdmin, FieldFundingAdultSus,
		FieldFundingRR, FieldFundingH1B,
		FieldFundingYouthIS, FieldFundingYouthOS, FieldFundingYouthAdmin:
		return true
	default:
		return false
	}
}

func MaskOf(fields ...Field) FieldMask {
	var m FieldMask
	for _, f := range fields {
		if idx, ok := fieldIndex[f]; ok {
			m |= 1 << idx
		}
	}
	return m
}

func (m FieldMask) Has(f Field) bool {
	idx, ok := fieldIndex[f]
	return ok && m&(1<<idx) != 0
}

func (m FieldMask) Without(fields ...Field) FieldMask {
	return m &^ MaskOf(fields...)
}

func (m FieldMask) Intersects(other FieldMask) bool {
	return m&other != 0
}

func (m FieldMask) Empty() bool {
	return m == 0
}

// Fields lists the members of m in column order.
func (m FieldMask) Fields() []Field {
	out := make([]Field, 0, len(knownFields))
	for _, f := range knownFields {
		if m.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

func (m FieldMask) Strings() []string {
	fields := m.Fields()
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = string(f)
	}
	return out
}
