package paymentstatus

import (
	"errors"
	"strings"

	"github.com/rlarcher1021/seazwf-sub000/pkg/models"
)

var (
	ErrInvalidTransition = errors.New("invalid payment status transition")
	ErrUnknownStatus     = errors.New("unknown payment status")
	ErrTerminal          = errors.New("allocation is void")
)

func Parse(raw string) (models.PaymentStatus, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "unpaid":
		return models.PaymentUnpaid, nil
	case "paid":
		return models.PaymentPaid, nil
	case "void":
		return models.PaymentVoid, nil
	default:
		return "", ErrUnknownStatus
	}
}

// CanTransition reports whether from -> to is a legal edge. Staying put is always legal
// except out of Void, which admits nothing.
func CanTransition(from, to models.PaymentStatus) bool {
	switch from {
	case models.PaymentUnpaid:
		return to == models.PaymentUnpaid || to == models.PaymentPaid || to == models.PaymentVoid
	case models.PaymentPaid:
		return to == models.PaymentPaid || to == models.PaymentUnpaid || to == models.PaymentVoid
	default:
		return false
	}
}

func Transition(from, to models.PaymentStatus) (models.PaymentStatus, error) {
	if IsTerminal(from) {
		return from, ErrTerminal
	}
	if !CanTransition(from, to) {
		return from, ErrInvalidTransition
	}
	return to, nil
}

func IsTerminal(status models.PaymentStatus) bool {
	return status == models.PaymentVoid
}
