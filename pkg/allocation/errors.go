package allocation

import (
	"errors"

	"github.com/rlarcher1021/seazwf-sub000/pkg/models"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrValidation       = errors.New("validation failed")
	ErrPersistence      = errors.New("persistence failure")
)

// Error carries the kind of failure plus a message that is safe to show the end user.
// Persistence errors keep the underlying cause in Err for logs only.
type Error struct {
	Kind  error
	Op    string
	Field models.Field
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Field != "" {
		msg = string(e.Field) + ": " + msg
	}
	if e.Err != nil {
		return e.Op + ": " + msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// UserMessage never exposes the cause of a persistence failure.
func (e *Error) UserMessage() string {
	if errors.Is(e.Kind, ErrPersistence) {
		return "internal error"
	}
	if e.Field != "" && e.Msg != "" {
		return string(e.Field) + ": " + e.Msg
	}
	if e.Msg != "" {
		return e.Msg
	}
	return e.Kind.Error()
}

func notFound(op, msg string) error {
	return &Error{Kind: ErrNotFound, Op: op, Msg: msg}
}

func denied(op, reason string) error {
	return &Error{Kind: ErrPermissionDenied, Op: op, Msg: "permission denied (" + reason + ")"}
}

func invalid(op string, field models.Field, msg string) error {
	return &Error{Kind: ErrValidation, Op: op, Field: field, Msg: msg}
}

func persistence(op string, err error) error {
	return &Error{Kind: ErrPersistence, Op: op, Msg: "store failure", Err: err}
}

// fromStore classifies a repository error: missing rows become NotFound, the rest persistence.
func fromStore(op, what string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, models.ErrNoRecord) {
		return notFound(op, what+" not found")
	}
	return persistence(op, err)
}
