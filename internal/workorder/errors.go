package workorder

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zulandar/otyard/internal/models"
)

// Kind classifies a lifecycle failure so callers can route the user.
type Kind string

const (
	KindValidation                 Kind = "VALIDATION"
	KindInvalidState               Kind = "INVALID_STATE"
	KindReturnToProductionRequired Kind = "RETURN_TO_PRODUCTION_REQUIRED"
	KindNotFound                   Kind = "NOT_FOUND"
	KindNotAssigned                Kind = "NOT_ASSIGNED"
	KindForbidden                  Kind = "FORBIDDEN"
)

// Reasons refine a Kind.
const (
	ReasonOpenDowntime     = "OPEN_DOWNTIME"
	ReasonNotConfirmed     = "NOT_CONFIRMED"
	ReasonConcurrentChange = "CONCURRENT_CHANGE"
	ReasonDowntimeOpen     = "DOWNTIME_ALREADY_OPEN"
)

// Sentinels for errors.Is; they match any *Error of the same Kind.
var (
	ErrValidation                 = &Error{Kind: KindValidation}
	ErrInvalidState               = &Error{Kind: KindInvalidState}
	ErrReturnToProductionRequired = &Error{Kind: KindReturnToProductionRequired}
	ErrNotFound                   = &Error{Kind: KindNotFound}
	ErrNotAssigned                = &Error{Kind: KindNotAssigned}
	ErrForbidden                  = &Error{Kind: KindForbidden}
)

// FieldError is one rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Problem string `json:"problem"`
}

// Error is the typed failure returned by every lifecycle operation.
type Error struct {
	Op     string // operation, e.g. "close"
	ID     uint   // work order id, 0 when not applicable
	Kind   Kind
	Reason string        // optional refinement, e.g. OPEN_DOWNTIME
	Msg    string        // human readable detail
	Status models.Status // status observed when the guard failed

	// DowntimeLogID identifies the blocking log for OPEN_DOWNTIME.
	DowntimeLogID *uint
	Fields        []FieldError
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("workorder: ")
	b.WriteString(e.Op)
	if e.ID != 0 {
		fmt.Fprintf(&b, " %d", e.ID)
	}
	b.WriteString(": ")
	b.WriteString(string(e.Kind))
	if e.Reason != "" {
		b.WriteString(" (")
		b.WriteString(e.Reason)
		b.WriteString(")")
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	return b.String()
}

// Is matches sentinel errors by Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Reason == "" || t.Reason == e.Reason)
}

// KindOf returns the Kind carried by err, or "" for non-lifecycle errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// AsError extracts the *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

func validationError(op string, id uint, fields []FieldError) *Error {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f.Field+": "+f.Problem)
	}
	return &Error{
		Op:     op,
		ID:     id,
		Kind:   KindValidation,
		Msg:    strings.Join(parts, "; "),
		Fields: fields,
	}
}

func invalidState(op string, id uint, status models.Status, msg string) *Error {
	return &Error{Op: op, ID: id, Kind: KindInvalidState, Status: status, Msg: msg}
}

func notFound(op string, id uint, msg string) *Error {
	return &Error{Op: op, ID: id, Kind: KindNotFound, Msg: msg}
}
