// Package capability implements the host-side filesystem, process, browser
// and LLM operations vended to a sandboxed guest.
package capability

import "fmt"

// Kind is the closed set of structured error categories a capability
// operation may fail with. Kind is stable across the API: callers match on
// it, not on Error strings.
type Kind string

const (
	PermissionDenied Kind = "PermissionDenied"
	NotFound         Kind = "NotFound"
	EncodingError    Kind = "EncodingError"
	SchemaError      Kind = "SchemaError"
	UnknownAlias     Kind = "UnknownAlias"
	UnknownHandle    Kind = "UnknownHandle"
	Timeout          Kind = "Timeout"
	ExternalFailure  Kind = "ExternalFailure"
	BudgetExceeded   Kind = "BudgetExceeded"
	GuestTrap        Kind = "GuestTrap"
)

// Error is the structured failure value every capability operation returns
// in place of an opaque error. It carries across the Action Executor
// boundary unchanged and becomes the error field of an action report.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Errf builds an *Error with a formatted message.
func Errf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// AsError extracts a capability *Error from err when err itself is one; a
// wrapped *Error is not found. It does not use errors.As because Error intentionally does not
// wrap an underlying cause past the Action Executor boundary (§7: capability
// errors become data, never exceptions).
func AsError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	if ce, ok := err.(*Error); ok {
		return ce, true
	}
	return nil, false
}
