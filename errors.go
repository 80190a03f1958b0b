package cowrieprocessor

import (
	"errors"
	"strings"
)

// Error is the cowrieprocessor error domain type.
//
// Errors coming from cowrieprocessor components should be able to be
// inspected as ([errors.As]) an *Error at some point in the error chain.
//
// Components should create an Error at a system boundary (a database
// round-trip, a file read, an external lookup) and intermediate layers
// should wrap with [fmt.Errorf] and a "%w" verb instead of nesting
// another Error, except to add [ErrorKind] information.
type Error struct {
	Inner   error
	Kind    ErrorKind
	Message string
	Op      string
}

var (
	_ error                       = (*Error)(nil)
	_ interface{ Is(error) bool } = (*Error)(nil)
	_ interface{ Unwrap() error } = (*Error)(nil)
)

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(" ")
	}
	b.WriteString("[")
	switch e.Kind {
	case ErrInternal, ErrInvalid, ErrPrecondition, ErrTransient, ErrPermanent, ErrConflict:
		b.WriteString(string(e.Kind))
	default:
		b.WriteString("???")
	}
	b.WriteString("]: ")
	if e.Message != "" {
		b.WriteString(e.Message)
	}
	if e.Message != "" && e.Inner != nil {
		b.WriteString(": ")
	}
	if e.Op == "" && e.Message == "" {
		b.Reset()
	}
	if e.Inner != nil {
		b.WriteString(e.Inner.Error())
	}
	return b.String()
}

// Is enables [errors.Is].
//
// It compares the error kind. Callers should compare against a declared
// [ErrorKind] rather than a specific error value.
func (e *Error) Is(tgt error) bool {
	return errors.Is(e.Kind, tgt)
}

// Unwrap enables [errors.Unwrap].
func (e *Error) Unwrap() error {
	return e.Inner
}

// ErrorKind represents classes of errors to be checked against.
//
// If a component is unsure which kind to use, ErrInternal should be used.
type ErrorKind string

// Defined error kinds.
//
// The ingestion verbs map these onto process exit codes: ErrInvalid is a
// user error, ErrTransient may succeed on retry, and ErrPrecondition and
// ErrPermanent are unrecoverable data or schema states.
var (
	ErrConflict     = ErrorKind("conflict")     // conflicting concurrent action
	ErrInternal     = ErrorKind("internal")     // non-specific internal error
	ErrInvalid      = ErrorKind("invalid")      // invalid request or input
	ErrPrecondition = ErrorKind("precondition") // some precondition unfulfilled, e.g. schema version
	ErrTransient    = ErrorKind("transient")    // may succeed on retry
	ErrPermanent    = ErrorKind("permanent")    // will never succeed
)

// Error implements error.
func (e ErrorKind) Error() string {
	return string(e)
}
