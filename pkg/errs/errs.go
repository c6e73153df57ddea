// Package errs defines the engine's error kinds and the Displayed-wrapping
// propagation policy: validation failures are reported once at their first
// site and carried to the entry point without being re-reported.
package errs

import "fmt"

// Kind is an abstract error category. Callers match on Kind with errors.As,
// not on message text.
type Kind string

const (
	InsufficientPrivilege Kind = "InsufficientPrivilege"
	UnsupportedArchitecture Kind = "UnsupportedArchitecture"
	UnsupportedOs           Kind = "UnsupportedOs"
	UnsupportedDevice       Kind = "UnsupportedDevice"
	SecureBootEnabled       Kind = "SecureBootEnabled"
	SplitDriveLayout        Kind = "SplitDriveLayout"
	DiskTooSmall            Kind = "DiskTooSmall"
	InsufficientBootSpace   Kind = "InsufficientBootSpace"
	InsufficientMemory      Kind = "InsufficientMemory"
	MissingFile             Kind = "MissingFile"
	InvalidFileType         Kind = "InvalidFileType"
	DigestMismatch          Kind = "DigestMismatch"
	MissingCommand          Kind = "MissingCommand"
	ExternalCommandFailed   Kind = "ExternalCommandFailed"
	IoError                 Kind = "IoError"
	NotImplemented          Kind = "NotImplemented"
	AmbiguousESP            Kind = "AmbiguousESP"
	RestoreIncomplete       Kind = "RestoreIncomplete"
)

// Error is the engine's error type. Displayed marks an error that has
// already been reported to the user at its first reporting site; the
// entry point must not re-report it, only convert it to an exit code.
type Error struct {
	Kind      Kind
	Remark    string
	Cause     error
	Displayed bool
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Remark, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Remark)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error that has not yet been displayed.
func New(kind Kind, remark string) *Error {
	return &Error{Kind: kind, Remark: remark}
}

// Wrap builds an Error around a causing error.
func Wrap(kind Kind, remark string, cause error) *Error {
	return &Error{Kind: kind, Remark: remark, Cause: cause}
}

// Display marks e as having been reported to the user and returns it,
// so the entry point can propagate it silently.
func Display(e *Error) *Error {
	e.Displayed = true
	return e
}

// Is reports whether err is an *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// As is a thin wrapper so callers in this package's idiom don't need to
// import "errors" directly for the common case. It descends into joined
// errors (errors.Join) and stops at the first *Error found.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		switch u := err.(type) {
		case interface{ Unwrap() error }:
			err = u.Unwrap()
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				if As(inner, target) {
					return true
				}
			}
			return false
		default:
			return false
		}
	}
	return false
}
