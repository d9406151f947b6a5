package core

import "github.com/pkg/errors"

// FieldError ties a validation failure to the request field that caused it.
type FieldError struct {
	Field string
	Error string
}

// ValidationError is a client-correctable error: the underlying cause plus
// the per-field breakdown the API serializes for the caller.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{Err: err, Fields: flds}
}

func (err *ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

// Unwrap lets errors.Is/As chains reach the cause alongside pkg/errors.
func (err *ValidationError) Unwrap() error { return err.Err }

// shutdown marks an error as unrecoverable for the running process; the
// server's error handler turns it into a graceful stop.
type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s *shutdown) Error() string { return s.message }

// IsShutdown reports whether err, however wrapped, demands a process stop.
func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
