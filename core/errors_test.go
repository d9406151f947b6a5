package core

import (
	"testing"

	"github.com/pkg/errors"
)

func TestValidationError(t *testing.T) {
	cause := errors.New("this email has already been invited")
	err := NewValidationError(cause, FieldError{Field: "email", Error: cause.Error()})

	vErr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("NewValidationError() = %T, want *ValidationError", err)
	}
	if vErr.Error() != cause.Error() {
		t.Errorf("Error() = %q, want %q", vErr.Error(), cause.Error())
	}
	if vErr.Unwrap() != cause {
		t.Errorf("Unwrap() = %v, want %v", vErr.Unwrap(), cause)
	}
	if len(vErr.Fields) != 1 || vErr.Fields[0].Field != "email" {
		t.Errorf("Fields = %+v, want one email field error", vErr.Fields)
	}
}

func TestIsShutdown(t *testing.T) {
	err := NewShutdownError("event source lost")
	if !IsShutdown(err) {
		t.Error("IsShutdown() = false for a shutdown error")
	}
	if !IsShutdown(errors.Wrap(err, "dispatcher")) {
		t.Error("IsShutdown() = false for a wrapped shutdown error")
	}
	if IsShutdown(errors.New("boom")) {
		t.Error("IsShutdown() = true for an ordinary error")
	}
}
