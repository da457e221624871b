package ragerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsMatchesWrappedCode(t *testing.T) {
	err := New(NotFound, "workspace not found")
	wrapped := fmt.Errorf("lookup failed: %w", err)

	if !Is(wrapped, NotFound) {
		t.Fatal("expected Is to see through fmt.Errorf wrapping")
	}
	if Is(wrapped, Forbidden) {
		t.Fatal("expected Is to reject a mismatched code")
	}
}

func TestIsRejectsUntypedErrors(t *testing.T) {
	if Is(errors.New("plain error"), Internal) {
		t.Fatal("a plain error should never match a ragerr.Code")
	}
}

func TestCodeOfDefaultsToInternalForUntypedErrors(t *testing.T) {
	if got := CodeOf(errors.New("boom")); got != Internal {
		t.Fatalf("expected Internal for an untyped error, got %s", got)
	}
}

func TestCodeOfExtractsWrappedCode(t *testing.T) {
	err := Wrap(ServiceUnavailable, "embedding provider down", errors.New("dial tcp: timeout"))
	if got := CodeOf(err); got != ServiceUnavailable {
		t.Fatalf("expected SERVICE_UNAVAILABLE, got %s", got)
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(Internal, "repository write failed", cause)

	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
}

func TestFieldBuildsValidationErrorWithFieldAnnotation(t *testing.T) {
	err := Field("workspace_id", "must be a valid UUID")
	if err.Code != Validation {
		t.Fatalf("expected Validation code, got %s", err.Code)
	}
	want := "VALIDATION_ERROR: must be a valid UUID (field=workspace_id)"
	if err.Error() != want {
		t.Fatalf("expected %q, got %q", want, err.Error())
	}
}

func TestErrorMessageOmitsFieldWhenUnset(t *testing.T) {
	err := New(Conflict, "document already exists")
	want := "CONFLICT: document already exists"
	if err.Error() != want {
		t.Fatalf("expected %q, got %q", want, err.Error())
	}
}
