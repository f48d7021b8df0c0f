package apperror

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf_SurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("list patients: %w", NotFound("page out of range"))
	if got := KindOf(err); got != KindNotFound {
		t.Errorf("KindOf = %q, want %q", got, KindNotFound)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Error("expected errors.Is(err, ErrNotFound)")
	}
	if errors.Is(err, ErrBadRequest) {
		t.Error("not-found error must not match ErrBadRequest")
	}
}

func TestKindOf_Unclassified(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != "" {
		t.Errorf("KindOf = %q, want empty", got)
	}
	if Is(nil, KindNotFound) {
		t.Error("nil error must not be classified")
	}
}

func TestDanglingReference_OutermostKindWins(t *testing.T) {
	inner := NotFound("Organization/o1 not found")
	err := DanglingReference(inner, "resolve %s", "Organization/o1")

	if got := KindOf(err); got != KindDanglingReference {
		t.Errorf("KindOf = %q, want %q", got, KindDanglingReference)
	}
	// The underlying cause stays reachable.
	if !errors.Is(err, ErrNotFound) {
		t.Error("expected wrapped not-found cause to be reachable")
	}
}

func TestError_Message(t *testing.T) {
	cause := errors.New("connection refused")
	err := RemoteUnavailable(cause, "search %s", "Patient")
	want := "remote_unavailable: search Patient: connection refused"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to unwrap")
	}
}
