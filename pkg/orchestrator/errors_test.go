package orchestrator

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestWorkflowErrorClassification(t *testing.T) {
	if !IsValidation(NewValidationError("bad input")) {
		t.Error("expected validation classification")
	}
	if !IsRemote(NewRemoteError("call failed", errors.New("boom"))) {
		t.Error("expected remote classification")
	}
	if !IsTimeout(NewTimeoutError("gave up")) {
		t.Error("expected timeout classification")
	}
	if IsTimeout(errors.New("plain")) {
		t.Error("plain errors must not classify as timeout")
	}
}

func TestWorkflowErrorWrapping(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewRemoteError("failed to create server", cause).WithResource("srv-1")

	if !errors.Is(err, cause) {
		t.Error("expected the cause to be reachable through Unwrap")
	}
	wrapped := fmt.Errorf("workflow: %w", err)
	if !IsRemote(wrapped) {
		t.Error("classification must survive wrapping")
	}
	if !strings.Contains(err.Error(), "srv-1") {
		t.Errorf("expected resource in message, got: %s", err.Error())
	}
}

func TestClassOf(t *testing.T) {
	if got := ClassOf(NewTimeoutError("x")); got != ErrorClassTimeout {
		t.Errorf("expected timeout class, got %s", got)
	}
	if got := ClassOf(errors.New("plain")); got != ErrorClassInternal {
		t.Errorf("plain errors default to internal, got %s", got)
	}
}
