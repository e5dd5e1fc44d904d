package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassification(t *testing.T) {
	tr := fmt.Errorf("task openings: %w", Transient("generate", context.DeadlineExceeded))
	if !IsTransient(tr) || IsFatal(tr) {
		t.Fatalf("expected transient only: %v", tr)
	}
	if !errors.Is(tr, context.DeadlineExceeded) {
		t.Fatalf("transient should unwrap to cause")
	}
	fa := Fatal("generate", errors.New("400 bad request"))
	if !IsFatal(fa) || IsTransient(fa) {
		t.Fatalf("expected fatal only: %v", fa)
	}
	ce := fmt.Errorf("compose: %w", &CompositionError{Template: "openings", Key: "opponent_name"})
	if !IsComposition(ce) {
		t.Fatalf("expected composition error")
	}
	cfg := &ConfigurationError{Scenario: "debate", Problems: []string{"a", "b"}}
	if got := cfg.Error(); got != `configuration error in scenario "debate": a; b` {
		t.Fatalf("unexpected message %q", got)
	}
}
