package agents

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tjfontaine/offside-zero/internal/core/domain"
)

func TestAdvisor_Ask(t *testing.T) {
	stub := &stubInvoker{payload: `{"answer":"  The header came off the attacker's shoulder, Law 11.2 applies. "}`}
	verdict := &domain.ClipVerdict{Decision: domain.DecisionOffside, Confidence: 0.8}

	got, err := NewAdvisor(stub).Ask(context.Background(), "Was it a header?", verdict)
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if got != "The header came off the attacker's shoulder, Law 11.2 applies." {
		t.Errorf("Ask() = %q", got)
	}
	if !strings.Contains(stub.last.Prompt, "Was it a header?") {
		t.Errorf("Prompt = %q, want the question", stub.last.Prompt)
	}
	if stub.last.Context["analysis"] != verdict {
		t.Errorf("Context = %v, want the verdict under analysis", stub.last.Context)
	}
	if len(stub.last.Images) != 0 {
		t.Errorf("images sent = %d, want 0", len(stub.last.Images))
	}
}

func TestAdvisor_AskErrors(t *testing.T) {
	last := domain.NewInferenceError(domain.ErrorTypeRateLimit, "quota")
	tests := []struct {
		name     string
		stub     *stubInvoker
		wantType domain.ErrorType
	}{
		{"all models failed", &stubInvoker{err: &domain.FallbackError{Model: "m", Attempts: 2, Err: last}}, domain.ErrorTypeRateLimit},
		{"no answer field", &stubInvoker{payload: `{"reply":"yes"}`}, domain.ErrorTypeMalformedResponse},
		{"blank answer", &stubInvoker{payload: `{"answer":"   "}`}, domain.ErrorTypeMalformedResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAdvisor(tt.stub).Ask(context.Background(), "why?", &domain.ClipVerdict{})
			var ie *domain.InferenceError
			if !errors.As(err, &ie) || ie.Type != tt.wantType {
				t.Errorf("Ask() error = %v, want type %s", err, tt.wantType)
			}
		})
	}
}
