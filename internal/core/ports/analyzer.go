package ports

import (
	"context"
	"encoding/json"

	"github.com/tjfontaine/offside-zero/internal/core/domain"
)

// Analyzer performs one remote multimodal inference call against a single
// model. The returned payload is a JSON object. Failures should be
// *domain.InferenceError values so fallback logging can classify them.
type Analyzer interface {
	Infer(ctx context.Context, model string, req *domain.InferenceRequest) (json.RawMessage, error)
}

// AnalyzerFunc adapts a function to the Analyzer interface.
type AnalyzerFunc func(ctx context.Context, model string, req *domain.InferenceRequest) (json.RawMessage, error)

// Infer calls f.
func (f AnalyzerFunc) Infer(ctx context.Context, model string, req *domain.InferenceRequest) (json.RawMessage, error) {
	return f(ctx, model, req)
}
