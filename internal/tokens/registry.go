// Package tokens estimates the input size of inference requests so large
// synthesis payloads can be spotted before they are sent.
package tokens

import (
	"encoding/json"
	"strings"

	"github.com/tjfontaine/offside-zero/internal/core/domain"
)

// ImageTokens is the flat input cost Gemini charges per inline image.
const ImageTokens = 258

// Count is the result of counting a request.
type Count struct {
	InputTokens int  `json:"input_tokens"`
	Estimated   bool `json:"estimated"`
}

// Counter counts the input tokens of a request for a model.
type Counter interface {
	CountTokens(model string, req *domain.InferenceRequest) (Count, error)
	SupportsModel(model string) bool
}

// Registry manages token counters for different model families.
// Registered counters are tried in order; the Estimator handles the rest.
type Registry struct {
	counters []Counter
	fallback Counter
}

// NewRegistry creates a new token counter registry.
func NewRegistry() *Registry {
	return &Registry{
		fallback: NewEstimator(),
	}
}

// Register adds a token counter to the registry.
func (r *Registry) Register(counter Counter) {
	r.counters = append(r.counters, counter)
}

// CountTokens counts tokens using the first counter that supports the model.
func (r *Registry) CountTokens(model string, req *domain.InferenceRequest) (Count, error) {
	return r.GetCounter(model).CountTokens(model, req)
}

// GetCounter returns the appropriate counter for a model.
func (r *Registry) GetCounter(model string) Counter {
	for _, counter := range r.counters {
		if counter.SupportsModel(model) {
			return counter
		}
	}
	return r.fallback
}

// Estimator provides token count estimation based on character counts.
type Estimator struct {
	// CharsPerToken is the average characters per token (default: 4)
	CharsPerToken float64
}

// NewEstimator creates a new token estimator.
func NewEstimator() *Estimator {
	return &Estimator{
		CharsPerToken: 4.0,
	}
}

// CountTokens estimates the token count.
func (e *Estimator) CountTokens(model string, req *domain.InferenceRequest) (Count, error) {
	chars := len(req.System) + len(req.Prompt)
	if len(req.Context) > 0 {
		data, err := json.Marshal(req.Context)
		if err != nil {
			return Count{}, err
		}
		chars += len(data)
	}
	tokens := int(float64(chars)/e.CharsPerToken) + len(req.Images)*ImageTokens
	return Count{InputTokens: tokens, Estimated: true}, nil
}

// SupportsModel returns true - estimator supports all models as a fallback.
func (e *Estimator) SupportsModel(model string) bool {
	return true
}

// ModelMatcher helps match model names to provider patterns.
type ModelMatcher struct {
	prefixes []string
	exact    []string
}

// NewModelMatcher creates a new model matcher.
func NewModelMatcher(prefixes, exact []string) *ModelMatcher {
	return &ModelMatcher{
		prefixes: prefixes,
		exact:    exact,
	}
}

// Matches returns true if the model matches any pattern.
func (m *ModelMatcher) Matches(model string) bool {
	for _, e := range m.exact {
		if model == e {
			return true
		}
	}
	for _, p := range m.prefixes {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}
