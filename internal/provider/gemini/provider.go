// Package gemini implements ports.Analyzer on top of the Gemini REST client.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	geminiapi "github.com/tjfontaine/offside-zero/internal/api/gemini"
	"github.com/tjfontaine/offside-zero/internal/core/domain"
	"github.com/tjfontaine/offside-zero/internal/core/ports"
)

// DefaultTemperature keeps structured answers close to deterministic.
const DefaultTemperature = 0.1

// ProviderOption configures the provider.
type ProviderOption func(*Provider)

// WithBaseURL sets a custom base URL for the API.
func WithBaseURL(baseURL string) ProviderOption {
	return func(p *Provider) {
		p.baseURL = baseURL
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ProviderOption {
	return func(p *Provider) {
		p.httpClient = httpClient
	}
}

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float64) ProviderOption {
	return func(p *Provider) {
		p.temperature = t
	}
}

// Provider implements ports.Analyzer using the Gemini generateContent API.
type Provider struct {
	client      *geminiapi.Client
	baseURL     string
	httpClient  *http.Client
	temperature float64
}

var _ ports.Analyzer = (*Provider)(nil)

// New creates a new Gemini provider.
func New(apiKey string, opts ...ProviderOption) *Provider {
	p := &Provider{temperature: DefaultTemperature}
	for _, opt := range opts {
		opt(p)
	}

	var clientOpts []geminiapi.ClientOption
	if p.baseURL != "" {
		clientOpts = append(clientOpts, geminiapi.WithBaseURL(p.baseURL))
	}
	if p.httpClient != nil {
		clientOpts = append(clientOpts, geminiapi.WithHTTPClient(p.httpClient))
	}

	p.client = geminiapi.NewClient(apiKey, clientOpts...)
	return p
}

// Client returns the underlying API client.
func (p *Provider) Client() *geminiapi.Client {
	return p.client
}

// Infer sends one request to model and returns the JSON object it answered with.
func (p *Provider) Infer(ctx context.Context, model string, req *domain.InferenceRequest) (json.RawMessage, error) {
	apiReq, err := p.toAPIRequest(req)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.GenerateContent(ctx, model, apiReq)
	if err != nil {
		var ie *domain.InferenceError
		if errors.As(err, &ie) {
			return nil, ie.WithModel(model)
		}
		return nil, err
	}

	if len(resp.Candidates) == 0 {
		msg := "no candidates returned"
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			msg = "prompt blocked: " + resp.PromptFeedback.BlockReason
		}
		return nil, domain.ErrMalformedResponse(msg).WithModel(model)
	}

	payload, err := ExtractJSON(resp.Candidates[0].Text())
	if err != nil {
		return nil, domain.ErrMalformedResponse(err.Error()).WithModel(model)
	}
	return payload, nil
}

func (p *Provider) toAPIRequest(req *domain.InferenceRequest) (*geminiapi.GenerateContentRequest, error) {
	parts := []geminiapi.Part{{Text: req.Prompt}}
	if len(req.Context) > 0 {
		data, err := json.Marshal(req.Context)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal context: %w", err)
		}
		parts = append(parts, geminiapi.Part{Text: "Context: " + string(data)})
	}
	for _, img := range req.Images {
		parts = append(parts, geminiapi.Part{InlineData: &geminiapi.InlineData{
			MimeType: mediaType(img),
			Data:     base64.StdEncoding.EncodeToString(img.Data),
		}})
	}

	apiReq := &geminiapi.GenerateContentRequest{
		Contents: []geminiapi.Content{{Role: "user", Parts: parts}},
		GenerationConfig: &geminiapi.GenerationConfig{
			Temperature:      &p.temperature,
			ResponseMimeType: "application/json",
		},
	}
	if req.System != "" {
		apiReq.SystemInstruction = &geminiapi.Content{Parts: []geminiapi.Part{{Text: req.System}}}
	}
	return apiReq, nil
}

// ExtractJSON strips an optional markdown code fence and checks that what is
// left is a single JSON object.
func ExtractJSON(text string) (json.RawMessage, error) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "json")
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if s == "" {
		return nil, fmt.Errorf("empty response text")
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return nil, fmt.Errorf("response is not a JSON object: %.80q", s)
	}
	return json.RawMessage(s), nil
}

func mediaType(img domain.Image) string {
	switch strings.ToLower(img.MediaType) {
	case "image/jpg", "image/jpeg", "":
		return "image/jpeg"
	default:
		return strings.ToLower(img.MediaType)
	}
}
