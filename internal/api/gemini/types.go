package gemini

import (
	"encoding/json"
	"strings"

	"github.com/tjfontaine/offside-zero/internal/core/domain"
)

// GenerateContentRequest is the body of models/{model}:generateContent.
type GenerateContentRequest struct {
	Contents          []Content         `json:"contents"`
	SystemInstruction *Content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
}

// Content is a turn made of parts.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part is text or inline binary data.
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inline_data,omitempty"`
}

// InlineData carries base64 encoded bytes.
type InlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

// GenerationConfig controls sampling and output format.
type GenerationConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	ResponseMimeType string   `json:"responseMimeType,omitempty"`
	MaxOutputTokens  int      `json:"maxOutputTokens,omitempty"`
}

// GenerateContentResponse is the non-streaming response.
type GenerateContentResponse struct {
	Candidates     []Candidate     `json:"candidates"`
	PromptFeedback *PromptFeedback `json:"promptFeedback,omitempty"`
	UsageMetadata  *UsageMetadata  `json:"usageMetadata,omitempty"`
	ModelVersion   string          `json:"modelVersion,omitempty"`
}

// Candidate is one generated response.
type Candidate struct {
	Content      Content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

// Text concatenates the text parts of the candidate.
func (c Candidate) Text() string {
	var sb strings.Builder
	for _, p := range c.Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// PromptFeedback reports a blocked prompt.
type PromptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}

// UsageMetadata reports token usage.
type UsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// Model describes an available model.
type Model struct {
	Name                       string   `json:"name"`
	DisplayName                string   `json:"displayName,omitempty"`
	Description                string   `json:"description,omitempty"`
	InputTokenLimit            int      `json:"inputTokenLimit,omitempty"`
	OutputTokenLimit           int      `json:"outputTokenLimit,omitempty"`
	SupportedGenerationMethods []string `json:"supportedGenerationMethods,omitempty"`
}

// ID returns the name without the "models/" prefix.
func (m Model) ID() string {
	return strings.TrimPrefix(m.Name, "models/")
}

// SupportsGenerateContent reports whether the model can be used for inference.
func (m Model) SupportsGenerateContent() bool {
	for _, method := range m.SupportedGenerationMethods {
		if method == "generateContent" {
			return true
		}
	}
	return false
}

// ListModelsResponse is one page of models.
type ListModelsResponse struct {
	Models        []Model `json:"models"`
	NextPageToken string  `json:"nextPageToken,omitempty"`
}

// ErrorResponse is Google's error envelope.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// APIError is a Google API error.
type APIError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Status  string          `json:"status"`
	Details json.RawMessage `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return e.Status + ": " + e.Message
}

// ToCanonical converts the Google error to an inference error.
func (e *APIError) ToCanonical() *domain.InferenceError {
	return domain.NewInferenceError(mapStatus(e.Status, e.Code), e.Message).
		WithCode(e.Status).
		WithStatusCode(e.Code)
}

func mapStatus(status string, code int) domain.ErrorType {
	switch status {
	case "RESOURCE_EXHAUSTED":
		return domain.ErrorTypeRateLimit
	case "NOT_FOUND":
		return domain.ErrorTypeNotFound
	case "UNAUTHENTICATED":
		return domain.ErrorTypeAuthentication
	case "PERMISSION_DENIED":
		return domain.ErrorTypePermission
	case "UNAVAILABLE":
		return domain.ErrorTypeOverloaded
	case "INVALID_ARGUMENT", "FAILED_PRECONDITION":
		return domain.ErrorTypeInvalidRequest
	case "DEADLINE_EXCEEDED":
		return domain.ErrorTypeTimeout
	}

	switch code {
	case 429:
		return domain.ErrorTypeRateLimit
	case 404:
		return domain.ErrorTypeNotFound
	case 401:
		return domain.ErrorTypeAuthentication
	case 403:
		return domain.ErrorTypePermission
	case 503:
		return domain.ErrorTypeOverloaded
	case 400:
		return domain.ErrorTypeInvalidRequest
	}
	return domain.ErrorTypeServer
}

// ParseErrorResponse attempts to parse an error response from JSON.
func ParseErrorResponse(data []byte) (*APIError, error) {
	var errResp ErrorResponse
	if err := json.Unmarshal(data, &errResp); err != nil {
		return nil, err
	}
	if errResp.Error == nil {
		return nil, nil
	}
	return errResp.Error, nil
}
