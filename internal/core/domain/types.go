// Package domain holds the types that flow through the clip analysis pipeline:
// inference requests and results, per-frame analyses, verdicts and tasks.
package domain

import (
	"encoding/json"
	"strings"
)

// Decision is an officiating outcome for a frame or a clip.
type Decision string

const (
	DecisionOffside      Decision = "OFFSIDE"
	DecisionOnside       Decision = "ONSIDE"
	DecisionHandball     Decision = "HANDBALL"
	DecisionNoInfraction Decision = "NO_INFRACTION"
	DecisionUnclear      Decision = "UNCLEAR"
	DecisionAPIError     Decision = "API_ERROR"
)

// ParseDecision normalises a model-produced decision string.
// The boolean is false when the value is not a known decision.
func ParseDecision(s string) (Decision, bool) {
	d := Decision(strings.ToUpper(strings.TrimSpace(s)))
	switch d {
	case DecisionOffside, DecisionOnside, DecisionHandball,
		DecisionNoInfraction, DecisionUnclear, DecisionAPIError:
		return d, true
	}
	return DecisionUnclear, false
}

// Image is an encoded still frame (JPEG or PNG bytes).
type Image struct {
	Data      []byte
	MediaType string
}

// InferenceRequest is a single logical call to a remote multimodal model.
// It is never mutated after creation.
type InferenceRequest struct {
	// System is the role-scoped system text.
	System string
	// Prompt is the task text.
	Prompt string
	// Images are attached after the text parts, in order.
	Images []Image
	// Context is optional structured data serialised alongside the prompt.
	Context map[string]any
}

// InferenceResult is a successful structured model response.
type InferenceResult struct {
	// Model is the target that produced the payload.
	Model string
	// Payload is a JSON object.
	Payload json.RawMessage
}

// VideoInfo is basic clip metadata reported by a frame source.
type VideoInfo struct {
	Path            string  `json:"path"`
	FPS             float64 `json:"fps"`
	FrameCount      int     `json:"frame_count"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	DurationSeconds float64 `json:"duration_seconds"`
}
