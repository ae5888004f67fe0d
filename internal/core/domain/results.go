package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// GeometryResult is the Geometry agent's view of one frame.
// Fields the model did not return, or returned malformed, are left empty.
type GeometryResult struct {
	// OffsideLine is [x0, y0, x1, y1], normalised 0-1. Nil unless exactly four numbers.
	OffsideLine []float64 `json:"offside_line,omitempty"`
	// VanishingPoint is [x, y]. Nil unless exactly two numbers.
	VanishingPoint []float64 `json:"vanishing_point,omitempty"`
	Confidence     *float64  `json:"confidence,omitempty"`

	Model string `json:"model,omitempty"`
	Error string `json:"error,omitempty"`
}

// HasOffsideLine reports whether a usable offside line was produced.
func (g GeometryResult) HasOffsideLine() bool {
	return len(g.OffsideLine) == 4
}

// Subject is a detected entity: a box in [ymin, xmin, ymax, xmax] order
// (normalised 0-1) and an optional label.
type Subject struct {
	Box   []float64 `json:"box,omitempty"`
	Label string    `json:"label,omitempty"`
}

// HasBox reports whether the subject carries a usable box.
func (s *Subject) HasBox() bool {
	return s != nil && len(s.Box) == 4
}

// VisionResult is the Vision agent's detections for one frame.
type VisionResult struct {
	Attacker *Subject `json:"attacker,omitempty"`
	Defender *Subject `json:"defender,omitempty"`
	Ball     *Subject `json:"ball,omitempty"`

	Model string `json:"model,omitempty"`
	Error string `json:"error,omitempty"`
}

// RuleVerdict is the Rules agent's per-frame adjudication.
type RuleVerdict struct {
	Decision   Decision `json:"decision"`
	Reasoning  string   `json:"reasoning,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`

	Model string `json:"model,omitempty"`
	Error string `json:"error,omitempty"`
}

// FrameAnalysis is the output of one frame pipeline. FrameIndex refers to the
// position of the frame in the clip's candidate frame sequence.
type FrameAnalysis struct {
	FrameIndex  int            `json:"frame_index"`
	Geometry    GeometryResult `json:"geometry"`
	Vision      VisionResult   `json:"vision"`
	RuleVerdict RuleVerdict    `json:"rule_verdict"`
}

// DecodeGeometry validates a Geometry agent payload.
func DecodeGeometry(payload json.RawMessage) (GeometryResult, error) {
	fields, err := decodeObject(payload)
	if err != nil {
		return GeometryResult{}, err
	}
	g := GeometryResult{
		OffsideLine:    numbersOfLen(fields["offside_line"], 4),
		VanishingPoint: numbersOfLen(fields["vanishing_point"], 2),
		Confidence:     probability(fields["confidence"]),
	}
	return g, nil
}

// DecodeVision validates a Vision agent payload.
func DecodeVision(payload json.RawMessage) (VisionResult, error) {
	fields, err := decodeObject(payload)
	if err != nil {
		return VisionResult{}, err
	}
	return VisionResult{
		Attacker: decodeSubject(fields["attacker"]),
		Defender: decodeSubject(fields["defender"]),
		Ball:     decodeSubject(fields["ball"]),
	}, nil
}

// DecodeRuleVerdict validates a Rules agent payload. Unknown decisions become UNCLEAR.
func DecodeRuleVerdict(payload json.RawMessage) (RuleVerdict, error) {
	fields, err := decodeObject(payload)
	if err != nil {
		return RuleVerdict{}, err
	}
	decision, _ := ParseDecision(str(fields["decision"]))
	return RuleVerdict{
		Decision:   decision,
		Reasoning:  str(fields["reasoning"]),
		Confidence: probability(fields["confidence"]),
	}, nil
}

// DecodeIndices reads an array of integers stored under key.
// A missing key or a value that is not an integer array yields nil.
func DecodeIndices(payload json.RawMessage, key string) ([]int, error) {
	fields, err := decodeObject(payload)
	if err != nil {
		return nil, err
	}
	raw, ok := fields[key]
	if !ok {
		return nil, nil
	}
	var values []json.Number
	if err := unmarshalNumbers(raw, &values); err != nil {
		return nil, nil
	}
	out := make([]int, 0, len(values))
	for _, v := range values {
		n, err := v.Int64()
		if err != nil {
			continue
		}
		out = append(out, int(n))
	}
	return out, nil
}

// DecodeAnswer reads the "answer" string of a follow-up reply.
func DecodeAnswer(payload json.RawMessage) (string, error) {
	fields, err := decodeObject(payload)
	if err != nil {
		return "", err
	}
	answer := strings.TrimSpace(str(fields["answer"]))
	if answer == "" {
		return "", fmt.Errorf("reply has no answer")
	}
	return answer, nil
}

func decodeObject(payload json.RawMessage) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("payload is not a JSON object: %w", err)
	}
	if fields == nil {
		return nil, fmt.Errorf("payload is null")
	}
	return fields, nil
}

func decodeSubject(raw json.RawMessage) *Subject {
	if len(raw) == 0 {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil
	}
	s := &Subject{
		Box:   numbersOfLen(fields["box"], 4),
		Label: str(fields["label"]),
	}
	if s.Box == nil && s.Label == "" {
		return nil
	}
	return s
}

func numbersOfLen(raw json.RawMessage, n int) []float64 {
	if len(raw) == 0 {
		return nil
	}
	var values []json.Number
	if err := unmarshalNumbers(raw, &values); err != nil || len(values) != n {
		return nil
	}
	out := make([]float64, n)
	for i, v := range values {
		f, err := v.Float64()
		if err != nil {
			return nil
		}
		out[i] = f
	}
	return out
}

func unmarshalNumbers(raw json.RawMessage, dst *[]json.Number) error {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	return dec.Decode(dst)
}

func probability(raw json.RawMessage) *float64 {
	if len(raw) == 0 {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil
	}
	f = ClampConfidence(f)
	return &f
}

func str(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// ClampConfidence bounds a confidence value to [0, 1].
func ClampConfidence(f float64) float64 {
	switch {
	case f != f, f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
