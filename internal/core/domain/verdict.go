package domain

import "encoding/json"

// Entity labels bound from the best frame analysis.
const (
	EntityOffsideLine = "Offside Line"
	EntityAttacker    = "Attacker"
	EntityDefender    = "Defender"
)

// Entity is a labelled geometric annotation on the verdict's key frame.
type Entity struct {
	Label string    `json:"label"`
	Box   []float64 `json:"box_2d"`
	ID    string    `json:"id,omitempty"`
}

// ClipVerdict is the final decision for one clip.
type ClipVerdict struct {
	Decision    Decision `json:"decision"`
	Confidence  float64  `json:"confidence"`
	Explanation string   `json:"explanation"`
	VisualCues  string   `json:"visual_cues"`
	Entities    []Entity `json:"entities"`

	// KeyFrameIndex is the frame the entities were taken from.
	KeyFrameIndex *int `json:"key_frame_index,omitempty"`
	// AnalyzedFrames lists the frame indices that produced an analysis, in completion order.
	AnalyzedFrames []int `json:"analyzed_frames,omitempty"`
	// AnnotatedFrames are file names of rendered overlays.
	AnnotatedFrames []string `json:"annotated_frames,omitempty"`

	// Error is set only on the terminal no-frames outcome.
	Error string `json:"error,omitempty"`
}

// UnclearVerdict is returned when no frame could be analysed.
func UnclearVerdict(reason string) *ClipVerdict {
	return &ClipVerdict{
		Decision: DecisionUnclear,
		Entities: []Entity{},
		Error:    reason,
	}
}

// DecodeClipVerdict validates a synthesis payload into a draft verdict.
// Entities are never taken from the model; they are bound locally.
func DecodeClipVerdict(payload json.RawMessage) (*ClipVerdict, error) {
	fields, err := decodeObject(payload)
	if err != nil {
		return nil, err
	}
	decision, _ := ParseDecision(str(fields["decision"]))
	v := &ClipVerdict{
		Decision:    decision,
		Explanation: str(fields["explanation"]),
		VisualCues:  str(fields["visual_cues"]),
		Entities:    []Entity{},
	}
	if c := probability(fields["confidence"]); c != nil {
		v.Confidence = *c
	}
	return v, nil
}
