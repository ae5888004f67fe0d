package domain

import (
	"encoding/json"
	"testing"
)

func TestDecodeGeometry(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantLine bool
		wantVP   bool
		wantConf *float64
		wantErr  bool
	}{
		{
			name:     "complete",
			payload:  `{"offside_line":[0.1,0.2,0.9,0.2],"vanishing_point":[0.5,-1.2],"confidence":0.8}`,
			wantLine: true,
			wantVP:   true,
			wantConf: ptr(0.8),
		},
		{
			name:    "line too short",
			payload: `{"offside_line":[0.1,0.2,0.9]}`,
		},
		{
			name:    "line not numeric",
			payload: `{"offside_line":["a","b","c","d"]}`,
		},
		{
			name:     "confidence clamped",
			payload:  `{"confidence":3}`,
			wantConf: ptr(1),
		},
		{
			name:    "error mapping from model",
			payload: `{"error":"could not see pitch"}`,
		},
		{
			name:    "not an object",
			payload: `[1,2,3]`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := DecodeGeometry(json.RawMessage(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeGeometry() error = %v, wantErr %v", err, tt.wantErr)
			}
			if g.HasOffsideLine() != tt.wantLine {
				t.Errorf("HasOffsideLine() = %v, want %v", g.HasOffsideLine(), tt.wantLine)
			}
			if (g.VanishingPoint != nil) != tt.wantVP {
				t.Errorf("VanishingPoint = %v, want present=%v", g.VanishingPoint, tt.wantVP)
			}
			switch {
			case tt.wantConf == nil && g.Confidence != nil:
				t.Errorf("Confidence = %v, want nil", *g.Confidence)
			case tt.wantConf != nil && (g.Confidence == nil || *g.Confidence != *tt.wantConf):
				t.Errorf("Confidence = %v, want %v", g.Confidence, *tt.wantConf)
			}
		})
	}
}

func TestDecodeVision_MissingDefender(t *testing.T) {
	v, err := DecodeVision(json.RawMessage(`{"attacker":{"box":[0.3,0.4,0.5,0.6],"label":"Attacker (Foot)"},"ball":{"box":[1,2]}}`))
	if err != nil {
		t.Fatalf("DecodeVision() error = %v", err)
	}
	if !v.Attacker.HasBox() {
		t.Errorf("attacker box missing")
	}
	if v.Attacker.Label != "Attacker (Foot)" {
		t.Errorf("attacker label = %q", v.Attacker.Label)
	}
	if v.Defender != nil || v.Defender.HasBox() {
		t.Errorf("defender = %+v, want nil", v.Defender)
	}
	if v.Ball != nil {
		t.Errorf("ball with malformed box should be dropped, got %+v", v.Ball)
	}
}

func TestDecodeRuleVerdict(t *testing.T) {
	tests := []struct {
		payload string
		want    Decision
	}{
		{`{"decision":"OFFSIDE","reasoning":"Law 11.1"}`, DecisionOffside},
		{`{"decision":" onside "}`, DecisionOnside},
		{`{"decision":"MAYBE"}`, DecisionUnclear},
		{`{}`, DecisionUnclear},
	}

	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			rv, err := DecodeRuleVerdict(json.RawMessage(tt.payload))
			if err != nil {
				t.Fatalf("DecodeRuleVerdict() error = %v", err)
			}
			if rv.Decision != tt.want {
				t.Errorf("Decision = %s, want %s", rv.Decision, tt.want)
			}
		})
	}
}

func TestDecodeIndices(t *testing.T) {
	// a mixed array is rejected as a whole
	got, err := DecodeIndices(json.RawMessage(`{"critical_frame_indices":[2,0,"x"]}`), "critical_frame_indices")
	if err != nil || got != nil {
		t.Errorf("DecodeIndices() = %v, %v; want nil, nil for mixed array", got, err)
	}

	got, err = DecodeIndices(json.RawMessage(`{"critical_frame_indices":[3,1.5]}`), "critical_frame_indices")
	if err != nil || len(got) != 1 || got[0] != 3 {
		t.Errorf("DecodeIndices() = %v, %v; want [3]", got, err)
	}

	got, err = DecodeIndices(json.RawMessage(`{"critical_frame_indices":[2,0,1]}`), "critical_frame_indices")
	if err != nil {
		t.Fatalf("DecodeIndices() error = %v", err)
	}
	if len(got) != 3 || got[0] != 2 || got[1] != 0 || got[2] != 1 {
		t.Errorf("DecodeIndices() = %v, want [2 0 1]", got)
	}

	got, err = DecodeIndices(json.RawMessage(`{"reasoning":"nothing happens"}`), "critical_frame_indices")
	if err != nil || got != nil {
		t.Errorf("DecodeIndices() = %v, %v; want nil, nil", got, err)
	}
}

func ptr(f float64) *float64 { return &f }

func TestDecodeClipVerdict_IgnoresModelEntities(t *testing.T) {
	v, err := DecodeClipVerdict(json.RawMessage(`{"decision":"offside","confidence":0.9,"explanation":"ahead of last defender","entities":[{"label":"x","box_2d":[1,2,3,4]}]}`))
	if err != nil {
		t.Fatalf("DecodeClipVerdict() error = %v", err)
	}
	if v.Decision != DecisionOffside || v.Confidence != 0.9 {
		t.Errorf("verdict = %+v", v)
	}
	if v.Entities == nil || len(v.Entities) != 0 {
		t.Errorf("Entities = %v, want empty non-nil", v.Entities)
	}

	if _, err := DecodeClipVerdict(json.RawMessage(`"OFFSIDE"`)); err == nil {
		t.Errorf("DecodeClipVerdict(string) error = nil, want error")
	}
}
