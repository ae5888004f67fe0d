package swarm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tjfontaine/offside-zero/internal/core/domain"
)

type stubDrafter struct {
	verdict *domain.ClipVerdict
	err     error
}

func (d stubDrafter) Draft(ctx context.Context, reports []domain.FrameAnalysis) (*domain.ClipVerdict, error) {
	return d.verdict, d.err
}

type stubCounter struct{ calls int }

func (c *stubCounter) CountReports(reports []domain.FrameAnalysis) (int, error) {
	c.calls++
	return 100, nil
}

var offsideReport = domain.FrameAnalysis{
	FrameIndex:  4,
	Geometry:    domain.GeometryResult{OffsideLine: []float64{0.1, 0.2, 0.9, 0.2}},
	Vision:      domain.VisionResult{Attacker: &domain.Subject{Box: []float64{0.3, 0.4, 0.5, 0.6}}},
	RuleVerdict: domain.RuleVerdict{Decision: domain.DecisionOffside},
}

func TestSynthesizer_BindsEntitiesFromBestFrame(t *testing.T) {
	draft := &domain.ClipVerdict{Decision: domain.DecisionOffside, Confidence: 0.9, Explanation: "ahead"}
	counter := &stubCounter{}
	s := NewSynthesizer(stubDrafter{verdict: draft}, WithPayloadCounter(counter))

	reports := []domain.FrameAnalysis{
		{FrameIndex: 1, RuleVerdict: domain.RuleVerdict{Decision: domain.DecisionOnside}},
		offsideReport,
	}
	got := s.Synthesize(context.Background(), reports)

	if got.Decision != domain.DecisionOffside || got.Explanation != "ahead" {
		t.Errorf("verdict = %+v", got)
	}
	if len(got.Entities) != 2 {
		t.Errorf("entities = %+v, want line and attacker", got.Entities)
	}
	if got.KeyFrameIndex == nil || *got.KeyFrameIndex != 4 {
		t.Errorf("KeyFrameIndex = %v, want 4", got.KeyFrameIndex)
	}
	if len(got.AnalyzedFrames) != 2 || got.AnalyzedFrames[0] != 1 {
		t.Errorf("AnalyzedFrames = %v, want [1 4]", got.AnalyzedFrames)
	}
	if counter.calls != 1 {
		t.Errorf("counter calls = %d, want 1", counter.calls)
	}
}

func TestSynthesizer_ExhaustedFallbackIsAPIError(t *testing.T) {
	last := domain.NewInferenceError(domain.ErrorTypeRateLimit, "quota").WithModel("gemini-2.5-pro")
	s := NewSynthesizer(stubDrafter{err: &domain.FallbackError{Model: "gemini-2.5-pro", Attempts: 2, Err: last}})

	got := s.Synthesize(context.Background(), []domain.FrameAnalysis{offsideReport})

	if got.Decision != domain.DecisionAPIError || got.Confidence != 0 {
		t.Errorf("verdict = %+v, want API_ERROR with zero confidence", got)
	}
	if !strings.HasPrefix(got.Explanation, "All models failed. Last error: ") || !strings.Contains(got.Explanation, "quota") {
		t.Errorf("Explanation = %q", got.Explanation)
	}
	if len(got.Entities) != 2 {
		t.Errorf("entity binding skipped on API_ERROR: %+v", got.Entities)
	}
}

func TestSynthesizer_MalformedDraft(t *testing.T) {
	s := NewSynthesizer(stubDrafter{err: errors.New("payload is not a JSON object")})

	got := s.Synthesize(context.Background(), []domain.FrameAnalysis{{FrameIndex: 0}})
	if got.Decision != domain.DecisionAPIError {
		t.Errorf("Decision = %s, want API_ERROR", got.Decision)
	}
	if got.Entities == nil {
		t.Errorf("Entities = nil, want empty slice")
	}
	if strings.Contains(got.Explanation, "All models failed") {
		t.Errorf("Explanation = %q, blames the models for a decode failure", got.Explanation)
	}
	if !strings.Contains(got.Explanation, "not a JSON object") {
		t.Errorf("Explanation = %q, want the draft error", got.Explanation)
	}
}
