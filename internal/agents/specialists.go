package agents

import (
	"context"
	"fmt"

	"github.com/tjfontaine/offside-zero/internal/core/domain"
	"github.com/tjfontaine/offside-zero/internal/tokens"
)

// Geometry locates the offside line on a single frame.
type Geometry struct{ *Agent }

// NewGeometry creates the Geometry specialist.
func NewGeometry(invoker Invoker, opts ...Option) *Geometry {
	return &Geometry{New("geometry", geometryRole, invoker, opts...)}
}

// Analyze never fails; a failed call is reported in the result's Error field.
func (g *Geometry) Analyze(ctx context.Context, frame domain.Image) domain.GeometryResult {
	res, err := g.Think(ctx, geometryTask, []domain.Image{frame}, nil)
	if err != nil {
		return domain.GeometryResult{Error: err.Error()}
	}
	out, err := domain.DecodeGeometry(res.Payload)
	if err != nil {
		return domain.GeometryResult{Model: res.Model, Error: err.Error()}
	}
	out.Model = res.Model
	return out
}

// Vision detects the attacker, defender and ball on a single frame.
type Vision struct{ *Agent }

// NewVision creates the Vision specialist.
func NewVision(invoker Invoker, opts ...Option) *Vision {
	return &Vision{New("vision", visionRole, invoker, opts...)}
}

// Detect never fails; a failed call is reported in the result's Error field.
func (v *Vision) Detect(ctx context.Context, frame domain.Image) domain.VisionResult {
	res, err := v.Think(ctx, visionTask, []domain.Image{frame}, nil)
	if err != nil {
		return domain.VisionResult{Error: err.Error()}
	}
	out, err := domain.DecodeVision(res.Payload)
	if err != nil {
		return domain.VisionResult{Model: res.Model, Error: err.Error()}
	}
	out.Model = res.Model
	return out
}

// Rules adjudicates from Geometry and Vision output. It never sees pixels.
type Rules struct{ *Agent }

// NewRules creates the Rules specialist.
func NewRules(invoker Invoker, opts ...Option) *Rules {
	return &Rules{New("rules", rulesRole, invoker, opts...)}
}

// Adjudicate never fails; a failed call yields an UNCLEAR verdict with Error set.
func (r *Rules) Adjudicate(ctx context.Context, geometry domain.GeometryResult, vision domain.VisionResult) domain.RuleVerdict {
	res, err := r.Think(ctx, rulesTask, nil, map[string]any{
		"geometry": geometry,
		"vision":   vision,
	})
	if err != nil {
		return domain.RuleVerdict{Decision: domain.DecisionUnclear, Error: fmt.Sprintf("rule agent failed: %v", err)}
	}
	out, err := domain.DecodeRuleVerdict(res.Payload)
	if err != nil {
		return domain.RuleVerdict{Decision: domain.DecisionUnclear, Model: res.Model, Error: err.Error()}
	}
	out.Model = res.Model
	return out
}

// Manager picks the critical frames of a clip in a single call.
type Manager struct{ *Agent }

// NewManager creates the critical-moment coordinator.
func NewManager(invoker Invoker, opts ...Option) *Manager {
	return &Manager{New("manager", managerRole, invoker, opts...)}
}

// CriticalMoments returns the indices the model flagged, unvalidated and in
// model order. A failed call returns an error.
func (m *Manager) CriticalMoments(ctx context.Context, frames []domain.Image) ([]int, error) {
	res, err := m.Think(ctx, criticalMomentsTask, frames, map[string]any{"frame_count": len(frames)})
	if err != nil {
		return nil, err
	}
	return domain.DecodeIndices(res.Payload, "critical_frame_indices")
}

// TokenCounter counts request input tokens. *tokens.Registry implements it.
type TokenCounter interface {
	CountTokens(model string, req *domain.InferenceRequest) (tokens.Count, error)
}

// Synthesizer merges per-frame reports into a draft verdict.
type Synthesizer struct {
	*Agent
	counter TokenCounter
	model   string
}

// NewSynthesizer creates the final judge.
func NewSynthesizer(invoker Invoker, opts ...Option) *Synthesizer {
	return &Synthesizer{Agent: New("synthesizer", synthesizerRole, invoker, opts...)}
}

// WithTokenCounter enables CountReports, estimating against model.
func (s *Synthesizer) WithTokenCounter(counter TokenCounter, model string) *Synthesizer {
	s.counter = counter
	s.model = model
	return s
}

// Draft returns the model's decision, confidence and narrative. Entities are
// left empty for local binding.
func (s *Synthesizer) Draft(ctx context.Context, reports []domain.FrameAnalysis) (*domain.ClipVerdict, error) {
	res, err := s.Think(ctx, synthesisTask, nil, synthesisContext(reports))
	if err != nil {
		return nil, err
	}
	return domain.DecodeClipVerdict(res.Payload)
}

// CountReports estimates the input tokens of the synthesis call.
func (s *Synthesizer) CountReports(reports []domain.FrameAnalysis) (int, error) {
	if s.counter == nil {
		return 0, fmt.Errorf("no token counter configured")
	}
	c, err := s.counter.CountTokens(s.model, s.request(synthesisTask, nil, synthesisContext(reports)))
	if err != nil {
		return 0, err
	}
	return c.InputTokens, nil
}

func synthesisContext(reports []domain.FrameAnalysis) map[string]any {
	return map[string]any{"reports": reports}
}
