package swarm

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tjfontaine/offside-zero/internal/core/domain"
)

// Drafter produces the model-reasoned part of a verdict.
// *agents.Synthesizer implements it.
type Drafter interface {
	Draft(ctx context.Context, reports []domain.FrameAnalysis) (*domain.ClipVerdict, error)
}

// PayloadCounter estimates the input size of the synthesis call.
type PayloadCounter interface {
	CountReports(reports []domain.FrameAnalysis) (int, error)
}

// Synthesizer merges frame reports into the final verdict: one model call for
// the decision and narrative, then deterministic entity binding.
type Synthesizer struct {
	drafter Drafter
	counter PayloadCounter
	logger  *slog.Logger
}

// SynthesizerOption configures a Synthesizer.
type SynthesizerOption func(*Synthesizer)

// WithPayloadCounter logs an input token estimate before each synthesis call.
func WithPayloadCounter(counter PayloadCounter) SynthesizerOption {
	return func(s *Synthesizer) {
		s.counter = counter
	}
}

// WithSynthesizerLogger sets the logger.
func WithSynthesizerLogger(logger *slog.Logger) SynthesizerOption {
	return func(s *Synthesizer) {
		s.logger = logger
	}
}

// NewSynthesizer creates a Synthesizer.
func NewSynthesizer(drafter Drafter, opts ...SynthesizerOption) *Synthesizer {
	s := &Synthesizer{drafter: drafter, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesize always returns a well-formed verdict. Exhausted fallback targets
// yield decision API_ERROR with confidence 0. reports must not be empty.
func (s *Synthesizer) Synthesize(ctx context.Context, reports []domain.FrameAnalysis) *domain.ClipVerdict {
	if s.counter != nil {
		if n, err := s.counter.CountReports(reports); err == nil {
			s.logger.Debug("synthesis payload estimate",
				slog.Int("reports", len(reports)),
				slog.Int("input_tokens", n),
			)
		}
	}

	verdict, err := s.drafter.Draft(ctx, reports)
	if err != nil {
		verdict = apiErrorVerdict(err)
		s.logger.Error("synthesis failed", slog.String("error", err.Error()))
	}

	best, ok := BestFrame(reports)
	if !ok {
		verdict.Entities = []domain.Entity{}
		return verdict
	}
	verdict.Entities = BindEntities(best)
	key := best.FrameIndex
	verdict.KeyFrameIndex = &key
	verdict.AnalyzedFrames = make([]int, len(reports))
	for i, r := range reports {
		verdict.AnalyzedFrames[i] = r.FrameIndex
	}
	return verdict
}

func apiErrorVerdict(err error) *domain.ClipVerdict {
	explanation := "Synthesis failed: " + err.Error()
	var fe *domain.FallbackError
	if errors.As(err, &fe) && fe.Err != nil {
		explanation = "All models failed. Last error: " + fe.Err.Error()
	}
	return &domain.ClipVerdict{
		Decision:    domain.DecisionAPIError,
		Confidence:  0,
		Explanation: explanation,
		Entities:    []domain.Entity{},
	}
}
