package swarm

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"

	"github.com/tjfontaine/offside-zero/internal/core/domain"
)

// DefaultMaxConcurrency is the cap on in-flight frame pipelines per clip.
const DefaultMaxConcurrency = 3

// FrameSelector picks the frame indices to analyse. *Selector implements it.
type FrameSelector interface {
	Select(ctx context.Context, frames []domain.Image) []int
}

// VerdictSynthesizer merges reports into the final verdict. *Synthesizer implements it.
type VerdictSynthesizer interface {
	Synthesize(ctx context.Context, reports []domain.FrameAnalysis) *domain.ClipVerdict
}

// Coordinator runs the frame pipeline over the critical frames of a clip with
// bounded parallelism and synthesises the collected reports.
type Coordinator struct {
	selector       FrameSelector
	processor      FrameProcessor
	synthesizer    VerdictSynthesizer
	maxConcurrency int
	logger         *slog.Logger
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithMaxConcurrency caps in-flight frame pipelines. Values below 1 are ignored.
func WithMaxConcurrency(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxConcurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(selector FrameSelector, processor FrameProcessor, synthesizer VerdictSynthesizer, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		selector:       selector,
		processor:      processor,
		synthesizer:    synthesizer,
		maxConcurrency: DefaultMaxConcurrency,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaxConcurrency returns the pipeline cap.
func (c *Coordinator) MaxConcurrency() int { return c.maxConcurrency }

type frameOutcome struct {
	index    int
	analysis domain.FrameAnalysis
	err      error
}

// ProcessClip analyses a clip's candidate frames. When every frame pipeline
// fails it returns an UNCLEAR verdict together with domain.ErrNoFramesAnalyzed
// and the synthesizer is not called.
func (c *Coordinator) ProcessClip(ctx context.Context, frames []domain.Image) (*domain.ClipVerdict, error) {
	ctx, span := tracer.Start(ctx, "swarm.clip")
	span.SetAttributes(attribute.Int("frame_count", len(frames)))
	defer span.End()

	if len(frames) == 0 {
		return domain.UnclearVerdict(domain.ErrNoFrames.Error()), domain.ErrNoFrames
	}

	indices := c.selector.Select(ctx, frames)
	span.SetAttributes(attribute.IntSlice("critical_frames", indices))

	reports := c.fanOut(ctx, frames, indices)
	if len(reports) == 0 {
		span.SetStatus(codes.Error, domain.ErrNoFramesAnalyzed.Error())
		c.logger.Error("no frames analyzed", slog.Int("frames_selected", len(indices)))
		return domain.UnclearVerdict("No frames analyzed"), domain.ErrNoFramesAnalyzed
	}

	verdict := c.synthesizer.Synthesize(ctx, reports)
	span.SetAttributes(attribute.String("decision", string(verdict.Decision)))
	return verdict, nil
}

// fanOut runs at most maxConcurrency pipelines at once and returns the
// successful reports in completion order.
func (c *Coordinator) fanOut(ctx context.Context, frames []domain.Image, indices []int) []domain.FrameAnalysis {
	sem := semaphore.NewWeighted(int64(c.maxConcurrency))
	outcomes := make(chan frameOutcome, len(indices))

	for _, idx := range indices {
		if idx < 0 || idx >= len(frames) {
			outcomes <- frameOutcome{index: idx, err: fmt.Errorf("frame index %d out of range", idx)}
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			outcomes <- frameOutcome{index: idx, err: err}
			continue
		}
		go func(idx int) {
			defer sem.Release(1)
			outcomes <- c.runPipeline(ctx, idx, frames[idx])
		}(idx)
	}

	reports := make([]domain.FrameAnalysis, 0, len(indices))
	for range indices {
		o := <-outcomes
		if o.err != nil {
			c.logger.Error("frame pipeline failed",
				slog.Int("frame_index", o.index),
				slog.String("error", o.err.Error()),
			)
			continue
		}
		reports = append(reports, o.analysis)
	}
	return reports
}

func (c *Coordinator) runPipeline(ctx context.Context, idx int, frame domain.Image) (out frameOutcome) {
	out.index = idx
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("frame pipeline panicked",
				slog.Int("frame_index", idx),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			out.err = fmt.Errorf("panic: %v", r)
		}
	}()

	analysis, err := c.processor.ProcessFrame(ctx, idx, frame)
	if err != nil {
		out.err = err
		return out
	}
	analysis.FrameIndex = idx
	out.analysis = analysis
	return out
}
