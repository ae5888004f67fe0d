// Package swarm coordinates the per-frame specialist pipelines of a clip and
// merges their reports into a single verdict.
package swarm

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/tjfontaine/offside-zero/internal/core/domain"
)

var tracer = otel.Tracer("github.com/tjfontaine/offside-zero/internal/swarm")

// GeometryAnalyzer is the MAP-stage geometry specialist.
type GeometryAnalyzer interface {
	Analyze(ctx context.Context, frame domain.Image) domain.GeometryResult
}

// EntityDetector is the MAP-stage vision specialist.
type EntityDetector interface {
	Detect(ctx context.Context, frame domain.Image) domain.VisionResult
}

// Adjudicator is the REDUCE-stage rules specialist.
type Adjudicator interface {
	Adjudicate(ctx context.Context, geometry domain.GeometryResult, vision domain.VisionResult) domain.RuleVerdict
}

// FrameProcessor analyses one frame.
type FrameProcessor interface {
	ProcessFrame(ctx context.Context, index int, frame domain.Image) (domain.FrameAnalysis, error)
}

// Pipeline runs Geometry and Vision concurrently, then Rules on their output.
type Pipeline struct {
	geometry GeometryAnalyzer
	vision   EntityDetector
	rules    Adjudicator
}

// NewPipeline creates a frame pipeline.
func NewPipeline(geometry GeometryAnalyzer, vision EntityDetector, rules Adjudicator) *Pipeline {
	return &Pipeline{geometry: geometry, vision: vision, rules: rules}
}

// ProcessFrame implements FrameProcessor. Both MAP branches always run to
// completion before REDUCE starts; neither cancels the other.
func (p *Pipeline) ProcessFrame(ctx context.Context, index int, frame domain.Image) (domain.FrameAnalysis, error) {
	ctx, span := tracer.Start(ctx, "swarm.frame")
	span.SetAttributes(attribute.Int("frame_index", index))
	defer span.End()

	var (
		geo domain.GeometryResult
		vis domain.VisionResult
		g   errgroup.Group
	)
	g.Go(func() (err error) {
		defer recoverBranch("geometry", &err)
		geo = p.geometry.Analyze(ctx, frame)
		return nil
	})
	g.Go(func() (err error) {
		defer recoverBranch("vision", &err)
		vis = p.vision.Detect(ctx, frame)
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.FrameAnalysis{}, err
	}

	return domain.FrameAnalysis{
		FrameIndex:  index,
		Geometry:    geo,
		Vision:      vis,
		RuleVerdict: p.rules.Adjudicate(ctx, geo, vis),
	}, nil
}

// recoverBranch turns a panic in a MAP branch into an error so it fails only
// this frame.
func recoverBranch(branch string, err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%s branch panicked: %v", branch, r)
	}
}
