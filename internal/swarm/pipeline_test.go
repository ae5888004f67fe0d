package swarm

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/tjfontaine/offside-zero/internal/core/domain"
)

// The geometry stub waits for vision to start, so the test only completes if
// both MAP branches run concurrently.
type rendezvousGeometry struct{ visionStarted chan struct{} }

func (g rendezvousGeometry) Analyze(ctx context.Context, frame domain.Image) domain.GeometryResult {
	<-g.visionStarted
	return domain.GeometryResult{OffsideLine: []float64{0, 0, 1, 1}}
}

type signallingVision struct {
	started chan struct{}
	done    *atomic.Bool
}

func (v signallingVision) Detect(ctx context.Context, frame domain.Image) domain.VisionResult {
	close(v.started)
	v.done.Store(true)
	return domain.VisionResult{Error: "no players found"}
}

type recordingRules struct {
	visionDone *atomic.Bool
	sawVision  bool
	geometry   domain.GeometryResult
	vision     domain.VisionResult
}

func (r *recordingRules) Adjudicate(ctx context.Context, geo domain.GeometryResult, vis domain.VisionResult) domain.RuleVerdict {
	r.sawVision = r.visionDone.Load()
	r.geometry, r.vision = geo, vis
	return domain.RuleVerdict{Decision: domain.DecisionOnside}
}

func TestPipeline_MapThenReduce(t *testing.T) {
	started := make(chan struct{})
	var visionDone atomic.Bool
	rules := &recordingRules{visionDone: &visionDone}

	p := NewPipeline(rendezvousGeometry{started}, signallingVision{started, &visionDone}, rules)
	got, err := p.ProcessFrame(context.Background(), 7, domain.Image{})
	if err != nil {
		t.Fatalf("ProcessFrame() error = %v", err)
	}

	if got.FrameIndex != 7 {
		t.Errorf("FrameIndex = %d, want 7", got.FrameIndex)
	}
	if !rules.sawVision {
		t.Errorf("rules ran before vision finished")
	}
	if !rules.geometry.HasOffsideLine() || rules.vision.Error != "no players found" {
		t.Errorf("rules received geometry=%+v vision=%+v", rules.geometry, rules.vision)
	}
	if got.RuleVerdict.Decision != domain.DecisionOnside {
		t.Errorf("Decision = %s", got.RuleVerdict.Decision)
	}
}

type panickingVision struct{}

func (panickingVision) Detect(ctx context.Context, frame domain.Image) domain.VisionResult {
	panic("decoder crashed")
}

type plainGeometry struct{}

func (plainGeometry) Analyze(ctx context.Context, frame domain.Image) domain.GeometryResult {
	return domain.GeometryResult{}
}

func TestPipeline_BranchPanicFailsFrame(t *testing.T) {
	var visionDone atomic.Bool
	p := NewPipeline(plainGeometry{}, panickingVision{}, &recordingRules{visionDone: &visionDone})

	if _, err := p.ProcessFrame(context.Background(), 0, domain.Image{}); err == nil {
		t.Errorf("ProcessFrame() error = nil, want panic converted to error")
	}
}
