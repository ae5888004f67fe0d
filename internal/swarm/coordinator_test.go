package swarm

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/tjfontaine/offside-zero/internal/core/domain"
)

type stubSelector struct{ indices []int }

func (s stubSelector) Select(ctx context.Context, frames []domain.Image) []int {
	return s.indices
}

// stubProcessor records which frames were processed. fail and panics name
// frame indices that error or panic.
type stubProcessor struct {
	mu        sync.Mutex
	processed []int
	fail      map[int]bool
	panics    map[int]bool
	hook      func(idx int)
}

func (p *stubProcessor) ProcessFrame(ctx context.Context, idx int, frame domain.Image) (domain.FrameAnalysis, error) {
	if p.hook != nil {
		p.hook(idx)
	}
	p.mu.Lock()
	p.processed = append(p.processed, idx)
	p.mu.Unlock()
	if p.panics[idx] {
		panic("corrupt frame")
	}
	if p.fail[idx] {
		return domain.FrameAnalysis{}, errors.New("frame failed")
	}
	return domain.FrameAnalysis{
		FrameIndex:  idx,
		RuleVerdict: domain.RuleVerdict{Decision: domain.DecisionOnside},
	}, nil
}

type stubSynthesizer struct {
	calls   atomic.Int32
	reports []domain.FrameAnalysis
}

func (s *stubSynthesizer) Synthesize(ctx context.Context, reports []domain.FrameAnalysis) *domain.ClipVerdict {
	s.calls.Add(1)
	s.reports = reports
	return &domain.ClipVerdict{Decision: domain.DecisionOnside, Entities: []domain.Entity{}}
}

type finderFunc func(ctx context.Context, frames []domain.Image) ([]int, error)

func (f finderFunc) CriticalMoments(ctx context.Context, frames []domain.Image) ([]int, error) {
	return f(ctx, frames)
}

func frames(n int) []domain.Image {
	out := make([]domain.Image, n)
	for i := range out {
		out[i] = domain.Image{Data: []byte{byte(i)}, MediaType: "image/jpeg"}
	}
	return out
}

func TestCoordinator_EmptySelectionAnalysesMidpoint(t *testing.T) {
	for _, n := range []int{1, 2, 5, 8} {
		finder := finderFunc(func(context.Context, []domain.Image) ([]int, error) { return nil, nil })
		proc := &stubProcessor{}
		synth := &stubSynthesizer{}
		c := NewCoordinator(NewSelector(finder, nil), proc, synth)

		if _, err := c.ProcessClip(context.Background(), frames(n)); err != nil {
			t.Fatalf("n=%d: ProcessClip() error = %v", n, err)
		}
		if len(proc.processed) != 1 || proc.processed[0] != n/2 {
			t.Errorf("n=%d: processed = %v, want [%d]", n, proc.processed, n/2)
		}
	}
}

func TestCoordinator_RespectsConcurrencyCap(t *testing.T) {
	const limit = 3
	var inflight, peak atomic.Int32
	entered := make(chan int, 16)
	release := make(chan struct{})

	proc := &stubProcessor{hook: func(idx int) {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		entered <- idx
		<-release
		inflight.Add(-1)
	}}
	synth := &stubSynthesizer{}
	indices := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	c := NewCoordinator(stubSelector{indices}, proc, synth, WithMaxConcurrency(limit))

	done := make(chan error, 1)
	go func() {
		_, err := c.ProcessClip(context.Background(), frames(len(indices)))
		done <- err
	}()

	for i := 0; i < limit; i++ {
		<-entered
	}
	if got := inflight.Load(); got != limit {
		t.Errorf("in-flight after %d entries = %d", limit, got)
	}
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("ProcessClip() error = %v", err)
	}
	if got := peak.Load(); got > limit {
		t.Errorf("peak in-flight = %d, want <= %d", got, limit)
	}
	if len(synth.reports) != len(indices) {
		t.Errorf("reports = %d, want %d", len(synth.reports), len(indices))
	}
}

func TestCoordinator_FailedFramesAreDropped(t *testing.T) {
	proc := &stubProcessor{
		fail:   map[int]bool{1: true},
		panics: map[int]bool{3: true},
	}
	synth := &stubSynthesizer{}
	c := NewCoordinator(stubSelector{[]int{0, 1, 2, 3}}, proc, synth)

	verdict, err := c.ProcessClip(context.Background(), frames(4))
	if err != nil {
		t.Fatalf("ProcessClip() error = %v", err)
	}
	if verdict.Decision != domain.DecisionOnside {
		t.Errorf("Decision = %s", verdict.Decision)
	}

	var got []int
	for _, r := range synth.reports {
		got = append(got, r.FrameIndex)
	}
	sort.Ints(got)
	if len(got) != 2 || got[0] != 0 || got[1] != 2 {
		t.Errorf("collected frames = %v, want [0 2]", got)
	}
}

func TestCoordinator_AllFramesFail(t *testing.T) {
	proc := &stubProcessor{
		fail:   map[int]bool{0: true},
		panics: map[int]bool{1: true},
	}
	synth := &stubSynthesizer{}
	c := NewCoordinator(stubSelector{[]int{0, 1}}, proc, synth)

	verdict, err := c.ProcessClip(context.Background(), frames(2))
	if !errors.Is(err, domain.ErrNoFramesAnalyzed) {
		t.Errorf("ProcessClip() error = %v, want ErrNoFramesAnalyzed", err)
	}
	if verdict.Decision != domain.DecisionUnclear || verdict.Error == "" {
		t.Errorf("verdict = %+v, want UNCLEAR with error", verdict)
	}
	if synth.calls.Load() != 0 {
		t.Errorf("synthesizer called %d times, want 0", synth.calls.Load())
	}
}

func TestCoordinator_NoFrames(t *testing.T) {
	c := NewCoordinator(stubSelector{}, &stubProcessor{}, &stubSynthesizer{})

	_, err := c.ProcessClip(context.Background(), nil)
	if !errors.Is(err, domain.ErrNoFrames) {
		t.Errorf("ProcessClip() error = %v, want ErrNoFrames", err)
	}
}

func TestCoordinator_FrameIndexComesFromSelection(t *testing.T) {
	proc := &stubProcessor{}
	synth := &stubSynthesizer{}
	c := NewCoordinator(stubSelector{[]int{4, 1}}, proc, synth, WithMaxConcurrency(1))

	if _, err := c.ProcessClip(context.Background(), frames(6)); err != nil {
		t.Fatalf("ProcessClip() error = %v", err)
	}
	seen := map[int]bool{}
	for _, r := range synth.reports {
		seen[r.FrameIndex] = true
	}
	if !seen[4] || !seen[1] || len(seen) != 2 {
		t.Errorf("report indices = %v, want {1, 4}", seen)
	}
}

type processorFunc func(ctx context.Context, idx int, frame domain.Image) (domain.FrameAnalysis, error)

func (f processorFunc) ProcessFrame(ctx context.Context, idx int, frame domain.Image) (domain.FrameAnalysis, error) {
	return f(ctx, idx, frame)
}

// holdFirstFrame returns a processor where frame 0 cannot finish until frame 2
// has started. With two slots, frame 2 only starts once frame 1 has been
// handed to the collector, so frame 1 is always collected first.
func holdFirstFrame(decision domain.Decision) processorFunc {
	started2 := make(chan struct{})
	return func(ctx context.Context, idx int, frame domain.Image) (domain.FrameAnalysis, error) {
		switch idx {
		case 0:
			<-started2
		case 2:
			close(started2)
		}
		return domain.FrameAnalysis{
			FrameIndex:  idx,
			Geometry:    domain.GeometryResult{OffsideLine: []float64{float64(idx) / 10, 0, 1, 1}},
			RuleVerdict: domain.RuleVerdict{Decision: decision},
		}, nil
	}
}

func TestCoordinator_CollectsInCompletionOrder(t *testing.T) {
	synth := &stubSynthesizer{}
	c := NewCoordinator(stubSelector{indices: []int{0, 1, 2}}, holdFirstFrame(domain.DecisionOnside), synth,
		WithMaxConcurrency(2))

	if _, err := c.ProcessClip(context.Background(), frames(3)); err != nil {
		t.Fatalf("ProcessClip() error = %v", err)
	}

	if len(synth.reports) != 3 {
		t.Fatalf("synthesizer got %d reports, want 3", len(synth.reports))
	}
	if synth.reports[0].FrameIndex != 1 {
		t.Errorf("first collected report is frame %d, want 1", synth.reports[0].FrameIndex)
	}
	rest := []int{synth.reports[1].FrameIndex, synth.reports[2].FrameIndex}
	sort.Ints(rest)
	if rest[0] != 0 || rest[1] != 2 {
		t.Errorf("remaining reports = %v, want frames 0 and 2", rest)
	}
}

func TestCoordinator_BestFrameFollowsCollectionOrder(t *testing.T) {
	draft := &domain.ClipVerdict{Decision: domain.DecisionOffside, Confidence: 0.8}
	c := NewCoordinator(stubSelector{indices: []int{0, 1, 2}}, holdFirstFrame(domain.DecisionOffside),
		NewSynthesizer(stubDrafter{verdict: draft}), WithMaxConcurrency(2))

	verdict, err := c.ProcessClip(context.Background(), frames(3))
	if err != nil {
		t.Fatalf("ProcessClip() error = %v", err)
	}

	// every frame is OFFSIDE, so the key frame is the first one collected
	if verdict.KeyFrameIndex == nil || *verdict.KeyFrameIndex != 1 {
		t.Fatalf("KeyFrameIndex = %v, want 1", verdict.KeyFrameIndex)
	}
	if verdict.AnalyzedFrames[0] != 1 {
		t.Errorf("AnalyzedFrames = %v, want frame 1 first", verdict.AnalyzedFrames)
	}
	if len(verdict.Entities) == 0 || verdict.Entities[0].Box[0] != 0.1 {
		t.Errorf("entities = %+v, want the offside line of frame 1", verdict.Entities)
	}
}
