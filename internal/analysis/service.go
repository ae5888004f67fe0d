// Package analysis is the synchronous clip analysis path: it extracts frames,
// runs the swarm over them and writes annotated frames plus a JSON verdict to
// the output directory.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tjfontaine/offside-zero/internal/core/domain"
	"github.com/tjfontaine/offside-zero/internal/core/ports"
	"github.com/tjfontaine/offside-zero/internal/queue"
	"github.com/tjfontaine/offside-zero/internal/video"
)

var tracer = otel.Tracer("github.com/tjfontaine/offside-zero/internal/analysis")

const (
	DefaultWindowSeconds = 1.0
	DefaultFrameCount    = 3
)

// Orchestrator turns candidate frames into a verdict. *swarm.Coordinator implements it.
type Orchestrator interface {
	ProcessClip(ctx context.Context, frames []domain.Image) (*domain.ClipVerdict, error)
}

// Advisor answers follow-up questions about a verdict. *agents.Advisor implements it.
type Advisor interface {
	Ask(ctx context.Context, message string, verdict *domain.ClipVerdict) (string, error)
}

// ErrNoAdvisor is returned by Ask when no advisor has been set.
var ErrNoAdvisor = errors.New("follow-up questions are not configured")

type advisorRef struct {
	Advisor
}

type orchestratorRef struct {
	Orchestrator
}

// Options are per-call analysis settings.
type Options struct {
	// Timestamp, when set, centres a frame window on this second of the clip.
	Timestamp *float64
	// RequestID tags log lines of a synchronous analysis with the HTTP request.
	RequestID string
}

// Service analyses clips.
type Service struct {
	opener       ports.VideoOpener
	overlay      ports.Overlay
	orchestrator atomic.Pointer[orchestratorRef]
	advisor      atomic.Pointer[advisorRef]

	clipsDir  string
	outputDir string
	window    float64
	count     int
	logger    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClipsDir resolves clip references relative to dir and rejects references
// that escape it. An empty dir accepts any path.
func WithClipsDir(dir string) Option {
	return func(s *Service) {
		s.clipsDir = dir
	}
}

// WithOutputDir sets where artifacts are written.
func WithOutputDir(dir string) Option {
	return func(s *Service) {
		s.outputDir = dir
	}
}

// WithFrameWindow sets the window used when a timestamp is given.
func WithFrameWindow(seconds float64, count int) Option {
	return func(s *Service) {
		if seconds > 0 {
			s.window = seconds
		}
		if count > 0 {
			s.count = count
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates a Service.
func NewService(opener ports.VideoOpener, overlay ports.Overlay, orchestrator Orchestrator, opts ...Option) *Service {
	s := &Service{
		opener:    opener,
		overlay:   overlay,
		outputDir: "output",
		window:    DefaultWindowSeconds,
		count:     DefaultFrameCount,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.SetOrchestrator(orchestrator)
	return s
}

// SetOrchestrator swaps the orchestrator used by analyses that start after
// the call. Analyses already running keep theirs.
func (s *Service) SetOrchestrator(o Orchestrator) {
	s.orchestrator.Store(&orchestratorRef{o})
}

// SetAdvisor swaps the advisor used by Ask.
func (s *Service) SetAdvisor(a Advisor) {
	s.advisor.Store(&advisorRef{a})
}

// Ask answers a question about a finished analysis.
func (s *Service) Ask(ctx context.Context, message string, verdict *domain.ClipVerdict) (string, error) {
	ref := s.advisor.Load()
	if ref == nil || ref.Advisor == nil {
		return "", ErrNoAdvisor
	}
	ctx, span := tracer.Start(ctx, "analysis.ask")
	defer span.End()

	answer, err := ref.Ask(ctx, message, verdict)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("follow-up question failed", slog.String("error", err.Error()))
		return "", err
	}
	return answer, nil
}

// OutputDir returns the artifact directory.
func (s *Service) OutputDir() string { return s.outputDir }

// Processor adapts the service to the task queue.
func (s *Service) Processor() queue.Processor {
	return queue.ProcessorFunc(func(ctx context.Context, clip string) (*domain.ClipVerdict, error) {
		return s.AnalyzeClip(ctx, clip, Options{})
	})
}

// AnalyzeClip runs the full analysis of one clip. It returns
// domain.ErrClipNotFound for a missing clip and domain.ErrNoFrames when no
// frame could be extracted. When the swarm analyses no frame it returns the
// UNCLEAR verdict together with domain.ErrNoFramesAnalyzed, after writing
// artifacts.
func (s *Service) AnalyzeClip(ctx context.Context, clip string, opts Options) (*domain.ClipVerdict, error) {
	orchestrator := s.orchestrator.Load()

	ctx, span := tracer.Start(ctx, "analysis.clip")
	span.SetAttributes(attribute.String("clip", clip))
	defer span.End()

	path, err := s.resolve(clip)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	logger := s.logger.With(slog.String("clip", path))
	if opts.RequestID != "" {
		logger = logger.With(slog.String("request_id", opts.RequestID))
	}
	logger.Info("starting swarm analysis")

	v, err := s.opener.Open(ctx, path)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer v.Close()

	frames, err := s.extract(ctx, logger, v, opts)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if len(frames) == 0 {
		span.SetStatus(codes.Error, domain.ErrNoFrames.Error())
		return nil, domain.ErrNoFrames
	}
	span.SetAttributes(attribute.Int("frame_count", len(frames)))

	verdict, procErr := orchestrator.ProcessClip(ctx, frames)
	if verdict == nil {
		if procErr == nil {
			procErr = errors.New("orchestrator produced no verdict")
		}
		span.SetStatus(codes.Error, procErr.Error())
		return nil, procErr
	}

	if err := s.writeArtifacts(logger, path, frames, verdict); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return verdict, err
	}
	if procErr != nil {
		span.SetStatus(codes.Error, procErr.Error())
		return verdict, procErr
	}

	logger.Info("swarm analysis complete",
		slog.String("decision", string(verdict.Decision)),
		slog.Float64("confidence", verdict.Confidence),
	)
	return verdict, nil
}

func (s *Service) resolve(clip string) (string, error) {
	if clip == "" {
		return "", fmt.Errorf("%w: empty clip reference", domain.ErrClipNotFound)
	}
	if s.clipsDir == "" {
		return clip, nil
	}
	if !filepath.IsLocal(clip) {
		return "", fmt.Errorf("%w: %s is outside the clips directory", domain.ErrClipNotFound, clip)
	}
	return filepath.Join(s.clipsDir, clip), nil
}

func (s *Service) extract(ctx context.Context, logger *slog.Logger, v ports.Video, opts Options) ([]domain.Image, error) {
	if opts.Timestamp != nil {
		return v.ExtractFramesAround(ctx, *opts.Timestamp, s.window, s.count)
	}

	var frames []domain.Image
	for _, n := range video.SpreadFrames(v.Info().FrameCount) {
		img, err := v.ExtractFrame(ctx, n)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn("skipping frame", slog.Int("frame", n), slog.String("error", err.Error()))
			continue
		}
		frames = append(frames, img)
	}
	return frames, nil
}

// writeArtifacts renders every extracted frame with the verdict's entities as
// <stem>_swarm_<i>.jpg and the verdict as <stem>_swarm_analysis.json.
func (s *Service) writeArtifacts(logger *slog.Logger, clipPath string, frames []domain.Image, verdict *domain.ClipVerdict) error {
	if err := os.MkdirAll(s.outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	stem := strings.TrimSuffix(filepath.Base(clipPath), filepath.Ext(clipPath))

	annotated := make([]string, 0, len(frames))
	for i, frame := range frames {
		img, err := s.overlay.Annotate(frame, verdict)
		if err != nil {
			logger.Warn("failed to annotate frame", slog.Int("frame", i), slog.String("error", err.Error()))
			continue
		}
		name := fmt.Sprintf("%s_swarm_%d.jpg", stem, i)
		if err := os.WriteFile(filepath.Join(s.outputDir, name), img.Data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
		annotated = append(annotated, name)
	}
	verdict.AnnotatedFrames = annotated

	data, err := json.MarshalIndent(verdict, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode verdict: %w", err)
	}
	name := stem + "_swarm_analysis.json"
	if err := os.WriteFile(filepath.Join(s.outputDir, name), data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}
