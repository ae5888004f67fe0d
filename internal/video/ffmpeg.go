// Package video extracts still frames and metadata from clips by shelling out
// to ffprobe and ffmpeg.
package video

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/tjfontaine/offside-zero/internal/core/domain"
	"github.com/tjfontaine/offside-zero/internal/core/ports"
)

// DefaultRetries is how many times a single frame grab is attempted.
const DefaultRetries = 3

// runFunc executes a command and returns its stdout.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && msg != "" {
			return nil, fmt.Errorf("%s exited with code %d: %s", name, exitErr.ExitCode(), msg)
		}
		return nil, fmt.Errorf("%s failed: %w", name, err)
	}
	return stdout.Bytes(), nil
}

// Opener opens clips with ffprobe and grabs frames with ffmpeg.
type Opener struct {
	ffmpeg  string
	ffprobe string
	retries int
	logger  *slog.Logger
	run     runFunc
}

var _ ports.VideoOpener = (*Opener)(nil)

// Option configures an Opener.
type Option func(*Opener)

// WithBinaries overrides the ffmpeg and ffprobe executables. Empty values keep the default.
func WithBinaries(ffmpeg, ffprobe string) Option {
	return func(o *Opener) {
		if ffmpeg != "" {
			o.ffmpeg = ffmpeg
		}
		if ffprobe != "" {
			o.ffprobe = ffprobe
		}
	}
}

// WithRetries sets the attempts per frame grab.
func WithRetries(n int) Option {
	return func(o *Opener) {
		if n > 0 {
			o.retries = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Opener) {
		o.logger = logger
	}
}

// NewOpener creates an Opener that finds ffmpeg and ffprobe on PATH by default.
func NewOpener(opts ...Option) *Opener {
	o := &Opener{
		ffmpeg:  "ffmpeg",
		ffprobe: "ffprobe",
		retries: DefaultRetries,
		logger:  slog.Default(),
		run:     execRun,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Open probes the clip. It returns domain.ErrClipNotFound when path is not a file.
func (o *Opener) Open(ctx context.Context, path string) (ports.Video, error) {
	st, err := os.Stat(path)
	if err != nil || st.IsDir() {
		return nil, fmt.Errorf("%w: %s", domain.ErrClipNotFound, path)
	}

	out, err := o.run(ctx, o.ffprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,avg_frame_rate,nb_frames,duration:format=duration",
		"-print_format", "json",
		path,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to probe %s: %w", path, err)
	}

	info, err := parseProbe(out)
	if err != nil {
		return nil, fmt.Errorf("failed to probe %s: %w", path, err)
	}
	info.Path = path
	return &clip{opener: o, info: info}, nil
}

type probeOutput struct {
	Streams []struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		NbFrames     string `json:"nb_frames"`
		Duration     string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func parseProbe(data []byte) (domain.VideoInfo, error) {
	var p probeOutput
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.VideoInfo{}, fmt.Errorf("invalid ffprobe output: %w", err)
	}
	if len(p.Streams) == 0 {
		return domain.VideoInfo{}, errors.New("no video stream")
	}
	s := p.Streams[0]

	fps := parseRate(s.AvgFrameRate)
	if fps == 0 {
		fps = parseRate(s.RFrameRate)
	}
	duration, _ := strconv.ParseFloat(s.Duration, 64)
	if duration == 0 {
		duration, _ = strconv.ParseFloat(p.Format.Duration, 64)
	}
	frames, _ := strconv.Atoi(s.NbFrames)
	if frames == 0 && fps > 0 {
		frames = int(math.Round(duration * fps))
	}
	if duration == 0 && fps > 0 {
		duration = float64(frames) / fps
	}

	return domain.VideoInfo{
		FPS:             fps,
		FrameCount:      frames,
		Width:           s.Width,
		Height:          s.Height,
		DurationSeconds: duration,
	}, nil
}

// parseRate parses ffprobe rates such as "30000/1001" or "25".
func parseRate(rate string) float64 {
	num, den, found := strings.Cut(rate, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

type clip struct {
	opener *Opener
	info   domain.VideoInfo
}

func (c *clip) Info() domain.VideoInfo { return c.info }

func (c *clip) Close() error { return nil }

// ExtractFrame grabs frame n as a JPEG, retrying failed grabs.
func (c *clip) ExtractFrame(ctx context.Context, n int) (domain.Image, error) {
	if n < 0 || (c.info.FrameCount > 0 && n >= c.info.FrameCount) {
		return domain.Image{}, fmt.Errorf("frame %d out of range [0, %d)", n, c.info.FrameCount)
	}

	var lastErr error
	for attempt := 1; attempt <= c.opener.retries; attempt++ {
		out, err := c.opener.run(ctx, c.opener.ffmpeg,
			"-v", "error",
			"-i", c.info.Path,
			"-vf", fmt.Sprintf(`select=eq(n\,%d)`, n),
			"-frames:v", "1",
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-q:v", "2",
			"-",
		)
		if err == nil && len(out) == 0 {
			err = errors.New("no frame data")
		}
		if err == nil {
			return domain.Image{Data: out, MediaType: "image/jpeg"}, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		c.opener.logger.Debug("frame grab failed",
			slog.String("clip", c.info.Path),
			slog.Int("frame", n),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}
	return domain.Image{}, fmt.Errorf("failed to extract frame %d: %w", n, lastErr)
}

// ExtractFramesAround grabs the frames FrameWindow selects. Frames that cannot
// be grabbed are skipped.
func (c *clip) ExtractFramesAround(ctx context.Context, timestamp, window float64, count int) ([]domain.Image, error) {
	var frames []domain.Image
	for _, n := range FrameWindow(c.info, timestamp, window, count) {
		img, err := c.ExtractFrame(ctx, n)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.opener.logger.Warn("skipping frame", slog.Int("frame", n), slog.String("error", err.Error()))
			continue
		}
		frames = append(frames, img)
	}
	return frames, nil
}

// FrameWindow returns the frame numbers sampled from a window of seconds
// centred on timestamp: every step-th frame of [start, end), where
// step = max(1, (end-start)/count). It can return slightly more than count
// frames when the window does not divide evenly.
func FrameWindow(info domain.VideoInfo, timestamp, window float64, count int) []int {
	if count < 1 || info.FPS <= 0 {
		return nil
	}
	center := int(timestamp * info.FPS)
	half := int(window*info.FPS) / 2

	start := max(0, center-half)
	end := min(info.FrameCount, center+half)
	step := max(1, (end-start)/count)

	var out []int
	for n := start; n < end; n += step {
		out = append(out, n)
	}
	return out
}

// SpreadFrames returns the frame numbers at a quarter, half and three quarters
// of the clip.
func SpreadFrames(frameCount int) []int {
	return []int{frameCount / 4, frameCount / 2, frameCount * 3 / 4}
}
