package ports

import (
	"context"

	"github.com/tjfontaine/offside-zero/internal/core/domain"
)

// VideoOpener opens clips for frame extraction.
type VideoOpener interface {
	Open(ctx context.Context, path string) (Video, error)
}

// Video is an opened clip.
type Video interface {
	Info() domain.VideoInfo

	// ExtractFrame returns frame n as a JPEG.
	ExtractFrame(ctx context.Context, n int) (domain.Image, error)

	// ExtractFramesAround returns up to count frames spread across a window
	// (seconds) centred on the timestamp (seconds).
	ExtractFramesAround(ctx context.Context, timestamp, window float64, count int) ([]domain.Image, error)

	Close() error
}

// Overlay renders a verdict's entities onto a frame.
type Overlay interface {
	Annotate(frame domain.Image, verdict *domain.ClipVerdict) (domain.Image, error)
}
