package swarm

import (
	"context"
	"log/slog"

	"github.com/tjfontaine/offside-zero/internal/core/domain"
)

// MomentFinder asks a model for the critical frames of a clip.
// *agents.Manager implements it.
type MomentFinder interface {
	CriticalMoments(ctx context.Context, frames []domain.Image) ([]int, error)
}

// Selector validates the finder's answer and guarantees a non-empty result.
type Selector struct {
	finder MomentFinder
	logger *slog.Logger
}

// NewSelector creates a critical-moment selector.
func NewSelector(finder MomentFinder, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{finder: finder, logger: logger}
}

// Select returns the frame indices to analyse, in the finder's order.
// Out-of-range and repeated indices are dropped. When nothing usable is
// left, or the finder fails, the midpoint frame len(frames)/2 is used.
// It returns nil only for an empty frame sequence.
func (s *Selector) Select(ctx context.Context, frames []domain.Image) []int {
	if len(frames) == 0 {
		return nil
	}

	raw, err := s.finder.CriticalMoments(ctx, frames)
	if err != nil {
		s.logger.Warn("critical moment detection failed",
			slog.String("error", err.Error()),
		)
	}

	seen := make(map[int]bool, len(raw))
	indices := make([]int, 0, len(raw))
	for _, i := range raw {
		if i < 0 || i >= len(frames) || seen[i] {
			s.logger.Warn("dropping critical frame index",
				slog.Int("frame_index", i),
				slog.Int("frame_count", len(frames)),
			)
			continue
		}
		seen[i] = true
		indices = append(indices, i)
	}

	if len(indices) == 0 {
		mid := len(frames) / 2
		s.logger.Info("no critical moments found, analysing middle frame",
			slog.Int("frame_index", mid),
		)
		return []int{mid}
	}

	s.logger.Info("critical moments selected", slog.Any("frame_indices", indices))
	return indices
}
