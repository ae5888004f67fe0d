package runtime

import (
	"fmt"
	"log/slog"

	"github.com/tjfontaine/offside-zero/internal/adapters/config/file"
	"github.com/tjfontaine/offside-zero/internal/agents"
	"github.com/tjfontaine/offside-zero/internal/core/ports"
)

// Option is a functional option for configuring an App.
type Option func(*App) error

// WithFileConfig uses file-based configuration with hot-reload (default).
// The path should point to a config.yaml file that will be watched for changes.
func WithFileConfig(path string, logger *slog.Logger) Option {
	return func(a *App) error {
		provider, err := file.NewProvider(path, logger)
		if err != nil {
			return fmt.Errorf("create file config provider: %w", err)
		}
		a.config = provider
		return nil
	}
}

// WithConfigProvider sets a custom config provider.
func WithConfigProvider(provider ports.ConfigProvider) Option {
	return func(a *App) error {
		a.config = provider
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) error {
		a.logger = logger
		return nil
	}
}

// WithTaskStore overrides the store selected by storage.type.
func WithTaskStore(store ports.TaskStore) Option {
	return func(a *App) error {
		a.store = store
		return nil
	}
}

// WithAnalyzer overrides the Gemini analyzer. It is kept across reloads.
func WithAnalyzer(analyzer ports.Analyzer) Option {
	return func(a *App) error {
		a.analyzer = analyzer
		return nil
	}
}

// WithVideoOpener overrides the ffmpeg frame source.
func WithVideoOpener(opener ports.VideoOpener) Option {
	return func(a *App) error {
		a.opener = opener
		return nil
	}
}

// WithOverlay overrides the built-in overlay renderer.
func WithOverlay(overlay ports.Overlay) Option {
	return func(a *App) error {
		a.overlay = overlay
		return nil
	}
}

// WithTokenCounter overrides the synthesis payload counter.
func WithTokenCounter(counter agents.TokenCounter) Option {
	return func(a *App) error {
		a.counter = counter
		return nil
	}
}
