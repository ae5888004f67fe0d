// Package offside provides the public API for embedding the clip analysis
// service. This is the stable API for external consumers.
package offside

import (
	"github.com/tjfontaine/offside-zero/internal/runtime"
)

// App is the main entry point for running the service.
// See internal/runtime.App for full documentation.
type App = runtime.App

// Option is a functional option for configuring an App.
type Option = runtime.Option

// New creates a new App with the given options.
// Example:
//
//	app, err := offside.New(
//	    offside.WithFileConfig("config.yaml", logger),
//	    offside.WithLogger(logger),
//	)
var New = runtime.New

// Configuration options
var (
	WithFileConfig     = runtime.WithFileConfig
	WithConfigProvider = runtime.WithConfigProvider
	WithLogger         = runtime.WithLogger

	// Collaborators
	WithTaskStore    = runtime.WithTaskStore
	WithAnalyzer     = runtime.WithAnalyzer
	WithVideoOpener  = runtime.WithVideoOpener
	WithOverlay      = runtime.WithOverlay
	WithTokenCounter = runtime.WithTokenCounter
)
