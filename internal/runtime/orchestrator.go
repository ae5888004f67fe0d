package runtime

import (
	"log/slog"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/offside-zero/internal/agents"
	"github.com/tjfontaine/offside-zero/internal/core/ports"
	"github.com/tjfontaine/offside-zero/internal/fallback"
	"github.com/tjfontaine/offside-zero/internal/pkg/config"
	"github.com/tjfontaine/offside-zero/internal/provider/gemini"
	"github.com/tjfontaine/offside-zero/internal/swarm"
	"github.com/tjfontaine/offside-zero/internal/tokens"
)

// NewAnalyzer creates the Gemini analyzer with an instrumented transport.
func NewAnalyzer(cfg config.GeminiConfig) *gemini.Provider {
	return gemini.New(cfg.APIKey,
		gemini.WithBaseURL(cfg.BaseURL),
		gemini.WithTemperature(cfg.Temperature),
		gemini.WithHTTPClient(&http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}),
	)
}

// NewTokenCounter returns the counter used to size synthesis payloads.
func NewTokenCounter() *tokens.Registry {
	registry := tokens.NewRegistry()
	registry.Register(tokens.NewTiktokenCounter())
	return registry
}

// BuildCoordinator wires fallback callers, agents and the swarm for one
// configuration. Target lists are copied into each caller and never change
// afterwards; a new configuration gets a new coordinator.
func BuildCoordinator(cfg *config.Config, analyzer ports.Analyzer, counter agents.TokenCounter, logger *slog.Logger) *swarm.Coordinator {
	callerOpts := []fallback.Option{
		fallback.WithLogger(logger),
		fallback.WithCallTimeout(cfg.Gemini.CallTimeout),
	}
	agentCaller := fallback.New(analyzer, cfg.Models.Agents, callerOpts...)
	managerCaller := fallback.New(analyzer, cfg.Models.Manager, callerOpts...)
	synthCaller := fallback.New(analyzer, cfg.Models.Synthesizer, callerOpts...)

	agentOpts := []agents.Option{agents.WithLogger(logger)}
	pipeline := swarm.NewPipeline(
		agents.NewGeometry(agentCaller, agentOpts...),
		agents.NewVision(agentCaller, agentOpts...),
		agents.NewRules(agentCaller, agentOpts...),
	)
	selector := swarm.NewSelector(agents.NewManager(managerCaller, agentOpts...), logger)

	drafter := agents.NewSynthesizer(synthCaller, agentOpts...)
	synthOpts := []swarm.SynthesizerOption{swarm.WithSynthesizerLogger(logger)}
	if counter != nil {
		drafter.WithTokenCounter(counter, cfg.Models.Synthesizer[0])
		synthOpts = append(synthOpts, swarm.WithPayloadCounter(drafter))
	}
	synthesizer := swarm.NewSynthesizer(drafter, synthOpts...)

	return swarm.NewCoordinator(selector, pipeline, synthesizer,
		swarm.WithMaxConcurrency(cfg.Swarm.MaxConcurrency),
		swarm.WithLogger(logger),
	)
}

// BuildAdvisor creates the follow-up agent over the synthesizer targets.
func BuildAdvisor(cfg *config.Config, analyzer ports.Analyzer, logger *slog.Logger) *agents.Advisor {
	caller := fallback.New(analyzer, cfg.Models.Synthesizer,
		fallback.WithLogger(logger),
		fallback.WithCallTimeout(cfg.Gemini.CallTimeout),
	)
	return agents.NewAdvisor(caller, agents.WithLogger(logger))
}
