// Package agents implements the role-scoped model callers used by the swarm:
// the three per-frame specialists (Geometry, Vision, Rules) and the two
// clip-level coordinators (Manager, Synthesizer).
package agents

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/offside-zero/internal/core/domain"
)

var tracer = otel.Tracer("github.com/tjfontaine/offside-zero/internal/agents")

// Invoker runs one logical inference request. *fallback.Caller implements it.
type Invoker interface {
	Invoke(ctx context.Context, req *domain.InferenceRequest) (*domain.InferenceResult, error)
}

// Agent binds an Invoker to a fixed name and role.
type Agent struct {
	name    string
	role    string
	invoker Invoker
	logger  *slog.Logger
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		a.logger = logger
	}
}

// New creates an agent. Prefer the role constructors.
func New(name, role string, invoker Invoker, opts ...Option) *Agent {
	a := &Agent{
		name:    name,
		role:    role,
		invoker: invoker,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the agent name.
func (a *Agent) Name() string { return a.name }

// Role returns the system text sent with every request.
func (a *Agent) Role() string { return a.role }

// Think sends the task with optional images and structured context.
func (a *Agent) Think(ctx context.Context, task string, images []domain.Image, data map[string]any) (*domain.InferenceResult, error) {
	ctx, span := tracer.Start(ctx, "agent."+a.name, trace.WithAttributes(
		attribute.String("agent", a.name),
		attribute.Int("images", len(images)),
	))
	defer span.End()

	res, err := a.invoker.Invoke(ctx, a.request(task, images, data))
	if err != nil {
		a.logger.Error("agent call failed",
			slog.String("agent", a.name),
			slog.String("error", err.Error()),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("model", res.Model))
	return res, nil
}

func (a *Agent) request(task string, images []domain.Image, data map[string]any) *domain.InferenceRequest {
	return &domain.InferenceRequest{
		System:  "Role: " + a.role,
		Prompt:  "Task: " + task + "\nReturn valid JSON only.",
		Images:  images,
		Context: data,
	}
}
