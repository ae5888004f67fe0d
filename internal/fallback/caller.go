// Package fallback runs one logical inference request across an ordered list
// of model targets, moving to the next target only when the current one fails.
package fallback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/offside-zero/internal/core/domain"
	"github.com/tjfontaine/offside-zero/internal/core/ports"
)

// DefaultCallTimeout bounds a single attempt unless overridden.
const DefaultCallTimeout = 120 * time.Second

var tracer = otel.Tracer("github.com/tjfontaine/offside-zero/internal/fallback")

// Caller tries each model target once, in order, until one succeeds.
// The target list is fixed at construction.
type Caller struct {
	analyzer    ports.Analyzer
	targets     []string
	callTimeout time.Duration
	logger      *slog.Logger
}

// Option configures a Caller.
type Option func(*Caller)

// WithLogger sets the logger used for failed attempts.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Caller) {
		c.logger = logger
	}
}

// WithCallTimeout bounds each attempt. Zero disables the bound.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Caller) {
		c.callTimeout = d
	}
}

// New creates a Caller over the given targets. The slice is copied.
func New(analyzer ports.Analyzer, targets []string, opts ...Option) *Caller {
	c := &Caller{
		analyzer:    analyzer,
		targets:     append([]string(nil), targets...),
		callTimeout: DefaultCallTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Targets returns a copy of the configured model targets.
func (c *Caller) Targets() []string {
	return append([]string(nil), c.targets...)
}

// Invoke returns the first successful result. When every target fails the
// error is a *domain.FallbackError carrying only the last failure.
func (c *Caller) Invoke(ctx context.Context, req *domain.InferenceRequest) (*domain.InferenceResult, error) {
	var lastErr error
	for i, model := range c.targets {
		payload, err := c.attempt(ctx, model, req)
		if err == nil {
			return &domain.InferenceResult{Model: model, Payload: payload}, nil
		}

		lastErr = err
		c.logger.Warn("model attempt failed",
			slog.String("model", model),
			slog.Int("attempt", i+1),
			slog.Int("targets", len(c.targets)),
			slog.String("error", err.Error()),
		)

		if ctx.Err() != nil {
			// the caller gave up; remaining targets would fail the same way
			return nil, &domain.FallbackError{Model: model, Attempts: i + 1, Err: lastErr}
		}
	}

	last := ""
	if n := len(c.targets); n > 0 {
		last = c.targets[n-1]
	}
	return nil, &domain.FallbackError{Model: last, Attempts: len(c.targets), Err: lastErr}
}

func (c *Caller) attempt(ctx context.Context, model string, req *domain.InferenceRequest) (json.RawMessage, error) {
	ctx, span := tracer.Start(ctx, "fallback.attempt", trace.WithAttributes(
		attribute.String("model", model),
		attribute.Int("images", len(req.Images)),
	))
	defer span.End()

	callCtx := ctx
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	payload, err := c.analyzer.Infer(callCtx, model, req)
	if err == nil && !isObject(payload) {
		err = domain.ErrMalformedResponse("response is not a JSON object").WithModel(model)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = domain.ErrTimeout(fmt.Sprintf("no response within %s", c.callTimeout)).WithModel(model)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return payload, nil
}

func isObject(payload json.RawMessage) bool {
	var obj map[string]json.RawMessage
	return json.Unmarshal(payload, &obj) == nil && obj != nil
}
