package agents

import (
	"context"
	"fmt"

	"github.com/tjfontaine/offside-zero/internal/core/domain"
)

// Advisor answers follow-up questions about a finished analysis. It is
// stateless: every question carries the verdict as its only context.
type Advisor struct{ *Agent }

// NewAdvisor creates the follow-up agent.
func NewAdvisor(invoker Invoker, opts ...Option) *Advisor {
	return &Advisor{New("advisor", advisorRole, invoker, opts...)}
}

// Ask returns the model's answer to message about verdict.
func (a *Advisor) Ask(ctx context.Context, message string, verdict *domain.ClipVerdict) (string, error) {
	res, err := a.Think(ctx, fmt.Sprintf(followUpTask, message), nil, map[string]any{"analysis": verdict})
	if err != nil {
		return "", err
	}
	answer, err := domain.DecodeAnswer(res.Payload)
	if err != nil {
		return "", domain.ErrMalformedResponse(err.Error()).WithModel(res.Model)
	}
	return answer, nil
}
