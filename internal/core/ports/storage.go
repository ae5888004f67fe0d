package ports

import (
	"context"

	"github.com/tjfontaine/offside-zero/internal/core/domain"
)

// TaskStore persists clip analysis tasks.
// Implementations: in-memory (default), SQLite.
type TaskStore interface {
	// CreateTask stores a new PENDING task. The id must not exist yet.
	CreateTask(ctx context.Context, task *domain.Task) error

	// GetTask returns a copy of the task, or domain.ErrTaskNotFound.
	GetTask(ctx context.Context, id string) (*domain.Task, error)

	// ListTasks returns tasks newest first.
	ListTasks(ctx context.Context, opts TaskListOptions) ([]*domain.Task, error)

	// TransitionTask applies a status change. Backwards or post-terminal
	// changes fail with domain.ErrInvalidTransition.
	TransitionTask(ctx context.Context, id string, update domain.TaskUpdate) error

	// Close closes the storage connection
	Close() error
}

// TaskListOptions defines options for listing tasks
type TaskListOptions struct {
	Status domain.TaskStatus // Optional filter
	Limit  int
}
