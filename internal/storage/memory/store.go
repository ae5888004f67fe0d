package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/tjfontaine/offside-zero/internal/core/domain"
	"github.com/tjfontaine/offside-zero/internal/core/ports"
)

// Store is an in-memory implementation of ports.TaskStore.
// Tasks are never evicted.
type Store struct {
	mu    sync.RWMutex
	tasks map[string]*domain.Task
	order []string // submission order
}

var _ ports.TaskStore = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		tasks: make(map[string]*domain.Task),
	}
}

func (s *Store) CreateTask(ctx context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	if task.Status != domain.TaskPending {
		return fmt.Errorf("task %s must be created %s, got %s", task.ID, domain.TaskPending, task.Status)
	}

	s.tasks[task.ID] = task.Clone()
	s.order = append(s.order, task.ID)
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, exists := s.tasks[id]
	if !exists {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrTaskNotFound)
	}
	return task.Clone(), nil
}

func (s *Store) ListTasks(ctx context.Context, opts ports.TaskListOptions) ([]*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Task, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		task := s.tasks[s.order[i]]
		if opts.Status != "" && task.Status != opts.Status {
			continue
		}
		result = append(result, task.Clone())
		if opts.Limit > 0 && len(result) >= opts.Limit {
			break
		}
	}
	return result, nil
}

func (s *Store) TransitionTask(ctx context.Context, id string, update domain.TaskUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, exists := s.tasks[id]
	if !exists {
		return fmt.Errorf("task %s: %w", id, domain.ErrTaskNotFound)
	}
	if err := task.Apply(update); err != nil {
		return fmt.Errorf("task %s %s -> %s: %w", id, task.Status, update.Status, err)
	}
	return nil
}

func (s *Store) Close() error {
	return nil
}
