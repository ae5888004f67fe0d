// Package queue accepts clip analysis requests and executes them one at a
// time, in submission order, on a single worker.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/offside-zero/internal/core/domain"
	"github.com/tjfontaine/offside-zero/internal/core/ports"
)

// Processor runs the full analysis of one clip.
type Processor interface {
	AnalyzeClip(ctx context.Context, clip string) (*domain.ClipVerdict, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, clip string) (*domain.ClipVerdict, error)

// AnalyzeClip calls f.
func (f ProcessorFunc) AnalyzeClip(ctx context.Context, clip string) (*domain.ClipVerdict, error) {
	return f(ctx, clip)
}

// startAttempts bounds the PENDING to PROCESSING write before a task is put
// back on the queue.
const startAttempts = 3

type item struct {
	taskID string
	clip   string
}

// Queue is a FIFO of tasks consumed by exactly one worker loop.
type Queue struct {
	store     ports.TaskStore
	processor Processor
	logger    *slog.Logger
	now       func() time.Time
	backoff   time.Duration

	mu      sync.Mutex
	pending []item
	running bool
	notify  chan struct{}
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = logger
	}
}

// WithClock overrides the time source for task timestamps.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

// New creates a queue backed by store.
func New(store ports.TaskStore, processor Processor, opts ...Option) *Queue {
	q := &Queue{
		store:     store,
		processor: processor,
		logger:    slog.Default(),
		now:       time.Now,
		backoff:   100 * time.Millisecond,
		notify:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Submit records a PENDING task and enqueues it. It never blocks on analysis.
func (q *Queue) Submit(ctx context.Context, clip string) (*domain.Task, error) {
	task := &domain.Task{
		ID:          uuid.New().String(),
		Status:      domain.TaskPending,
		Clip:        clip,
		SubmittedAt: q.now().UTC(),
	}
	if err := q.store.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	q.enqueue(item{taskID: task.ID, clip: clip})

	q.logger.Info("task submitted",
		slog.String("task_id", task.ID),
		slog.String("clip", clip),
	)
	return task.Clone(), nil
}

// Status returns the task, or domain.ErrTaskNotFound.
func (q *Queue) Status(ctx context.Context, id string) (*domain.Task, error) {
	return q.store.GetTask(ctx, id)
}

// List returns tasks newest first.
func (q *Queue) List(ctx context.Context, opts ports.TaskListOptions) ([]*domain.Task, error) {
	return q.store.ListTasks(ctx, opts)
}

// Len returns the number of tasks waiting for the worker.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Recover restores state left by a previous process: PENDING tasks are
// re-enqueued oldest first and PROCESSING tasks are failed as interrupted.
func (q *Queue) Recover(ctx context.Context) error {
	tasks, err := q.store.ListTasks(ctx, ports.TaskListOptions{})
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}

	requeued, interrupted := 0, 0
	for i := len(tasks) - 1; i >= 0; i-- {
		t := tasks[i]
		switch t.Status {
		case domain.TaskPending:
			q.enqueue(item{taskID: t.ID, clip: t.Clip})
			requeued++
		case domain.TaskProcessing:
			err := q.store.TransitionTask(ctx, t.ID, domain.TaskUpdate{
				Status: domain.TaskFailed,
				At:     q.now().UTC(),
				Error:  "interrupted",
			})
			if err != nil {
				return fmt.Errorf("failed to fail interrupted task %s: %w", t.ID, err)
			}
			interrupted++
		}
	}

	if requeued > 0 || interrupted > 0 {
		q.logger.Info("recovered tasks",
			slog.Int("requeued", requeued),
			slog.Int("interrupted", interrupted),
		)
	}
	return nil
}

// Run is the worker loop. It returns when ctx is done; a task already
// PROCESSING is finished first. Only one Run may be active per Queue.
func (q *Queue) Run(ctx context.Context) error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return errors.New("queue worker already running")
	}
	q.running = true
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		q.running = false
		q.mu.Unlock()
	}()

	for {
		it, ok := q.dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-q.notify:
				continue
			}
		}

		q.safeProcess(context.WithoutCancel(ctx), it)

		if ctx.Err() != nil {
			return nil
		}
	}
}

// safeProcess is the loop boundary: a panic fails the task, not the worker.
func (q *Queue) safeProcess(ctx context.Context, it item) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("worker recovered from panic",
				slog.String("task_id", it.taskID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			q.finish(ctx, it.taskID, domain.TaskUpdate{
				Status: domain.TaskFailed,
				Error:  fmt.Sprintf("internal error: %v", r),
			})
		}
	}()
	q.process(ctx, it)
}

func (q *Queue) process(ctx context.Context, it item) {
	logger := q.logger.With(slog.String("task_id", it.taskID))

	if err := q.start(ctx, it.taskID); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrTaskNotFound) {
			logger.Error("dropping task that cannot start", slog.String("error", err.Error()))
			return
		}
		// still PENDING; it is tried again after the tasks queued behind it
		logger.Error("failed to start task, requeueing", slog.String("error", err.Error()))
		q.enqueue(it)
		return
	}
	logger.Info("processing task", slog.String("clip", it.clip))

	started := q.now()
	verdict, err := q.processor.AnalyzeClip(ctx, it.clip)
	if err == nil && verdict == nil {
		err = errors.New("analysis produced no verdict")
	}
	if err != nil {
		logger.Warn("task failed",
			slog.String("error", err.Error()),
			slog.Duration("duration", q.now().Sub(started)),
		)
		q.finish(ctx, it.taskID, domain.TaskUpdate{Status: domain.TaskFailed, Result: verdict, Error: err.Error()})
		return
	}

	q.finish(ctx, it.taskID, domain.TaskUpdate{Status: domain.TaskCompleted, Result: verdict})
	logger.Info("task completed",
		slog.String("decision", string(verdict.Decision)),
		slog.Duration("duration", q.now().Sub(started)),
	)
}

// start moves a task to PROCESSING, retrying store errors with a linear
// backoff. Transition and lookup errors are returned at once.
func (q *Queue) start(ctx context.Context, id string) error {
	var err error
	for attempt := 1; attempt <= startAttempts; attempt++ {
		err = q.store.TransitionTask(ctx, id, domain.TaskUpdate{
			Status: domain.TaskProcessing,
			At:     q.now().UTC(),
		})
		if err == nil || errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrTaskNotFound) {
			return err
		}
		if attempt < startAttempts {
			q.logger.Warn("failed to start task, retrying",
				slog.String("task_id", id),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			time.Sleep(q.backoff * time.Duration(attempt))
		}
	}
	return err
}

func (q *Queue) finish(ctx context.Context, id string, update domain.TaskUpdate) {
	update.At = q.now().UTC()
	if err := q.store.TransitionTask(ctx, id, update); err != nil {
		q.logger.Error("failed to record task outcome",
			slog.String("task_id", id),
			slog.String("status", string(update.Status)),
			slog.String("error", err.Error()),
		)
	}
}

func (q *Queue) enqueue(it item) {
	q.mu.Lock()
	q.pending = append(q.pending, it)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) dequeue() (item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return item{}, false
	}
	it := q.pending[0]
	q.pending[0] = item{}
	q.pending = q.pending[1:]
	return it, true
}
