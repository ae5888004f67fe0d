// Package storetest holds behaviour tests shared by every ports.TaskStore
// implementation.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tjfontaine/offside-zero/internal/core/domain"
	"github.com/tjfontaine/offside-zero/internal/core/ports"
)

// Run exercises a TaskStore. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) ports.TaskStore) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newStore(t)) })
	t.Run("Lifecycle", func(t *testing.T) { testLifecycle(t, newStore(t)) })
	t.Run("RejectsBackwardTransitions", func(t *testing.T) { testRejectsBackward(t, newStore(t)) })
	t.Run("ListNewestFirst", func(t *testing.T) { testList(t, newStore(t)) })
}

var base = time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

func newTask(id string, offset time.Duration) *domain.Task {
	return &domain.Task{
		ID:          id,
		Status:      domain.TaskPending,
		Clip:        id + ".mp4",
		SubmittedAt: base.Add(offset),
	}
}

func testCreateAndGet(t *testing.T, store ports.TaskStore) {
	ctx := context.Background()
	if err := store.CreateTask(ctx, newTask("t1", 0)); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if err := store.CreateTask(ctx, newTask("t1", 0)); err == nil {
		t.Errorf("CreateTask() duplicate id error = nil")
	}

	got, err := store.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if got.Status != domain.TaskPending || got.Clip != "t1.mp4" || !got.SubmittedAt.Equal(base) {
		t.Errorf("GetTask() = %+v", got)
	}
}

func testNotFound(t *testing.T, store ports.TaskStore) {
	ctx := context.Background()
	if _, err := store.GetTask(ctx, "missing"); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Errorf("GetTask() error = %v, want ErrTaskNotFound", err)
	}
	err := store.TransitionTask(ctx, "missing", domain.TaskUpdate{Status: domain.TaskProcessing})
	if !errors.Is(err, domain.ErrTaskNotFound) {
		t.Errorf("TransitionTask() error = %v, want ErrTaskNotFound", err)
	}
}

func testLifecycle(t *testing.T, store ports.TaskStore) {
	ctx := context.Background()
	if err := store.CreateTask(ctx, newTask("t1", 0)); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if err := store.TransitionTask(ctx, "t1", domain.TaskUpdate{Status: domain.TaskProcessing, At: base.Add(time.Second)}); err != nil {
		t.Fatalf("TransitionTask(PROCESSING) error = %v", err)
	}

	key := 2
	verdict := &domain.ClipVerdict{
		Decision:      domain.DecisionOffside,
		Confidence:    0.8,
		Explanation:   "attacker ahead",
		Entities:      []domain.Entity{{Label: domain.EntityAttacker, Box: []float64{0.3, 0.4, 0.5, 0.6}}},
		KeyFrameIndex: &key,
	}
	err := store.TransitionTask(ctx, "t1", domain.TaskUpdate{Status: domain.TaskCompleted, At: base.Add(time.Minute), Result: verdict})
	if err != nil {
		t.Fatalf("TransitionTask(COMPLETED) error = %v", err)
	}

	got, err := store.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if got.Status != domain.TaskCompleted {
		t.Errorf("Status = %s, want COMPLETED", got.Status)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(base.Add(time.Second)) {
		t.Errorf("StartedAt = %v", got.StartedAt)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("CompletedAt = %v", got.CompletedAt)
	}
	if got.Result == nil || got.Result.Decision != domain.DecisionOffside || len(got.Result.Entities) != 1 {
		t.Fatalf("Result = %+v", got.Result)
	}
	if got.Result.KeyFrameIndex == nil || *got.Result.KeyFrameIndex != 2 {
		t.Errorf("KeyFrameIndex = %v", got.Result.KeyFrameIndex)
	}
}

func testRejectsBackward(t *testing.T, store ports.TaskStore) {
	ctx := context.Background()
	if err := store.CreateTask(ctx, newTask("t1", 0)); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if err := store.TransitionTask(ctx, "t1", domain.TaskUpdate{Status: domain.TaskCompleted}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("PENDING -> COMPLETED error = %v, want ErrInvalidTransition", err)
	}
	if err := store.TransitionTask(ctx, "t1", domain.TaskUpdate{Status: domain.TaskProcessing}); err != nil {
		t.Fatalf("TransitionTask(PROCESSING) error = %v", err)
	}
	if err := store.TransitionTask(ctx, "t1", domain.TaskUpdate{Status: domain.TaskFailed, Error: "boom"}); err != nil {
		t.Fatalf("TransitionTask(FAILED) error = %v", err)
	}
	if err := store.TransitionTask(ctx, "t1", domain.TaskUpdate{Status: domain.TaskProcessing}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("FAILED -> PROCESSING error = %v, want ErrInvalidTransition", err)
	}

	got, err := store.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if got.Status != domain.TaskFailed || got.Error != "boom" {
		t.Errorf("task = %+v, want FAILED with error", got)
	}
}

func testList(t *testing.T, store ports.TaskStore) {
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c"} {
		if err := store.CreateTask(ctx, newTask(id, time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("CreateTask(%s) error = %v", id, err)
		}
	}
	if err := store.TransitionTask(ctx, "b", domain.TaskUpdate{Status: domain.TaskProcessing}); err != nil {
		t.Fatalf("TransitionTask() error = %v", err)
	}

	all, err := store.ListTasks(ctx, ports.TaskListOptions{})
	if err != nil {
		t.Fatalf("ListTasks() error = %v", err)
	}
	if ids(all) != "c,b,a" {
		t.Errorf("ListTasks() = %s, want c,b,a", ids(all))
	}

	pending, err := store.ListTasks(ctx, ports.TaskListOptions{Status: domain.TaskPending})
	if err != nil {
		t.Fatalf("ListTasks(PENDING) error = %v", err)
	}
	if ids(pending) != "c,a" {
		t.Errorf("ListTasks(PENDING) = %s, want c,a", ids(pending))
	}

	limited, err := store.ListTasks(ctx, ports.TaskListOptions{Limit: 1})
	if err != nil {
		t.Fatalf("ListTasks(limit) error = %v", err)
	}
	if ids(limited) != "c" {
		t.Errorf("ListTasks(limit 1) = %s, want c", ids(limited))
	}
}

func ids(tasks []*domain.Task) string {
	out := ""
	for i, task := range tasks {
		if i > 0 {
			out += ","
		}
		out += task.ID
	}
	return out
}
