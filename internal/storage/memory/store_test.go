package memory

import (
	"context"
	"testing"

	"github.com/tjfontaine/offside-zero/internal/core/domain"
	"github.com/tjfontaine/offside-zero/internal/core/ports"
	"github.com/tjfontaine/offside-zero/internal/storage/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ports.TaskStore {
		return New()
	})
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := New()
	ctx := context.Background()
	if err := store.CreateTask(ctx, &domain.Task{ID: "t1", Status: domain.TaskPending}); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	got, _ := store.GetTask(ctx, "t1")
	got.Status = domain.TaskCompleted

	again, _ := store.GetTask(ctx, "t1")
	if again.Status != domain.TaskPending {
		t.Errorf("stored task mutated through returned copy: %s", again.Status)
	}
}
