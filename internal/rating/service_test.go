package rating

import (
	"context"
	"errors"
	"testing"

	"github.com/tiritolabs/tirito/internal/market"
)

func closedTask(t *testing.T, store *market.InMemoryStore) market.Task {
	t.Helper()
	ctx := context.Background()
	task := market.Task{ID: "t1", Title: "Cortar el pasto", Description: "Fondo chico", Status: market.TaskStatusOpen, CreatedBy: "alice"}
	if err := store.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if err := store.CreateRequest(ctx, market.Request{ID: "r1", TaskID: "t1", Requester: "bob"}); err != nil {
		t.Fatalf("CreateRequest() error = %v", err)
	}
	if _, _, err := store.AcceptRequest(ctx, "r1"); err != nil {
		t.Fatalf("AcceptRequest() error = %v", err)
	}
	closed, err := store.CloseTask(ctx, "t1")
	if err != nil {
		t.Fatalf("CloseTask() error = %v", err)
	}
	return closed
}

func TestRateBothDirections(t *testing.T) {
	store := market.NewInMemoryStore()
	task := closedTask(t, store)
	svc := NewService(store)
	ctx := context.Background()

	got, err := svc.Rate(ctx, "alice", task.ID, 5, "Impecable")
	if err != nil {
		t.Fatalf("creator Rate() error = %v", err)
	}
	if got.Target != "bob" || got.Score != 5 {
		t.Fatalf("rating = %+v, want 5 stars for bob", got)
	}

	got, err = svc.Rate(ctx, "bob", task.ID, 4, "")
	if err != nil {
		t.Fatalf("assignee Rate() error = %v", err)
	}
	if got.Target != "alice" {
		t.Fatalf("target = %q, want alice", got.Target)
	}

	summary, err := svc.SummaryFor(ctx, "bob")
	if err != nil {
		t.Fatalf("SummaryFor() error = %v", err)
	}
	if summary.Count != 1 || summary.Average != 5 {
		t.Fatalf("summary = %+v, want one 5-star rating", summary)
	}
}

func TestRateGuards(t *testing.T) {
	store := market.NewInMemoryStore()
	task := closedTask(t, store)
	svc := NewService(store)
	ctx := context.Background()

	if _, err := svc.Rate(ctx, "alice", task.ID, 0, ""); market.CodeOf(err) != "invalid_score" {
		t.Fatalf("score 0 error = %v, want invalid_score", err)
	}
	if _, err := svc.Rate(ctx, "alice", task.ID, 6, ""); market.CodeOf(err) != "invalid_score" {
		t.Fatalf("score 6 error = %v, want invalid_score", err)
	}
	if _, err := svc.Rate(ctx, "carol", task.ID, 3, ""); market.KindOf(err) != market.KindPermission {
		t.Fatalf("outsider Rate() error = %v, want permission error", err)
	}

	if _, err := svc.Rate(ctx, "alice", task.ID, 5, ""); err != nil {
		t.Fatalf("first Rate() error = %v", err)
	}
	if _, err := svc.Rate(ctx, "alice", task.ID, 4, ""); !errors.Is(err, market.ErrDuplicateRating) {
		t.Fatalf("second Rate() error = %v, want ErrDuplicateRating", err)
	}
}

func TestRateRequiresClosedTask(t *testing.T) {
	store := market.NewInMemoryStore()
	ctx := context.Background()
	if err := store.CreateTask(ctx, market.Task{ID: "t1", Title: "x", Description: "y", Status: market.TaskStatusOpen, CreatedBy: "alice"}); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	svc := NewService(store)

	if _, err := svc.Rate(ctx, "alice", "t1", 5, ""); !errors.Is(err, market.ErrTaskNotClosed) {
		t.Fatalf("open-task Rate() error = %v, want ErrTaskNotClosed", err)
	}
}
