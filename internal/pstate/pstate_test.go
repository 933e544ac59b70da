package pstate

import (
	"context"
	"errors"
	"testing"
)

func TestAcquire_ReleaseAllowsReacquire(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	v, release, err := Acquire(ctx, store, "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = v
	release()

	_, release2, err := Acquire(ctx, store, "p1")
	if err != nil {
		t.Fatalf("unexpected error on reacquire: %v", err)
	}
	release2()
}

func TestView_NodeState_NotFound(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	v, release, err := Acquire(ctx, store, "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer release()

	_, err = v.NodeState(ctx, "A")
	if !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("expected ErrNodeNotFound, got %v", err)
	}
}

func TestRequestRetry_OnlyFromFailed(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	store.SetNodeState(ctx, "p1", "A", Running)

	if err := RequestRetry(ctx, store, "p1", "A"); err == nil {
		t.Fatal("expected error retrying a non-failed node")
	}

	store.SetNodeState(ctx, "p1", "A", Failed)
	if err := RequestRetry(ctx, store, "p1", "A"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := store.GetNodeState(ctx, "p1", "A")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != Starting {
		t.Fatalf("expected STARTING after retry, got %v", got)
	}
}

func TestNodeState_IsTerminal(t *testing.T) {
	terminal := []NodeState{Complete, Failed, Skipped, Stopped}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("expected %v to be terminal", s)
		}
	}
	nonTerminal := []NodeState{Starting, Running, Stopping}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Errorf("expected %v to be non-terminal", s)
		}
	}
}
