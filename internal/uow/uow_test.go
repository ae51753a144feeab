package uow

import (
	"context"
	"testing"
)

func TestAfterCommitWithoutScopeRunsImmediately(t *testing.T) {
	ran := false
	AfterCommit(context.Background(), func() { ran = true })
	if !ran {
		t.Fatalf("expected hook to run without a unit of work")
	}
}

func TestAfterCommitDefersUntilCommitted(t *testing.T) {
	ctx, scope := Attach(context.Background(), "tx")
	var order []int
	AfterCommit(ctx, func() { order = append(order, 1) })
	AfterCommit(ctx, func() { order = append(order, 2) })
	if len(order) != 0 {
		t.Fatalf("hooks ran before commit: %v", order)
	}
	scope.Committed()
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("unexpected hook order: %v", order)
	}
	scope.Committed()
	if len(order) != 2 {
		t.Fatalf("hooks must run once, got %v", order)
	}
}

func TestFromContext(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Fatalf("unexpected scope")
	}
	ctx, _ := Attach(context.Background(), 42)
	s, ok := FromContext(ctx)
	if !ok || s.Tx != 42 {
		t.Fatalf("scope not found: %+v %v", s, ok)
	}
}
