package counterset

import (
	"testing"

	"github.com/google/uuid"
)

func TestMaxOfEmptyRegisterIsZero(t *testing.T) {
	var s State
	if got := Max(s); got != 0 {
		t.Fatalf("Max(empty) = %d, want 0", got)
	}
}

func TestNextOpWritesPastObservedMax(t *testing.T) {
	actor := uuid.New()
	var s State

	op := NextOp(s, actor)
	s.Apply(op)
	if got := Max(s); got != 1 {
		t.Fatalf("Max() after first write = %d, want 1", got)
	}

	op = NextOp(s, actor)
	s.Apply(op)
	if got := Max(s); got != 2 {
		t.Fatalf("Max() after second write = %d, want 2", got)
	}
}

func TestMaxResolvesConcurrentWritesToLargest(t *testing.T) {
	actorA, actorB := uuid.New(), uuid.New()
	var a, b State

	a.Apply(NextOp(a, actorA)) // a.Reg = {1}
	b.Apply(NextOp(b, actorB)) // b.Reg = {1}, concurrently

	merged := a
	merged.Merge(b)

	if got := Max(merged); got != 1 {
		t.Fatalf("Max(merged concurrent writes) = %d, want 1", got)
	}

	merged.Apply(NextOp(merged, actorA))
	if got := Max(merged); got != 2 {
		t.Fatalf("Max() after resolving write = %d, want 2", got)
	}
}
