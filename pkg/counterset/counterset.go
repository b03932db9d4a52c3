// Package counterset provides the reference replicated state used by the
// example host: a single multi-value register of uint64, every writer
// bumping it strictly past the highest value it currently observes. It is
// the Go counterpart of the crdt-enc examples/test crate, whose
// replicated state is a bare crdts::MVReg<u64, Uuid>.
package counterset

import (
	"github.com/google/uuid"

	"github.com/chpio/crdtstore/pkg/crdt"
)

// Op is a single write to State.
type Op = crdt.Op[uint64, uuid.UUID]

// State is the merge-convergent counter value. Its zero value is a
// usable, empty register; Merge and Apply mutate it in place and so are
// only ever called through a pointer.
type State struct {
	Reg crdt.MVReg[uint64, uuid.UUID]
}

// Merge combines s with other (CvRDT state merge).
func (s *State) Merge(other State) {
	s.Reg.Merge(other.Reg)
}

// Apply folds a single write into s (CmRDT op application).
func (s *State) Apply(op Op) {
	s.Reg.Apply(op)
}

// Max returns the highest value currently visible in state, or 0 if
// nothing has been written yet. Concurrent writers can leave more than
// one value live at once; Max resolves that the same way every replica
// does, by picking the largest.
func Max(state State) uint64 {
	var max uint64
	for _, v := range state.Reg.Read() {
		if v > max {
			max = v
		}
	}
	return max
}

// NextOp derives the op that writes Max(state)+1 under actor's causal
// context, mirroring the read-max-then-increment convention the
// reference host uses on every run.
func NextOp(state State, actor uuid.UUID) Op {
	readCtx := state.Reg.ReadCtx()
	addCtx := readCtx.DeriveAddCtx(actor)
	return state.Reg.Write(Max(state)+1, addCtx)
}
