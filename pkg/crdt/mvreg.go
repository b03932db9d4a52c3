package crdt

import "github.com/vmihailenco/msgpack/v5"

// mvEntry is one surviving concurrent write: the dot of the write that
// produced it, and the value it wrote.
type mvEntry[V any, A comparable] struct {
	Dot Dot[A]
	Val V
}

// MVReg is a multi-value register: concurrent writes are all retained
// until a later write (causally after all of them) dominates them. It is
// the Go analogue of the source's crdts::MVReg.
type MVReg[V any, A comparable] struct {
	clock   VClock[A]
	entries []mvEntry[V, A]
}

// ReadCtx is a snapshot of a register's current values together with the
// causal context (clock) they were read under. Use DeriveAddCtx to turn
// it into the context for a new write.
type ReadCtx[A comparable] struct {
	Clock VClock[A]
}

// AddCtx is the causal context under which a new write (or ORSet add)
// should be performed.
type AddCtx[A comparable] struct {
	Dot   Dot[A]
	Clock VClock[A]
}

// Op is a single CmRDT write to an MVReg: the dot that identifies it, the
// value written, and the causal context (clock) observed at write time,
// used by Apply to decide which concurrent entries it supersedes.
type Op[V any, A comparable] struct {
	Dot   Dot[A]
	Val   V
	Clock VClock[A]
}

// Read returns the register's current concurrent values. Order is
// unspecified; callers that need a deterministic value (as Keys.LatestKey
// does) must pick one according to their own tie-break rule.
func (r MVReg[V, A]) Read() []V {
	out := make([]V, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Val
	}
	return out
}

// ReadCtx returns the register's causal context, for deriving a write
// context via DeriveAddCtx.
func (r MVReg[V, A]) ReadCtx() ReadCtx[A] {
	return ReadCtx[A]{Clock: r.clock.Clone()}
}

// DeriveAddCtx turns a read context into the context for a new write by
// actor: the next dot actor would emit, plus the clock it was read under.
func (rc ReadCtx[A]) DeriveAddCtx(actor A) AddCtx[A] {
	return AddCtx[A]{Dot: rc.Clock.Inc(actor), Clock: rc.Clock}
}

// Write produces the Op that, once applied, sets val as a new concurrent
// value of the register, added under ctx.
func (r MVReg[V, A]) Write(val V, ctx AddCtx[A]) Op[V, A] {
	return Op[V, A]{Dot: ctx.Dot, Val: val, Clock: ctx.Clock}
}

// Apply folds op into r: entries causally dominated by op's observed
// clock are dropped, and op's (dot, val) is added. Idempotent: applying
// the same op twice has no further effect.
func (r *MVReg[V, A]) Apply(op Op[V, A]) {
	if r.clock.Dominates(op.Dot) {
		// already seen this exact write
		return
	}
	kept := r.entries[:0]
	for _, e := range r.entries {
		if op.Clock.Dominates(e.Dot) {
			continue
		}
		kept = append(kept, e)
	}
	r.entries = append(kept, mvEntry[V, A]{Dot: op.Dot, Val: op.Val})
	r.clock.Apply(op.Dot)
	r.clock.Merge(op.Clock)
}

// Merge combines r with other (CvRDT state merge): commutative,
// associative, idempotent. An entry survives unless the other side's
// clock has already observed (and thus superseded) its dot while the
// other side no longer carries that exact dot itself.
func (r *MVReg[V, A]) Merge(other MVReg[V, A]) {
	otherDots := make(map[Dot[A]]struct{}, len(other.entries))
	for _, e := range other.entries {
		otherDots[e.Dot] = struct{}{}
	}
	selfDots := make(map[Dot[A]]struct{}, len(r.entries))
	for _, e := range r.entries {
		selfDots[e.Dot] = struct{}{}
	}

	merged := make([]mvEntry[V, A], 0, len(r.entries)+len(other.entries))
	for _, e := range r.entries {
		if _, stillThere := otherDots[e.Dot]; stillThere || !other.clock.Dominates(e.Dot) {
			merged = append(merged, e)
		}
	}
	for _, e := range other.entries {
		if _, alreadyHave := selfDots[e.Dot]; alreadyHave {
			continue
		}
		if !r.clock.Dominates(e.Dot) {
			merged = append(merged, e)
		}
	}

	r.entries = merged
	r.clock.Merge(other.clock)
}

type mvRegWire[V any, A comparable] struct {
	Clock   VClock[A]
	Entries []mvEntry[V, A]
}

// EncodeMsgpack implements msgpack.CustomEncoder.
func (r MVReg[V, A]) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.Encode(mvRegWire[V, A]{Clock: r.clock, Entries: r.entries})
}

// DecodeMsgpack implements msgpack.CustomDecoder.
func (r *MVReg[V, A]) DecodeMsgpack(dec *msgpack.Decoder) error {
	var w mvRegWire[V, A]
	if err := dec.Decode(&w); err != nil {
		return err
	}
	r.clock = w.Clock
	r.entries = w.Entries
	return nil
}
