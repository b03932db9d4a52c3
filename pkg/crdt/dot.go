// Package crdt implements the small set of conflict-free replicated data
// types the replica engine is built from: a per-actor vector clock, a
// multi-value register, and an observed-remove set. No published Go CRDT
// library exists anywhere in the reference corpus this module was built
// against, so these are hand-rolled generics modeled on the semantics of
// the Rust `crdts` crate (CmRDT/CvRDT, Dot, VClock, MVReg, Orswot) that the
// original source this module descends from was built on.
package crdt

import "github.com/vmihailenco/msgpack/v5"

// Dot identifies a single causal event: the Counter-th operation emitted
// by Actor.
type Dot[A comparable] struct {
	Actor   A
	Counter uint64
}

// VClock is a per-actor monotone counter map: the Go analogue of the
// source's VClock<Actor>.
type VClock[A comparable] struct {
	counters map[A]uint64
}

// NewVClock returns an empty vector clock.
func NewVClock[A comparable]() VClock[A] {
	return VClock[A]{}
}

// Get returns the counter recorded for actor, or 0 if actor has never
// been observed.
func (c VClock[A]) Get(actor A) uint64 {
	return c.counters[actor]
}

// Inc returns the Dot for the next operation actor would emit, without
// mutating c. Callers apply the returned dot (directly, or via a CmRDT Op
// that embeds it) to make it durable.
func (c VClock[A]) Inc(actor A) Dot[A] {
	return Dot[A]{Actor: actor, Counter: c.Get(actor) + 1}
}

// Apply folds a single dot into the clock: counters[dot.Actor] becomes
// max(counters[dot.Actor], dot.Counter). Idempotent. It replaces c's map
// rather than writing into it, so copies of c made by assignment are
// unaffected.
func (c *VClock[A]) Apply(dot Dot[A]) {
	if dot.Counter <= c.counters[dot.Actor] {
		return
	}
	out := make(map[A]uint64, len(c.counters)+1)
	for a, n := range c.counters {
		out[a] = n
	}
	out[dot.Actor] = dot.Counter
	c.counters = out
}

// Merge folds other into c pointwise (per-actor max). Commutative,
// associative, idempotent. Like Apply, it replaces c's map rather than
// writing into it.
func (c *VClock[A]) Merge(other VClock[A]) {
	out := make(map[A]uint64, len(c.counters)+len(other.counters))
	for a, n := range c.counters {
		out[a] = n
	}
	for actor, n := range other.counters {
		if n > out[actor] {
			out[actor] = n
		}
	}
	c.counters = out
}

// Dominates reports whether dot has already been observed by c, i.e.
// c.Get(dot.Actor) >= dot.Counter.
func (c VClock[A]) Dominates(dot Dot[A]) bool {
	return c.Get(dot.Actor) >= dot.Counter
}

// Clone returns an independent copy of c.
func (c VClock[A]) Clone() VClock[A] {
	if len(c.counters) == 0 {
		return VClock[A]{}
	}
	out := make(map[A]uint64, len(c.counters))
	for a, n := range c.counters {
		out[a] = n
	}
	return VClock[A]{counters: out}
}

// Dots returns one Dot per actor, at its current counter value. Order is
// unspecified.
func (c VClock[A]) Dots() []Dot[A] {
	out := make([]Dot[A], 0, len(c.counters))
	for a, n := range c.counters {
		out = append(out, Dot[A]{Actor: a, Counter: n})
	}
	return out
}

// Equal reports whether c and other carry the same counters.
func (c VClock[A]) Equal(other VClock[A]) bool {
	if len(c.counters) != len(other.counters) {
		return false
	}
	for a, n := range c.counters {
		if other.counters[a] != n {
			return false
		}
	}
	return true
}

// EncodeMsgpack implements msgpack.CustomEncoder, serializing the clock
// as a list of dots rather than exposing the internal map representation.
func (c VClock[A]) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.Encode(c.Dots())
}

// DecodeMsgpack implements msgpack.CustomDecoder.
func (c *VClock[A]) DecodeMsgpack(dec *msgpack.Decoder) error {
	var dots []Dot[A]
	if err := dec.Decode(&dots); err != nil {
		return err
	}
	c.counters = nil
	for _, d := range dots {
		c.Apply(d)
	}
	return nil
}
