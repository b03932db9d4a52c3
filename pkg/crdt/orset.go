package crdt

import "github.com/vmihailenco/msgpack/v5"

// Keyed is implemented by ORSet elements that are not themselves
// comparable (e.g. because they carry a byte slice) but have a stable,
// comparable identity. It is the Go analogue of the source's
// `impl Borrow<Uuid> for Key`, which lets crdts::Orswot index by id
// while storing the full value.
type Keyed[K comparable] interface {
	ORSetKey() K
}

type orSetEntry[K comparable, T Keyed[K], A comparable] struct {
	Elem T
	Dots []Dot[A]
}

// ORSet is an observed-remove set: adds always win over concurrent
// removes of the same element, and a removal only takes effect once the
// remover has observed every add it removes. It is the Go analogue of
// the source's crdts::Orswot, indexed by each element's Keyed key rather
// than the element's own equality (mirroring Key's id-only equality).
type ORSet[K comparable, T Keyed[K], A comparable] struct {
	clock   VClock[A]
	entries map[K]orSetEntry[K, T, A]
}

// Contains reports whether the element with the given key currently has
// at least one surviving add-dot.
func (s ORSet[K, T, A]) Contains(key K) bool {
	return len(s.entries[key].Dots) > 0
}

// Get returns the element stored under key, if any is currently live.
func (s ORSet[K, T, A]) Get(key K) (T, bool) {
	e, ok := s.entries[key]
	if !ok || len(e.Dots) == 0 {
		var zero T
		return zero, false
	}
	return e.Elem, true
}

// Elements returns the set's current members. Order is unspecified.
func (s ORSet[K, T, A]) Elements() []T {
	out := make([]T, 0, len(s.entries))
	for _, e := range s.entries {
		if len(e.Dots) > 0 {
			out = append(out, e.Elem)
		}
	}
	return out
}

// ReadCtx returns the set's causal context, for deriving an add context
// via DeriveAddCtx.
func (s ORSet[K, T, A]) ReadCtx() ReadCtx[A] {
	return ReadCtx[A]{Clock: s.clock.Clone()}
}

// Add produces the Op that, once applied, adds elem to the set under ctx.
func (s ORSet[K, T, A]) Add(elem T, ctx AddCtx[A]) SetOp[K, T, A] {
	return SetOp[K, T, A]{Dot: ctx.Dot, Elem: elem}
}

// SetOp is a single CmRDT add to an ORSet.
type SetOp[K comparable, T Keyed[K], A comparable] struct {
	Dot  Dot[A]
	Elem T
}

// Apply folds op into s. Idempotent.
func (s *ORSet[K, T, A]) Apply(op SetOp[K, T, A]) {
	if s.clock.Dominates(op.Dot) {
		return
	}
	if s.entries == nil {
		s.entries = make(map[K]orSetEntry[K, T, A], 1)
	}
	key := op.Elem.ORSetKey()
	entry := s.entries[key]
	for _, d := range entry.Dots {
		if d == op.Dot {
			s.clock.Apply(op.Dot)
			return
		}
	}
	entry.Elem = op.Elem
	entry.Dots = append(entry.Dots, op.Dot)
	s.entries[key] = entry
	s.clock.Apply(op.Dot)
}

// Merge combines s with other (CvRDT state merge): commutative,
// associative, idempotent. A per-element add-dot survives unless the
// other replica has already observed it (via its clock) while no longer
// carrying it for that element (i.e. it was legitimately removed there).
func (s *ORSet[K, T, A]) Merge(other ORSet[K, T, A]) {
	merged := make(map[K]orSetEntry[K, T, A], len(s.entries)+len(other.entries))

	allKeys := make(map[K]struct{}, len(s.entries)+len(other.entries))
	for k := range s.entries {
		allKeys[k] = struct{}{}
	}
	for k := range other.entries {
		allKeys[k] = struct{}{}
	}

	for key := range allKeys {
		selfEntry := s.entries[key]
		otherEntry := other.entries[key]

		otherSet := make(map[Dot[A]]struct{}, len(otherEntry.Dots))
		for _, d := range otherEntry.Dots {
			otherSet[d] = struct{}{}
		}
		selfSet := make(map[Dot[A]]struct{}, len(selfEntry.Dots))
		for _, d := range selfEntry.Dots {
			selfSet[d] = struct{}{}
		}

		var survivors []Dot[A]
		seen := make(map[Dot[A]]struct{}, len(selfEntry.Dots)+len(otherEntry.Dots))
		add := func(d Dot[A]) {
			if _, dup := seen[d]; !dup {
				survivors = append(survivors, d)
				seen[d] = struct{}{}
			}
		}
		for _, d := range selfEntry.Dots {
			if _, ok := otherSet[d]; ok || !other.clock.Dominates(d) {
				add(d)
			}
		}
		for _, d := range otherEntry.Dots {
			if _, ok := selfSet[d]; ok || !s.clock.Dominates(d) {
				add(d)
			}
		}

		if len(survivors) == 0 {
			continue
		}
		elem := selfEntry.Elem
		if len(selfEntry.Dots) == 0 {
			elem = otherEntry.Elem
		}
		merged[key] = orSetEntry[K, T, A]{Elem: elem, Dots: survivors}
	}

	s.entries = merged
	s.clock.Merge(other.clock)
}

type orSetEntryWire[K comparable, T Keyed[K], A comparable] struct {
	Key  K
	Elem T
	Dots []Dot[A]
}

type orSetWire[K comparable, T Keyed[K], A comparable] struct {
	Clock   VClock[A]
	Entries []orSetEntryWire[K, T, A]
}

// EncodeMsgpack implements msgpack.CustomEncoder.
func (s ORSet[K, T, A]) EncodeMsgpack(enc *msgpack.Encoder) error {
	w := orSetWire[K, T, A]{Clock: s.clock, Entries: make([]orSetEntryWire[K, T, A], 0, len(s.entries))}
	for key, e := range s.entries {
		w.Entries = append(w.Entries, orSetEntryWire[K, T, A]{Key: key, Elem: e.Elem, Dots: e.Dots})
	}
	return enc.Encode(w)
}

// DecodeMsgpack implements msgpack.CustomDecoder.
func (s *ORSet[K, T, A]) DecodeMsgpack(dec *msgpack.Decoder) error {
	var w orSetWire[K, T, A]
	if err := dec.Decode(&w); err != nil {
		return err
	}
	s.clock = w.Clock
	s.entries = make(map[K]orSetEntry[K, T, A], len(w.Entries))
	for _, e := range w.Entries {
		s.entries[e.Key] = orSetEntry[K, T, A]{Elem: e.Elem, Dots: e.Dots}
	}
	return nil
}
