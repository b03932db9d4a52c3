// Package keys implements the Keys CRDT: a merge-convergent registry of
// symmetric keys together with a "latest key" pointer, distributed through
// the same remote channel as everything else the replica engine persists.
// It is the Go counterpart of the crdt-enc crate's key_cryptor module.
package keys

import (
	"bytes"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/chpio/crdtstore/pkg/crdt"
	"github.com/chpio/crdtstore/pkg/vbytes"
)

// Key is one symmetric key in the registry: an id and its framed key
// material. Equality, ordering, and ORSet identity are all on ID alone —
// Material is never compared.
type Key struct {
	ID       uuid.UUID
	Material vbytes.VersionBytes
}

// NewKey returns a Key with a freshly generated random id.
func NewKey(material vbytes.VersionBytes) Key {
	return Key{ID: uuid.New(), Material: material}
}

// ORSetKey implements crdt.Keyed[uuid.UUID]: Key's ORSet identity is its
// id, never its material.
func (k Key) ORSetKey() uuid.UUID { return k.ID }

// Less orders keys by id, used to deterministically resolve a
// concurrently-written latest-key pointer.
func (k Key) Less(other Key) bool {
	return bytes.Compare(k.ID[:], other.ID[:]) < 0
}

// Keys is the CRDT registry of symmetric keys plus the latest-key
// pointer. It is the Go counterpart of the crdt-enc crate's Keys struct.
type Keys struct {
	latestKeyID crdt.MVReg[uuid.UUID, uuid.UUID]
	keys        crdt.ORSet[uuid.UUID, Key, uuid.UUID]
}

// Merge combines k with other (CvRDT state merge): commutative,
// associative, idempotent.
func (k *Keys) Merge(other Keys) {
	k.latestKeyID.Merge(other.latestKeyID)
	k.keys.Merge(other.keys)
}

// LatestKey returns the designated latest key. Concurrent writers can each
// set a different latest_key_id under genuine concurrency; when that
// happens every currently-observed candidate is resolved against the key
// registry and the smallest id (by Key.Less) wins, deterministically, on
// every replica. A dangling pointer (an id with no matching key) is
// silently skipped rather than treated as an error — see the data model
// invariant that a dangling latest_key_id is benign.
func (k Keys) LatestKey() (Key, bool) {
	var best Key
	found := false
	for _, id := range k.latestKeyID.Read() {
		candidate, ok := k.keys.Get(id)
		if !ok {
			continue
		}
		if !found || candidate.Less(best) {
			best = candidate
			found = true
		}
	}
	return best, found
}

// InsertLatestKey adds newKey to the registry and, in the same causal
// step, sets it as the latest key, both under actor's context.
func (k *Keys) InsertLatestKey(actor uuid.UUID, newKey Key) {
	addCtx := k.keys.ReadCtx().DeriveAddCtx(actor)
	k.keys.Apply(k.keys.Add(newKey, addCtx))

	writeCtx := k.latestKeyID.ReadCtx().DeriveAddCtx(actor)
	k.latestKeyID.Apply(k.latestKeyID.Write(newKey.ID, writeCtx))
}

type keysWire struct {
	LatestKeyID crdt.MVReg[uuid.UUID, uuid.UUID]
	Keys        crdt.ORSet[uuid.UUID, Key, uuid.UUID]
}

// EncodeMsgpack implements msgpack.CustomEncoder.
func (k Keys) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.Encode(keysWire{LatestKeyID: k.latestKeyID, Keys: k.keys})
}

// DecodeMsgpack implements msgpack.CustomDecoder.
func (k *Keys) DecodeMsgpack(dec *msgpack.Decoder) error {
	var w keysWire
	if err := dec.Decode(&w); err != nil {
		return err
	}
	k.latestKeyID = w.LatestKeyID
	k.keys = w.Keys
	return nil
}
