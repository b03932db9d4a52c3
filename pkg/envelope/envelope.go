// Package envelope declares the Envelope capability (spec.md's
// KeyCryptor): the asymmetric-wrapping boundary through which the Key
// registry CRDT is distributed to a fixed set of recipients. It is the
// Go counterpart of the crdt-enc crate's key_cryptor module's KeyCryptor
// trait.
package envelope

import (
	"context"

	"github.com/google/uuid"

	"github.com/chpio/crdtstore/pkg/cipher"
	"github.com/chpio/crdtstore/pkg/keys"
)

// RemoteMetaReg is the MVReg shape the envelope's remote-meta slot is
// exchanged as: one age-encrypted, msgpack-encoded Keys blob per actor.
type RemoteMetaReg = cipher.RemoteMetaReg

// EngineHandle is the narrow callback surface an Envelope may use to
// notify the replica engine, mirroring the source's CoreSubHandle.
type EngineHandle interface {
	SetKeys(ctx context.Context, keys keys.Keys) error
	SetRemoteMetaKeyCryptor(ctx context.Context, remoteMeta RemoteMetaReg) error
}

// Envelope is the asymmetric key-wrapping capability. Implementations
// MUST be safe for concurrent use.
type Envelope interface {
	// Init is called once at Open time with the engine's callback handle
	// and the local actor id (used as the MVReg write-context actor).
	Init(ctx context.Context, engine EngineHandle, actor uuid.UUID) error

	// SetRemoteMeta is called by the engine's Open with the envelope's
	// remote-meta register as read at that time; ok is false when no
	// remote meta existed yet. The engine does not call it again when the
	// register changes later. The implementation merges the new register, unwraps every entry it can
	// (decrypting with whatever local identities it holds), CvRDT-merges
	// the results into one Keys value, and calls engine.SetKeys with it.
	SetRemoteMeta(ctx context.Context, data RemoteMetaReg, ok bool) error

	// SetKeys is called by the engine whenever the key registry changes
	// locally (e.g. a new key was inserted). The implementation
	// re-encrypts the full registry to every configured recipient and
	// writes the result into the local actor's own MVReg slot, then
	// calls engine.SetRemoteMetaKeyCryptor with the updated register.
	SetKeys(ctx context.Context, k keys.Keys) error
}
