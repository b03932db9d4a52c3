// Package cipher declares the Cipher capability: the symmetric-key
// encryption boundary the replica engine consumes to protect state and op
// blobs at rest. It is the Go counterpart of the crdt-enc crate's cryptor
// module.
package cipher

import (
	"context"

	"github.com/google/uuid"

	"github.com/chpio/crdtstore/pkg/crdt"
	"github.com/chpio/crdtstore/pkg/vbytes"
)

// RemoteMetaReg is the MVReg shape every capability's remote-meta slot is
// exchanged as: one concurrent VersionBytes value per actor.
type RemoteMetaReg = crdt.MVReg[vbytes.VersionBytes, uuid.UUID]

// EngineHandle is the narrow callback surface a Cipher may use to notify
// the replica engine, mirroring the source's CoreSubHandle. Capabilities
// hold this interface, never a concrete engine type, preserving
// one-directional ownership: the engine owns capabilities, capabilities
// only dispatch back through this handle.
type EngineHandle interface {
	SetRemoteMetaCipher(ctx context.Context, remoteMeta RemoteMetaReg) error
}

// Cipher is the symmetric encryption capability. Implementations MUST be
// safe for concurrent use.
type Cipher interface {
	// Init is called once at Open time with the engine's callback handle.
	Init(ctx context.Context, engine EngineHandle) error

	// SetRemoteMeta is called by the engine's Open with this cipher's
	// remote-meta register as read at that time; ok is false when no
	// remote meta existed yet. The engine does not call it again when the
	// register changes later.
	SetRemoteMeta(ctx context.Context, data RemoteMetaReg, ok bool) error

	// GenKey returns a freshly generated symmetric key, framed with this
	// cipher's key version.
	GenKey(ctx context.Context) (vbytes.VersionBytes, error)

	// Encrypt encrypts clearText under key, which MUST carry this
	// cipher's key version (checked via key.EnsureVersion). The result is
	// a fully framed VersionBytes ready to hand to a blob store.
	Encrypt(ctx context.Context, key vbytes.VersionBytes, clearText []byte) (vbytes.VersionBytes, error)

	// Decrypt reverses Encrypt. encData MUST carry this cipher's data
	// version.
	Decrypt(ctx context.Context, key vbytes.VersionBytes, encData vbytes.VersionBytes) ([]byte, error)
}
