// Package blobstore declares the Blob store capability: the durable
// storage boundary the replica engine uses for local meta, remote meta,
// state, and op blobs. It is the Go counterpart of the crdt-enc crate's
// storage module.
package blobstore

import (
	"context"

	"github.com/google/uuid"

	"github.com/chpio/crdtstore/pkg/vbytes"
)

// NamedBlob pairs a content-addressed or structured name with the framed
// bytes stored under it.
type NamedBlob struct {
	Name string
	Data vbytes.VersionBytes
}

// OpEntry identifies one op blob by the actor that wrote it and its
// dense, per-actor version number.
type OpEntry struct {
	Actor   uuid.UUID
	Version uint64
}

// NamedOp pairs an OpEntry with the framed bytes stored under it.
type NamedOp struct {
	OpEntry
	Data vbytes.VersionBytes
}

// Store is the durable blob storage capability. Implementations MUST be
// safe for concurrent use, MUST normalize "not found" to empty results
// (never surfacing a not-exist error from the List* and Remove* calls,
// LoadLocalMeta, or LoadOps), and MUST durably persist each Store* call
// before it returns.
type Store interface {
	LoadLocalMeta(ctx context.Context) (vbytes.VersionBytes, bool, error)
	StoreLocalMeta(ctx context.Context, data vbytes.VersionBytes) error

	ListRemoteMetaNames(ctx context.Context) ([]string, error)
	LoadRemoteMetas(ctx context.Context, names []string) ([]NamedBlob, error)
	StoreRemoteMeta(ctx context.Context, data vbytes.VersionBytes) (string, error)
	RemoveRemoteMetas(ctx context.Context, names []string) error

	ListStateNames(ctx context.Context) ([]string, error)
	LoadStates(ctx context.Context, names []string) ([]NamedBlob, error)
	StoreState(ctx context.Context, data vbytes.VersionBytes) (string, error)
	// RemoveStates returns the subset of names it actually removed (a
	// name already missing is not an error, and is omitted).
	RemoveStates(ctx context.Context, names []string) ([]string, error)

	ListOpActors(ctx context.Context) ([]uuid.UUID, error)
	// LoadOps loads, for each (actor, firstVersion) pair, the dense
	// prefix of op blobs starting at firstVersion until the first gap,
	// ordered by version within each actor.
	LoadOps(ctx context.Context, actorFirstVersions []OpEntry) ([]NamedOp, error)
	// StoreOps MUST refuse to overwrite an existing (actor, version)
	// entry.
	StoreOps(ctx context.Context, actor uuid.UUID, version uint64, data vbytes.VersionBytes) error
	RemoveOps(ctx context.Context, actorLastVersions []OpEntry) error
}
