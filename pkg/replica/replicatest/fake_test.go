// Package replicatest exercises the replica engine end to end, against an
// in-memory blobstore.Store fake shaped like fsblobstore plus the real
// xchacha20 cipher and a no-op envelope (Keys propagate unwrapped, since
// these scenarios aren't about asymmetric key distribution).
package replicatest

import (
	"context"
	"encoding/base32"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/crypto/sha3"

	"github.com/chpio/crdtstore/pkg/blobstore"
	"github.com/chpio/crdtstore/pkg/crdterr"
	"github.com/chpio/crdtstore/pkg/envelope"
	"github.com/chpio/crdtstore/pkg/keys"
	"github.com/chpio/crdtstore/pkg/vbytes"
)

// remoteMem is the shared remote tree two or more memStores see in
// common, mirroring fsblobstore's single <remote> directory visible to
// every replica.
type remoteMem struct {
	mu     sync.Mutex
	metas  map[string]vbytes.VersionBytes
	states map[string]vbytes.VersionBytes
	ops    map[uuid.UUID]map[uint64]vbytes.VersionBytes
}

func newRemoteMem() *remoteMem {
	return &remoteMem{
		metas:  make(map[string]vbytes.VersionBytes),
		states: make(map[string]vbytes.VersionBytes),
		ops:    make(map[uuid.UUID]map[uint64]vbytes.VersionBytes),
	}
}

func contentAddress(data vbytes.VersionBytes) string {
	digest := sha3.Sum256(data.Bytes())
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(digest[:])
}

// memStore implements blobstore.Store in memory. Each memStore has its own
// local meta slot but can share a *remoteMem with other memStores, the way
// two replicas on different machines share a synced remote directory but
// never each other's local one.
type memStore struct {
	mu        sync.Mutex
	localMeta *vbytes.VersionBytes
	remote    *remoteMem
}

func newMemStore(remote *remoteMem) *memStore {
	return &memStore{remote: remote}
}

var _ blobstore.Store = (*memStore)(nil)

func (s *memStore) LoadLocalMeta(ctx context.Context) (vbytes.VersionBytes, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.localMeta == nil {
		return vbytes.VersionBytes{}, false, nil
	}
	return *s.localMeta, true, nil
}

func (s *memStore) StoreLocalMeta(ctx context.Context, data vbytes.VersionBytes) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localMeta = &data
	return nil
}

func (s *memStore) ListRemoteMetaNames(ctx context.Context) ([]string, error) {
	s.remote.mu.Lock()
	defer s.remote.mu.Unlock()
	names := make([]string, 0, len(s.remote.metas))
	for n := range s.remote.metas {
		names = append(names, n)
	}
	return names, nil
}

func (s *memStore) LoadRemoteMetas(ctx context.Context, names []string) ([]blobstore.NamedBlob, error) {
	s.remote.mu.Lock()
	defer s.remote.mu.Unlock()
	out := make([]blobstore.NamedBlob, 0, len(names))
	for _, n := range names {
		if vb, ok := s.remote.metas[n]; ok {
			out = append(out, blobstore.NamedBlob{Name: n, Data: vb})
		}
	}
	return out, nil
}

func (s *memStore) StoreRemoteMeta(ctx context.Context, data vbytes.VersionBytes) (string, error) {
	name := contentAddress(data)
	s.remote.mu.Lock()
	defer s.remote.mu.Unlock()
	s.remote.metas[name] = data
	return name, nil
}

func (s *memStore) RemoveRemoteMetas(ctx context.Context, names []string) error {
	s.remote.mu.Lock()
	defer s.remote.mu.Unlock()
	for _, n := range names {
		delete(s.remote.metas, n)
	}
	return nil
}

func (s *memStore) ListStateNames(ctx context.Context) ([]string, error) {
	s.remote.mu.Lock()
	defer s.remote.mu.Unlock()
	names := make([]string, 0, len(s.remote.states))
	for n := range s.remote.states {
		names = append(names, n)
	}
	return names, nil
}

func (s *memStore) LoadStates(ctx context.Context, names []string) ([]blobstore.NamedBlob, error) {
	s.remote.mu.Lock()
	defer s.remote.mu.Unlock()
	out := make([]blobstore.NamedBlob, 0, len(names))
	for _, n := range names {
		if vb, ok := s.remote.states[n]; ok {
			out = append(out, blobstore.NamedBlob{Name: n, Data: vb})
		}
	}
	return out, nil
}

func (s *memStore) StoreState(ctx context.Context, data vbytes.VersionBytes) (string, error) {
	name := contentAddress(data)
	s.remote.mu.Lock()
	defer s.remote.mu.Unlock()
	s.remote.states[name] = data
	return name, nil
}

func (s *memStore) RemoveStates(ctx context.Context, names []string) ([]string, error) {
	s.remote.mu.Lock()
	defer s.remote.mu.Unlock()
	removed := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := s.remote.states[n]; ok {
			delete(s.remote.states, n)
			removed = append(removed, n)
		}
	}
	return removed, nil
}

func (s *memStore) ListOpActors(ctx context.Context) ([]uuid.UUID, error) {
	s.remote.mu.Lock()
	defer s.remote.mu.Unlock()
	actors := make([]uuid.UUID, 0, len(s.remote.ops))
	for a := range s.remote.ops {
		actors = append(actors, a)
	}
	return actors, nil
}

func (s *memStore) LoadOps(ctx context.Context, actorFirstVersions []blobstore.OpEntry) ([]blobstore.NamedOp, error) {
	s.remote.mu.Lock()
	defer s.remote.mu.Unlock()
	var out []blobstore.NamedOp
	for _, afv := range actorFirstVersions {
		byVersion := s.remote.ops[afv.Actor]
		for v := afv.Version; ; v++ {
			vb, ok := byVersion[v]
			if !ok {
				break
			}
			out = append(out, blobstore.NamedOp{OpEntry: blobstore.OpEntry{Actor: afv.Actor, Version: v}, Data: vb})
		}
	}
	return out, nil
}

func (s *memStore) StoreOps(ctx context.Context, actor uuid.UUID, version uint64, data vbytes.VersionBytes) error {
	s.remote.mu.Lock()
	defer s.remote.mu.Unlock()
	byVersion := s.remote.ops[actor]
	if byVersion == nil {
		byVersion = make(map[uint64]vbytes.VersionBytes)
		s.remote.ops[actor] = byVersion
	}
	if _, exists := byVersion[version]; exists {
		return fmt.Errorf("op %s/%d already exists", actor, version)
	}
	byVersion[version] = data
	return nil
}

func (s *memStore) RemoveOps(ctx context.Context, actorLastVersions []blobstore.OpEntry) error {
	s.remote.mu.Lock()
	defer s.remote.mu.Unlock()
	for _, alv := range actorLastVersions {
		byVersion := s.remote.ops[alv.Actor]
		if byVersion == nil {
			continue
		}
		delete(byVersion, alv.Version)
		if len(byVersion) == 0 {
			delete(s.remote.ops, alv.Actor)
		}
	}
	return nil
}

// noopEnvelopeVersion tags the unwrapped Keys blob noopEnvelope writes
// into its MVReg slot.
var noopEnvelopeVersion = uuid.MustParse("b6e6f1a1-8e3b-4e0a-9f0d-9a9b9c9d9e9f")

// noopEnvelope implements envelope.Envelope with no asymmetric wrapping
// at all: every actor can read every other actor's Keys contribution
// directly. It exists only to exercise the replica engine's key-registry
// plumbing without pulling a real envelope implementation's crypto into
// scope.
type noopEnvelope struct {
	mu         sync.Mutex
	engine     envelope.EngineHandle
	actor      uuid.UUID
	remoteMeta envelope.RemoteMetaReg
}

func newNoopEnvelope() *noopEnvelope { return &noopEnvelope{} }

var _ envelope.Envelope = (*noopEnvelope)(nil)

func (e *noopEnvelope) Init(ctx context.Context, engine envelope.EngineHandle, actor uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.engine = engine
	e.actor = actor
	return nil
}

func (e *noopEnvelope) SetRemoteMeta(ctx context.Context, data envelope.RemoteMetaReg, ok bool) error {
	e.mu.Lock()
	if ok {
		e.remoteMeta.Merge(data)
	}
	remoteMeta := e.remoteMeta
	engine := e.engine
	e.mu.Unlock()

	var merged keys.Keys
	for _, vb := range remoteMeta.Read() {
		if err := vb.EnsureVersion(noopEnvelopeVersion); err != nil {
			return fmt.Errorf("%w: remote-meta key registry: %w", crdterr.ErrVersionMismatch, err)
		}
		var k keys.Keys
		if err := msgpack.Unmarshal(vb.Payload(), &k); err != nil {
			return fmt.Errorf("%w: decoding key registry: %w", crdterr.ErrFramingInvalid, err)
		}
		merged.Merge(k)
	}
	return engine.SetKeys(ctx, merged)
}

func (e *noopEnvelope) SetKeys(ctx context.Context, k keys.Keys) error {
	payload, err := msgpack.Marshal(&k)
	if err != nil {
		return fmt.Errorf("encoding key registry: %w", err)
	}
	vb := vbytes.New(noopEnvelopeVersion, payload)

	e.mu.Lock()
	actor := e.actor
	engine := e.engine
	readCtx := e.remoteMeta.ReadCtx()
	writeCtx := readCtx.DeriveAddCtx(actor)
	op := e.remoteMeta.Write(vb, writeCtx)
	e.remoteMeta.Apply(op)
	remoteMeta := e.remoteMeta
	e.mu.Unlock()

	return engine.SetRemoteMetaKeyCryptor(ctx, remoteMeta)
}
