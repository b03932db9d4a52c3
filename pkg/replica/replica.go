// Package replica implements the replica engine (Core): the concurrency-safe
// state machine that loads, merges, encrypts, stores, and compacts CRDT
// state, ops, and the independent pieces of metadata. It is the Go
// counterpart of the crdt-enc crate's Core struct in lib.rs.
package replica

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	"go4.org/syncutil"
	"golang.org/x/sync/errgroup"

	"github.com/chpio/crdtstore/pkg/blobstore"
	"github.com/chpio/crdtstore/pkg/cipher"
	"github.com/chpio/crdtstore/pkg/crdt"
	"github.com/chpio/crdtstore/pkg/crdterr"
	"github.com/chpio/crdtstore/pkg/envelope"
	"github.com/chpio/crdtstore/pkg/keys"
	"github.com/chpio/crdtstore/pkg/vbytes"
)

// fanoutConcurrency bounds how many state/op blobs are decrypted in
// flight at once, the Go analogue of the source's buffer_unordered(16)
// (widened to match the blob store's own fan-out gate).
const fanoutConcurrency = 32

// engineVersion tags every local meta and remote meta blob this engine
// writes, distinct from the caller's own data version and from whatever
// version tag the configured Cipher assigns its ciphertext. It is the Go
// counterpart of the source's CURRENT_VERSION.
var engineVersion = uuid.MustParse("e834d789-101b-4634-9823-9de990a9051f")

var supportedEngineVersions = []uuid.UUID{engineVersion}

// StateOps is implemented by *T for the user's CRDT state type T: it
// merges with itself (CvRDT) and applies single ops (CmRDT), the Go
// analogue of Rust's CmRDT + CvRDT bound on S. It is expressed as the
// pointer type rather than T directly so that T's zero value is always a
// valid, allocation-free starting state — Merge/Apply only ever need a
// pointer receiver to mutate it in place; Core never has to construct a
// fresh T from nothing.
type StateOps[T any, Op any] interface {
	*T
	Merge(other T)
	Apply(op Op)
}

// Info is returned from Open and identifies the local replica.
type Info struct {
	Actor uuid.UUID
}

// OpenOptions configures Open.
type OpenOptions[T any, Op any, S StateOps[T, Op]] struct {
	Storage  blobstore.Store
	Cipher   cipher.Cipher
	Envelope envelope.Envelope

	// Create, if true, allows Open to initialize a brand-new replica
	// (generating a local actor id and a first symmetric key) when no
	// local meta exists yet.
	Create bool

	// SupportedDataVersions gates the user state's own wire version, not
	// the engine's internal framing. It need not be sorted; Open sorts it.
	SupportedDataVersions []uuid.UUID
	CurrentDataVersion    uuid.UUID
}

type localMeta struct {
	LocalActorID uuid.UUID
}

// remoteMetaReg is the MVReg shape shared by every capability's
// remote-meta slot.
type remoteMetaReg = crdt.MVReg[vbytes.VersionBytes, uuid.UUID]

// remoteMeta aggregates the per-capability remote-meta slots into the one
// blob actually persisted. There is no Storage slot: the blobstore.Store
// capability takes no part in the remote-meta exchange.
type remoteMeta struct {
	Cipher     remoteMetaReg
	KeyCryptor remoteMetaReg
}

func (m *remoteMeta) Merge(other remoteMeta) {
	m.Cipher.Merge(other.Cipher)
	m.KeyCryptor.Merge(other.KeyCryptor)
}

type stateWrapper[T any] struct {
	NextOpVersions crdt.VClock[uuid.UUID]
	State          T
}

type coreState[T any] struct {
	localMeta       *localMeta
	remoteMeta      remoteMeta
	keys            keys.Keys
	state           stateWrapper[T]
	readStates      map[string]struct{}
	readRemoteMetas map[string]struct{}
}

// Core is the replica engine. It is safe for concurrent use; every
// exported method acquires the record lock (mu) only for the duration of
// an in-memory snapshot/commit, never across a blocking storage or
// capability call. The separate applyOpsMu, which serializes ApplyOps, is
// held across that method's StoreOps write.
type Core[T any, Op any, S StateOps[T, Op]] struct {
	storage  blobstore.Store
	cipher   cipher.Cipher
	envelope envelope.Envelope

	supportedDataVersions []uuid.UUID
	currentDataVersion    uuid.UUID

	gate *syncutil.Gate

	// mu guards data. It is held only to snapshot or commit in-memory
	// state, never across I/O — the Go analogue of the source's
	// std::sync::Mutex chosen specifically because "we are holding it
	// for a very short time and do not .await while the lock is held."
	mu   sync.Mutex
	data coreState[T]

	// applyOpsMu serializes ApplyOps calls and is held across the
	// durable StoreOps write, matching the source's separate
	// apply_ops_lock: AsyncMutex<()>.
	applyOpsMu sync.Mutex
}

// Open loads or creates a replica: it wires the capabilities to this
// engine, loads local meta (creating one plus a first symmetric key if
// options.Create is set and none exists), reads whatever remote meta is
// currently available, and ensures a latest key exists before returning.
func Open[T any, Op any, S StateOps[T, Op]](ctx context.Context, opts OpenOptions[T, Op, S]) (*Core[T, Op, S], Info, error) {
	supported := append([]uuid.UUID(nil), opts.SupportedDataVersions...)
	vbytes.SortVersions(supported)

	core := &Core[T, Op, S]{
		storage:               opts.Storage,
		cipher:                opts.Cipher,
		envelope:              opts.Envelope,
		supportedDataVersions: supported,
		currentDataVersion:    opts.CurrentDataVersion,
		gate:                  syncutil.NewGate(fanoutConcurrency),
		data: coreState[T]{
			readStates:      make(map[string]struct{}),
			readRemoteMetas: make(map[string]struct{}),
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return core.cipher.Init(gctx, core) })
	g.Go(func() error { return core.envelope.Init(gctx, core, uuid.Nil) })
	if err := g.Wait(); err != nil {
		return nil, Info{}, fmt.Errorf("initializing capabilities: %w", err)
	}

	lm, err := core.loadOrCreateLocalMeta(ctx, opts.Create)
	if err != nil {
		return nil, Info{}, err
	}

	info := Info{Actor: lm.LocalActorID}

	if _, err := withData(core, func(d *coreState[T]) (struct{}, error) {
		d.localMeta = lm
		return struct{}{}, nil
	}); err != nil {
		return nil, Info{}, err
	}

	// Re-init the envelope now that the local actor id is known: it needs
	// the actor to derive its own MVReg write context.
	if err := core.envelope.Init(ctx, core, info.Actor); err != nil {
		return nil, Info{}, fmt.Errorf("initializing envelope capability: %w", err)
	}

	if err := core.readRemoteMeta(ctx, true); err != nil {
		return nil, Info{}, fmt.Errorf("reading remote meta at open: %w", err)
	}

	needsKey, err := withData(core, func(d *coreState[T]) (bool, error) {
		_, ok := d.keys.LatestKey()
		return !ok, nil
	})
	if err != nil {
		return nil, Info{}, err
	}

	if needsKey {
		newKeyMaterial, err := core.cipher.GenKey(ctx)
		if err != nil {
			return nil, Info{}, fmt.Errorf("generating first symmetric key: %w", err)
		}

		updatedKeys, err := withData(core, func(d *coreState[T]) (keys.Keys, error) {
			d.keys.InsertLatestKey(info.Actor, keys.NewKey(newKeyMaterial))
			return d.keys, nil
		})
		if err != nil {
			return nil, Info{}, err
		}

		if err := core.envelope.SetKeys(ctx, updatedKeys); err != nil {
			return nil, Info{}, fmt.Errorf("wrapping first key: %w", err)
		}
	}

	return core, info, nil
}

func (c *Core[T, Op, S]) loadOrCreateLocalMeta(ctx context.Context, create bool) (*localMeta, error) {
	vb, ok, err := c.storage.LoadLocalMeta(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading local meta: %w", err)
	}
	if ok {
		if err := vb.EnsureVersions(supportedEngineVersions); err != nil {
			return nil, fmt.Errorf("%w: local meta: %w", crdterr.ErrVersionMismatch, err)
		}
		var lm localMeta
		if err := msgpack.Unmarshal(vb.Payload(), &lm); err != nil {
			return nil, fmt.Errorf("%w: parsing local meta: %w", crdterr.ErrFramingInvalid, err)
		}
		return &lm, nil
	}

	if !create {
		return nil, crdterr.ErrLocalMetaMissing
	}

	lm := localMeta{LocalActorID: uuid.New()}
	payload, err := msgpack.Marshal(&lm)
	if err != nil {
		return nil, fmt.Errorf("encoding local meta: %w", err)
	}
	if err := c.storage.StoreLocalMeta(ctx, vbytes.New(engineVersion, payload)); err != nil {
		return nil, fmt.Errorf("storing local meta: %w", err)
	}
	return &lm, nil
}

// withData runs f while holding c.mu, for the minimal time needed to
// snapshot or commit in-memory state. f MUST NOT perform I/O or call back
// into Core. It is a free function, not a method, because a Go method
// cannot declare its own type parameters beyond the receiver's.
func withData[T any, Op any, S StateOps[T, Op], R any](c *Core[T, Op, S], f func(d *coreState[T]) (R, error)) (R, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return f(&c.data)
}

// SetRemoteMetaCipher implements cipher.EngineHandle.
func (c *Core[T, Op, S]) SetRemoteMetaCipher(ctx context.Context, data cipher.RemoteMetaReg) error {
	if _, err := withData(c, func(d *coreState[T]) (struct{}, error) {
		d.remoteMeta.Cipher.Merge(data)
		return struct{}{}, nil
	}); err != nil {
		return err
	}
	return c.storeRemoteMeta(ctx)
}

// SetKeys implements envelope.EngineHandle.
func (c *Core[T, Op, S]) SetKeys(ctx context.Context, k keys.Keys) error {
	_, err := withData(c, func(d *coreState[T]) (struct{}, error) {
		d.keys.Merge(k)
		return struct{}{}, nil
	})
	return err
}

// SetRemoteMetaKeyCryptor implements envelope.EngineHandle.
func (c *Core[T, Op, S]) SetRemoteMetaKeyCryptor(ctx context.Context, data envelope.RemoteMetaReg) error {
	if _, err := withData(c, func(d *coreState[T]) (struct{}, error) {
		d.remoteMeta.KeyCryptor.Merge(data)
		return struct{}{}, nil
	}); err != nil {
		return err
	}
	return c.storeRemoteMeta(ctx)
}

// storeRemoteMeta persists the current merged remote-meta snapshot under a
// fresh name and removes every previously-known name: remote meta blobs
// are born on every write and die the moment a successor is durable.
func (c *Core[T, Op, S]) storeRemoteMeta(ctx context.Context) error {
	payload, err := withData(c, func(d *coreState[T]) ([]byte, error) {
		b, err := msgpack.Marshal(&d.remoteMeta)
		if err != nil {
			return nil, fmt.Errorf("encoding remote meta: %w", err)
		}
		return b, nil
	})
	if err != nil {
		return err
	}

	newName, err := c.storage.StoreRemoteMeta(ctx, vbytes.New(engineVersion, payload))
	if err != nil {
		return fmt.Errorf("storing remote meta: %w", err)
	}

	toRemove, err := withData(c, func(d *coreState[T]) ([]string, error) {
		names := make([]string, 0, len(d.readRemoteMetas))
		for n := range d.readRemoteMetas {
			names = append(names, n)
		}
		d.readRemoteMetas = map[string]struct{}{newName: {}}
		return names, nil
	})
	if err != nil {
		return err
	}

	if err := c.storage.RemoveRemoteMetas(ctx, toRemove); err != nil {
		return fmt.Errorf("removing superseded remote meta: %w", err)
	}
	return nil
}

// readRemoteMeta pulls in every not-yet-seen remote-meta blob, merges it,
// and notifies the capabilities. When forceNotify is set, the
// capabilities are notified even if nothing new was found (ok=false),
// which Open uses to give every capability a chance to observe whatever
// remote meta already existed before this replica wrote anything of its
// own.
func (c *Core[T, Op, S]) readRemoteMeta(ctx context.Context, forceNotify bool) error {
	names, err := c.storage.ListRemoteMetaNames(ctx)
	if err != nil {
		return fmt.Errorf("listing remote meta names: %w", err)
	}

	toRead, err := withData(c, func(d *coreState[T]) ([]string, error) {
		var unread []string
		for _, n := range names {
			if _, ok := d.readRemoteMetas[n]; !ok {
				unread = append(unread, n)
			}
		}
		return unread, nil
	})
	if err != nil {
		return err
	}

	blobs, err := c.storage.LoadRemoteMetas(ctx, toRead)
	if err != nil {
		return fmt.Errorf("loading remote meta: %w", err)
	}

	type parsedMeta struct {
		name string
		meta remoteMeta
	}
	parsed := make([]parsedMeta, 0, len(blobs))
	for _, b := range blobs {
		if err := b.Data.EnsureVersions(supportedEngineVersions); err != nil {
			return fmt.Errorf("%w: remote meta %s: %w", crdterr.ErrVersionMismatch, b.Name, err)
		}
		var rm remoteMeta
		if err := msgpack.Unmarshal(b.Data.Payload(), &rm); err != nil {
			return fmt.Errorf("%w: parsing remote meta %s: %w", crdterr.ErrFramingInvalid, b.Name, err)
		}
		parsed = append(parsed, parsedMeta{name: b.Name, meta: rm})
	}

	haveNew := len(parsed) > 0
	var snapshot remoteMeta
	if haveNew {
		snapshot, err = withData(c, func(d *coreState[T]) (remoteMeta, error) {
			for _, p := range parsed {
				d.remoteMeta.Merge(p.meta)
				d.readRemoteMetas[p.name] = struct{}{}
			}
			return d.remoteMeta, nil
		})
		if err != nil {
			return err
		}
	}

	if !haveNew && !forceNotify {
		return nil
	}

	notifyGroup, gctx := errgroup.WithContext(ctx)
	notifyGroup.Go(func() error { return c.cipher.SetRemoteMeta(gctx, snapshot.Cipher, haveNew) })
	notifyGroup.Go(func() error { return c.envelope.SetRemoteMeta(gctx, snapshot.KeyCryptor, haveNew) })
	return notifyGroup.Wait()
}

// ReadRemote pulls in every not-yet-seen remote state and op blob and
// merges them into the local state.
func (c *Core[T, Op, S]) ReadRemote(ctx context.Context) error {
	if _, err := c.readRemoteStates(ctx); err != nil {
		return err
	}
	if _, err := c.readRemoteOps(ctx); err != nil {
		return err
	}
	return nil
}

func (c *Core[T, Op, S]) readRemoteStates(ctx context.Context) (bool, error) {
	names, err := c.storage.ListStateNames(ctx)
	if err != nil {
		return false, fmt.Errorf("listing state names: %w", err)
	}

	type readPlan struct {
		toRead []string
		key    keys.Key
	}
	plan, err := withData(c, func(d *coreState[T]) (readPlan, error) {
		var toRead []string
		for _, n := range names {
			if _, ok := d.readStates[n]; !ok {
				toRead = append(toRead, n)
			}
		}
		key, ok := d.keys.LatestKey()
		if !ok {
			return readPlan{}, crdterr.ErrNoLatestKey
		}
		return readPlan{toRead: toRead, key: key}, nil
	})
	if err != nil {
		return false, err
	}

	blobs, err := c.storage.LoadStates(ctx, plan.toRead)
	if err != nil {
		return false, fmt.Errorf("loading states: %w", err)
	}

	type decodedState struct {
		name  string
		state stateWrapper[T]
	}
	decoded := make([]decodedState, len(blobs))
	g, gctx := errgroup.WithContext(ctx)
	for i, b := range blobs {
		i, b := i, b
		g.Go(func() error {
			c.gate.Start()
			defer c.gate.Done()

			clearText, err := c.cipher.Decrypt(gctx, plan.key.Material, b.Data)
			if err != nil {
				return fmt.Errorf("decrypting state %s: %w", b.Name, err)
			}
			vb, err := vbytes.FromSlice(clearText)
			if err != nil {
				return fmt.Errorf("%w: parsing state %s: %w", crdterr.ErrFramingInvalid, b.Name, err)
			}
			if err := vb.EnsureVersions(c.supportedDataVersions); err != nil {
				return fmt.Errorf("%w: state %s: %w", crdterr.ErrVersionMismatch, b.Name, err)
			}
			var sw stateWrapper[T]
			if err := msgpack.Unmarshal(vb.Payload(), &sw); err != nil {
				return fmt.Errorf("%w: decoding state %s: %w", crdterr.ErrFramingInvalid, b.Name, err)
			}
			decoded[i] = decodedState{name: b.Name, state: sw}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}

	statesRead := len(decoded) > 0
	if _, err := withData(c, func(d *coreState[T]) (struct{}, error) {
		for _, r := range decoded {
			S(&d.state.State).Merge(r.state.State)
			d.state.NextOpVersions.Merge(r.state.NextOpVersions)
			d.readStates[r.name] = struct{}{}
		}
		return struct{}{}, nil
	}); err != nil {
		return false, err
	}
	return statesRead, nil
}

func (c *Core[T, Op, S]) readRemoteOps(ctx context.Context) (bool, error) {
	actors, err := c.storage.ListOpActors(ctx)
	if err != nil {
		return false, fmt.Errorf("listing op actors: %w", err)
	}

	type readPlan struct {
		entries []blobstore.OpEntry
		key     keys.Key
	}
	plan, err := withData(c, func(d *coreState[T]) (readPlan, error) {
		entries := make([]blobstore.OpEntry, len(actors))
		for i, a := range actors {
			entries[i] = blobstore.OpEntry{Actor: a, Version: d.state.NextOpVersions.Get(a)}
		}
		key, ok := d.keys.LatestKey()
		if !ok {
			return readPlan{}, crdterr.ErrNoLatestKey
		}
		return readPlan{entries: entries, key: key}, nil
	})
	if err != nil {
		return false, err
	}

	namedOps, err := c.storage.LoadOps(ctx, plan.entries)
	if err != nil {
		return false, fmt.Errorf("loading ops: %w", err)
	}

	type decodedOps struct {
		actor   uuid.UUID
		version uint64
		ops     []Op
	}
	decoded := make([]decodedOps, len(namedOps))
	g, gctx := errgroup.WithContext(ctx)
	for i, no := range namedOps {
		i, no := i, no
		g.Go(func() error {
			c.gate.Start()
			defer c.gate.Done()

			clearText, err := c.cipher.Decrypt(gctx, plan.key.Material, no.Data)
			if err != nil {
				return fmt.Errorf("decrypting op %s/%d: %w", no.Actor, no.Version, err)
			}
			vb, err := vbytes.FromSlice(clearText)
			if err != nil {
				return fmt.Errorf("%w: parsing op %s/%d: %w", crdterr.ErrFramingInvalid, no.Actor, no.Version, err)
			}
			if err := vb.EnsureVersions(c.supportedDataVersions); err != nil {
				return fmt.Errorf("%w: op %s/%d: %w", crdterr.ErrVersionMismatch, no.Actor, no.Version, err)
			}
			var ops []Op
			if err := msgpack.Unmarshal(vb.Payload(), &ops); err != nil {
				return fmt.Errorf("%w: decoding op %s/%d: %w", crdterr.ErrFramingInvalid, no.Actor, no.Version, err)
			}
			decoded[i] = decodedOps{actor: no.Actor, version: no.Version, ops: ops}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}

	return withData(c, func(d *coreState[T]) (bool, error) {
		opsRead := false
		for _, do := range decoded {
			expected := d.state.NextOpVersions.Get(do.actor)
			if do.version < expected {
				// already applied by a concurrent caller; harmless.
				continue
			}
			if expected < do.version {
				return false, fmt.Errorf("%w: op actor %s expected version %d, got %d", crdterr.ErrPrecondition, do.actor, expected, do.version)
			}
			for _, op := range do.ops {
				S(&d.state.State).Apply(op)
			}
			inc := d.state.NextOpVersions.Inc(do.actor)
			d.state.NextOpVersions.Apply(inc)
			opsRead = true
		}
		return opsRead, nil
	})
}

// ApplyOps encrypts and durably stores ops as the local actor's next op
// blob, then applies them to the local state. Concurrent ApplyOps calls
// on the same Core are serialized against each other.
func (c *Core[T, Op, S]) ApplyOps(ctx context.Context, ops []Op) error {
	c.applyOpsMu.Lock()
	defer c.applyOpsMu.Unlock()

	payload, err := msgpack.Marshal(ops)
	if err != nil {
		return fmt.Errorf("encoding ops: %w", err)
	}
	framedClear := vbytes.New(c.currentDataVersion, payload)

	key, err := withData(c, func(d *coreState[T]) (keys.Key, error) {
		k, ok := d.keys.LatestKey()
		if !ok {
			return keys.Key{}, crdterr.ErrNoLatestKey
		}
		return k, nil
	})
	if err != nil {
		return err
	}

	encData, err := c.cipher.Encrypt(ctx, key.Material, framedClear.Bytes())
	if err != nil {
		return fmt.Errorf("encrypting ops: %w", err)
	}

	type target struct {
		actor   uuid.UUID
		version uint64
	}
	tgt, err := withData(c, func(d *coreState[T]) (target, error) {
		if d.localMeta == nil {
			return target{}, crdterr.ErrNotOpen
		}
		actor := d.localMeta.LocalActorID
		return target{actor: actor, version: d.state.NextOpVersions.Get(actor)}, nil
	})
	if err != nil {
		return err
	}

	if err := c.storage.StoreOps(ctx, tgt.actor, tgt.version, encData); err != nil {
		return fmt.Errorf("storing ops: %w", err)
	}

	_, err = withData(c, func(d *coreState[T]) (struct{}, error) {
		for _, op := range ops {
			S(&d.state.State).Apply(op)
		}
		inc := d.state.NextOpVersions.Inc(tgt.actor)
		d.state.NextOpVersions.Apply(inc)
		return struct{}{}, nil
	})
	return err
}

// Compact reads in whatever remote state exists, then collapses the
// local state and every op it has consumed so far into one new encrypted
// state snapshot, removing the superseded snapshots and the full,
// now-redundant dense op-log prefix for every actor.
func (c *Core[T, Op, S]) Compact(ctx context.Context) error {
	if err := c.ReadRemote(ctx); err != nil {
		return err
	}

	type plan struct {
		clearPayload   []byte
		statesToRemove []string
		opsToRemove    []blobstore.OpEntry
		key            keys.Key
	}
	p, err := withData(c, func(d *coreState[T]) (plan, error) {
		payload, err := msgpack.Marshal(&d.state)
		if err != nil {
			return plan{}, fmt.Errorf("encoding state snapshot: %w", err)
		}

		statesToRemove := make([]string, 0, len(d.readStates))
		for n := range d.readStates {
			statesToRemove = append(statesToRemove, n)
		}

		var opsToRemove []blobstore.OpEntry
		for _, dot := range d.state.NextOpVersions.Dots() {
			for v := uint64(0); v < dot.Counter; v++ {
				opsToRemove = append(opsToRemove, blobstore.OpEntry{Actor: dot.Actor, Version: v})
			}
		}

		key, ok := d.keys.LatestKey()
		if !ok {
			return plan{}, crdterr.ErrNoLatestKey
		}

		return plan{clearPayload: payload, statesToRemove: statesToRemove, opsToRemove: opsToRemove, key: key}, nil
	})
	if err != nil {
		return err
	}

	framedClear := vbytes.New(c.currentDataVersion, p.clearPayload)
	encData, err := c.cipher.Encrypt(ctx, p.key.Material, framedClear.Bytes())
	if err != nil {
		return fmt.Errorf("encrypting state snapshot: %w", err)
	}

	newStateName, err := c.storage.StoreState(ctx, encData)
	if err != nil {
		return fmt.Errorf("storing compacted state: %w", err)
	}

	var removedStates []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		removed, err := c.storage.RemoveStates(gctx, p.statesToRemove)
		removedStates = removed
		return err
	})
	g.Go(func() error { return c.storage.RemoveOps(gctx, p.opsToRemove) })
	if err := g.Wait(); err != nil {
		return fmt.Errorf("removing superseded blobs: %w", err)
	}

	_, err = withData(c, func(d *coreState[T]) (struct{}, error) {
		for _, removed := range removedStates {
			delete(d.readStates, removed)
		}
		d.readStates[newStateName] = struct{}{}
		return struct{}{}, nil
	})
	return err
}

// WithState runs f with a read-only snapshot of the current merged
// state, holding the engine's mutex for the duration of the call. f must
// not call back into c.
func (c *Core[T, Op, S]) WithState(f func(state T) error) error {
	_, err := withData(c, func(d *coreState[T]) (struct{}, error) {
		return struct{}{}, f(d.state.State)
	})
	return err
}
