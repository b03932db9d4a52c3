package fs

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/chpio/crdtstore/pkg/blobstore"
	"github.com/chpio/crdtstore/pkg/vbytes"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	s, err := New(filepath.Join(root, "local"), filepath.Join(root, "remote"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestLocalMetaMissingThenRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, ok, err := s.LoadLocalMeta(ctx)
	if err != nil {
		t.Fatalf("LoadLocalMeta: %v", err)
	}
	if ok {
		t.Fatalf("LoadLocalMeta() ok = true on empty store, want false")
	}

	want := vbytes.New(uuid.New(), []byte("local meta"))
	if err := s.StoreLocalMeta(ctx, want); err != nil {
		t.Fatalf("StoreLocalMeta: %v", err)
	}

	got, ok, err := s.LoadLocalMeta(ctx)
	if err != nil || !ok {
		t.Fatalf("LoadLocalMeta after store = %v, %v, %v", got, ok, err)
	}
	if got.Version() != want.Version() || string(got.Payload()) != string(want.Payload()) {
		t.Fatalf("LoadLocalMeta() = %+v, want %+v", got, want)
	}
}

func TestRemoteMetaStoreListLoadRemove(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	vb := vbytes.New(uuid.New(), []byte("remote meta content"))
	name, err := s.StoreRemoteMeta(ctx, vb)
	if err != nil {
		t.Fatalf("StoreRemoteMeta: %v", err)
	}

	names, err := s.ListRemoteMetaNames(ctx)
	if err != nil {
		t.Fatalf("ListRemoteMetaNames: %v", err)
	}
	if len(names) != 1 || names[0] != name {
		t.Fatalf("ListRemoteMetaNames() = %v, want [%s]", names, name)
	}

	loaded, err := s.LoadRemoteMetas(ctx, names)
	if err != nil {
		t.Fatalf("LoadRemoteMetas: %v", err)
	}
	if len(loaded) != 1 || string(loaded[0].Data.Payload()) != string(vb.Payload()) {
		t.Fatalf("LoadRemoteMetas() = %+v", loaded)
	}

	if err := s.RemoveRemoteMetas(ctx, names); err != nil {
		t.Fatalf("RemoveRemoteMetas: %v", err)
	}
	names, err = s.ListRemoteMetaNames(ctx)
	if err != nil {
		t.Fatalf("ListRemoteMetaNames after remove: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("ListRemoteMetaNames() after remove = %v, want empty", names)
	}

	// removing an already-missing name is not an error.
	if err := s.RemoveRemoteMetas(ctx, []string{"does-not-exist"}); err != nil {
		t.Fatalf("RemoveRemoteMetas(missing): %v", err)
	}
}

func TestStoreStateContentAddressedDedup(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	vb := vbytes.New(uuid.New(), []byte("same content"))
	name1, err := s.StoreState(ctx, vb)
	if err != nil {
		t.Fatalf("StoreState: %v", err)
	}
	name2, err := s.StoreState(ctx, vb)
	if err != nil {
		t.Fatalf("StoreState (again): %v", err)
	}
	if name1 != name2 {
		t.Fatalf("StoreState(same content) names differ: %s vs %s", name1, name2)
	}
}

func TestOpsDensePrefixAndNoOverwrite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	actor := uuid.New()

	v0 := vbytes.New(uuid.New(), []byte("op0"))
	v1 := vbytes.New(uuid.New(), []byte("op1"))
	if err := s.StoreOps(ctx, actor, 0, v0); err != nil {
		t.Fatalf("StoreOps(0): %v", err)
	}
	if err := s.StoreOps(ctx, actor, 1, v1); err != nil {
		t.Fatalf("StoreOps(1): %v", err)
	}

	if err := s.StoreOps(ctx, actor, 0, v1); err == nil {
		t.Fatalf("StoreOps overwrite = nil error, want refusal")
	}

	actors, err := s.ListOpActors(ctx)
	if err != nil {
		t.Fatalf("ListOpActors: %v", err)
	}
	if len(actors) != 1 || actors[0] != actor {
		t.Fatalf("ListOpActors() = %v, want [%s]", actors, actor)
	}

	loaded, err := s.LoadOps(ctx, []blobstore.OpEntry{{Actor: actor, Version: 0}})
	if err != nil {
		t.Fatalf("LoadOps: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("LoadOps() returned %d entries, want 2", len(loaded))
	}
	if loaded[0].Version != 0 || loaded[1].Version != 1 {
		t.Fatalf("LoadOps() versions = %d, %d, want 0, 1", loaded[0].Version, loaded[1].Version)
	}

	if err := s.RemoveOps(ctx, []blobstore.OpEntry{{Actor: actor, Version: 0}}); err != nil {
		t.Fatalf("RemoveOps: %v", err)
	}
	loaded, err = s.LoadOps(ctx, []blobstore.OpEntry{{Actor: actor, Version: 0}})
	if err != nil {
		t.Fatalf("LoadOps after remove: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("LoadOps() after removing version 0 = %v, want empty (gap stops the scan)", loaded)
	}
}

func TestListOpActorsEmptyWhenMissing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	actors, err := s.ListOpActors(ctx)
	if err != nil {
		t.Fatalf("ListOpActors: %v", err)
	}
	if len(actors) != 0 {
		t.Fatalf("ListOpActors() on fresh store = %v, want empty", actors)
	}
}

func TestNewRejectsRelativePaths(t *testing.T) {
	if _, err := New("relative/local", "/abs/remote"); err == nil {
		t.Fatalf("New(relative local) = nil error, want rejection")
	}
	if _, err := New("/abs/local", "relative/remote"); err == nil {
		t.Fatalf("New(relative remote) = nil error, want rejection")
	}
}
