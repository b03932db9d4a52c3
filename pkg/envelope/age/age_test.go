package age

import (
	"context"
	"testing"

	"filippo.io/age"
	"github.com/google/uuid"

	"github.com/chpio/crdtstore/pkg/envelope"
	"github.com/chpio/crdtstore/pkg/keys"
	"github.com/chpio/crdtstore/pkg/vbytes"
)

// fakeEngine implements envelope.EngineHandle, recording whatever the
// Envelope under test last reported.
type fakeEngine struct {
	keys       keys.Keys
	remoteMeta envelope.RemoteMetaReg
}

func (f *fakeEngine) SetKeys(ctx context.Context, k keys.Keys) error {
	f.keys = k
	return nil
}

func (f *fakeEngine) SetRemoteMetaKeyCryptor(ctx context.Context, data envelope.RemoteMetaReg) error {
	f.remoteMeta = data
	return nil
}

func mustIdentity(t *testing.T) *age.X25519Identity {
	t.Helper()
	id, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("GenerateX25519Identity: %v", err)
	}
	return id
}

func TestRoundTripThroughSingleRecipient(t *testing.T) {
	ctx := context.Background()
	identity := mustIdentity(t)
	e := New([]age.Recipient{identity.Recipient()}, []age.Identity{identity})

	writer := &fakeEngine{}
	if err := e.Init(ctx, writer, uuid.New()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	var reg keys.Keys
	reg.InsertLatestKey(uuid.New(), keys.NewKey(vbytes.New(uuid.New(), []byte("material"))))

	if err := e.SetKeys(ctx, reg); err != nil {
		t.Fatalf("SetKeys: %v", err)
	}

	reader := &fakeEngine{}
	e2 := New([]age.Recipient{identity.Recipient()}, []age.Identity{identity})
	if err := e2.Init(ctx, reader, uuid.New()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := e2.SetRemoteMeta(ctx, writer.remoteMeta, true); err != nil {
		t.Fatalf("SetRemoteMeta: %v", err)
	}

	got, ok := reader.keys.LatestKey()
	if !ok {
		t.Fatalf("reader never recovered a latest key")
	}
	want, _ := reg.LatestKey()
	if got.ID != want.ID {
		t.Fatalf("LatestKey().ID = %s, want %s", got.ID, want.ID)
	}
}

func TestWrongIdentityCannotRecoverRegistry(t *testing.T) {
	ctx := context.Background()
	writerIdentity := mustIdentity(t)
	otherIdentity := mustIdentity(t)

	e := New([]age.Recipient{writerIdentity.Recipient()}, []age.Identity{writerIdentity})
	writer := &fakeEngine{}
	if err := e.Init(ctx, writer, uuid.New()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	var reg keys.Keys
	reg.InsertLatestKey(uuid.New(), keys.NewKey(vbytes.New(uuid.New(), []byte("material"))))
	if err := e.SetKeys(ctx, reg); err != nil {
		t.Fatalf("SetKeys: %v", err)
	}

	outsider := New(nil, []age.Identity{otherIdentity})
	reader := &fakeEngine{}
	if err := outsider.Init(ctx, reader, uuid.New()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := outsider.SetRemoteMeta(ctx, writer.remoteMeta, true); err != nil {
		t.Fatalf("SetRemoteMeta: %v", err)
	}

	if _, ok := reader.keys.LatestKey(); ok {
		t.Fatalf("outsider recovered a latest key it has no identity for")
	}
}
