// Package age implements the reference Envelope capability using
// filippo.io/age X25519 recipients/identities, the Go counterpart of the
// crdt-enc-gpgme crate's KeyHandler (generalized from GPG fingerprints to
// age recipients).
package age

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"filippo.io/age"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/chpio/crdtstore/pkg/crdterr"
	"github.com/chpio/crdtstore/pkg/envelope"
	"github.com/chpio/crdtstore/pkg/keys"
	"github.com/chpio/crdtstore/pkg/vbytes"
)

// envelopeVersion tags every age-wrapped, msgpack-encoded Keys blob this
// capability writes.
var envelopeVersion = uuid.MustParse("2e9f9a2d-8e21-4d2a-9d0b-9b6d6c1b9b41")

var supportedVersions = []uuid.UUID{envelopeVersion}

type mutData struct {
	engine     envelope.EngineHandle
	actor      uuid.UUID
	remoteMeta envelope.RemoteMetaReg
}

// Envelope implements envelope.Envelope by wrapping each actor's copy of
// the Keys registry to a fixed set of age recipients. Decryption is only
// possible for actors holding one of the configured identities.
type Envelope struct {
	recipients []age.Recipient
	identities []age.Identity

	mu   sync.Mutex
	data mutData
}

// New returns an Envelope that encrypts to recipients and, when
// decrypting a remote-meta entry, tries each of identities in turn.
// identities may be empty for a write-only participant.
func New(recipients []age.Recipient, identities []age.Identity) *Envelope {
	return &Envelope{recipients: recipients, identities: identities}
}

var _ envelope.Envelope = (*Envelope)(nil)

func (e *Envelope) Init(ctx context.Context, engine envelope.EngineHandle, actor uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.data.engine = engine
	e.data.actor = actor
	return nil
}

func (e *Envelope) SetRemoteMeta(ctx context.Context, data envelope.RemoteMetaReg, ok bool) error {
	e.mu.Lock()
	if ok {
		e.data.remoteMeta.Merge(data)
	}
	remoteMeta := e.data.remoteMeta
	engine := e.data.engine
	e.mu.Unlock()

	merged, err := e.mergeAllDecryptable(remoteMeta)
	if err != nil {
		return err
	}

	return engine.SetKeys(ctx, merged)
}

func (e *Envelope) mergeAllDecryptable(remoteMeta envelope.RemoteMetaReg) (keys.Keys, error) {
	var merged keys.Keys
	for _, vb := range remoteMeta.Read() {
		k, ok, err := e.unwrap(vb)
		if err != nil {
			return keys.Keys{}, err
		}
		if !ok {
			continue
		}
		merged.Merge(k)
	}
	return merged, nil
}

func (e *Envelope) unwrap(vb vbytes.VersionBytes) (keys.Keys, bool, error) {
	if err := vb.EnsureVersions(supportedVersions); err != nil {
		return keys.Keys{}, false, fmt.Errorf("%w: remote-meta envelope: %w", crdterr.ErrVersionMismatch, err)
	}
	if len(e.identities) == 0 {
		return keys.Keys{}, false, nil
	}

	r, err := age.Decrypt(bytes.NewReader(vb.Payload()), e.identities...)
	if err != nil {
		// none of our identities can open this entry; that's expected
		// for entries written for other actors, not an error.
		return keys.Keys{}, false, nil
	}

	clearText, err := io.ReadAll(r)
	if err != nil {
		return keys.Keys{}, false, fmt.Errorf("%w: reading decrypted key registry: %w", crdterr.ErrIntegrity, err)
	}

	var k keys.Keys
	if err := msgpack.Unmarshal(clearText, &k); err != nil {
		return keys.Keys{}, false, fmt.Errorf("%w: decoding key registry: %w", crdterr.ErrFramingInvalid, err)
	}
	return k, true, nil
}

func (e *Envelope) SetKeys(ctx context.Context, k keys.Keys) error {
	clearText, err := msgpack.Marshal(&k)
	if err != nil {
		return fmt.Errorf("encoding key registry: %w", err)
	}

	var encBuf bytes.Buffer
	w, err := age.Encrypt(&encBuf, e.recipients...)
	if err != nil {
		return fmt.Errorf("constructing age envelope: %w", err)
	}
	if _, err := w.Write(clearText); err != nil {
		return fmt.Errorf("writing key registry to age envelope: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing age envelope: %w", err)
	}

	vb := vbytes.New(envelopeVersion, encBuf.Bytes())

	e.mu.Lock()
	actor := e.data.actor
	engine := e.data.engine
	readCtx := e.data.remoteMeta.ReadCtx()
	writeCtx := readCtx.DeriveAddCtx(actor)
	op := e.data.remoteMeta.Write(vb, writeCtx)
	e.data.remoteMeta.Apply(op)
	remoteMeta := e.data.remoteMeta
	e.mu.Unlock()

	return engine.SetRemoteMetaKeyCryptor(ctx, remoteMeta)
}
