// Package xchacha20 implements the reference Cipher capability using
// XChaCha20-Poly1305, the Go counterpart of the crdt-enc-xchacha20poly1305
// crate.
package xchacha20

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/chpio/crdtstore/pkg/cipher"
	"github.com/chpio/crdtstore/pkg/crdterr"
	"github.com/chpio/crdtstore/pkg/vbytes"
	"github.com/chpio/crdtstore/pkg/workpool"
)

// dataVersion and keyVersion are fixed identifiers for this cipher's wire
// shapes, distinct from the replica engine's own CURRENT_VERSION.
var (
	dataVersion = uuid.MustParse("c7f269be-0ff5-4a77-99c3-7c23c96d5cb4")
	keyVersion  = uuid.MustParse("5df28591-439a-4cef-8ca6-8433276cc9ed")
)

const (
	keyLen   = chacha20poly1305.KeySize   // 32
	nonceLen = chacha20poly1305.NonceSizeX // 24
)

// Cipher implements cipher.Cipher with XChaCha20-Poly1305, dispatching
// every blocking operation onto a bounded workpool.Pool rather than
// running it on the caller's goroutine, mirroring the source's
// spawn_blocking dispatch.
type Cipher struct {
	pool *workpool.Pool
}

// New returns a Cipher whose encrypt/decrypt/gen-key calls run on a pool
// of the given size. A size of 0 or less defaults to runtime.GOMAXPROCS(0).
func New(poolSize int) *Cipher {
	return &Cipher{pool: workpool.New(poolSize)}
}

var _ cipher.Cipher = (*Cipher)(nil)

func (c *Cipher) Init(ctx context.Context, engine cipher.EngineHandle) error {
	return nil
}

func (c *Cipher) SetRemoteMeta(ctx context.Context, data cipher.RemoteMetaReg, ok bool) error {
	return nil
}

func (c *Cipher) GenKey(ctx context.Context) (vbytes.VersionBytes, error) {
	return workpool.Run(ctx, c.pool, func() (vbytes.VersionBytes, error) {
		key := make([]byte, keyLen)
		if _, err := rand.Read(key); err != nil {
			return vbytes.VersionBytes{}, fmt.Errorf("generating symmetric key: %w", err)
		}
		return vbytes.New(keyVersion, key), nil
	})
}

func (c *Cipher) Encrypt(ctx context.Context, key vbytes.VersionBytes, clearText []byte) (vbytes.VersionBytes, error) {
	if err := key.EnsureVersion(keyVersion); err != nil {
		return vbytes.VersionBytes{}, fmt.Errorf("%w: not a matching key version: %w", crdterr.ErrVersionMismatch, err)
	}
	if len(key.Payload()) != keyLen {
		return vbytes.VersionBytes{}, fmt.Errorf("%w: invalid key length %d", crdterr.ErrFramingInvalid, len(key.Payload()))
	}
	keyBytes := key.Payload()

	return workpool.Run(ctx, c.pool, func() (vbytes.VersionBytes, error) {
		aead, err := chacha20poly1305.NewX(keyBytes)
		if err != nil {
			return vbytes.VersionBytes{}, fmt.Errorf("constructing AEAD: %w", err)
		}

		nonce := make([]byte, nonceLen)
		if _, err := rand.Read(nonce); err != nil {
			return vbytes.VersionBytes{}, fmt.Errorf("generating nonce: %w", err)
		}

		encData := aead.Seal(nil, nonce, clearText, nil)
		box := encBox{Nonce: nonce, EncData: encData}
		boxBytes, err := msgpack.Marshal(&box)
		if err != nil {
			return vbytes.VersionBytes{}, fmt.Errorf("encoding encryption box: %w", err)
		}
		return vbytes.New(dataVersion, boxBytes), nil
	})
}

func (c *Cipher) Decrypt(ctx context.Context, key vbytes.VersionBytes, encData vbytes.VersionBytes) ([]byte, error) {
	if err := key.EnsureVersion(keyVersion); err != nil {
		return nil, fmt.Errorf("%w: not a matching key version: %w", crdterr.ErrVersionMismatch, err)
	}
	if len(key.Payload()) != keyLen {
		return nil, fmt.Errorf("%w: invalid key length %d", crdterr.ErrFramingInvalid, len(key.Payload()))
	}
	if err := encData.EnsureVersion(dataVersion); err != nil {
		return nil, fmt.Errorf("%w: not a matching encryption box version: %w", crdterr.ErrVersionMismatch, err)
	}
	keyBytes := key.Payload()
	boxPayload := encData.Payload()

	return workpool.Run(ctx, c.pool, func() ([]byte, error) {
		var box encBox
		if err := msgpack.Unmarshal(boxPayload, &box); err != nil {
			return nil, fmt.Errorf("%w: failed to parse encryption box: %w", crdterr.ErrFramingInvalid, err)
		}
		if len(box.Nonce) != nonceLen {
			return nil, fmt.Errorf("%w: invalid nonce length %d", crdterr.ErrFramingInvalid, len(box.Nonce))
		}

		aead, err := chacha20poly1305.NewX(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("constructing AEAD: %w", err)
		}

		clearText, err := aead.Open(nil, box.Nonce, box.EncData, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: decryption failed: %w", crdterr.ErrIntegrity, err)
		}
		return clearText, nil
	})
}

type encBox struct {
	Nonce   []byte `msgpack:"nonce"`
	EncData []byte `msgpack:"enc_data"`
}
