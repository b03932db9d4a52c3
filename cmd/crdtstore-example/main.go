// Command crdtstore-example is the thin reference host: it opens a
// replica over counterset.State using the filesystem blob store, the
// XChaCha20-Poly1305 cipher, and an age-wrapped key envelope, reads
// whatever remote state already exists, derives and applies one write,
// and prints the merged result. It is the Go counterpart of the
// crdt-enc workspace's examples/test binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"filippo.io/age"
	"github.com/google/uuid"

	"github.com/chpio/crdtstore/internal/osutil"
	"github.com/chpio/crdtstore/pkg/blobstore/fs"
	"github.com/chpio/crdtstore/pkg/cipher/xchacha20"
	"github.com/chpio/crdtstore/pkg/counterset"
	ageenvelope "github.com/chpio/crdtstore/pkg/envelope/age"
	"github.com/chpio/crdtstore/pkg/replica"
)

// currentDataVersion identifies the wire shape of counterset.State's
// clear-text encoding. A real deployment would bump this on any
// incompatible change; this example only ever writes one version.
var currentDataVersion = uuid.MustParse("00000000-0000-0000-0000-000000000001")

func main() {
	dataDir := flag.String("data-dir", osutil.DefaultDataDir(), "directory for local and remote replica state")
	flag.Parse()

	if err := run(*dataDir); err != nil {
		log.Fatal(err)
	}
}

func run(dataDir string) error {
	ctx := context.Background()

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return fmt.Errorf("resolving data dir: %w", err)
	}

	storage, err := fs.New(filepath.Join(absDataDir, "local"), filepath.Join(absDataDir, "remote"))
	if err != nil {
		return fmt.Errorf("opening blob store: %w", err)
	}

	identity, err := loadOrCreateIdentity(filepath.Join(absDataDir, "identity.txt"))
	if err != nil {
		return fmt.Errorf("loading age identity: %w", err)
	}
	envelope := ageenvelope.New([]age.Recipient{identity.Recipient()}, []age.Identity{identity})

	openOptions := replica.OpenOptions[counterset.State, counterset.Op, *counterset.State]{
		Storage:               storage,
		Cipher:                xchacha20.New(0),
		Envelope:              envelope,
		Create:                true,
		SupportedDataVersions: []uuid.UUID{currentDataVersion},
		CurrentDataVersion:    currentDataVersion,
	}

	repo, info, err := replica.Open(ctx, openOptions)
	if err != nil {
		return fmt.Errorf("opening replica: %w", err)
	}

	if err := repo.ReadRemote(ctx); err != nil {
		return fmt.Errorf("reading remote state: %w", err)
	}

	var op counterset.Op
	if err := repo.WithState(func(state counterset.State) error {
		op = counterset.NextOp(state, info.Actor)
		return nil
	}); err != nil {
		return fmt.Errorf("deriving write: %w", err)
	}

	if err := repo.ApplyOps(ctx, []counterset.Op{op}); err != nil {
		return fmt.Errorf("applying write: %w", err)
	}

	var merged uint64
	if err := repo.WithState(func(state counterset.State) error {
		merged = counterset.Max(state)
		return nil
	}); err != nil {
		return fmt.Errorf("reading merged value: %w", err)
	}

	fmt.Printf("actor %s wrote %d, merged value now %d\n", info.Actor, op.Val, merged)
	return nil
}

// loadOrCreateIdentity returns the age identity stored at path, generating
// and persisting a fresh one on first run. A single self-addressed
// identity keeps this example runnable standalone, with no external key
// distribution step.
func loadOrCreateIdentity(path string) (*age.X25519Identity, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return age.ParseX25519Identity(string(data))
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading identity file %s: %w", path, err)
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating identity: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(identity.String()), 0o600); err != nil {
		return nil, fmt.Errorf("writing identity file %s: %w", path, err)
	}
	return identity, nil
}
