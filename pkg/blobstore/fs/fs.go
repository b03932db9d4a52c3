// Package fs implements the reference Blob store capability on a local
// filesystem, modeled on perkeep's pkg/blobserver/localdisk directory
// layout and the original crdt-enc-tokio crate's async Storage impl.
package fs

import (
	"context"
	"encoding/base32"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"
	"go4.org/syncutil"
	"golang.org/x/crypto/sha3"
	"golang.org/x/sync/errgroup"

	"github.com/chpio/crdtstore/pkg/blobstore"
	"github.com/chpio/crdtstore/pkg/vbytes"
)

const defaultConcurrency = 32

// Store implements blobstore.Store on disk, with the layout:
//
//	<local>/meta-data.msgpack
//	<remote>/meta/<base32-sha3-256>
//	<remote>/states/<base32-sha3-256>
//	<remote>/ops/<actor-uuid>/<decimal-version>
type Store struct {
	localPath  string
	remotePath string
	gate       *syncutil.Gate
}

// New returns a Store rooted at localPath (for the per-replica local
// meta) and remotePath (for the shared, synced remote tree). Both MUST be
// absolute, matching the source's ensure!(path.is_absolute()) checks.
func New(localPath, remotePath string) (*Store, error) {
	if !filepath.IsAbs(localPath) {
		return nil, fmt.Errorf("local path %q is not absolute", localPath)
	}
	if !filepath.IsAbs(remotePath) {
		return nil, fmt.Errorf("remote path %q is not absolute", remotePath)
	}
	return &Store{
		localPath:  localPath,
		remotePath: remotePath,
		gate:       syncutil.NewGate(defaultConcurrency),
	}, nil
}

var _ blobstore.Store = (*Store)(nil)

func (s *Store) LoadLocalMeta(ctx context.Context) (vbytes.VersionBytes, bool, error) {
	path := filepath.Join(s.localPath, "meta-data.msgpack")
	data, ok, err := readFileOptional(path)
	if err != nil {
		return vbytes.VersionBytes{}, false, fmt.Errorf("reading local meta file %s: %w", path, err)
	}
	if !ok {
		return vbytes.VersionBytes{}, false, nil
	}
	vb, err := vbytes.FromSlice(data)
	if err != nil {
		return vbytes.VersionBytes{}, false, fmt.Errorf("parsing local meta file %s: %w", path, err)
	}
	return vb, true, nil
}

func (s *Store) StoreLocalMeta(ctx context.Context, data vbytes.VersionBytes) error {
	if err := os.MkdirAll(s.localPath, 0o755); err != nil {
		return fmt.Errorf("creating local dir %s: %w", s.localPath, err)
	}
	path := filepath.Join(s.localPath, "meta-data.msgpack")
	if err := atomic.WriteFile(path, data.Buf()); err != nil {
		return fmt.Errorf("writing local meta file %s: %w", path, err)
	}
	return nil
}

func (s *Store) ListRemoteMetaNames(ctx context.Context) ([]string, error) {
	names, err := listFiles(filepath.Join(s.remotePath, "meta"))
	if err != nil {
		return nil, fmt.Errorf("listing remote meta entries: %w", err)
	}
	return names, nil
}

func (s *Store) LoadRemoteMetas(ctx context.Context, names []string) ([]blobstore.NamedBlob, error) {
	dir := filepath.Join(s.remotePath, "meta")
	return s.loadNamedBlobs(ctx, dir, names)
}

func (s *Store) StoreRemoteMeta(ctx context.Context, data vbytes.VersionBytes) (string, error) {
	dir := filepath.Join(s.remotePath, "meta")
	name, err := writeContentAddressedFile(dir, data)
	if err != nil {
		return "", fmt.Errorf("writing remote meta file: %w", err)
	}
	return name, nil
}

func (s *Store) RemoveRemoteMetas(ctx context.Context, names []string) error {
	dir := filepath.Join(s.remotePath, "meta")
	return s.removeFiles(ctx, dir, names)
}

func (s *Store) ListStateNames(ctx context.Context) ([]string, error) {
	names, err := listFiles(filepath.Join(s.remotePath, "states"))
	if err != nil {
		return nil, fmt.Errorf("listing state entries: %w", err)
	}
	return names, nil
}

func (s *Store) LoadStates(ctx context.Context, names []string) ([]blobstore.NamedBlob, error) {
	dir := filepath.Join(s.remotePath, "states")
	return s.loadNamedBlobs(ctx, dir, names)
}

func (s *Store) StoreState(ctx context.Context, data vbytes.VersionBytes) (string, error) {
	dir := filepath.Join(s.remotePath, "states")
	name, err := writeContentAddressedFile(dir, data)
	if err != nil {
		return "", fmt.Errorf("writing state file: %w", err)
	}
	return name, nil
}

func (s *Store) RemoveStates(ctx context.Context, names []string) ([]string, error) {
	dir := filepath.Join(s.remotePath, "states")
	present := make([]string, 0, len(names))
	for _, name := range names {
		_, err := os.Stat(filepath.Join(dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("checking state file %s: %w", name, err)
		}
		present = append(present, name)
	}
	if err := s.removeFiles(ctx, dir, present); err != nil {
		return nil, err
	}
	return present, nil
}

func (s *Store) ListOpActors(ctx context.Context) ([]uuid.UUID, error) {
	entries, err := os.ReadDir(filepath.Join(s.remotePath, "ops"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing op actors: %w", err)
	}
	actors := make([]uuid.UUID, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		actor, err := uuid.Parse(e.Name())
		if err != nil {
			return nil, fmt.Errorf("parsing op actor dir name %q: %w", e.Name(), err)
		}
		actors = append(actors, actor)
	}
	return actors, nil
}

func (s *Store) LoadOps(ctx context.Context, actorFirstVersions []blobstore.OpEntry) ([]blobstore.NamedOp, error) {
	g, ctx := errgroup.WithContext(ctx)
	results := make([][]blobstore.NamedOp, len(actorFirstVersions))

	for i, afv := range actorFirstVersions {
		i, afv := i, afv
		g.Go(func() error {
			s.gate.Start()
			defer s.gate.Done()

			var ops []blobstore.NamedOp
			dir := filepath.Join(s.remotePath, "ops", afv.Actor.String())
			for version := afv.Version; ; version++ {
				path := filepath.Join(dir, strconv.FormatUint(version, 10))
				data, ok, err := readFileOptional(path)
				if err != nil {
					return fmt.Errorf("reading op file %s: %w", path, err)
				}
				if !ok {
					break
				}
				vb, err := vbytes.FromSlice(data)
				if err != nil {
					return fmt.Errorf("parsing op file %s: %w", path, err)
				}
				ops = append(ops, blobstore.NamedOp{
					OpEntry: blobstore.OpEntry{Actor: afv.Actor, Version: version},
					Data:    vb,
				})
			}
			results[i] = ops
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []blobstore.NamedOp
	for _, r := range results {
		all = append(all, r...)
	}
	return all, nil
}

func (s *Store) StoreOps(ctx context.Context, actor uuid.UUID, version uint64, data vbytes.VersionBytes) error {
	dir := filepath.Join(s.remotePath, "ops", actor.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating op dir %s for actor %s: %w", dir, actor, err)
	}
	path := filepath.Join(dir, strconv.FormatUint(version, 10))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("writing op file %s: %w", path, err)
	}
	defer f.Close()

	if _, err := data.Buf().WriteTo(f); err != nil {
		return fmt.Errorf("writing op file %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing op file %s: %w", path, err)
	}
	return nil
}

func (s *Store) RemoveOps(ctx context.Context, actorLastVersions []blobstore.OpEntry) error {
	g, _ := errgroup.WithContext(ctx)
	for _, alv := range actorLastVersions {
		alv := alv
		g.Go(func() error {
			s.gate.Start()
			defer s.gate.Done()

			path := filepath.Join(s.remotePath, "ops", alv.Actor.String(), strconv.FormatUint(alv.Version, 10))
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("removing op file %s for actor %s version %d: %w", path, alv.Actor, alv.Version, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *Store) loadNamedBlobs(ctx context.Context, dir string, names []string) ([]blobstore.NamedBlob, error) {
	g, _ := errgroup.WithContext(ctx)
	results := make([]blobstore.NamedBlob, len(names))

	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			s.gate.Start()
			defer s.gate.Done()

			path := filepath.Join(dir, name)
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading file %s: %w", path, err)
			}
			vb, err := vbytes.FromSlice(data)
			if err != nil {
				return fmt.Errorf("parsing file %s: %w", path, err)
			}
			results[i] = blobstore.NamedBlob{Name: name, Data: vb}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Store) removeFiles(ctx context.Context, dir string, names []string) error {
	g, _ := errgroup.WithContext(ctx)
	for _, name := range names {
		name := name
		g.Go(func() error {
			s.gate.Start()
			defer s.gate.Done()

			path := filepath.Join(dir, name)
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("removing file %s: %w", path, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func readFileOptional(path string) ([]byte, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// writeContentAddressedFile writes data's framed bytes under dir, named by
// the base32-nopad encoding of the SHA3-256 digest of those bytes, and
// returns the name. Two distinct contents never collide; writing the same
// content twice is a harmless no-op rewrite.
func writeContentAddressedFile(dir string, data vbytes.VersionBytes) (string, error) {
	framed := data.Bytes()
	digest := sha3.Sum256(framed)
	name := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(digest[:])

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, name)
	if err := atomic.WriteFile(path, data.Buf()); err != nil {
		return "", fmt.Errorf("writing file %s: %w", path, err)
	}
	return name, nil
}
