// Package vbytes implements VersionBytes: a 16-byte UUID version tag
// prepended to an opaque payload, used to frame every blob the replica
// engine persists or hands to a capability. It is the Go counterpart of
// the crdt-enc crate's utils::version_bytes module.
package vbytes

import (
	"bytes"
	"sort"

	"github.com/google/uuid"
)

// VersionLen is the size in bytes of the version prefix.
const VersionLen = 16

// VersionBytes is a (version, payload) pair, framed on the wire as
// version (16 bytes) followed by payload.
type VersionBytes struct {
	version uuid.UUID
	payload []byte
}

// New returns a VersionBytes tagging payload with version. It takes
// ownership of payload; callers should not mutate it afterward.
func New(version uuid.UUID, payload []byte) VersionBytes {
	return VersionBytes{version: version, payload: payload}
}

// Version returns the version tag.
func (v VersionBytes) Version() uuid.UUID { return v.version }

// Payload returns the framed payload, without the version prefix.
func (v VersionBytes) Payload() []byte { return v.payload }

// Bytes returns the framed wire representation: version ‖ payload.
func (v VersionBytes) Bytes() []byte {
	out := make([]byte, 0, VersionLen+len(v.payload))
	vb := v.version
	out = append(out, vb[:]...)
	out = append(out, v.payload...)
	return out
}

// Buf returns a gather view over the framed bytes that can be streamed to
// an io.Writer (e.g. an *os.File) without an intermediate copy.
func (v VersionBytes) Buf() *Buf {
	return newBuf(v.version, v.payload)
}

// EnsureVersion fails unless v's version tag is exactly want.
func (v VersionBytes) EnsureVersion(want uuid.UUID) error {
	if v.version != want {
		return &VersionError{Expected: []uuid.UUID{want}, Got: v.version}
	}
	return nil
}

// EnsureVersions fails unless v's version tag is a member of versions.
// versions MUST be sorted ascending (callers typically sort it once at
// startup); EnsureVersions binary-searches it.
func (v VersionBytes) EnsureVersions(versions []uuid.UUID) error {
	if !containsSorted(versions, v.version) {
		return &VersionError{Expected: append([]uuid.UUID(nil), versions...), Got: v.version}
	}
	return nil
}

func containsSorted(versions []uuid.UUID, v uuid.UUID) bool {
	i := sort.Search(len(versions), func(i int) bool {
		return bytes.Compare(versions[i][:], v[:]) >= 0
	})
	return i < len(versions) && versions[i] == v
}

// SortVersions sorts versions ascending in place, as required by
// EnsureVersions.
func SortVersions(versions []uuid.UUID) {
	sort.Slice(versions, func(i, j int) bool {
		return bytes.Compare(versions[i][:], versions[j][:]) < 0
	})
}

// FromSlice parses buf as version ‖ payload. The returned VersionBytes
// borrows buf's backing array; callers that need to retain it beyond
// buf's lifetime should copy first.
func FromSlice(buf []byte) (VersionBytes, error) {
	if len(buf) < VersionLen {
		return VersionBytes{}, ErrShortBuffer
	}
	version, err := uuid.FromBytes(buf[:VersionLen])
	if err != nil {
		return VersionBytes{}, err
	}
	return VersionBytes{version: version, payload: buf[VersionLen:]}, nil
}
