package vbytes

import (
	"io"

	"github.com/google/uuid"
)

// Buf is a gather view over a VersionBytes' framed bytes: the 16-byte
// version prefix followed by the payload, without copying the payload.
// It is the Go analogue of the source crate's VersionBytesBuf, which
// implements bytes::Buf so the framed form can be streamed straight into
// a file or socket.
type Buf struct {
	version [VersionLen]byte
	payload []byte
	pos     int
}

func newBuf(version uuid.UUID, payload []byte) *Buf {
	return &Buf{version: version, payload: payload}
}

// Len returns the number of unread bytes remaining in the view.
func (b *Buf) Len() int {
	return VersionLen + len(b.payload) - b.pos
}

// Read implements io.Reader.
func (b *Buf) Read(p []byte) (int, error) {
	if b.Len() == 0 {
		return 0, io.EOF
	}
	n := 0
	for n < len(p) && b.Len() > 0 {
		chunk := b.chunk()
		c := copy(p[n:], chunk)
		b.pos += c
		n += c
	}
	return n, nil
}

// WriteTo implements io.WriterTo, streaming the version prefix and then
// the payload to w without an intermediate allocation. It loops until the
// view is fully drained or w.Write fails, since io.Writer.Write is not
// guaranteed to consume its argument in one call.
func (b *Buf) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for b.Len() > 0 {
		chunk := b.chunk()
		n, err := w.Write(chunk)
		total += int64(n)
		b.pos += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.ErrShortWrite
		}
	}
	return total, nil
}

func (b *Buf) chunk() []byte {
	if b.pos < VersionLen {
		return b.version[b.pos:]
	}
	off := b.pos - VersionLen
	if off >= len(b.payload) {
		return nil
	}
	return b.payload[off:]
}
