package vbytes

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrShortBuffer is returned by FromSlice when buf is shorter than the
// 16-byte version prefix.
var ErrShortBuffer = errors.New("vbytes: buffer shorter than version prefix")

// VersionError reports that a VersionBytes carried a version tag outside
// the set the caller expected. It satisfies errors.As.
type VersionError struct {
	Expected []uuid.UUID
	Got      uuid.UUID
}

func (e *VersionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "vbytes: version check failed, got %s, expected one of: ", e.Got)
	for i, v := range e.Expected {
		if i != 0 {
			b.WriteString(", ")
		}
		b.WriteString(v.String())
	}
	return b.String()
}
