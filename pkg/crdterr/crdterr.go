// Package crdterr collects the sentinel errors shared across the replica
// engine and its capabilities. Callers wrap these with fmt.Errorf("...: %w")
// so errors.Is keeps working through every layer, the way the source's
// anyhow::Context attaches a message while preserving the root cause.
package crdterr

import "errors"

var (
	// ErrVersionMismatch is wrapped around a *vbytes.VersionError whenever
	// a blob's version tag isn't a member of the expected set.
	ErrVersionMismatch = errors.New("version mismatch")

	// ErrFramingInvalid means a blob was shorter than the version prefix,
	// or its payload didn't parse as the expected wire shape.
	ErrFramingInvalid = errors.New("invalid blob framing")

	// ErrIntegrity means an AEAD tag failed to verify, or a parsed digest
	// didn't match its content-addressed name.
	ErrIntegrity = errors.New("integrity check failed")

	// ErrPrecondition means a caller violated an operation's documented
	// precondition (e.g. applying ops out of actor order).
	ErrPrecondition = errors.New("precondition violated")

	// ErrNoLatestKey means the key registry has no resolvable latest key,
	// so no write or compaction can proceed.
	ErrNoLatestKey = errors.New("no latest key")

	// ErrNotOpen means the replica has not finished Open.
	ErrNotOpen = errors.New("replica not open")

	// ErrLocalMetaMissing means no local meta exists and the caller did
	// not request creation of a new replica.
	ErrLocalMetaMissing = errors.New("local meta does not exist and create was not requested")
)
