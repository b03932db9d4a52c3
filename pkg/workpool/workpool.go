// Package workpool bounds the number of concurrently running blocking
// operations (AEAD encryption, key generation) to a fixed pool size,
// the Go analogue of the source's agnostik::spawn_blocking dispatch.
// It is grounded on the bounded-fan-out gate pattern perkeep uses
// throughout pkg/blobserver (see StatBlobsParallelHelper in stat.go),
// generalized with a generic Run helper since Go has no spawn_blocking
// of its own.
package workpool

import (
	"context"
	"runtime"

	"go4.org/syncutil"
)

// Pool bounds how many Run calls execute concurrently.
type Pool struct {
	gate *syncutil.Gate
}

// New returns a Pool that runs at most size operations concurrently. A
// size of 0 or less defaults to runtime.GOMAXPROCS(0).
func New(size int) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	return &Pool{gate: syncutil.NewGate(size)}
}

// Run executes fn on the pool, blocking until a slot is free. If ctx is
// already done before that wait, or is done by the time a slot frees up,
// Run returns ctx.Err() without running fn; the wait itself does not end
// early when ctx is done.
func Run[T any](ctx context.Context, p *Pool, fn func() (T, error)) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	default:
	}

	p.gate.Start()
	defer p.gate.Done()

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	default:
	}

	return fn()
}
