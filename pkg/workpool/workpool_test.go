package workpool

import (
	"context"
	"sync/atomic"
	"testing"

	"golang.org/x/sync/errgroup"
)

func TestRunBoundsConcurrency(t *testing.T) {
	p := New(2)
	var inFlight, maxInFlight int32

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			_, err := Run(context.Background(), p, func() (struct{}, error) {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					m := atomic.LoadInt32(&maxInFlight)
					if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
						break
					}
				}
				atomic.AddInt32(&inFlight, -1)
				return struct{}{}, nil
			})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := atomic.LoadInt32(&maxInFlight); got > 2 {
		t.Fatalf("max in-flight = %d, want <= 2", got)
	}
}

func TestRunPropagatesError(t *testing.T) {
	p := New(1)
	wantErr := context.Canceled
	_, err := Run(context.Background(), p, func() (int, error) {
		return 0, wantErr
	})
	if err != wantErr {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
}

func TestRunRespectsCanceledContext(t *testing.T) {
	p := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, p, func() (int, error) {
		t.Fatal("fn should not run with an already-canceled context")
		return 0, nil
	})
	if err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
