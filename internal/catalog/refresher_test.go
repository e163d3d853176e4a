package catalog

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/libreai/aigate/internal/log"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type countingRebuilder struct {
	calls atomic.Int64
	err   error
}

func (c *countingRebuilder) Rebuild(ctx context.Context) error {
	c.calls.Add(1)
	return c.err
}

func waitForCalls(t *testing.T, c *countingRebuilder, want int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.calls.Load() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("rebuilder reached %d calls, want at least %d", c.calls.Load(), want)
}

func TestRefresher_TriggerRebuildsAllRegistries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	first := &countingRebuilder{}
	second := &countingRebuilder{}
	r := NewRefresher(log.NewNop(), first, second)

	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	r.Trigger()
	waitForCalls(t, first, 1)
	waitForCalls(t, second, 1)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on context cancel")
	}
}

func TestRefresher_FailedRebuildDoesNotStopOthers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	failing := &countingRebuilder{err: errors.New("source down")}
	healthy := &countingRebuilder{}
	r := NewRefresher(log.NewNop(), failing, healthy)

	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	r.Trigger()
	waitForCalls(t, healthy, 1)

	cancel()
	<-done
	assert.EqualValues(t, 1, failing.calls.Load())
}

func TestRefresher_TriggerNeverBlocks(t *testing.T) {
	// No Run loop draining: repeated triggers must still return.
	r := NewRefresher(log.NewNop(), &countingRebuilder{})

	finished := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			r.Trigger()
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Trigger blocked without a running refresher")
	}
}

func TestRefresher_CoalescesBurstOfTriggers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	reg := &countingRebuilder{}
	r := NewRefresher(log.NewNop(), reg)

	// Burst before the loop starts: at most one pending trigger survives.
	for i := 0; i < 50; i++ {
		r.Trigger()
	}

	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	waitForCalls(t, reg, 1)
	// Give the loop a moment to service anything else pending.
	time.Sleep(50 * time.Millisecond)
	calls := reg.calls.Load()
	require.LessOrEqual(t, calls, int64(2), "burst of 50 triggers ran %d rebuilds", calls)

	cancel()
	<-done
}
