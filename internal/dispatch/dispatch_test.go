package dispatch_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"certhub/internal/dispatch"
)

// gate lets tests hold jobs open and release them one at a time.
type gate struct {
	release chan struct{}
	started chan string
}

func newGate() *gate {
	return &gate{
		release: make(chan struct{}),
		started: make(chan string, 64),
	}
}

func (g *gate) job(id string) dispatch.Job {
	return dispatch.Job{
		ID: id,
		Run: func(ctx context.Context) {
			g.started <- id
			select {
			case <-g.release:
			case <-ctx.Done():
			}
		},
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	require.Fail(t, "condition never held")
}

func TestCapacityNeverExceeded(t *testing.T) {
	const capacity = 2
	d := dispatch.New("test", nil, dispatch.WithCapacity(capacity))

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		d.Submit(dispatch.Job{Run: func(ctx context.Context) {
			defer wg.Done()
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
		}})
	}
	wg.Wait()

	require.LessOrEqual(t, peak.Load(), int32(capacity))
	require.Equal(t, 0, d.ActiveCount())
	require.Equal(t, 0, d.BacklogLen())
}

func TestCompletionFreesSlotAndDrainsBacklog(t *testing.T) {
	g := newGate()
	d := dispatch.New("test", nil, dispatch.WithCapacity(1))

	d.Submit(g.job("a"))
	d.Submit(g.job("b"))

	require.Equal(t, "a", <-g.started)
	waitFor(t, func() bool { return d.BacklogLen() == 1 })

	g.release <- struct{}{}
	require.Equal(t, "b", <-g.started)
	waitFor(t, func() bool { return d.ActiveCount() == 1 && d.BacklogLen() == 0 })
	g.release <- struct{}{}
	waitFor(t, func() bool { return d.ActiveCount() == 0 })
}

func TestDispatchOrderIsFIFO(t *testing.T) {
	g := newGate()
	d := dispatch.New("test", nil, dispatch.WithCapacity(1))

	ids := []string{"p1", "p2", "p3", "p4"}
	for _, id := range ids {
		d.Submit(g.job(id))
	}
	for _, want := range ids {
		require.Equal(t, want, <-g.started)
		g.release <- struct{}{}
	}
}

func TestPanicStillSignalsCompletion(t *testing.T) {
	d := dispatch.New("test", nil, dispatch.WithCapacity(1))

	d.Submit(dispatch.Job{ID: "boom", Run: func(ctx context.Context) {
		panic("job exploded")
	}})

	// If the completion signal were skipped the slot would leak and this
	// job would never run.
	ran := make(chan struct{})
	d.Submit(dispatch.Job{ID: "after", Run: func(ctx context.Context) {
		close(ran)
	}})

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		require.Fail(t, "slot leaked after panic")
	}
}

func TestSameIDJobsAreMutuallyExcluded(t *testing.T) {
	g := newGate()
	d := dispatch.New("test", nil, dispatch.WithCapacity(2))

	d.Submit(g.job("same"))
	require.Equal(t, "same", <-g.started)

	// A second job for the same profile must wait even though a slot is
	// free; a different profile's job overtakes it.
	d.Submit(g.job("same"))
	d.Submit(g.job("other"))
	require.Equal(t, "other", <-g.started)

	select {
	case id := <-g.started:
		require.Fail(t, "same-id job dispatched concurrently", "id=%s", id)
	case <-time.After(50 * time.Millisecond):
	}

	g.release <- struct{}{} // finishes one of the running jobs
	g.release <- struct{}{}
	require.Equal(t, "same", <-g.started)
	g.release <- struct{}{}
}

func TestUntaggedJobsRunConcurrently(t *testing.T) {
	g := newGate()
	d := dispatch.New("test", nil, dispatch.WithCapacity(2))

	// Pre-dedup uploads carry no id and must not serialize against each
	// other.
	d.Submit(g.job(""))
	d.Submit(g.job(""))

	<-g.started
	<-g.started
	require.Equal(t, 2, d.ActiveCount())
	g.release <- struct{}{}
	g.release <- struct{}{}
}

func TestShutdownDropsBacklogAndWaits(t *testing.T) {
	g := newGate()
	d := dispatch.New("test", nil, dispatch.WithCapacity(1))

	d.Submit(g.job("running"))
	d.Submit(g.job("queued"))
	require.Equal(t, "running", <-g.started)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		d.Shutdown(ctx)
	}()

	g.release <- struct{}{}
	<-done
	require.Equal(t, 0, d.BacklogLen())

	// Post-shutdown submissions are rejected silently.
	d.Submit(g.job("late"))
	require.Equal(t, 0, d.BacklogLen())
}
