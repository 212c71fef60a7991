// Package dispatch implements the bounded-concurrency admission controller
// shared by the upload, extraction and certificate pipelines: an unbounded
// FIFO backlog drained into at most N concurrently running jobs.
package dispatch

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Job is the unit of admitted work. ID ties the job to a profile; jobs that
// predate dedup (uploads) leave it empty and are never serialized against
// each other. Run carries the requester reference in its closure and must
// deliver its own result.
type Job struct {
	ID  string
	Run func(ctx context.Context)
}

type queued struct {
	lockKey string
	run     func(ctx context.Context)
}

// Dispatcher enforces the per-pipeline concurrency cap. Submit never blocks;
// the backlog is unbounded and drained oldest-first as capacity frees up.
type Dispatcher struct {
	name    string
	limit   int
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	backlog []queued
	active  map[string]struct{}
	closed  bool
	wg      sync.WaitGroup
}

type Option func(*Dispatcher)

func WithCapacity(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.limit = n
		}
	}
}

func WithJobTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

// backlogWarnDepth is where sustained overload starts getting logged. The
// backlog itself stays unbounded.
const backlogWarnDepth = 64

func New(name string, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		name:    name,
		limit:   2,
		timeout: 3 * time.Minute,
		logger:  logger,
		active:  make(map[string]struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	activeJobs.WithLabelValues(name).Set(0)
	backlogDepth.WithLabelValues(name).Set(0)
	jobsCompleted.WithLabelValues(name).Add(0)
	jobPanics.WithLabelValues(name).Add(0)
	return d
}

// Submit appends the job to the backlog and drains whatever capacity allows.
// It returns immediately; completion is reported through the job itself.
func (d *Dispatcher) Submit(job Job) {
	key := job.ID
	if key == "" {
		key = uuid.New().String()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.logger.Warn("dispatch.submit.rejected", "queue", d.name, "id", job.ID)
		return
	}
	d.backlog = append(d.backlog, queued{lockKey: key, run: job.Run})
	backlogDepth.WithLabelValues(d.name).Set(float64(len(d.backlog)))
	if len(d.backlog) == backlogWarnDepth {
		d.logger.Warn("dispatch.backlog.high", "queue", d.name, "depth", len(d.backlog))
	}
	d.dispatchLocked()
}

// dispatchLocked drains the backlog while capacity remains. Entries whose id
// is already active are skipped (per-id mutual exclusion) and stay queued in
// order; they become eligible again when the running job completes.
func (d *Dispatcher) dispatchLocked() {
	for len(d.active) < d.limit {
		idx := -1
		for i, q := range d.backlog {
			if _, busy := d.active[q.lockKey]; !busy {
				idx = i
				break
			}
		}
		if idx < 0 {
			return
		}
		q := d.backlog[idx]
		d.backlog = append(d.backlog[:idx], d.backlog[idx+1:]...)
		d.active[q.lockKey] = struct{}{}
		backlogDepth.WithLabelValues(d.name).Set(float64(len(d.backlog)))
		activeJobs.WithLabelValues(d.name).Set(float64(len(d.active)))

		d.wg.Add(1)
		go d.execute(q)
	}
}

// execute runs one job. The completion signal must fire no matter how the
// job ends, including a panic, or the slot would leak permanently.
func (d *Dispatcher) execute(q queued) {
	defer d.wg.Done()
	defer d.complete(q.lockKey)
	defer func() {
		if r := recover(); r != nil {
			jobPanics.WithLabelValues(d.name).Inc()
			d.logger.Error("dispatch.job.panic",
				"queue", d.name,
				"id", q.lockKey,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	start := time.Now()
	q.run(ctx)
	jobsCompleted.WithLabelValues(d.name).Inc()
	d.logger.Debug("dispatch.job.done",
		"queue", d.name,
		"id", q.lockKey,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func (d *Dispatcher) complete(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.active, key)
	activeJobs.WithLabelValues(d.name).Set(float64(len(d.active)))
	d.dispatchLocked()
}

// ActiveCount reports how many jobs are running right now.
func (d *Dispatcher) ActiveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

// BacklogLen reports how many jobs are waiting for a slot.
func (d *Dispatcher) BacklogLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.backlog)
}

// Shutdown stops admission and waits for in-flight jobs. Backlogged jobs are
// dropped; there is no cancellation of running ones.
func (d *Dispatcher) Shutdown(ctx context.Context) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	dropped := len(d.backlog)
	d.backlog = nil
	backlogDepth.WithLabelValues(d.name).Set(0)
	d.mu.Unlock()

	if dropped > 0 {
		d.logger.Warn("dispatch.shutdown.dropped_backlog", "queue", d.name, "count", dropped)
	}

	done := make(chan struct{})
	go func() { defer close(done); d.wg.Wait() }()

	select {
	case <-ctx.Done():
		d.logger.Warn("dispatch.shutdown.interrupted", "queue", d.name)
	case <-done:
		d.logger.Info("dispatch.shutdown.complete", "queue", d.name)
	}
}
