package router

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coreflux/routingcore/internal/affinity"
	"github.com/coreflux/routingcore/worker"
)

// Pool is the pool manager (spec.md §4.8, component C8): it owns the
// set of worker threads, dispatches broadcast/serial/concurrent
// operations across them, and tracks the dense, monotonically
// increasing worker id space.
type Pool struct {
	mu      sync.RWMutex
	workers []*worker.Worker // index == dense id - idMin
	idMin   int
	mainID  int

	// nextWorkerID is the monotonic counter spec.md §4.8 calls out as
	// the correct dispatch iteration bound — not N — so a pool still
	// mid-init can be signalled safely.
	nextWorkerID atomic.Int64

	rrCursor atomic.Int64

	started bool
	stopped bool
}

// Init constructs n workers with dense ids starting at idMin (usually
// 0), recording the first id as the main worker. Workers are built but
// not yet running; call Start to launch their threads.
func Init(n int, idMin int, cfg func(id int) worker.Config) (*Pool, error) {
	if n <= 0 {
		return nil, fmt.Errorf("router: pool size must be positive, got %d", n)
	}
	p := &Pool{idMin: idMin, mainID: idMin}
	for i := 0; i < n; i++ {
		id := idMin + i
		w, err := worker.New(cfg(id))
		if err != nil {
			// startup is fatal-or-all: no partial pool survives (spec.md §4.8).
			for _, built := range p.workers {
				_ = built.Reactor().Close()
			}
			return nil, fmt.Errorf("router: constructing worker %d: %w", id, err)
		}
		p.workers = append(p.workers, w)
		p.nextWorkerID.Store(int64(id + 1))
	}
	return p, nil
}

// Start launches every worker's event loop in its own goroutine.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	for _, w := range p.workers {
		go func(w *worker.Worker) {
			if err := w.Run(); err != nil {
				w.Log().Error().Err(err).Msg("worker exited with error")
			}
		}(w)
	}
}

// ShutdownAll signals every worker to stop, without waiting.
func (p *Pool) ShutdownAll() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	for _, w := range p.snapshot() {
		w.Stop()
	}
}

// Join blocks until every worker's loop has returned, or timeout
// elapses (0 waits indefinitely in practical terms — a generous cap is
// still applied per worker to avoid a true infinite block).
func (p *Pool) Join(timeout time.Duration) bool {
	all := true
	deadline := timeout
	if deadline <= 0 {
		deadline = 24 * time.Hour
	}
	for _, w := range p.snapshot() {
		if !w.WaitStopped(deadline) {
			all = false
		}
	}
	return all
}

func (p *Pool) snapshot() []*worker.Worker {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*worker.Worker, len(p.workers))
	copy(out, p.workers)
	return out
}

// liveWorkers returns workers up to nextWorkerID's bound, per spec.md
// §4.8: dispatch primitives iterate up to the monotonic counter, not a
// fixed N, so partially constructed pools are safe to signal.
func (p *Pool) liveWorkers() []*worker.Worker {
	bound := int(p.nextWorkerID.Load())
	all := p.snapshot()
	out := all[:0:0]
	for _, w := range all {
		if w.ID() < bound {
			out = append(out, w)
		}
	}
	return out
}

// NextWorkerID returns the monotonic worker-id counter's current value.
func (p *Pool) NextWorkerID() int { return int(p.nextWorkerID.Load()) }

// MainWorker returns the pool's designated main worker (owner of shared
// listener bookkeeping).
func (p *Pool) MainWorker() *worker.Worker {
	return p.WorkerFor(p.mainID)
}

// WorkerFor returns the worker with the given dense id, or nil.
func (p *Pool) WorkerFor(id int) *worker.Worker {
	p.mu.RLock()
	defer p.mu.RUnlock()
	idx := id - p.idMin
	if idx < 0 || idx >= len(p.workers) {
		return nil
	}
	return p.workers[idx]
}

// CurrentWorker returns the calling goroutine's own worker, if it is
// running as one (spec.md's thread-local "current worker" identity).
func (p *Pool) CurrentWorker() (*worker.Worker, bool) {
	cur, ok := affinity.Current()
	if !ok {
		return nil, false
	}
	w, ok := cur.(*worker.Worker)
	return w, ok
}

// PickWorker round-robins across the live worker set, for callers
// assigning a new stateless unit of work to some worker (spec.md §4.8).
func (p *Pool) PickWorker() *worker.Worker {
	live := p.liveWorkers()
	if len(live) == 0 {
		return nil
	}
	idx := int(p.rrCursor.Add(1)-1) % len(live)
	return live[idx]
}

// Broadcast submits fn to every live worker via SubmitTask, returning
// the count of successful submissions. If sem is non-nil the caller can
// Wait on it for completions.
func (p *Pool) Broadcast(fn func(), sem *worker.Semaphore, mode worker.SubmitMode) int {
	n := 0
	for _, w := range p.liveWorkers() {
		if err := w.SubmitTask(fn, sem, mode); err == nil {
			n++
		}
	}
	return n
}

// BroadcastClosure submits a runtime-owned closure to every live worker.
func (p *Pool) BroadcastClosure(fn func(), mode worker.SubmitMode) int {
	n := 0
	for _, w := range p.liveWorkers() {
		if err := w.SubmitClosure(fn, mode); err == nil {
			n++
		}
	}
	return n
}

// BroadcastDisposable submits a runtime-owned, refcounted task to every
// live worker; refcount reaches zero once every worker has run it.
func (p *Pool) BroadcastDisposable(fn func()) int {
	live := p.liveWorkers()
	var refcount atomic.Int32
	refcount.Store(int32(len(live)))
	n := 0
	for _, w := range live {
		if err := w.SubmitDisposable(fn, &refcount, worker.Auto); err == nil {
			n++
		}
	}
	return n
}

// ExecuteSerially submits fn to each live worker in turn, waiting for
// each one's completion before submitting to the next.
func (p *Pool) ExecuteSerially(fn func()) {
	sem := worker.NewSemaphore(1)
	for _, w := range p.liveWorkers() {
		if err := w.SubmitTask(fn, sem, worker.Queued); err != nil {
			continue
		}
		sem.Wait(1)
	}
}

// ExecuteConcurrently broadcasts fn to every live worker, then waits for
// all of them to complete.
func (p *Pool) ExecuteConcurrently(fn func()) {
	live := p.liveWorkers()
	sem := worker.NewSemaphore(len(live))
	completions := 0
	for _, w := range live {
		if err := w.SubmitTask(fn, sem, worker.Queued); err == nil {
			completions++
		}
	}
	sem.Wait(completions)
}

// BroadcastMessage delivers a signal-safe raw message to every live
// worker, returning the count that accepted it.
func (p *Pool) BroadcastMessage(msgID uint32, a, b uintptr) int {
	n := 0
	for _, w := range p.liveWorkers() {
		if w.SubmitRawMessage(msgID, a, b) {
			n++
		}
	}
	return n
}

// CollectStats runs Snapshot on every live worker the same way
// ExecuteConcurrently runs a task (submit to all, then wait for every
// successful submission) and aggregates the results (spec.md §4.9).
func (p *Pool) CollectStats() worker.Aggregate {
	live := p.liveWorkers()
	snaps := make([]worker.StatSnapshot, len(live))
	sem := worker.NewSemaphore(len(live))
	completions := 0
	for i, w := range live {
		i, w := i, w
		if err := w.SubmitTask(func() { snaps[i] = w.Snapshot() }, sem, worker.Queued); err == nil {
			completions++
		}
	}
	sem.Wait(completions)
	return worker.AggregateSnapshots(snaps)
}
