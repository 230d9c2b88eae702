// Package worker implements the thread-per-core routing worker: one OS
// thread running a cooperative event loop over its own readiness
// multiplexer (spec.md §2 C3, §5). A Worker owns its DCB registry, its
// persistent connection pools, its session registry, and its mailbox;
// none of that state is shared with, or synchronized against, any other
// worker.
package worker

import (
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/coreflux/routingcore/api"
	"github.com/coreflux/routingcore/internal/affinity"
	"github.com/coreflux/routingcore/reactor"
)

// TickHook runs once per loop turn, after the zombie drain and timeout
// scan (spec.md §4.3).
type TickHook func(w *Worker)

// Worker is one thread-per-core routing worker.
type Worker struct {
	id     int
	cpuID  int
	reactor reactor.Reactor
	mbox   *mailbox

	dcbSet  map[*DCB]struct{}
	zombies []*DCB

	pools map[api.Server]Pool

	sess *sessions

	nextTimeoutCheck int64 // in 100ms ticks
	tickHooks        []TickHook

	stats counters

	modules []api.Module

	rawHandler func(msgID uint32, a, b uintptr)

	// jitter is a worker-local RNG seeded from the worker id, exposed via
	// Jitter(); backendpool makes one connect attempt and does not use it.
	jitter *rand.Rand

	log zerolog.Logger

	stopping atomic.Bool
	stopped  atomic.Bool
}

// Config bundles construction-time parameters for a single Worker.
type Config struct {
	ID              int
	CPUID           int // -1 disables pinning
	Modules         []api.Module
	Log             zerolog.Logger
	RawMessageCap   int
	RawMessageHook  func(msgID uint32, a, b uintptr)
}

// New builds a Worker. It does not start the loop; call Run in its own
// goroutine (the runtime relies on that goroutine owning one OS thread
// for the worker's whole lifetime).
func New(cfg Config) (*Worker, error) {
	r, err := reactor.New()
	if err != nil {
		return nil, err
	}
	rawCap := cfg.RawMessageCap
	if rawCap <= 0 {
		rawCap = 256
	}
	w := &Worker{
		id:               cfg.ID,
		cpuID:            cfg.CPUID,
		reactor:          r,
		mbox:             newMailbox(rawCap),
		dcbSet:           make(map[*DCB]struct{}),
		pools:            make(map[api.Server]Pool),
		sess:             newSessions(),
		nextTimeoutCheck: 0,
		modules:          cfg.Modules,
		rawHandler:       cfg.RawMessageHook,
		jitter:           rand.New(rand.NewSource(int64(cfg.ID) + 1)),
		log:              cfg.Log.With().Int("worker_id", cfg.ID).Logger(),
	}
	if fd := w.mbox.wake.fd(); fd != 0 {
		cb := func(_ uintptr, _ reactor.EventType) { w.mbox.wake.drain() }
		if err := r.Add(fd, reactor.EventRead, reactor.TriggerEdge, cb); err != nil {
			_ = r.Close()
			return nil, err
		}
	}
	return w, nil
}

// ID returns the worker's dense, monotonic id.
func (w *Worker) ID() int { return w.id }

// Reactor exposes the worker's own multiplexer, e.g. so callers can
// register a freshly-accepted DCB's fd.
func (w *Worker) Reactor() reactor.Reactor { return w.reactor }

// RegisterPool associates a persistent pool with a server, so thread
// exit can evict it (spec.md §4.3).
func (w *Worker) RegisterPool(s api.Server, p Pool) {
	w.pools[s] = p
}

// PoolFor returns the persistent pool registered for s, if any.
func (w *Worker) PoolFor(s api.Server) (Pool, bool) {
	p, ok := w.pools[s]
	return p, ok
}

// RegisterTickHook adds fn to the set of per-turn housekeeping hooks.
func (w *Worker) RegisterTickHook(fn TickHook) {
	w.tickHooks = append(w.tickHooks, fn)
}

// Jitter exposes the worker-local RNG for backoff computations.
func (w *Worker) Jitter() *rand.Rand { return w.jitter }

// Log exposes the worker's tagged logger.
func (w *Worker) Log() *zerolog.Logger { return &w.log }

// onSelf reports whether the calling goroutine is this worker's own
// loop goroutine, via the OS-thread-keyed binding in internal/affinity.
func (w *Worker) onSelf() bool {
	cur, ok := affinity.Current()
	if !ok {
		return false
	}
	cw, ok := cur.(*Worker)
	return ok && cw.id == w.id
}

// Run pins the calling goroutine's OS thread, initializes modules, and
// runs the event loop until Stop is called and observed. It returns any
// init-fatal error from module initialization (spec.md §4.3/§7); a
// non-nil return means the worker never entered its loop.
func (w *Worker) Run() error {
	if err := affinity.Pin(w.cpuID); err != nil {
		w.log.Warn().Err(err).Msg("failed to pin worker thread, continuing unpinned")
	}
	affinity.Bind(w)
	defer affinity.Unpin()

	initialized := make([]api.Module, 0, len(w.modules))
	for _, m := range w.modules {
		if err := m.OnThreadInit(); err != nil {
			w.log.Error().Err(err).Str("module", m.Name()).Msg("module thread-init failed")
			for i := len(initialized) - 1; i >= 0; i-- {
				initialized[i].OnThreadFinish()
			}
			w.stopped.Store(true)
			return err
		}
		initialized = append(initialized, m)
	}

	w.loop()

	for i := len(initialized) - 1; i >= 0; i-- {
		initialized[i].OnThreadFinish()
	}
	for _, p := range w.pools {
		p.EvictAll()
	}
	w.stopped.Store(true)
	return nil
}

const tickIntervalMs = 100

func (w *Worker) loop() {
	for {
		if w.stopping.Load() {
			return
		}
		_, err := w.reactor.Wait(tickIntervalMs)
		if err != nil {
			w.log.Warn().Err(err).Msg("reactor wait error")
		}

		w.drainMailbox()

		if w.stopping.Load() {
			return
		}

		w.tick()
	}
}

func (w *Worker) tick() {
	w.drainZombies()
	w.processTimeouts()
	for _, hook := range w.tickHooks {
		func(h TickHook) {
			defer func() { _ = recover() }()
			h(w)
		}(hook)
	}
}

func (w *Worker) drainMailbox() {
	for {
		e, ok := w.mbox.pop()
		if !ok {
			break
		}
		e.run(w)
		w.stats.tasksExecuted.Add(1)
	}
	for {
		msg, ok := w.mbox.raw.Dequeue()
		if !ok {
			break
		}
		if w.rawHandler != nil {
			func() {
				defer func() { _ = recover() }()
				w.rawHandler(msg.ID, msg.A, msg.B)
			}()
		}
	}
}

// Stop requests loop exit. It is safe to call from any goroutine; the
// worker observes it at the top of its next turn, waking promptly via
// the mailbox's wake descriptor.
func (w *Worker) Stop() {
	if w.stopping.CompareAndSwap(false, true) {
		w.mbox.wake.signal()
	}
}

// Stopped reports whether the worker's loop has fully returned.
func (w *Worker) Stopped() bool { return w.stopped.Load() }

// SubmitTask delivers a borrowed task; the caller retains ownership of
// fn and must Wait on sem (if non-nil) before assuming fn has returned.
func (w *Worker) SubmitTask(fn func(), sem *Semaphore, mode SubmitMode) error {
	return w.submit(mode, &taskEnvelope{fn: fn, sem: sem})
}

// SubmitDisposable delivers a runtime-owned task; refcount, if non-nil,
// is decremented after fn returns (used to track a broadcast disposable
// across every worker it was delivered to).
func (w *Worker) SubmitDisposable(fn func(), refcount *atomic.Int32, mode SubmitMode) error {
	return w.submit(mode, &disposableEnvelope{fn: fn, refcount: refcount})
}

// SubmitClosure delivers a type-erased fn owned by the runtime.
func (w *Worker) SubmitClosure(fn func(), mode SubmitMode) error {
	return w.submit(mode, &closureEnvelope{fn: fn})
}

func (w *Worker) submit(mode SubmitMode, e envelope) error {
	if mode != Queued && w.onSelf() {
		e.run(w)
		return nil
	}
	if w.stopped.Load() {
		return api.ErrPoolClosed
	}
	w.mbox.enqueue(e)
	return nil
}

// SubmitRawMessage delivers a signal-safe raw message: no allocation,
// no logging, and no direct-execution fast path (a signal handler
// cannot safely call affinity.Current, which takes a mutex). Returns
// false if the raw ring is full.
func (w *Worker) SubmitRawMessage(msgID uint32, a, b uintptr) bool {
	return w.mbox.enqueueRaw(RawMessage{ID: msgID, A: a, B: b})
}

// MailboxPending reports the number of queued (non-raw) submissions
// awaiting drain; used only for diagnostics.
func (w *Worker) MailboxPending() int { return w.mbox.pending() }

// dcbCount reports the size of the live DCB set.
func (w *Worker) dcbCount() int { return len(w.dcbSet) }

// WaitStopped blocks the caller (not the worker's own goroutine) until
// Stopped reports true, or the deadline elapses. Used by router.Pool.Join.
func (w *Worker) WaitStopped(deadline time.Duration) bool {
	const step = time.Millisecond
	elapsed := time.Duration(0)
	for !w.Stopped() {
		if deadline > 0 && elapsed >= deadline {
			return false
		}
		time.Sleep(step)
		elapsed += step
	}
	return true
}
