package worker

import (
	"sync"
	"sync/atomic"

	"github.com/coreflux/routingcore/internal/queue"
)

// SubmitMode selects how a cross-thread submission is delivered, per
// spec.md §4.2.
type SubmitMode int

const (
	// Direct executes inline if the caller is already on the target
	// worker, otherwise it still queues (a Direct submission is never
	// silently dropped).
	Direct SubmitMode = iota
	// Queued always enqueues, even for same-worker submitters.
	Queued
	// Auto is Direct-when-local, Queued otherwise.
	Auto
)

// Semaphore is a simple counting completion barrier used by borrowed
// Task submissions and by the pool manager's execute_serially /
// execute_concurrently primitives.
type Semaphore struct {
	ch chan struct{}
}

// NewSemaphore builds a semaphore sized for up to `capacity` posts
// in flight before Wait catches up.
func NewSemaphore(capacity int) *Semaphore {
	if capacity < 1 {
		capacity = 1
	}
	return &Semaphore{ch: make(chan struct{}, capacity)}
}

// Post signals one completion.
func (s *Semaphore) Post() { s.ch <- struct{}{} }

// Wait blocks until n completions have been posted.
func (s *Semaphore) Wait(n int) {
	for i := 0; i < n; i++ {
		<-s.ch
	}
}

// RawMessage is the signal-safe submission form: no allocation, no
// pointers requiring GC bookkeeping beyond the message itself.
type RawMessage struct {
	ID   uint32
	A, B uintptr
}

// envelope is the internal representation of a queued submission.
type envelope interface {
	run(w *Worker)
}

type taskEnvelope struct {
	fn  func()
	sem *Semaphore
}

func (t *taskEnvelope) run(w *Worker) {
	defer func() { _ = recover() }()
	t.fn()
	if t.sem != nil {
		t.sem.Post()
	}
}

// disposableEnvelope owns fn and is safe to deliver to every worker from
// a single allocation; refcount is decremented (not otherwise
// meaningful under GC) purely so callers can observe how many workers
// have consumed a broadcast disposable, mirroring the original's
// reference-counted disposable task.
type disposableEnvelope struct {
	fn       func()
	refcount *atomic.Int32
}

func (d *disposableEnvelope) run(w *Worker) {
	defer func() { _ = recover() }()
	d.fn()
	if d.refcount != nil {
		d.refcount.Add(-1)
	}
}

type closureEnvelope struct {
	fn func()
}

func (c *closureEnvelope) run(w *Worker) {
	defer func() { _ = recover() }()
	c.fn()
}

// mailbox is the per-worker cross-thread submission queue and wake
// mechanism (spec.md §4.2). The general queue is a mutex-guarded slice
// (submitters may allocate/block briefly, so lock-free isn't required
// here); the raw ring is a fixed-capacity lock-free queue reserved for
// the signal-safe path.
type mailbox struct {
	mu    sync.Mutex
	items []envelope

	raw *queue.LockFree[RawMessage]

	wake wakeSignal
}

// wakeSignal abstracts the OS wake primitive so mailbox stays portable;
// see wake_linux.go for the eventfd-backed implementation.
type wakeSignal interface {
	// fd returns the descriptor to register with the reactor, or 0 if
	// this platform has no wake descriptor (tests / non-Linux builds).
	fd() uintptr
	// drain consumes the pending wake count.
	drain()
	// signal wakes the worker's Wait call. Must be safe to call from a
	// signal handler when raised via enqueueRaw.
	signal()
}

func newMailbox(rawCapacity int) *mailbox {
	return &mailbox{
		items: nil,
		raw:   queue.New[RawMessage](rawCapacity),
		wake:  newWakeSignal(),
	}
}

func (mb *mailbox) enqueue(e envelope) {
	mb.mu.Lock()
	mb.items = append(mb.items, e)
	mb.mu.Unlock()
	mb.wake.signal()
}

func (mb *mailbox) pop() (envelope, bool) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if len(mb.items) == 0 {
		return nil, false
	}
	e := mb.items[0]
	mb.items[0] = nil
	mb.items = mb.items[1:]
	return e, true
}

func (mb *mailbox) pending() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return len(mb.items)
}

// enqueueRaw pushes a signal-safe raw message; it never allocates and
// never logs, per spec.md §9.
func (mb *mailbox) enqueueRaw(msg RawMessage) bool {
	ok := mb.raw.Enqueue(msg)
	if ok {
		mb.wake.signal()
	}
	return ok
}
