// Package listener implements the shared listener fan-out (spec.md
// §4.7, component C7): one process-wide readiness instance holding the
// listening sockets, registered as a level-triggered event source on
// every worker's own multiplexer, so that a burst of incoming
// connections is spread across whichever workers are free to accept
// rather than piling onto one.
package listener

import (
	"fmt"
	"sync"

	"github.com/coreflux/routingcore/internal/affinity"
	"github.com/coreflux/routingcore/reactor"
	"github.com/coreflux/routingcore/worker"
)

// Result is the outcome a Handler reports back for a single dispatch;
// it feeds the same per-worker statistics the event loop itself updates
// (spec.md §4.7 "feed the statistics").
type Result int

const (
	ResultNOP Result = iota
	ResultRead
	ResultWrite
	ResultHangup
	ResultError
	ResultAccept
)

// Handler processes one readiness event on a shared descriptor. It runs
// on whichever worker's Wait happened to observe the shared instance
// ready, so it must be safe to run on any worker — in practice this is
// always "accept and hand the new connection to pickWorker/self".
type Handler func(w *worker.Worker, fd uintptr, events reactor.EventType) Result

type sharedEntry struct {
	handler      Handler
	mainWorkerID int // bookkeeping owner; the event may be consumed by any worker
}

// SharedListener owns the process-wide reactor instance that holds every
// listening socket, and tracks which workers have it registered on
// their own private multiplexer.
type SharedListener struct {
	mu      sync.RWMutex
	shared  reactor.Reactor
	entries map[uintptr]*sharedEntry
	workers map[int]*worker.Worker
}

// NewSharedListener constructs the process-wide instance. Call this
// once, before any worker starts.
func NewSharedListener() (*SharedListener, error) {
	r, err := reactor.New()
	if err != nil {
		return nil, fmt.Errorf("listener: creating shared reactor: %w", err)
	}
	l := &SharedListener{
		shared:  r,
		entries: make(map[uintptr]*sharedEntry),
		workers: make(map[int]*worker.Worker),
	}
	return l, nil
}

// AddSharedFD registers fd on the shared instance, owned (for
// bookkeeping only) by mainWorkerID. Events are always dispatched
// level-triggered on the underlying descriptor, per spec.md §4.7.
func (s *SharedListener) AddSharedFD(fd uintptr, events reactor.EventType, mainWorkerID int, h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.shared.Add(fd, events, reactor.TriggerLevel, s.onReady); err != nil {
		return fmt.Errorf("listener: add shared fd=%d: %w", fd, err)
	}
	s.entries[fd] = &sharedEntry{handler: h, mainWorkerID: mainWorkerID}
	return nil
}

// RemoveSharedFD deregisters fd from the shared instance.
func (s *SharedListener) RemoveSharedFD(fd uintptr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, fd)
	return s.shared.Remove(fd)
}

// onReady is the single callback registered for every shared fd. It
// runs synchronously inside whichever worker's Wait triggered the
// drain (see AttachToWorker), so the calling worker's identity is
// recovered the same way the rest of the runtime recovers "who am I":
// the OS-thread-keyed binding in internal/affinity.
func (s *SharedListener) onReady(fd uintptr, events reactor.EventType) {
	s.mu.RLock()
	entry, ok := s.entries[fd]
	s.mu.RUnlock()
	if !ok {
		return
	}
	cur, ok := affinity.Current()
	w, ok2 := cur.(*worker.Worker)
	if !ok || !ok2 {
		return
	}

	switch entry.handler(w, fd, events) {
	case ResultAccept:
		w.RecordAccept()
	case ResultRead:
		w.RecordRead()
	case ResultWrite:
		w.RecordWrite()
	case ResultHangup:
		w.RecordHangup()
	case ResultError:
		w.RecordError()
	}
}

// AttachToWorker registers the shared instance's own descriptor as a
// single level-triggered event source on w's private multiplexer. When
// w's own Wait observes it ready, w drains the shared instance,
// consuming whatever shared events are currently pending — in practice
// one accept per worker wakeup, per spec.md §4.7's rationale for even
// distribution under a connection burst.
func (s *SharedListener) AttachToWorker(w *worker.Worker) error {
	fdSrc, ok := s.shared.(reactor.FdSource)
	if !ok {
		return fmt.Errorf("listener: shared reactor does not expose a pollable descriptor on this platform")
	}
	cb := func(_ uintptr, _ reactor.EventType) {
		_, _ = s.shared.Wait(0)
	}
	if err := w.Reactor().Add(fdSrc.Fd(), reactor.EventRead, reactor.TriggerLevel, cb); err != nil {
		return fmt.Errorf("listener: attach shared fd to worker %d: %w", w.ID(), err)
	}
	s.mu.Lock()
	s.workers[w.ID()] = w
	s.mu.Unlock()
	return nil
}

// DetachFromWorker deregisters the shared instance's descriptor from w's
// own multiplexer, e.g. on worker shutdown.
func (s *SharedListener) DetachFromWorker(w *worker.Worker) error {
	fdSrc, ok := s.shared.(reactor.FdSource)
	if !ok {
		return nil
	}
	s.mu.Lock()
	delete(s.workers, w.ID())
	s.mu.Unlock()
	return w.Reactor().Remove(fdSrc.Fd())
}

// Close releases the shared instance. Call once during process shutdown,
// after every worker has detached.
func (s *SharedListener) Close() error {
	return s.shared.Close()
}
