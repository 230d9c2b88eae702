// Package backendpool implements the per-worker, per-server persistent
// connection pool (spec.md §4.5, component C5): a bounded FIFO of idle,
// authenticated backend DCBs available for reuse across sessions
// targeting the same server.
package backendpool

import (
	"time"

	"github.com/eapache/queue"

	"github.com/coreflux/routingcore/api"
	"github.com/coreflux/routingcore/worker"
)

// PersistentEntry wraps an idle backend DCB with the timestamp it was
// pooled at, used by EvictExpired to enforce PoolMaxAge.
type PersistentEntry struct {
	Created time.Time
	DCB     *worker.DCB
}

// Connector performs a fresh backend connection when the pool has
// nothing reusable. It lives outside this package (protocol- and
// transport-specific); the pool only knows how to hold and hand back
// idle DCBs, per spec.md §4.5 step 4.
type Connector func(server api.Server, session *worker.Session, upstream api.Upstream) (*worker.DCB, error)

// PersistentPool is a single server's idle-connection deque, owned by
// one worker. It is never touched from any other worker's goroutine.
//
// The deque is backed by github.com/eapache/queue, a ring-buffer FIFO —
// present in the teacher's go.mod but unimported anywhere in its tree;
// it is exactly the push-back/pop-front discipline spec.md §4.5 and §9
// commit to.
type PersistentPool struct {
	w         *worker.Worker
	server    api.Server
	entries   *queue.Queue
	connect   Connector
	evicting  bool
	allowPool bool // false disables pooling for this server entirely
}

// New builds a PersistentPool for server, owned by w, and registers it
// with w so that worker thread exit evicts it (spec.md §4.3).
func New(w *worker.Worker, server api.Server, connect Connector, allowPool bool) *PersistentPool {
	p := &PersistentPool{
		w:         w,
		server:    server,
		entries:   queue.New(),
		connect:   connect,
		allowPool: allowPool,
	}
	w.RegisterPool(server, p)
	return p
}

// Len reports the current pool depth.
func (p *PersistentPool) Len() int { return p.entries.Length() }

func (p *PersistentPool) popFront() (*PersistentEntry, bool) {
	if p.entries.Length() == 0 {
		return nil, false
	}
	e := p.entries.Peek().(*PersistentEntry)
	p.entries.Remove()
	return e, true
}

func (p *PersistentPool) pushBack(e *PersistentEntry) {
	p.entries.Add(e)
}

// GetBackend implements spec.md §4.5's acquisition algorithm: reuse a
// pooled connection if one can be validated, otherwise connect fresh.
func (p *PersistentPool) GetBackend(session *worker.Session, upstream api.Upstream) (*worker.DCB, error) {
	if p.allowPool && p.server.IsRunning() {
		p.EvictExpired()
		for {
			entry, ok := p.popFront()
			if !ok {
				break
			}
			dcb := entry.DCB
			p.server.Counters().NPersistent.Add(-1)

			dcb.RestoreHandler()
			dcb.SetSession(session)

			if dcb.Handler().ReuseConnection(dcb, upstream) {
				p.server.Counters().NFromPool.Add(1)
				p.server.Counters().NCurrent.Add(1)
				_ = p.w.Add(dcb)
				return dcb, nil
			}

			p.evicting = true
			_ = p.w.Reactor().Remove(dcb.Fd())
			p.w.DestroyLater(dcb)
			p.evicting = false
		}
	}

	dcb, err := p.connect(p.server, session, upstream)
	if err != nil {
		return nil, err
	}
	_ = p.w.Add(dcb)
	return dcb, nil
}

// CanBeDestroyed implements spec.md §4.5's release logic: decide whether
// a closing backend DCB should instead be parked in the pool. Returning
// false means the DCB has been moved into the pool and must not be
// destroyed by the caller.
func (p *PersistentPool) CanBeDestroyed(dcb *worker.DCB) bool {
	if p.evicting {
		return true
	}

	bound := int64(p.server.PoolMaxCount())
	poolable := p.allowPool &&
		dcb.State() == api.StatePolling &&
		dcb.Handler() != nil &&
		dcb.Handler().Established() &&
		bound > 0 &&
		p.server.IsRunning() &&
		!dcb.HungUp()

	if poolable {
		if kept := p.EvictExpired(); int64(kept) < bound {
			if p.server.Counters().TryIncrementPersistent(bound) {
				dcb.Handler().Clear()
				dcb.SwapHandler(&poolHandler{pool: p, dcb: dcb})
				p.pushBack(&PersistentEntry{Created: time.Now(), DCB: dcb})
				_ = p.w.Remove(dcb)
				p.server.Counters().NCurrent.Add(-1)
				return false
			}
		}
	}
	return true
}

// poolHandler is installed on every DCB parked in the pool. Any
// readiness callback on a pooled DCB means the peer did something
// (typically hung up); the entry must be evicted and closed, never
// handed protocol traffic (spec.md §4.5 "Pool-handler").
type poolHandler struct {
	pool *PersistentPool
	dcb  *worker.DCB
}

func (h *poolHandler) OnRead(api.DCBHandle) error                       { h.evictSpurious(); return nil }
func (h *poolHandler) OnWriteReady(api.DCBHandle) error                 { h.evictSpurious(); return nil }
func (h *poolHandler) OnError(api.DCBHandle) error                      { h.evictSpurious(); return nil }
func (h *poolHandler) OnHangup(api.DCBHandle) error                     { h.evictSpurious(); return nil }
func (h *poolHandler) Established() bool                                { return false }
func (h *poolHandler) ReuseConnection(api.DCBHandle, api.Upstream) bool { return false }
func (h *poolHandler) Clear()                                           {}

func (h *poolHandler) evictSpurious() {
	if h.pool.removeEntry(h.dcb) {
		h.pool.server.Counters().NPersistent.Add(-1)
	}
	h.pool.closeEvicting(h.dcb)
}

// removeEntry scans and drops the entry wrapping dcb, if present. The
// pool is small and worker-local; a linear scan matches the teacher's
// own eviction scans (§4.5 describes evict_expired as a front-to-back
// scan) rather than needing a secondary index.
func (p *PersistentPool) removeEntry(dcb *worker.DCB) bool {
	n := p.entries.Length()
	found := false
	for i := 0; i < n; i++ {
		e := p.entries.Peek().(*PersistentEntry)
		p.entries.Remove()
		if !found && e.DCB == dcb {
			found = true
			continue
		}
		p.entries.Add(e)
	}
	return found
}

// closeEvicting queues dcb for destruction (DestroyLater) with this
// pool's evicting flag held, so that if the close path re-enters
// CanBeDestroyed it returns true (don't re-pool) rather than looping. Bookkeeping is kept symmetric by
// re-registering dcb in the live set just for the duration of the close
// (spec.md §4.5 "Eviction").
func (p *PersistentPool) closeEvicting(dcb *worker.DCB) {
	p.evicting = true
	dcb.RestoreHandler()
	_ = p.w.Add(dcb)
	p.w.DestroyLater(dcb)
	p.w.Log().Debug().
		Uint64("fd", uint64(dcb.Fd())).
		Str("server", p.server.Name()).
		Msg("evicted pooled backend dcb")
	p.evicting = false
}

// EvictExpired scans front-to-back, evicting entries that have hung up,
// aged past PoolMaxAge, exceed PoolMaxCount, or belong to a server the
// monitor no longer considers running (in which case every entry is
// evicted). Returns the number of entries kept.
func (p *PersistentPool) EvictExpired() int {
	n := p.entries.Length()
	serverDown := !p.server.IsRunning()
	maxAge := time.Duration(p.server.PoolMaxAge()) * time.Second
	maxCount := p.server.PoolMaxCount()
	now := time.Now()

	kept := 0
	var toClose []*worker.DCB
	for i := 0; i < n; i++ {
		e := p.entries.Peek().(*PersistentEntry)
		p.entries.Remove()

		expired := serverDown ||
			e.DCB.HungUp() ||
			now.Sub(e.Created) > maxAge ||
			(maxCount > 0 && kept >= maxCount)

		if expired {
			toClose = append(toClose, e.DCB)
			p.server.Counters().NPersistent.Add(-1)
			continue
		}
		kept++
		p.entries.Add(e)
	}

	if hwm := &p.server.Counters().PersistHighWaterMark; int64(kept) > hwm.Load() {
		hwm.Store(int64(kept))
	}

	for _, dcb := range toClose {
		p.closeEvicting(dcb)
	}
	return kept
}

// EvictAll implements worker.Pool: it is invoked on worker thread exit
// (spec.md §4.3 "Evict::ALL").
func (p *PersistentPool) EvictAll() {
	for {
		e, ok := p.popFront()
		if !ok {
			return
		}
		p.server.Counters().NPersistent.Add(-1)
		p.closeEvicting(e.DCB)
	}
}
