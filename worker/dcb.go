package worker

import (
	"io"
	"time"

	"github.com/coreflux/routingcore/api"
)

// DCB is a descriptor control block: a handle over one connection, owned
// by exactly one worker for its whole lifetime (spec.md §3 invariant 1).
type DCB struct {
	role     api.Role
	state    api.State
	workerID int
	fd       uintptr

	session *Session   // set for RoleClient
	server  api.Server // set for RoleBackend

	handler         api.ProtocolHandler
	originalHandler api.ProtocolHandler // saved while parked under the pool-handler

	lastRead      time.Time
	lastWrite     time.Time
	writeQueueLen int
	hungUp        bool

	closer io.Closer
	// onDestroy, when non-nil, runs during real destruction, after the
	// closer is closed (spec.md §4.4/§5 "reentrancy in the close path").
	// Nothing sets it: NewDCB leaves it nil and there is no setter, so a
	// client DCB's destruction does not close its backend DCBs.
	onDestroy func(w *Worker)
}

// NewDCB constructs a DCB not yet attached to any worker.
func NewDCB(role api.Role, fd uintptr, handler api.ProtocolHandler, closer io.Closer) *DCB {
	return &DCB{
		role:    role,
		state:   api.StateAllocated,
		workerID: -1,
		fd:      fd,
		handler: handler,
		closer:  closer,
	}
}

func (d *DCB) Role() api.Role     { return d.role }
func (d *DCB) State() api.State   { return d.state }
func (d *DCB) Fd() uintptr        { return d.fd }
func (d *DCB) WorkerID() int      { return d.workerID }
func (d *DCB) HungUp() bool       { return d.hungUp }
func (d *DCB) SetHungUp(v bool)   { d.hungUp = v }
func (d *DCB) LastRead() time.Time  { return d.lastRead }
func (d *DCB) LastWrite() time.Time { return d.lastWrite }
func (d *DCB) TouchRead()         { d.lastRead = time.Now() }
func (d *DCB) TouchWrite()        { d.lastWrite = time.Now() }
func (d *DCB) WriteQueueLen() int { return d.writeQueueLen }
func (d *DCB) SetWriteQueueLen(n int) { d.writeQueueLen = n }
func (d *DCB) Server() api.Server { return d.server }
func (d *DCB) SetServer(s api.Server) { d.server = s }
func (d *DCB) Session() *Session  { return d.session }
func (d *DCB) SetSession(s *Session) { d.session = s }
func (d *DCB) Handler() api.ProtocolHandler { return d.handler }

// SessionID implements api.DCBHandle.
func (d *DCB) SessionID() (uint64, bool) {
	if d.session == nil {
		return 0, false
	}
	return d.session.ID, true
}

// SwapHandler installs h, stashing the previous handler as
// originalHandler so RestoreHandler can undo it (used by the persistent
// pool to install/remove the pool-handler around a pooled DCB).
func (d *DCB) SwapHandler(h api.ProtocolHandler) {
	d.originalHandler = d.handler
	d.handler = h
}

// RestoreHandler reinstates the handler saved by the most recent
// SwapHandler call.
func (d *DCB) RestoreHandler() {
	if d.originalHandler != nil {
		d.handler = d.originalHandler
		d.originalHandler = nil
	}
}

// Add inserts dcb into the worker's live DCB set. Must be called from
// the owning worker's goroutine; dcb.workerID is fixed on first call
// per DCB and never changes afterwards (invariant 1).
func (w *Worker) Add(dcb *DCB) error {
	if !w.onSelf() {
		w.logInvariant("Add called from wrong worker", dcb)
		return api.ErrWrongWorker
	}
	if dcb.workerID == -1 {
		dcb.workerID = w.id
	} else if dcb.workerID != w.id {
		w.logInvariant("dcb already attached to a different worker", dcb)
		return api.ErrAlreadyAttached
	}
	if _, exists := w.dcbSet[dcb]; exists {
		return nil
	}
	w.dcbSet[dcb] = struct{}{}
	if dcb.state == api.StateAllocated {
		dcb.state = api.StatePolling
	}
	return nil
}

// Remove deletes dcb from the live set without destroying it (used when
// a DCB moves into the persistent pool).
func (w *Worker) Remove(dcb *DCB) error {
	if !w.onSelf() {
		w.logInvariant("Remove called from wrong worker", dcb)
		return api.ErrWrongWorker
	}
	delete(w.dcbSet, dcb)
	return nil
}

// DestroyLater appends dcb to the zombie queue; real destruction happens
// at the next tick boundary (spec.md §4.4).
func (w *Worker) DestroyLater(dcb *DCB) {
	w.zombies = append(w.zombies, dcb)
}

// drainZombies pops from the back of the zombie queue until empty. This
// must not be a snapshot-iterate: real_destroy may itself append further
// zombies (e.g. a client DCB's destruction closing its backend DCBs).
func (w *Worker) drainZombies() {
	for len(w.zombies) > 0 {
		last := len(w.zombies) - 1
		dcb := w.zombies[last]
		w.zombies[last] = nil
		w.zombies = w.zombies[:last]
		w.realDestroy(dcb)
	}
}

func (w *Worker) realDestroy(dcb *DCB) {
	if pool, ok := w.pools[dcb.server]; ok && dcb.server != nil {
		_ = pool // presence check only; eviction is pool-driven, not here
	}
	delete(w.dcbSet, dcb)
	if dcb.fd != 0 {
		_ = w.reactor.Remove(dcb.fd)
	}
	dcb.state = api.StateDisconnected
	if dcb.closer != nil {
		_ = dcb.closer.Close()
	}
	if dcb.session != nil && dcb.role == api.RoleClient {
		_ = w.DeregisterSession(dcb.session)
	}
	w.stats.zombiesDrained.Add(1)
	if dcb.onDestroy != nil {
		dcb.onDestroy(w)
	}
}

func (w *Worker) logInvariant(msg string, dcb *DCB) {
	w.log.Warn().
		Int("worker_id", w.id).
		Uint64("fd", uint64(dcb.fd)).
		Str("role", dcb.role.String()).
		Msg(msg)
}
