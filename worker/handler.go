package worker

import (
	"github.com/coreflux/routingcore/api"
	"github.com/coreflux/routingcore/reactor"
)

// RegisterDCB adds dcb to the worker's live DCB set and arms
// edge-triggered readiness callbacks on its descriptor, wiring the
// reactor's event bits to dcb's protocol handler. This is the concrete
// descriptor-to-handler plumbing the transport/protocol layer (out of
// scope, per spec.md §1) is expected to drive through: accept or
// connect a socket, wrap it in a DCB, then call RegisterDCB.
//
// dcb.fd == 0 is treated as a handle with no pollable descriptor (used
// by RoleInternal DCBs and by tests) and skips reactor registration.
func (w *Worker) RegisterDCB(dcb *DCB, events reactor.EventType) error {
	if err := w.Add(dcb); err != nil {
		return err
	}
	if dcb.fd == 0 {
		return nil
	}
	cb := func(_ uintptr, ev reactor.EventType) {
		w.dispatchReadiness(dcb, ev)
	}
	return w.reactor.Add(dcb.fd, events, reactor.TriggerEdge, cb)
}

// ArmWrite enables write-readiness delivery on dcb, e.g. once its
// protocol handler queues an outbound write. DisarmWrite reverses it,
// e.g. once the write queue drains, so the loop isn't woken by a
// perpetually-writable socket it has nothing to send on.
func (w *Worker) ArmWrite(dcb *DCB) error {
	return w.reactor.Modify(dcb.fd, reactor.EventRead|reactor.EventWrite)
}

func (w *Worker) DisarmWrite(dcb *DCB) error {
	return w.reactor.Modify(dcb.fd, reactor.EventRead)
}

func (w *Worker) dispatchReadiness(dcb *DCB, ev reactor.EventType) {
	if dcb.handler == nil {
		return
	}
	if ev&reactor.EventHangup != 0 {
		dcb.hungUp = true
		w.stats.hangupEvents.Add(1)
		w.callHandler(dcb, dcb.handler.OnHangup)
		return
	}
	if ev&reactor.EventError != 0 {
		w.stats.errorEvents.Add(1)
		w.callHandler(dcb, dcb.handler.OnError)
		return
	}
	if ev&reactor.EventRead != 0 {
		dcb.TouchRead()
		w.stats.readEvents.Add(1)
		w.callHandler(dcb, dcb.handler.OnRead)
	}
	if ev&reactor.EventWrite != 0 {
		dcb.TouchWrite()
		w.stats.writeEvents.Add(1)
		w.callHandler(dcb, dcb.handler.OnWriteReady)
	}
}

func (w *Worker) callHandler(dcb *DCB, fn func(api.DCBHandle) error) {
	defer func() { _ = recover() }()
	if err := fn(dcb); err != nil {
		w.log.Debug().Err(err).Uint64("fd", uint64(dcb.fd)).Str("role", dcb.role.String()).
			Msg("protocol handler returned error")
	}
}
