package worker

import (
	"time"

	"github.com/coreflux/routingcore/api"
)

// processTimeouts is the C6 timeout scanner. next_timeout_check is a
// deadline kept in 100ms units of wall-clock time, per spec.md §4.6;
// once reached it advances by one second (10 units) and the live DCB
// set is rescanned for idle/write-stalled client connections.
func (w *Worker) processTimeouts() {
	now := time.Now()
	now100ms := now.UnixMilli() / 100
	if now100ms < w.nextTimeoutCheck {
		return
	}
	w.nextTimeoutCheck = now100ms + 10
	for dcb := range w.dcbSet {
		if dcb.role != api.RoleClient || dcb.state != api.StatePolling {
			continue
		}
		srv := dcb.server
		if srv == nil {
			continue
		}
		idleTimeout := srv.ConnIdleTimeout()
		writeTimeout := srv.NetWriteTimeout()

		timedOut := false

		if idleTimeout > 0 {
			idle100ms := now.Sub(dcb.lastRead).Milliseconds() / 100
			if idle100ms > 10*idleTimeout {
				timedOut = true
			}
		}
		if !timedOut && writeTimeout > 0 && dcb.writeQueueLen > 0 {
			stall100ms := now.Sub(dcb.lastWrite).Milliseconds() / 100
			if stall100ms > 10*writeTimeout {
				timedOut = true
			}
		}

		if timedOut {
			w.stats.timeoutsFired.Add(1)
			if dcb.session != nil {
				dcb.session.CloseReason = api.CloseReasonTimeout
			}
			w.synthesizeHangup(dcb)
		}
	}
}

// synthesizeHangup routes a timeout through the normal handler path
// (spec.md §4.6: "no special cleanup is needed here").
func (w *Worker) synthesizeHangup(dcb *DCB) {
	dcb.hungUp = true
	if dcb.handler == nil {
		return
	}
	func() {
		defer func() { _ = recover() }()
		_ = dcb.handler.OnHangup(dcb)
	}()
}
