//go:build linux

package worker

import "golang.org/x/sys/unix"

// eventfdWake is a wake descriptor backed by a Linux eventfd(2): writes
// are a single non-blocking add-and-wake, reads drain the accumulated
// count. Grounded on the wake-fd pattern used by internal/concurrency's
// epoll poller in the teacher, generalized here for signal-safety (the
// write syscall performs no allocation).
type eventfdWake struct {
	efd int
}

func newWakeSignal() wakeSignal {
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		// Fall back to a no-op wake: the mailbox is still correct, just
		// relies on the worker's own periodic 100ms tick to notice
		// pending work instead of waking immediately.
		return noopWake{}
	}
	return &eventfdWake{efd: efd}
}

func (w *eventfdWake) fd() uintptr { return uintptr(w.efd) }

func (w *eventfdWake) drain() {
	var buf [8]byte
	for {
		_, err := unix.Read(w.efd, buf[:])
		if err != nil {
			return
		}
	}
}

func (w *eventfdWake) signal() {
	var buf [8]byte
	buf[0] = 1
	_, _ = unix.Write(w.efd, buf[:])
}

type noopWake struct{}

func (noopWake) fd() uintptr { return 0 }
func (noopWake) drain()      {}
func (noopWake) signal()     {}
