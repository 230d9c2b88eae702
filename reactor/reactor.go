// Package reactor is a thin, platform-neutral wrapper over the kernel's
// readiness-notification facility. It is the runtime's C1 component: it
// knows nothing about DCBs, workers, or sessions, only file descriptors,
// event masks, and an opaque per-descriptor token handed back on Wait.
package reactor

// EventType is a bitmask of readiness conditions.
type EventType uint32

const (
	EventRead EventType = 1 << iota
	EventWrite
	EventError
	EventHangup
)

// TriggerMode selects edge- or level-triggered delivery for a
// registration. Edge-triggered is the default for per-worker DCBs;
// level-triggered is mandatory for the shared listener fan-out
// (spec.md §4.7).
type TriggerMode int

const (
	TriggerEdge TriggerMode = iota
	TriggerLevel
)

// Callback is invoked synchronously from within Wait for each ready
// descriptor. Implementations must not block: Wait's caller (the worker
// loop) has no other suspension point.
type Callback func(fd uintptr, events EventType)

// FdSource is implemented by Reactor backends whose underlying kernel
// object is itself a pollable descriptor (epoll instances are). The
// shared listener fan-out (spec.md §4.7) uses this to register one
// process-wide reactor as a single event source on every worker's own
// multiplexer.
type FdSource interface {
	Fd() uintptr
}

// Reactor multiplexes readiness across a set of registered descriptors.
// A single Reactor instance is only ever driven by one goroutine at a
// time (see worker.Worker), except for the shared-listener instance,
// which many workers' Wait calls race to drain (spec.md §4.7) — the
// underlying kernel object tolerates that; this interface does not
// impose additional synchronization.
type Reactor interface {
	// Add registers fd for the given event mask and trigger mode. cb is
	// invoked with fd and the observed events whenever Wait reports
	// readiness for it.
	Add(fd uintptr, events EventType, mode TriggerMode, cb Callback) error
	// Modify changes the event mask of an already-registered fd.
	Modify(fd uintptr, events EventType) error
	// Remove deregisters fd. Idempotent: removing an unknown fd is not
	// an error.
	Remove(fd uintptr) error
	// Wait blocks for up to timeoutMs (a negative value blocks
	// indefinitely) and dispatches callbacks for every ready descriptor
	// observed in this call. Returns the number of descriptors
	// dispatched.
	Wait(timeoutMs int) (int, error)
	// Close releases the underlying kernel object.
	Close() error
}
