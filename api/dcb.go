package api

// Role classifies what a DCB fronts.
type Role int

const (
	RoleClient Role = iota
	RoleBackend
	RoleInternal
)

func (r Role) String() string {
	switch r {
	case RoleClient:
		return "client"
	case RoleBackend:
		return "backend"
	case RoleInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// State is the DCB lifecycle state machine from spec.md §3.
type State int

const (
	StateAllocated State = iota
	StatePolling
	StateNoPolling
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateAllocated:
		return "allocated"
	case StatePolling:
		return "polling"
	case StateNoPolling:
		return "nopolling"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// CloseReason records why a session's client DCB was torn down.
type CloseReason int

const (
	CloseReasonNone CloseReason = iota
	CloseReasonNormal
	CloseReasonTimeout
	CloseReasonError
)

// ProtocolHandler is the capability set a DCB delegates readiness events
// and lifecycle transitions to. It is implemented by the (out of scope)
// wire-protocol layer; the runtime only ever calls through this contract.
type ProtocolHandler interface {
	// OnRead is invoked when the DCB's descriptor is readable.
	OnRead(dcb DCBHandle) error
	// OnWriteReady is invoked when the DCB's descriptor is reported
	// writable; the runtime does not check the write queue length first.
	OnWriteReady(dcb DCBHandle) error
	// OnError is invoked on a descriptor-level error condition.
	OnError(dcb DCBHandle) error
	// OnHangup is invoked on peer hangup, including synthetic hangups
	// raised by the timeout scanner (spec.md §4.6).
	OnHangup(dcb DCBHandle) error
	// Established reports whether the protocol session on this DCB has
	// completed its handshake/authentication and is safe to pool.
	Established() bool
	// ReuseConnection re-binds a previously pooled backend connection to
	// a new session/upstream pairing. False means the reuse attempt
	// failed and the DCB must be closed.
	ReuseConnection(dcb DCBHandle, upstream Upstream) bool
	// Clear resets any per-session state before a DCB is pushed into the
	// persistent pool.
	Clear()
}

// Upstream is the opaque caller-side component a reused/fresh backend
// connection reports back to (e.g. a router session).
type Upstream interface {
	// Name identifies the upstream component for diagnostics.
	Name() string
}

// DCBHandle is the narrow view of a DCB the protocol layer is allowed to
// see: everything needed to drive I/O and inspect bookkeeping fields
// without reaching into worker-private state.
type DCBHandle interface {
	Role() Role
	State() State
	Fd() uintptr
	WorkerID() int
	SessionID() (uint64, bool)
}
