package api

import "sync/atomic"

// Server is the runtime's view of a backend server, as described in
// spec.md §3/§6. The monitor/config layers that populate it are out of
// scope; the runtime only reads these properties and mutates the atomic
// counters.
type Server interface {
	// Name identifies the server for logging/stats.
	Name() string
	// IsRunning reports whether the monitor currently considers the
	// server reachable.
	IsRunning() bool
	// PoolMaxCount is the persistent-pool cap for this server. It bounds
	// each worker's pool and, through the shared NPersistent counter, the
	// total pooled across all workers. Zero disables pooling entirely.
	PoolMaxCount() int
	// PoolMaxAge is the maximum idle age, in seconds, before a pooled
	// entry is evicted regardless of activity.
	PoolMaxAge() int64
	// ConnIdleTimeout is the configured idle timeout in seconds for
	// client connections routed through this server; zero disables it.
	ConnIdleTimeout() int64
	// NetWriteTimeout is the configured write-stall timeout in seconds;
	// zero disables it.
	NetWriteTimeout() int64

	// Counters is the shared atomic counter block, mutated with relaxed
	// ordering from any worker.
	Counters() *ServerCounters
}

// ServerCounters holds the atomically-shared counters from spec.md §3/§5.
// n_persistent uses a compare-and-swap bounded increment so the pool cap
// is enforced without a lock (spec.md §9).
type ServerCounters struct {
	NPersistent          atomic.Int64
	NCurrent             atomic.Int64
	NFromPool            atomic.Int64
	PersistHighWaterMark atomic.Int64
}

// TryIncrementPersistent attempts to increment NPersistent by one,
// provided the result does not exceed bound. Returns false without
// mutating anything if the pool is already at capacity.
func (c *ServerCounters) TryIncrementPersistent(bound int64) bool {
	for {
		cur := c.NPersistent.Load()
		if cur >= bound {
			return false
		}
		if c.NPersistent.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}
