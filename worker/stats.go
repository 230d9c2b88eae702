package worker

import "sync/atomic"

// counters is the per-worker statistics block (C10). All fields are
// only ever mutated from the owning worker's own goroutine (including
// via a mailbox task submitted for stats collection), so plain integers
// would be correct too; atomics are kept for the rare case a caller
// reads a live worker's counters without going through the mailbox
// (e.g. best-effort /debug output).
type counters struct {
	acceptsTotal    atomic.Int64
	readEvents      atomic.Int64
	writeEvents     atomic.Int64
	errorEvents     atomic.Int64
	hangupEvents    atomic.Int64
	zombiesDrained  atomic.Int64
	tasksExecuted   atomic.Int64
	timeoutsFired   atomic.Int64
	sessionsCurrent atomic.Int64
	nFds            atomic.Int64
}

// StatSnapshot is a point-in-time, worker-tagged copy of counters, safe
// to pass across goroutines (used by router.Pool's stats collection
// broadcast).
type StatSnapshot struct {
	WorkerID        int
	AcceptsTotal    int64
	ReadEvents      int64
	WriteEvents     int64
	ErrorEvents     int64
	HangupEvents    int64
	ZombiesDrained  int64
	TasksExecuted   int64
	TimeoutsFired   int64
	SessionsCurrent int64
	NFds            int64
}

// Snapshot copies the worker's live counters. Intended to run as a
// mailbox task on the worker itself.
func (w *Worker) Snapshot() StatSnapshot {
	return StatSnapshot{
		WorkerID:        w.id,
		AcceptsTotal:    w.stats.acceptsTotal.Load(),
		ReadEvents:      w.stats.readEvents.Load(),
		WriteEvents:     w.stats.writeEvents.Load(),
		ErrorEvents:     w.stats.errorEvents.Load(),
		HangupEvents:    w.stats.hangupEvents.Load(),
		ZombiesDrained:  w.stats.zombiesDrained.Load(),
		TasksExecuted:   w.stats.tasksExecuted.Load(),
		TimeoutsFired:   w.stats.timeoutsFired.Load(),
		SessionsCurrent: w.stats.sessionsCurrent.Load(),
		NFds:            int64(len(w.dcbSet)),
	}
}

// Aggregate combines per-worker snapshots. Fixes the bug spec.md §9
// calls out in the original (n_fds overwritten three times, evidently
// meant to be three distinct fields): NFdsSum, NFdsMin and NFdsMax are
// tracked separately rather than sharing one field.
type Aggregate struct {
	Workers         int
	AcceptsTotal    int64
	ReadEvents      int64
	WriteEvents     int64
	ErrorEvents     int64
	HangupEvents    int64
	TasksExecuted   int64
	TimeoutsFired   int64
	SessionsCurrent int64
	NFdsSum         int64
	NFdsMin         int64
	NFdsMax         int64
	NFdsAvg         float64
}

// RecordAccept, RecordRead, RecordWrite, RecordError and RecordHangup
// bump the corresponding counter. Exposed so the shared listener fan-out
// (C7) can feed its handler result codes into the same per-worker
// statistics the event loop itself updates (spec.md §4.7).
func (w *Worker) RecordAccept() { w.stats.acceptsTotal.Add(1) }
func (w *Worker) RecordRead()   { w.stats.readEvents.Add(1) }
func (w *Worker) RecordWrite()  { w.stats.writeEvents.Add(1) }
func (w *Worker) RecordError()  { w.stats.errorEvents.Add(1) }
func (w *Worker) RecordHangup() { w.stats.hangupEvents.Add(1) }

// AggregateSnapshots sums/min/max/avg a vector of per-worker snapshots,
// without any synchronization: the caller collected them sequentially
// via a broadcast+barrier, so there is nothing left to race on.
func AggregateSnapshots(snaps []StatSnapshot) Aggregate {
	var a Aggregate
	if len(snaps) == 0 {
		return a
	}
	a.Workers = len(snaps)
	a.NFdsMin = snaps[0].NFds
	for _, s := range snaps {
		a.AcceptsTotal += s.AcceptsTotal
		a.ReadEvents += s.ReadEvents
		a.WriteEvents += s.WriteEvents
		a.ErrorEvents += s.ErrorEvents
		a.HangupEvents += s.HangupEvents
		a.TasksExecuted += s.TasksExecuted
		a.TimeoutsFired += s.TimeoutsFired
		a.SessionsCurrent += s.SessionsCurrent
		a.NFdsSum += s.NFds
		if s.NFds < a.NFdsMin {
			a.NFdsMin = s.NFds
		}
		if s.NFds > a.NFdsMax {
			a.NFdsMax = s.NFds
		}
	}
	a.NFdsAvg = float64(a.NFdsSum) / float64(a.Workers)
	return a
}
