package worker

// Pool is the narrow view of backendpool.PersistentPool that Worker
// needs: evict everything on thread exit (spec.md §4.3 "Thread exit
// evicts all pool entries (Evict::ALL)"). Kept here, rather than
// importing the backendpool package, to avoid a cycle: backendpool
// depends on worker for DCB/registry access, not the other way round.
type Pool interface {
	EvictAll()
}
