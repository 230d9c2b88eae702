package worker

import "github.com/coreflux/routingcore/api"

// Session is identified by a 64-bit id, owned by its client DCB, and
// referenced weakly (by id, re-resolved through the owning worker's
// registry) by any backend DCB opened on its behalf. Grounded on
// routingworker.cc's SessionsById registry.
type Session struct {
	ID          uint64
	ClientDCB   *DCB
	CloseReason api.CloseReason
}

// sessions is the per-worker id -> Session map from spec.md §4.9/C9.
// Lookups are local: a session id registered on worker A is not visible
// from worker B, matching "there is no global registry".
type sessions struct {
	byID map[uint64]*Session
}

func newSessions() *sessions {
	return &sessions{byID: make(map[uint64]*Session)}
}

// RegisterSession adds s to the current worker's registry. Must be
// called from the owning worker's own goroutine.
func (w *Worker) RegisterSession(s *Session) error {
	if !w.onSelf() {
		return api.ErrWrongWorker
	}
	if _, exists := w.sess.byID[s.ID]; exists {
		return api.ErrSessionExists
	}
	w.sess.byID[s.ID] = s
	w.stats.sessionsCurrent.Add(1)
	return nil
}

// DeregisterSession removes s from the registry it was registered under.
func (w *Worker) DeregisterSession(s *Session) error {
	if !w.onSelf() {
		return api.ErrWrongWorker
	}
	if _, exists := w.sess.byID[s.ID]; !exists {
		return api.ErrSessionNotFound
	}
	delete(w.sess.byID, s.ID)
	w.stats.sessionsCurrent.Add(-1)
	return nil
}

// LookupSession resolves id against the current worker's registry only.
func (w *Worker) LookupSession(id uint64) (*Session, bool) {
	s, ok := w.sess.byID[id]
	return s, ok
}

// SessionCount reports the number of sessions currently registered.
func (w *Worker) SessionCount() int {
	return len(w.sess.byID)
}
