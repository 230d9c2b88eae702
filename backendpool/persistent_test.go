package backendpool_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/coreflux/routingcore/api"
	"github.com/coreflux/routingcore/backendpool"
	"github.com/coreflux/routingcore/worker"
)

type fakeServer struct {
	name            string
	running         bool
	poolMaxCount    int
	poolMaxAge      int64
	connIdleTimeout int64
	netWriteTimeout int64
	counters        api.ServerCounters
}

func (s *fakeServer) Name() string             { return s.name }
func (s *fakeServer) IsRunning() bool          { return s.running }
func (s *fakeServer) PoolMaxCount() int        { return s.poolMaxCount }
func (s *fakeServer) PoolMaxAge() int64        { return s.poolMaxAge }
func (s *fakeServer) ConnIdleTimeout() int64   { return s.connIdleTimeout }
func (s *fakeServer) NetWriteTimeout() int64   { return s.netWriteTimeout }
func (s *fakeServer) Counters() *api.ServerCounters { return &s.counters }

type fakeHandler struct {
	established bool
	reuseOK     bool
	cleared     bool
	reused      bool
}

func (h *fakeHandler) OnRead(api.DCBHandle) error       { return nil }
func (h *fakeHandler) OnWriteReady(api.DCBHandle) error { return nil }
func (h *fakeHandler) OnError(api.DCBHandle) error      { return nil }
func (h *fakeHandler) OnHangup(api.DCBHandle) error     { return nil }
func (h *fakeHandler) Established() bool                { return h.established }
func (h *fakeHandler) ReuseConnection(api.DCBHandle, api.Upstream) bool {
	h.reused = true
	return h.reuseOK
}
func (h *fakeHandler) Clear() { h.cleared = true }

type fakeUpstream struct{}

func (fakeUpstream) Name() string { return "test-upstream" }

func newRunningWorker(t *testing.T, id int) (*worker.Worker, func()) {
	t.Helper()
	w, err := worker.New(worker.Config{ID: id, CPUID: -1, Log: zerolog.Nop()})
	if err != nil {
		t.Fatalf("worker.New: %v", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := w.Run(); err != nil {
			t.Errorf("worker.Run: %v", err)
		}
	}()
	time.Sleep(10 * time.Millisecond)
	return w, func() {
		w.Stop()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("worker did not stop in time")
		}
	}
}

// onWorker runs fn synchronously on w's own goroutine.
func onWorker(t *testing.T, w *worker.Worker, fn func()) {
	t.Helper()
	sem := worker.NewSemaphore(1)
	if err := w.SubmitTask(fn, sem, worker.Queued); err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}
	sem.Wait(1)
}

func TestCanBeDestroyedPoolsEstablishedConnection(t *testing.T) {
	w, stop := newRunningWorker(t, 100)
	defer stop()

	srv := &fakeServer{name: "s1", running: true, poolMaxCount: 2}
	pool := backendpool.New(w, srv, func(api.Server, *worker.Session, api.Upstream) (*worker.DCB, error) {
		t.Fatal("connect should not be called when the pool has room")
		return nil, nil
	}, true)

	h := &fakeHandler{established: true}
	var pooled bool
	onWorker(t, w, func() {
		dcb := worker.NewDCB(api.RoleBackend, 1, h, nil)
		dcb.SetServer(srv)
		_ = w.Add(dcb)
		srv.counters.NCurrent.Add(1)
		pooled = !pool.CanBeDestroyed(dcb)
	})

	if !pooled {
		t.Fatal("expected established backend connection to be pooled, not destroyed")
	}
	if !h.cleared {
		t.Fatal("handler.Clear was not called before pooling")
	}
	if got := srv.counters.NPersistent.Load(); got != 1 {
		t.Fatalf("NPersistent = %d, want 1", got)
	}
	if got := srv.counters.NCurrent.Load(); got != 0 {
		t.Fatalf("NCurrent = %d, want 0", got)
	}
	if pool.Len() != 1 {
		t.Fatalf("pool.Len() = %d, want 1", pool.Len())
	}
}

func TestCanBeDestroyedRefusesWhenPoolingDisabled(t *testing.T) {
	w, stop := newRunningWorker(t, 101)
	defer stop()

	srv := &fakeServer{name: "s1", running: true, poolMaxCount: 0}
	pool := backendpool.New(w, srv, nil, true)

	h := &fakeHandler{established: true}
	var destroy bool
	onWorker(t, w, func() {
		dcb := worker.NewDCB(api.RoleBackend, 1, h, nil)
		dcb.SetServer(srv)
		_ = w.Add(dcb)
		destroy = pool.CanBeDestroyed(dcb)
	})

	if !destroy {
		t.Fatal("expected CanBeDestroyed to return true when pool_max_count is 0")
	}
	if pool.Len() != 0 {
		t.Fatalf("pool.Len() = %d, want 0", pool.Len())
	}
}

func TestGetBackendReusesPooledConnection(t *testing.T) {
	w, stop := newRunningWorker(t, 102)
	defer stop()

	srv := &fakeServer{name: "s1", running: true, poolMaxCount: 2, poolMaxAge: 60}
	pool := backendpool.New(w, srv, func(api.Server, *worker.Session, api.Upstream) (*worker.DCB, error) {
		t.Fatal("connect should not be called: a pooled entry should have been reused")
		return nil, nil
	}, true)

	h := &fakeHandler{established: true, reuseOK: true}
	var reused *worker.DCB
	var reuseErr error
	onWorker(t, w, func() {
		dcb := worker.NewDCB(api.RoleBackend, 5, h, nil)
		dcb.SetServer(srv)
		_ = w.Add(dcb)
		srv.counters.NCurrent.Add(1)
		if pool.CanBeDestroyed(dcb) {
			t.Fatal("expected the DCB to be pooled")
		}

		session := &worker.Session{ID: 1}
		reused, reuseErr = pool.GetBackend(session, fakeUpstream{})
	})

	if reuseErr != nil {
		t.Fatalf("GetBackend: %v", reuseErr)
	}
	if reused == nil || reused.Fd() != 5 {
		t.Fatalf("expected the pooled fd=5 DCB back, got %+v", reused)
	}
	if !h.reused {
		t.Fatal("ReuseConnection was never called")
	}
	if got := srv.counters.NFromPool.Load(); got != 1 {
		t.Fatalf("NFromPool = %d, want 1", got)
	}
	if pool.Len() != 0 {
		t.Fatalf("pool.Len() = %d, want 0 after reuse", pool.Len())
	}
}

func TestEvictExpiredDropsHungUpEntries(t *testing.T) {
	w, stop := newRunningWorker(t, 103)
	defer stop()

	srv := &fakeServer{name: "s1", running: true, poolMaxCount: 5, poolMaxAge: 60}
	pool := backendpool.New(w, srv, nil, true)

	h := &fakeHandler{established: true}
	onWorker(t, w, func() {
		dcb := worker.NewDCB(api.RoleBackend, 9, h, nil)
		dcb.SetServer(srv)
		_ = w.Add(dcb)
		srv.counters.NCurrent.Add(1)
		if pool.CanBeDestroyed(dcb) {
			t.Fatal("expected the DCB to be pooled")
		}
		dcb.SetHungUp(true)

		kept := pool.EvictExpired()
		if kept != 0 {
			t.Fatalf("EvictExpired kept %d, want 0", kept)
		}
	})

	if pool.Len() != 0 {
		t.Fatalf("pool.Len() = %d, want 0 after eviction", pool.Len())
	}
	if got := srv.counters.NPersistent.Load(); got != 0 {
		t.Fatalf("NPersistent = %d, want 0", got)
	}
}
