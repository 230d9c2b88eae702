package listener_test

import (
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/coreflux/routingcore/listener"
	"github.com/coreflux/routingcore/reactor"
	"github.com/coreflux/routingcore/worker"
)

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

func TestSharedListenerFanOutToAttachedWorker(t *testing.T) {
	r, wr, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer r.Close()
	defer wr.Close()

	sl, err := listener.NewSharedListener()
	if err != nil {
		t.Fatalf("NewSharedListener: %v", err)
	}
	defer sl.Close()

	fired := make(chan struct{}, 1)
	handler := func(w *worker.Worker, fd uintptr, events reactor.EventType) listener.Result {
		var buf [1]byte
		_, _ = unix.Read(int(fd), buf[:])
		select {
		case fired <- struct{}{}:
		default:
		}
		return listener.ResultAccept
	}

	if err := sl.AddSharedFD(r.Fd(), reactor.EventRead, 0, handler); err != nil {
		t.Fatalf("AddSharedFD: %v", err)
	}

	w, stop := newRunningWorker(t, 200)
	defer stop()

	if err := sl.AttachToWorker(w); err != nil {
		t.Fatalf("AttachToWorker: %v", err)
	}

	if _, err := wr.Write([]byte{1}); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("shared handler was never invoked")
	}

	// Give the worker a moment to record the stat after the callback returns.
	time.Sleep(20 * time.Millisecond)
	snap := w.Snapshot()
	if snap.AcceptsTotal != 1 {
		t.Fatalf("AcceptsTotal = %d, want 1", snap.AcceptsTotal)
	}
}

func TestDetachFromWorkerRemovesRegistration(t *testing.T) {
	r, wr, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer r.Close()
	defer wr.Close()

	sl, err := listener.NewSharedListener()
	if err != nil {
		t.Fatalf("NewSharedListener: %v", err)
	}
	defer sl.Close()

	handler := func(w *worker.Worker, fd uintptr, events reactor.EventType) listener.Result {
		return listener.ResultNOP
	}
	if err := sl.AddSharedFD(r.Fd(), reactor.EventRead, 0, handler); err != nil {
		t.Fatalf("AddSharedFD: %v", err)
	}

	w, stop := newRunningWorker(t, 201)
	defer stop()

	if err := sl.AttachToWorker(w); err != nil {
		t.Fatalf("AttachToWorker: %v", err)
	}
	if err := sl.DetachFromWorker(w); err != nil {
		t.Fatalf("DetachFromWorker: %v", err)
	}
}
