package worker_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/coreflux/routingcore/api"
	"github.com/coreflux/routingcore/worker"
)

func newTestWorker(t *testing.T, id int) *worker.Worker {
	t.Helper()
	w, err := worker.New(worker.Config{
		ID:    id,
		CPUID: -1,
		Log:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("worker.New: %v", err)
	}
	return w
}

func runAndStop(t *testing.T, w *worker.Worker) func() {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := w.Run(); err != nil {
			t.Errorf("worker.Run: %v", err)
		}
	}()
	// Give the loop a moment to enter Wait() before submitting anything.
	time.Sleep(10 * time.Millisecond)
	return func() {
		w.Stop()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("worker did not stop in time")
		}
	}
}

func TestSubmitTaskRunsOnWorkerThread(t *testing.T) {
	w := newTestWorker(t, 0)
	stop := runAndStop(t, w)
	defer stop()

	var ran atomic.Bool
	sem := worker.NewSemaphore(1)
	if err := w.SubmitTask(func() { ran.Store(true) }, sem, worker.Queued); err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}
	sem.Wait(1)

	if !ran.Load() {
		t.Fatal("task did not run")
	}
}

func TestSubmitAfterStopIsRejected(t *testing.T) {
	w := newTestWorker(t, 1)
	stop := runAndStop(t, w)
	stop()

	if err := w.SubmitTask(func() {}, nil, worker.Queued); err != api.ErrPoolClosed {
		t.Fatalf("expected ErrPoolClosed after stop, got %v", err)
	}
}

func TestSessionRegistryRoundTripOnOwningWorker(t *testing.T) {
	w := newTestWorker(t, 2)
	stop := runAndStop(t, w)
	defer stop()

	var regErr, dupErr, lookupOK, deregErr error
	var found bool
	sem := worker.NewSemaphore(1)
	err := w.SubmitTask(func() {
		s := &worker.Session{ID: 42}
		regErr = w.RegisterSession(s)
		dupErr = w.RegisterSession(s)
		_, found = w.LookupSession(42)
		deregErr = w.DeregisterSession(s)
	}, sem, worker.Queued)
	if err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}
	sem.Wait(1)

	if regErr != nil {
		t.Fatalf("RegisterSession: %v", regErr)
	}
	if dupErr != api.ErrSessionExists {
		t.Fatalf("expected ErrSessionExists on duplicate register, got %v", dupErr)
	}
	if !found {
		t.Fatal("session lookup failed on registering worker")
	}
	if deregErr != nil {
		t.Fatalf("DeregisterSession: %v", deregErr)
	}
	_ = lookupOK
}

func TestSessionOpsFromWrongWorkerAreRejected(t *testing.T) {
	w := newTestWorker(t, 3)
	// Deliberately not run: onSelf() is false for every goroutine here.
	if err := w.RegisterSession(&worker.Session{ID: 1}); err != api.ErrWrongWorker {
		t.Fatalf("expected ErrWrongWorker, got %v", err)
	}
}

func TestRawMessageDeliveredAndDrained(t *testing.T) {
	var got uint32
	var gotA, gotB uintptr
	sem := worker.NewSemaphore(1)

	w, err := worker.New(worker.Config{
		ID:    4,
		CPUID: -1,
		Log:   zerolog.Nop(),
		RawMessageHook: func(msgID uint32, a, b uintptr) {
			got, gotA, gotB = msgID, a, b
			sem.Post()
		},
	})
	if err != nil {
		t.Fatalf("worker.New: %v", err)
	}
	stop := runAndStop(t, w)
	defer stop()

	if ok := w.SubmitRawMessage(7, 100, 200); !ok {
		t.Fatal("SubmitRawMessage rejected")
	}
	sem.Wait(1)

	if got != 7 || gotA != 100 || gotB != 200 {
		t.Fatalf("raw message mismatch: id=%d a=%d b=%d", got, gotA, gotB)
	}
}
