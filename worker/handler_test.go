package worker_test

import (
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/coreflux/routingcore/api"
	"github.com/coreflux/routingcore/reactor"
	"github.com/coreflux/routingcore/worker"
)

type recordingHandler struct {
	reads atomic.Int32
}

func (h *recordingHandler) OnRead(api.DCBHandle) error {
	h.reads.Add(1)
	return nil
}
func (h *recordingHandler) OnWriteReady(api.DCBHandle) error { return nil }
func (h *recordingHandler) OnError(api.DCBHandle) error      { return nil }
func (h *recordingHandler) OnHangup(api.DCBHandle) error     { return nil }
func (h *recordingHandler) Established() bool                { return true }
func (h *recordingHandler) ReuseConnection(api.DCBHandle, api.Upstream) bool { return false }
func (h *recordingHandler) Clear()                            {}

func TestRegisterDCBRoutesReadEvents(t *testing.T) {
	r, wr, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer r.Close()
	defer wr.Close()
	if err := unix.SetNonblock(int(r.Fd()), true); err != nil {
		t.Fatalf("SetNonblock: %v", err)
	}

	w, err := worker.New(worker.Config{ID: 300, CPUID: -1, Log: zerolog.Nop()})
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
	defer func() {
		w.Stop()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("worker did not stop in time")
		}
	}()

	h := &recordingHandler{}
	sem := worker.NewSemaphore(1)
	var regErr error
	_ = w.SubmitTask(func() {
		dcb := worker.NewDCB(api.RoleClient, r.Fd(), h, r)
		regErr = w.RegisterDCB(dcb, reactor.EventRead)
	}, sem, worker.Queued)
	sem.Wait(1)
	if regErr != nil {
		t.Fatalf("RegisterDCB: %v", regErr)
	}

	if _, err := wr.Write([]byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.reads.Load() > 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("OnRead was never invoked for the ready descriptor")
}
