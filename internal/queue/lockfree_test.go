package queue

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
)

func TestLockFreeMPMC(t *testing.T) {
	q := New[int](1024)
	const producers = 8
	const perProducer = 5000

	var wg sync.WaitGroup
	var sent, received int64

	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				v := pid*perProducer + i + 1
				for !q.Enqueue(v) {
					runtime.Gosched()
				}
				atomic.AddInt64(&sent, int64(v))
			}
		}(p)
	}

	done := make(chan struct{})
	total := int64(producers * perProducer)
	var got int64
	for c := 0; c < producers; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for atomic.LoadInt64(&got) < total {
				v, ok := q.Dequeue()
				if !ok {
					runtime.Gosched()
					continue
				}
				atomic.AddInt64(&received, int64(v))
				if atomic.AddInt64(&got, 1) >= total {
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(done)
	}()
	<-done

	if sent != received {
		t.Fatalf("sent %d != received %d", sent, received)
	}
}

func TestLockFreeEmptyFull(t *testing.T) {
	q := New[int](2)
	if _, ok := q.Dequeue(); ok {
		t.Fatalf("expected empty queue")
	}
	if !q.Enqueue(1) || !q.Enqueue(2) {
		t.Fatalf("expected room for 2 elements")
	}
	if q.Enqueue(3) {
		t.Fatalf("expected queue to be full")
	}
	v, ok := q.Dequeue()
	if !ok || v != 1 {
		t.Fatalf("expected FIFO order, got %d ok=%v", v, ok)
	}
}
