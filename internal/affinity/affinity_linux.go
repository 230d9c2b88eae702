//go:build linux

package affinity

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// Pin locks the calling goroutine to its OS thread and restricts that
// thread to cpuID. Callers must not unlock the OS thread themselves;
// use Unpin.
func Pin(cpuID int) error {
	runtime.LockOSThread()
	if cpuID < 0 {
		return nil
	}
	var set unix.CPUSet
	set.Zero()
	set.Set(cpuID)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("affinity: sched_setaffinity cpu=%d: %w", cpuID, err)
	}
	return nil
}

// Unpin releases the OS thread lock taken by Pin.
func Unpin() {
	Unbind()
	runtime.UnlockOSThread()
}

func currentThreadID() int {
	return unix.Gettid()
}

// NumCPU reports the number of CPUs available to the process, used to
// bound round-robin core assignment for the worker pool.
func NumCPU() int {
	return runtime.NumCPU()
}
