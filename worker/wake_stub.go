//go:build !linux

package worker

func newWakeSignal() wakeSignal { return noopWake{} }

type noopWake struct{}

func (noopWake) fd() uintptr { return 0 }
func (noopWake) drain()      {}
func (noopWake) signal()     {}
