//go:build linux

package reactor

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// epollReactor implements Reactor over Linux epoll(7).
type epollReactor struct {
	epfd int

	mu    sync.RWMutex
	cbs   map[uintptr]Callback
	modes map[uintptr]TriggerMode
}

// New constructs the epoll-backed Reactor.
func New() (Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	return &epollReactor{
		epfd:  epfd,
		cbs:   make(map[uintptr]Callback),
		modes: make(map[uintptr]TriggerMode),
	}, nil
}

func toEpollMask(events EventType, mode TriggerMode) uint32 {
	var m uint32
	if events&EventRead != 0 {
		m |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		m |= unix.EPOLLOUT
	}
	if mode == TriggerEdge {
		m |= unix.EPOLLET
	}
	return m
}

func (r *epollReactor) Add(fd uintptr, events EventType, mode TriggerMode, cb Callback) error {
	ev := unix.EpollEvent{Events: toEpollMask(events, mode), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, int(fd), &ev); err != nil {
		return fmt.Errorf("reactor: epoll_ctl add fd=%d: %w", fd, err)
	}
	r.mu.Lock()
	r.cbs[fd] = cb
	r.modes[fd] = mode
	r.mu.Unlock()
	return nil
}

func (r *epollReactor) Modify(fd uintptr, events EventType) error {
	r.mu.RLock()
	mode := r.modes[fd]
	r.mu.RUnlock()
	ev := unix.EpollEvent{Events: toEpollMask(events, mode), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, int(fd), &ev); err != nil {
		return fmt.Errorf("reactor: epoll_ctl mod fd=%d: %w", fd, err)
	}
	return nil
}

func (r *epollReactor) Remove(fd uintptr) error {
	err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, int(fd), nil)
	r.mu.Lock()
	delete(r.cbs, fd)
	delete(r.modes, fd)
	r.mu.Unlock()
	if err != nil && err != unix.ENOENT {
		return fmt.Errorf("reactor: epoll_ctl del fd=%d: %w", fd, err)
	}
	return nil
}

const maxEventsPerWait = 256

func (r *epollReactor) Wait(timeoutMs int) (int, error) {
	var raw [maxEventsPerWait]unix.EpollEvent
	n, err := unix.EpollWait(r.epfd, raw[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("reactor: epoll_wait: %w", err)
	}

	dispatched := 0
	for i := 0; i < n; i++ {
		fd := uintptr(raw[i].Fd)

		r.mu.RLock()
		cb, ok := r.cbs[fd]
		r.mu.RUnlock()
		if !ok {
			continue
		}

		var et EventType
		if raw[i].Events&unix.EPOLLIN != 0 {
			et |= EventRead
		}
		if raw[i].Events&unix.EPOLLOUT != 0 {
			et |= EventWrite
		}
		if raw[i].Events&unix.EPOLLHUP != 0 || raw[i].Events&unix.EPOLLRDHUP != 0 {
			et |= EventHangup
		}
		if raw[i].Events&unix.EPOLLERR != 0 {
			et |= EventError
		}

		func() {
			defer func() { _ = recover() }()
			cb(fd, et)
		}()
		dispatched++
	}
	return dispatched, nil
}

func (r *epollReactor) Close() error {
	return unix.Close(r.epfd)
}

// Fd implements FdSource: the epoll instance's own descriptor is
// pollable, letting this reactor be registered as a single event source
// on another reactor.
func (r *epollReactor) Fd() uintptr { return uintptr(r.epfd) }
