// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package eventloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"
)

// maxEvents is the number of ready descriptors collected per wait.
const maxEvents = 16

// Loop dispatches readiness callbacks for registered descriptors.
// All methods except Close must be called from the goroutine running
// Run, or before Run starts.
type Loop struct {
	epollFD   int
	callbacks map[int]func() error
	events    [maxEvents]unix.EpollEvent
	logger    *slog.Logger
}

// New creates an empty loop. A nil logger uses slog.Default().
func New(logger *slog.Logger) (*Loop, error) {
	if logger == nil {
		logger = slog.Default()
	}
	epollFD, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	return &Loop{
		epollFD:   epollFD,
		callbacks: make(map[int]func() error),
		logger:    logger,
	}, nil
}

// RegisterReadSource calls callback from Run whenever fd is readable.
// Each descriptor may be registered once.
func (l *Loop) RegisterReadSource(fd int, callback func() error) error {
	if l.epollFD < 0 {
		return ErrClosed
	}
	if _, exists := l.callbacks[fd]; exists {
		return fmt.Errorf("eventloop: fd %d is already registered", fd)
	}
	event := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(l.epollFD, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
		return fmt.Errorf("epoll_ctl add fd %d: %w", fd, err)
	}
	l.callbacks[fd] = callback
	return nil
}

// UnregisterReadSource stops watching fd. A callback already collected
// in the current wakeup is not called once its descriptor is removed.
func (l *Loop) UnregisterReadSource(fd int) error {
	if l.epollFD < 0 {
		return ErrClosed
	}
	if _, exists := l.callbacks[fd]; !exists {
		return fmt.Errorf("eventloop: fd %d is not registered", fd)
	}
	delete(l.callbacks, fd)
	// The descriptor may already be closed, which removes it from the
	// epoll set on its own.
	if err := unix.EpollCtl(l.epollFD, unix.EPOLL_CTL_DEL, fd, nil); err != nil &&
		!errors.Is(err, unix.EBADF) && !errors.Is(err, unix.ENOENT) {
		return fmt.Errorf("epoll_ctl del fd %d: %w", fd, err)
	}
	return nil
}

// Len returns the number of registered descriptors.
func (l *Loop) Len() int { return len(l.callbacks) }

// Run dispatches callbacks until ctx is done or a callback returns an
// error. Cancellation returns nil; a callback error is returned as is.
func (l *Loop) Run(ctx context.Context) error {
	if l.epollFD < 0 {
		return ErrClosed
	}
	timeout := int(WaitTimeout.Milliseconds())
	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := unix.EpollWait(l.epollFD, l.events[:], timeout)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("epoll_wait: %w", err)
		}

		for i := range n {
			fd := int(l.events[i].Fd)
			callback, ok := l.callbacks[fd]
			if !ok {
				continue
			}
			if l.events[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				l.logger.Debug("descriptor reported hangup or error", "fd", fd, "events", l.events[i].Events)
			}
			if err := callback(); err != nil {
				return err
			}
		}
	}
}

// Close releases the epoll descriptor. Registered descriptors are not
// closed. Close is idempotent.
func (l *Loop) Close() error {
	if l.epollFD < 0 {
		return nil
	}
	err := unix.Close(l.epollFD)
	l.epollFD = -1
	clear(l.callbacks)
	if err != nil {
		return fmt.Errorf("closing epoll descriptor: %w", err)
	}
	return nil
}
