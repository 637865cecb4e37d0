// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package gatekeeper

import (
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// UnixKernel returns the fanotify implementation of Kernel. Init
// requires CAP_SYS_ADMIN.
func UnixKernel() Kernel { return unixKernel{} }

type unixKernel struct{}

func (unixKernel) Init(class Class) (int, error) {
	// The group descriptor stays blocking: the loop only reads after
	// readiness, and a spurious EAGAIN would be indistinguishable from
	// a broken channel.
	return unix.FanotifyInit(uint(class)|unix.FAN_CLOEXEC, unix.O_RDWR|unix.O_LARGEFILE|unix.O_CLOEXEC)
}

func (unixKernel) Mark(fd int, mask Mask, path string) error {
	return unix.FanotifyMark(fd, unix.FAN_MARK_ADD|unix.FAN_MARK_MOUNT, uint64(mask), unix.AT_FDCWD, path)
}

func (unixKernel) Read(fd int, buf []byte) (int, error) {
	for {
		n, err := unix.Read(fd, buf)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}

func (unixKernel) Write(fd int, buf []byte) (int, error) {
	for {
		n, err := unix.Write(fd, buf)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}

func (unixKernel) Close(fd int) error { return unix.Close(fd) }

func (unixKernel) ResolvePath(fd int32) (string, error) {
	return os.Readlink("/proc/self/fd/" + strconv.Itoa(int(fd)))
}
