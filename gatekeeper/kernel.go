// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gatekeeper

// Kernel is the system call surface a Channel drives. UnixKernel
// returns the real implementation; tests substitute a fake.
type Kernel interface {
	// Init creates a fanotify group of the given class whose event
	// descriptors are opened read-write. Returns the group descriptor.
	Init(class Class) (int, error)

	// Mark adds mask on the mount containing path (FAN_MARK_ADD |
	// FAN_MARK_MOUNT).
	Mark(fd int, mask Mask, path string) error

	Read(fd int, buf []byte) (int, error)
	Write(fd int, buf []byte) (int, error)
	Close(fd int) error

	// ResolvePath returns the path of an event descriptor.
	ResolvePath(fd int32) (string, error)
}
