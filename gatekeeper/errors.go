// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gatekeeper

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyOpen is returned by Open on a channel that already
	// holds a kernel descriptor.
	ErrAlreadyOpen = errors.New("gatekeeper: channel already open")

	// ErrNotOpen is returned by Arm before a successful Open.
	ErrNotOpen = errors.New("gatekeeper: channel not open")

	// ErrIncomplete is the cause of the InitError Open returns when
	// the channel was built without an ancestry resolver or a policy.
	ErrIncomplete = errors.New("gatekeeper: channel requires an ancestry resolver and a policy")

	// ErrUnsupported is returned by the kernel on platforms without
	// fanotify.
	ErrUnsupported = errors.New("gatekeeper: fanotify is not supported on this platform")

	// ErrEndOfStream is the cause of a breach when the kernel
	// descriptor reports end of file.
	ErrEndOfStream = errors.New("gatekeeper: fanotify descriptor returned end of stream")

	// ErrMetadataVersion is the cause of a breach when a record
	// carries a version other than MetadataVersion.
	ErrMetadataVersion = errors.New("gatekeeper: fanotify metadata version mismatch")
)

// InitError reports that the kernel channel could not be established.
// When Open returns an InitError, no descriptor is held.
type InitError struct {
	// Op is "init" (fanotify_init) or "mark" (fanotify_mark).
	Op   string
	Path string
	Err  error
}

func (e *InitError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("gatekeeper: fanotify %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("gatekeeper: fanotify %s: %v", e.Op, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// BreachError reports that the kernel channel failed after it was
// established. Some request may be left unanswered, so the channel can
// no longer be trusted and the session must be torn down.
type BreachError struct {
	// Op is "read", "write", "decode", or "poll".
	Op string

	// FD is the event descriptor being answered when the breach
	// occurred, or NoFD when no event had been decoded.
	FD  int32
	Err error
}

func (e *BreachError) Error() string {
	if e.FD != NoFD {
		return fmt.Sprintf("gatekeeper: channel breach on %s (event fd %d): %v", e.Op, e.FD, e.Err)
	}
	return fmt.Sprintf("gatekeeper: channel breach on %s: %v", e.Op, e.Err)
}

func (e *BreachError) Unwrap() error { return e.Err }

// IsBreach reports whether err is a fatal gatekeeper condition: a
// BreachError or an InitError anywhere in its chain. Both mean the
// monitored tree is running without a safety guarantee.
func IsBreach(err error) bool {
	var breach *BreachError
	if errors.As(err, &breach) {
		return true
	}
	var initErr *InitError
	return errors.As(err, &initErr)
}
