// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package eventloop

import (
	"errors"
	"time"
)

// WaitTimeout bounds each wait for readiness. Cancellation of the
// context passed to Run is observed within this interval.
const WaitTimeout = 100 * time.Millisecond

var (
	// ErrClosed is returned by operations on a closed Loop.
	ErrClosed = errors.New("eventloop: loop is closed")

	// ErrUnsupported is returned by New on platforms without epoll.
	ErrUnsupported = errors.New("eventloop: not supported on this platform")
)
