// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package eventloop is a single-threaded readiness loop over epoll.
//
// A [Loop] maps file descriptors to callbacks. [Loop.Run] waits for
// descriptors to become readable and invokes the matching callbacks one
// at a time on the calling goroutine, so callbacks never run
// concurrently with each other and need no locking. Registration is
// level-triggered: a callback that leaves data unread is called again
// on the next wakeup.
//
// Callbacks may register and unregister descriptors, including their
// own. A callback error stops the loop and is returned from Run; the
// caller decides whether it is fatal.
//
// The wait uses a short timeout so that Run observes context
// cancellation without a wakeup descriptor.
package eventloop
