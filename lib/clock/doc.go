// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable source of the current time.
//
// Components that stamp or measure things (event cycle latency,
// tripwire records, record staleness) accept a [Clock] instead of
// calling time.Now directly. Production code passes [Real]; tests pass
// [Fake] and move time explicitly:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	channel := gatekeeper.NewChannel(gatekeeper.ChannelConfig{Clock: c, ...})
//	c.Advance(5 * time.Millisecond)
//
// The gatekeeper event loop never sleeps or arms timers in user space
// (the only wait is the epoll timeout in the kernel), so the interface
// only reads the time.
package clock
