// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package session ties a gatekeeper channel to a monitored process tree
// and owns what happens when the channel fails.
//
// The lifecycle is Open, then Watch or Launch, then Run, then Close.
// Open establishes the kernel channel before anything is launched, so
// the first file access of the monitored command is already gated.
// Watch sets an existing tree's root and arms the channel on the event
// loop. Launch arms the channel and starts a new command concurrently
// with the loop, adopting its pid as the root once it is running. Run
// drives the loop until its context ends or the channel breaches.
//
// A breach, or a failure to open, trips the kill switch: the monitored
// process group is killed, the configured kill-switch commands run, and
// a tripwire record is written for the next invocation to find.
package session
