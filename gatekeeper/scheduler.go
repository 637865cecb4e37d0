// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gatekeeper

// Scheduler is the event loop a Channel registers with. The loop calls
// callback once per readiness notification on fd, never concurrently
// with another callback, and stops with the callback's error if it
// returns one.
type Scheduler interface {
	RegisterReadSource(fd int, callback func() error) error
	UnregisterReadSource(fd int) error
}
