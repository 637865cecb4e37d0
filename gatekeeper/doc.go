// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package gatekeeper answers fanotify permission events for a monitored
// process tree.
//
// The kernel blocks every open or access on a marked mount until a
// listener writes a verdict back. [Channel] owns that listener: it opens
// the fanotify descriptor ([Channel.Open]), registers it with a
// single-threaded [Scheduler] ([Channel.Arm]), and on each readiness edge
// performs exactly one event cycle ([Channel.OnReadable]): read one
// record, decide, write one response, release the event descriptor.
//
// Decisions are scoped by [Ancestry]. Once a root pid is configured, any
// requester that is not the root or one of its descendants is answered
// with [Allow] immediately, without path resolution or policy
// evaluation. Unrelated system processes must never wait on this
// listener for longer than one read and one write.
//
// Requests from the monitored tree are resolved to a path and passed to
// a [Policy]. [PathPolicy] is the reference policy: sanctioned
// directories are allowed quietly, configured deny prefixes are denied,
// and everything else is allowed with a security alert in the log.
//
// Failures on the kernel channel itself are not ordinary errors. They
// surface as [*BreachError] (or [*InitError] from Open), which the
// orchestrator matches with [IsBreach] to trigger its kill switch: a
// request the listener cannot answer leaves the requesting process
// frozen. Path and ancestry lookup failures never abort a cycle; they
// are logged and resolved to the fail-closed default.
//
// The wire format is defined in abi.go and must match the kernel's
// struct fanotify_event_metadata and struct fanotify_response exactly.
package gatekeeper
