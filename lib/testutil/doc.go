// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for gatekeeper packages.
//
// [RequireReceive], [RequireSend], and [RequireClosed] encapsulate the
// timeout safety valve (a select against a timer) so individual tests
// do not arm timers of their own. They are
// the only place in the test suite where real wall-clock timeouts are
// used. Everything else takes a clock.Clock.
//
// [Pipe] returns both ends of an os.Pipe with cleanup registered, for
// tests that need a real readable descriptor (the event loop, the
// launcher's child I/O).
//
// [WriteFile] writes a fixture into a test-owned directory and returns
// its path.
//
// All helpers call t.Fatalf on failure rather than returning errors.
//
// This package has no gatekeeper-internal dependencies.
package testutil
