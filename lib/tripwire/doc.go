// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tripwire persists the fact that a gatekeeper session was torn
// down by a channel breach.
//
// When the permission channel fails, the session kills the monitored
// tree and runs the kill switch. The record written here survives that
// teardown so the next invocation (or an operator running "status")
// learns that the previous session ended without its safety guarantee:
//
//  1. On breach: Write a Record with the failing operation and cause.
//  2. On startup: Check with a maximum age. A fresh record is reported
//     as a warning. An ancient one is ignored.
//  3. After acknowledgement: Clear.
//
// Records are CBOR (lib/codec) and are written atomically (temporary
// file, fsync, rename, directory fsync) so a reader never sees a
// partial record, even if the machine loses power mid-teardown.
package tripwire
