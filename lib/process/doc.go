// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers. These functions
// centralize the raw I/O that happens before the structured logger
// exists or after main has given up on it: reporting a fatal error to
// stderr and exiting with a meaningful status.
package process
