// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package launcher starts the command whose process tree the gatekeeper
// monitors.
//
// [BwrapBuilder] produces the bubblewrap argument vector for the default
// deception sandbox: the host filesystem read-only, the user's home
// replaced by a tmpfs with the sanctioned directory bound over it,
// optional decoy /proc/cpuinfo and /proc/meminfo, all namespaces
// unshared, and a fixed hostname.
//
// [Start] runs an argv (bwrap-wrapped or not) in its own process group
// so that [Process.Kill] reaches every descendant, which is what the
// kill switch needs when the permission channel is lost.
package launcher
