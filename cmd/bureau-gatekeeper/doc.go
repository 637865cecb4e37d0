// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Bureau-gatekeeper gates file opens on a mount with fanotify permission
// events and watches one process tree's accesses against the sanctioned
// directories.
//
// Subcommands: run (launch a command, by default inside the bubblewrap
// deception sandbox, and monitor it until it exits), watch (monitor an
// already running tree), status (show or clear the tripwire left by a
// breached session), and version.
//
// Losing the permission channel trips the kill switch and exits with
// status 3. Sending SIGUSR1 trips it by hand.
package main
