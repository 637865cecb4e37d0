// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"os"
)

// Exit statuses shared by gatekeeper binaries.
const (
	// ExitFailure reports an ordinary error: bad flags, bad config,
	// a command that could not be started.
	ExitFailure = 1

	// ExitUsage reports a command line that could not be parsed.
	ExitUsage = 2

	// ExitBreach reports that the permission channel was lost or
	// could not be established and the kill switch ran.
	ExitBreach = 3
)

// Fatal writes "error: err" to stderr and exits with ExitFailure. Use
// it in main() for errors from run() where the structured logger may
// not be initialized.
func Fatal(err error) {
	FatalCode(err, ExitFailure)
}

// FatalCode writes "error: err" to stderr and exits with code.
func FatalCode(err error, code int) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(code)
}
