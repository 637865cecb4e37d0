// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/bureau-foundation/gatekeeper/gatekeeper"
	"github.com/bureau-foundation/gatekeeper/lib/process"
	"github.com/bureau-foundation/gatekeeper/lib/version"
	"github.com/bureau-foundation/gatekeeper/session"
)

const binaryName = "bureau-gatekeeper"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(process.ExitUsage)
	}

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "run":
		err = runCmd(args)
	case "watch":
		err = watchCmd(args)
	case "status":
		err = statusCmd(args)
	case "version", "--version", "-v":
		version.Print(binaryName)
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(process.ExitUsage)
	}

	if err != nil {
		// The child already reported its own failure.
		var child *childExit
		if errors.As(err, &child) {
			os.Exit(child.code)
		}
		process.FatalCode(err, exitCodeFor(err))
	}
	os.Exit(0)
}

// childExit carries the monitored command's status out of run.
type childExit struct {
	code int
}

func (e *childExit) Error() string {
	return fmt.Sprintf("monitored command exited with status %d", e.code)
}

// exitCodeFor maps an error from a subcommand to the process status.
func exitCodeFor(err error) int {
	var child *childExit
	switch {
	case errors.As(err, &child):
		return child.code
	case gatekeeper.IsBreach(err), errors.Is(err, session.ErrManualTrip):
		return process.ExitBreach
	case errors.Is(err, errUsage):
		return process.ExitUsage
	default:
		return process.ExitFailure
	}
}

var errUsage = errors.New("usage")

func usageError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

func printUsage() {
	fmt.Print(`bureau-gatekeeper - Gate and audit file access of a process tree

USAGE
    bureau-gatekeeper <command> [flags] [-- <args>...]

COMMANDS
    run       Launch a command and monitor its process tree
    watch     Monitor an already running process tree
    status    Show the tripwire left by a breached session
    version   Show version

EXAMPLES
    # Run firefox in the deception sandbox, alerting on access outside ~/Ghost
    sudo bureau-gatekeeper run -- firefox

    # Monitor an existing process tree without a sandbox
    sudo bureau-gatekeeper watch --pid 4242 --sanctioned ~/Downloads

    # Acknowledge a previous breach
    bureau-gatekeeper status --clear

EXIT STATUS
    run exits with the monitored command's status. 3 means the
    permission channel was lost or could not be opened and the kill
    switch ran.

ENVIRONMENT
    GATEKEEPER_CONFIG   Path to the YAML config file (same as --config)
    BUREAU_DEBUG        Enable debug logging
    SUDO_USER           Under sudo, whose home ${HOME} and the default
                        sanctioned directory and tripwire resolve to
`)
}
