// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
)

// Build metadata, stamped with -ldflags:
//
//	go build -ldflags "-X github.com/bureau-foundation/gatekeeper/lib/version.GitCommit=$(git rev-parse --short HEAD)"
var (
	GitCommit = "unknown"
	GitDirty  = "false"
	BuildTime = "unknown"
	Version   = "0.1.0-dev"
)

func commit() string {
	if GitDirty == "true" {
		return GitCommit + "-dirty"
	}
	return GitCommit
}

// Info returns "Version (commit, build time)".
func Info() string {
	return fmt.Sprintf("%s (%s, %s)", Version, commit(), BuildTime)
}

// Attrs returns the build metadata as log attributes, for the startup
// line of a long-running command.
func Attrs() []slog.Attr {
	return []slog.Attr{
		slog.String("version", Version),
		slog.String("commit", commit()),
		slog.String("go", runtime.Version()),
	}
}

// Write prints the binary name, Info, and the Go toolchain and platform
// to w.
func Write(w io.Writer, binary string) {
	fmt.Fprintf(w, "%s %s\n  Go: %s\n  Platform: %s/%s\n",
		binary, Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Print writes the version to stdout.
func Print(binary string) { Write(os.Stdout, binary) }
