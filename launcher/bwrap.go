// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// DefaultHostname is the sandbox hostname when Options.Hostname is empty.
const DefaultHostname = "ghost-station"

// Options holds the inputs of a bwrap command line.
type Options struct {
	// Home is the user's home directory. It is hidden behind a tmpfs
	// inside the sandbox. Required.
	Home string

	// Sanctioned is bound read-write over Home, so the sandboxed
	// program sees it as the whole home directory. Required.
	Sanctioned string

	// DecoyDir may contain cpuinfo and meminfo files. Each file that
	// exists is bound over the matching /proc entry.
	DecoyDir string

	// Hostname is set in the new UTS namespace. Empty means
	// DefaultHostname.
	Hostname string

	// Setenv is set inside the sandbox.
	Setenv map[string]string

	// Command is the program to run inside the sandbox. Required.
	Command []string
}

// decoyFiles are the /proc entries that can be replaced from DecoyDir.
var decoyFiles = []string{"cpuinfo", "meminfo"}

// BwrapBuilder builds bubblewrap command-line arguments.
type BwrapBuilder struct {
	args []string
	env  map[string]string
}

// NewBwrapBuilder creates a new builder.
func NewBwrapBuilder() *BwrapBuilder {
	return &BwrapBuilder{
		args: []string{},
		env:  make(map[string]string),
	}
}

// Build constructs the bwrap arguments (without the bwrap binary
// itself) from opts.
func (b *BwrapBuilder) Build(opts *Options) ([]string, error) {
	if opts.Home == "" {
		return nil, fmt.Errorf("home is required")
	}
	if opts.Sanctioned == "" {
		return nil, fmt.Errorf("sanctioned directory is required")
	}
	if len(opts.Command) == 0 {
		return nil, fmt.Errorf("command is required")
	}

	b.args = []string{}
	b.env = make(map[string]string)

	home := filepath.Clean(opts.Home)
	b.args = append(b.args,
		"--ro-bind", "/", "/",
		"--dev-bind", "/dev", "/dev",
		"--proc", "/proc",
		"--tmpfs", home,
		"--bind", filepath.Clean(opts.Sanctioned), home,
	)

	b.addDecoys(opts.DecoyDir)

	for key, value := range opts.Setenv {
		b.env[key] = value
	}
	// Sort keys for deterministic output.
	envKeys := make([]string, 0, len(b.env))
	for key := range b.env {
		envKeys = append(envKeys, key)
	}
	sort.Strings(envKeys)
	for _, key := range envKeys {
		b.args = append(b.args, "--setenv", key, b.env[key])
	}

	hostname := opts.Hostname
	if hostname == "" {
		hostname = DefaultHostname
	}
	b.args = append(b.args, "--unshare-all", "--hostname", hostname)

	b.args = append(b.args, "--")
	b.args = append(b.args, opts.Command...)

	return b.args, nil
}

// addDecoys binds each decoy file present in directory over /proc.
func (b *BwrapBuilder) addDecoys(directory string) {
	if directory == "" {
		return
	}
	for _, name := range decoyFiles {
		source := filepath.Join(directory, name)
		if _, err := os.Stat(source); err != nil {
			continue
		}
		b.args = append(b.args, "--bind", source, filepath.Join("/proc", name))
	}
}

// Wrap returns the full argv for running opts.Command under the bwrap
// binary at bwrapPath.
func Wrap(bwrapPath string, opts *Options) ([]string, error) {
	args, err := NewBwrapBuilder().Build(opts)
	if err != nil {
		return nil, fmt.Errorf("building bwrap command: %w", err)
	}
	return append([]string{bwrapPath}, args...), nil
}
