// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the gatekeeper.
//
// Configuration is loaded from a single file specified by either the
// GATEKEEPER_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). There are no fallbacks, no ~/.config
// discovery, and no automatic file search. Without a file, commands run
// on [Default].
//
// Variable expansion is performed on path fields after loading:
// ${HOME} and ${VAR:-default} patterns are expanded. No other
// environment variables override config values.
//
// Key exports:
//
//   - [Config] -- master struct with Logging, Gatekeeper, Launcher, KillSwitch
//   - [Default] -- returns a Config with workstation defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// This package depends on no other gatekeeper packages.
package config
