// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gatekeeper

import (
	"log/slog"
	"path/filepath"
	"strings"
)

// UnknownPath is passed to the policy when an event descriptor cannot
// be resolved to a path.
const UnknownPath = "unknown"

// Policy decides a single request from the monitored tree. Decide is
// called on the event loop goroutine while the requester is blocked in
// the kernel, so it must return promptly.
type Policy interface {
	Decide(path string, pid int32) Verdict
}

// PolicyFunc adapts a function to the Policy interface.
type PolicyFunc func(path string, pid int32) Verdict

func (f PolicyFunc) Decide(path string, pid int32) Verdict { return f(path, pid) }

// PathPolicy is the reference policy. Paths inside a sanctioned
// directory are allowed quietly. Paths inside a deny prefix are denied.
// Everything else is allowed and logged as a security alert.
type PathPolicy struct {
	sanctioned []string
	deny       []string
	logger     *slog.Logger
}

// NewPathPolicy builds a PathPolicy from rules. Directory entries are
// cleaned; empty entries are dropped.
func NewPathPolicy(rules Rules, logger *slog.Logger) *PathPolicy {
	if logger == nil {
		logger = slog.Default()
	}
	return &PathPolicy{
		sanctioned: cleanDirectories(rules.Sanctioned),
		deny:       cleanDirectories(rules.Deny),
		logger:     logger,
	}
}

// Decide implements Policy. Deny prefixes win over sanctioned
// directories so a deny rule can carve a hole inside a sanctioned tree.
func (p *PathPolicy) Decide(path string, pid int32) Verdict {
	if path != UnknownPath {
		for _, directory := range p.deny {
			if within(path, directory) {
				p.logger.Warn("denying access", "pid", pid, "path", path, "rule", directory)
				return Deny
			}
		}
		for _, directory := range p.sanctioned {
			if within(path, directory) {
				p.logger.Debug("sanctioned access", "pid", pid, "path", path)
				return Allow
			}
		}
	}

	p.logger.Warn("security alert: access outside sanctioned directories", "pid", pid, "path", path)
	return Allow
}

// within reports whether path is directory itself or below it.
func within(path, directory string) bool {
	if directory == "/" {
		return strings.HasPrefix(path, "/")
	}
	return path == directory || strings.HasPrefix(path, directory+"/")
}

func cleanDirectories(directories []string) []string {
	cleaned := make([]string, 0, len(directories))
	for _, directory := range directories {
		if directory == "" {
			continue
		}
		cleaned = append(cleaned, filepath.Clean(directory))
	}
	return cleaned
}
