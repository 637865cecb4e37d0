// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gatekeeper

import "log/slog"

// ProcessSource reports the parent of a process.
type ProcessSource interface {
	Parent(pid int32) (int32, error)
}

// Ancestry decides whether a pid belongs to the monitored tree: the
// configured root and everything transitively descended from it.
//
// Positive answers are cached for the rest of the session. The cache is
// never invalidated when a process exits, so a recycled pid keeps its
// classification until Reset.
//
// Ancestry is not safe for concurrent use; it is owned by the event
// loop goroutine.
type Ancestry struct {
	source    ProcessSource
	logger    *slog.Logger
	root      int32
	hasRoot   bool
	monitored map[int32]struct{}
}

// NewAncestry returns a resolver with no root configured.
func NewAncestry(source ProcessSource, logger *slog.Logger) *Ancestry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ancestry{
		source:    source,
		logger:    logger,
		monitored: make(map[int32]struct{}),
	}
}

// SetRoot designates pid as the monitored root and adds it to the
// monitored set. Previously cached descendants of an earlier root stay
// cached; call Reset first to start over.
func (a *Ancestry) SetRoot(pid int32) {
	a.root = pid
	a.hasRoot = true
	a.monitored[pid] = struct{}{}
}

// HasRoot reports whether SetRoot has been called since the last Reset.
func (a *Ancestry) HasRoot() bool { return a.hasRoot }

// Root returns the configured root pid, or 0 when none is set.
func (a *Ancestry) Root() int32 { return a.root }

// IsMonitored reports whether pid is the root or one of its
// descendants. With no root configured it returns false.
//
// A cache miss walks the parent chain upward. If the walk meets a
// monitored pid, pid and every intermediate ancestor are cached. If it
// reaches pid 1, loops, or a lookup fails, the answer is false and
// nothing is cached.
func (a *Ancestry) IsMonitored(pid int32) bool {
	if _, ok := a.monitored[pid]; ok {
		return true
	}
	if !a.hasRoot {
		return false
	}

	var chain []int32
	visited := make(map[int32]struct{})
	current := pid
	for {
		if _, ok := a.monitored[current]; ok {
			for _, descendant := range chain {
				a.monitored[descendant] = struct{}{}
			}
			return true
		}
		if current <= 1 {
			return false
		}
		if _, seen := visited[current]; seen {
			a.logger.Warn("process ancestry loops", "pid", pid, "at", current)
			return false
		}
		visited[current] = struct{}{}
		chain = append(chain, current)

		parent, err := a.source.Parent(current)
		if err != nil {
			// Usually the process exited between the event and the
			// lookup. Not monitored, not cached.
			a.logger.Debug("ancestry lookup failed", "pid", pid, "at", current, "error", err)
			return false
		}
		current = parent
	}
}

// Contains reports whether pid is already in the monitored set,
// without walking.
func (a *Ancestry) Contains(pid int32) bool {
	_, ok := a.monitored[pid]
	return ok
}

// Len returns the size of the monitored set.
func (a *Ancestry) Len() int { return len(a.monitored) }

// Reset clears the root and the monitored set.
func (a *Ancestry) Reset() {
	a.root = 0
	a.hasRoot = false
	clear(a.monitored)
}
