// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gatekeeper

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// ProcFS reads process parents from a procfs mount.
type ProcFS struct {
	// Root is the procfs mount point. Empty means /proc.
	Root string
}

// Parent reads <Root>/<pid>/stat and returns its ppid field.
func (p ProcFS) Parent(pid int32) (int32, error) {
	root := p.Root
	if root == "" {
		root = "/proc"
	}
	data, err := os.ReadFile(filepath.Join(root, strconv.Itoa(int(pid)), "stat"))
	if err != nil {
		return 0, err
	}
	stat, err := ParseStat(data)
	if err != nil {
		return 0, fmt.Errorf("pid %d: %w", pid, err)
	}
	return stat.PPID, nil
}

// Stat holds the fields of /proc/<pid>/stat the resolver needs.
type Stat struct {
	PID   int32
	Comm  string
	State byte
	PPID  int32
}

var errMalformedStat = errors.New("malformed stat record")

// ParseStat parses "<pid> (<comm>) <state> <ppid> ...". The command
// name may itself contain spaces and parentheses, so state and ppid are
// taken from the fields after the last ')'.
func ParseStat(data []byte) (Stat, error) {
	open := bytes.IndexByte(data, '(')
	closing := bytes.LastIndexByte(data, ')')
	if open < 0 || closing < open {
		return Stat{}, errMalformedStat
	}

	pid, err := strconv.ParseInt(string(bytes.TrimSpace(data[:open])), 10, 32)
	if err != nil {
		return Stat{}, fmt.Errorf("%w: pid: %v", errMalformedStat, err)
	}

	fields := bytes.Fields(data[closing+1:])
	if len(fields) < 2 || len(fields[0]) != 1 {
		return Stat{}, fmt.Errorf("%w: missing state or ppid", errMalformedStat)
	}
	ppid, err := strconv.ParseInt(string(fields[1]), 10, 32)
	if err != nil {
		return Stat{}, fmt.Errorf("%w: ppid: %v", errMalformedStat, err)
	}

	return Stat{
		PID:   int32(pid),
		Comm:  string(data[open+1 : closing]),
		State: fields[0][0],
		PPID:  int32(ppid),
	}, nil
}
