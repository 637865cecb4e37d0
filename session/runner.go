// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
)

// CommandRunner runs one kill-switch command to completion.
type CommandRunner interface {
	Run(ctx context.Context, argv []string) error
}

// ExecRunner runs commands as child processes.
type ExecRunner struct {
	Logger *slog.Logger
}

// Run executes argv and waits for it. Output is captured and included
// in the error when the command fails.
func (r ExecRunner) Run(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return errors.New("empty command")
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if trimmed := bytes.TrimSpace(output); len(trimmed) > 0 {
			return fmt.Errorf("%w: %s", err, trimmed)
		}
		return err
	}
	logger.Info("kill-switch command completed", "command", argv)
	return nil
}
