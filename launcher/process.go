// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Process is a started command running in its own process group.
type Process struct {
	cmd    *exec.Cmd
	logger *slog.Logger

	done     chan struct{}
	exitCode int
	waitErr  error
}

// Start runs argv with the caller's standard streams in a new process
// group whose id is the child's pid. Cancelling ctx kills the group.
func Start(ctx context.Context, argv []string, logger *slog.Logger) (*Process, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("command is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	// Set process group for clean shutdown.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	process := &Process{cmd: cmd, logger: logger, done: make(chan struct{})}
	cmd.Cancel = process.Kill

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", argv[0], err)
	}
	logger.Info("monitored command started", "pid", cmd.Process.Pid, "command", argv[0])

	go process.wait()
	return process, nil
}

func (p *Process) wait() {
	defer close(p.done)
	err := p.cmd.Wait()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		p.exitCode = 0
	case errors.As(err, &exitErr):
		p.exitCode = exitCode(exitErr)
	default:
		p.exitCode = -1
		p.waitErr = err
	}
	p.logger.Info("monitored command exited", "pid", p.PID(), "exit_code", p.exitCode)
}

// exitCode maps a termination by signal to the shell convention of
// 128 plus the signal number.
func exitCode(exitErr *exec.ExitError) int {
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal())
	}
	return exitErr.ExitCode()
}

// PID returns the child's pid, which is also its process group id.
func (p *Process) PID() int32 { return int32(p.cmd.Process.Pid) }

// Done is closed once the child has exited and been reaped.
func (p *Process) Done() <-chan struct{} { return p.done }

// Wait blocks until the child exits and returns its exit status. A
// non-zero status is not an error; the error reports a failure to wait.
func (p *Process) Wait() (int, error) {
	<-p.done
	return p.exitCode, p.waitErr
}

// Kill sends SIGKILL to the child's whole process group. Killing a
// group that has already exited is not an error.
func (p *Process) Kill() error {
	err := unix.Kill(-int(p.PID()), unix.SIGKILL)
	if err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("killing process group %d: %w", p.PID(), err)
	}
	return nil
}
