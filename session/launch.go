// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Launched is a started monitored command.
type Launched interface {
	PID() int32
	Terminator
}

// StartFunc starts the monitored command. It runs on its own goroutine
// while the loop keeps answering permission requests, because the
// command's exec may itself be gated by the channel.
type StartFunc func() (Launched, error)

// LaunchError reports that the monitored command could not be started.
// It is returned from Run and does not trip the kill switch.
type LaunchError struct {
	Err error
}

func (e *LaunchError) Error() string { return fmt.Sprintf("launching monitored command: %v", e.Err) }

func (e *LaunchError) Unwrap() error { return e.Err }

type launchResult struct {
	launched Launched
	err      error
}

// Launch arms the channel with this process as the provisional root, so
// the child is monitored from its first access, and runs start on a new
// goroutine. Once Run picks up the result, the child becomes the root
// and the kill switch's terminator. Launch must follow Open and precede
// Run.
func (s *Session) Launch(start StartFunc) error {
	reader, writer, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("creating launch pipe: %w", err)
	}

	s.ancestry.SetRoot(int32(os.Getpid()))
	if err := s.channel.Arm(s.loop); err != nil {
		reader.Close()
		writer.Close()
		return fmt.Errorf("arming gatekeeper channel: %w", err)
	}

	results := make(chan launchResult, 1)
	// Fd puts the reader in blocking mode; the callback only reads
	// after readiness, when the byte is already there.
	fd := int(reader.Fd())
	if err := s.loop.RegisterReadSource(fd, func() error { return s.adopt(reader, results) }); err != nil {
		reader.Close()
		writer.Close()
		return fmt.Errorf("registering launch pipe: %w", err)
	}
	s.launchPipe = reader

	go startChild(start, writer, results)
	return nil
}

// startChild runs start, wakes the loop through writer, and hands the
// result over. A child that cannot be announced would run under the
// provisional root for the whole session, so it is killed and reported
// as a start failure. Closing writer wakes the loop even when the
// write fails.
func startChild(start StartFunc, writer io.WriteCloser, results chan<- launchResult) {
	defer writer.Close()
	launched, err := start()
	if _, writeErr := writer.Write([]byte{0}); writeErr != nil && err == nil {
		err = fmt.Errorf("waking the event loop: %w", writeErr)
		if killErr := launched.Kill(); killErr != nil {
			err = errors.Join(err, fmt.Errorf("killing unannounced child: %w", killErr))
		}
		launched = nil
	}
	results <- launchResult{launched: launched, err: err}
}

// adopt runs on the loop once the launch goroutine has reported.
func (s *Session) adopt(reader *os.File, results <-chan launchResult) error {
	var signal [1]byte
	if _, err := reader.Read(signal[:]); err != nil {
		s.logger.Warn("reading launch pipe", "error", err)
	}
	result := <-results
	s.closeLaunchPipe()

	if result.err != nil {
		return &LaunchError{Err: result.err}
	}
	pid := result.launched.PID()
	s.ancestry.Reset()
	s.ancestry.SetRoot(pid)
	s.terminator = result.launched
	s.logger.Info("monitoring process tree", "root_pid", pid, "mount", s.mount)
	return nil
}

func (s *Session) closeLaunchPipe() {
	if s.launchPipe == nil {
		return
	}
	if err := s.loop.UnregisterReadSource(int(s.launchPipe.Fd())); err != nil {
		s.logger.Warn("unregistering launch pipe", "error", err)
	}
	s.launchPipe.Close()
	s.launchPipe = nil
}
