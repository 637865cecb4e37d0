// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/bureau-foundation/gatekeeper/gatekeeper"
	"github.com/bureau-foundation/gatekeeper/lib/clock"
	"github.com/bureau-foundation/gatekeeper/lib/tripwire"
)

// KillSwitchTimeout bounds the whole kill switch, including every
// configured command.
const KillSwitchTimeout = 30 * time.Second

// ErrManualTrip is the cause recorded when an operator trips the kill
// switch by hand.
var ErrManualTrip = errors.New("session: kill switch tripped manually")

// Loop is the event loop a session runs the channel on.
type Loop interface {
	gatekeeper.Scheduler
	Run(ctx context.Context) error
}

// Terminator stops the monitored tree.
type Terminator interface {
	Kill() error
}

// Config holds the collaborators of a Session.
type Config struct {
	// Channel answers the permission events. Its ancestry resolver is
	// the one Watch and Launch scope.
	Channel *gatekeeper.Channel
	Loop    Loop

	// Mount is the path whose mount the channel marks.
	Mount string

	// KillCommands run in order when the kill switch trips.
	KillCommands [][]string

	// Runner executes KillCommands. Nil means ExecRunner.
	Runner CommandRunner

	// TripwirePath is where the breach record is written. Empty
	// disables the record.
	TripwirePath string

	// RulesDigest identifies the active rule set in the breach record.
	RulesDigest string

	Clock  clock.Clock
	Logger *slog.Logger
}

// Session is one monitored run. All methods must be called from the
// goroutine that calls Run.
type Session struct {
	channel  *gatekeeper.Channel
	ancestry *gatekeeper.Ancestry
	loop     Loop

	mount        string
	killCommands [][]string
	runner       CommandRunner
	tripwirePath string
	rulesDigest  string
	clock        clock.Clock
	logger       *slog.Logger

	terminator Terminator
	launchPipe *os.File
	tripped    bool
	closed     bool
}

// New validates config and returns an unopened session.
func New(config Config) (*Session, error) {
	if config.Channel == nil {
		return nil, errors.New("session: channel is required")
	}
	if config.Channel.Ancestry() == nil {
		return nil, errors.New("session: channel has no ancestry resolver")
	}
	if config.Loop == nil {
		return nil, errors.New("session: loop is required")
	}
	if config.Mount == "" {
		return nil, errors.New("session: mount is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runner := config.Runner
	if runner == nil {
		runner = ExecRunner{Logger: logger}
	}
	return &Session{
		channel:      config.Channel,
		ancestry:     config.Channel.Ancestry(),
		loop:         config.Loop,
		mount:        config.Mount,
		killCommands: config.KillCommands,
		runner:       runner,
		tripwirePath: config.TripwirePath,
		rulesDigest:  config.RulesDigest,
		clock:        clock.OrReal(config.Clock),
		logger:       logger,
	}, nil
}

// Open establishes the kernel channel. A failure trips the kill switch
// and returns the *gatekeeper.InitError.
func (s *Session) Open(ctx context.Context) error {
	if err := s.channel.Open(s.mount); err != nil {
		s.Trip(ctx, err)
		return err
	}
	return nil
}

// Watch scopes the channel to the tree rooted at rootPID and arms it.
// terminator, when non-nil, is used by the kill switch to stop the tree.
func (s *Session) Watch(rootPID int32, terminator Terminator) error {
	if rootPID <= 0 {
		return fmt.Errorf("session: invalid root pid %d", rootPID)
	}
	s.ancestry.SetRoot(rootPID)
	s.terminator = terminator
	if err := s.channel.Arm(s.loop); err != nil {
		return fmt.Errorf("arming gatekeeper channel: %w", err)
	}
	s.logger.Info("monitoring process tree", "root_pid", rootPID, "mount", s.mount)
	return nil
}

// Start opens the channel and watches an already running tree.
func (s *Session) Start(ctx context.Context, rootPID int32) error {
	if err := s.Open(ctx); err != nil {
		return err
	}
	return s.Watch(rootPID, nil)
}

// Run drives the event loop until ctx is done, which returns nil, or
// until the loop fails. Any loop failure means requests may go
// unanswered, so it trips the kill switch and is returned as a breach.
// A context cancelled with cause ErrManualTrip also trips the kill
// switch and returns that cause.
func (s *Session) Run(ctx context.Context) error {
	err := s.loop.Run(ctx)
	var launchErr *LaunchError
	if errors.As(err, &launchErr) {
		return err
	}
	if err == nil {
		if cause := context.Cause(ctx); errors.Is(cause, ErrManualTrip) {
			s.Trip(ctx, cause)
			return cause
		}
		return nil
	}
	if !gatekeeper.IsBreach(err) {
		err = &gatekeeper.BreachError{Op: "poll", FD: gatekeeper.NoFD, Err: err}
	}
	s.Trip(ctx, err)
	return err
}

// Trip runs the kill switch once: release the channel, terminate the
// monitored tree, run the kill-switch commands, write the tripwire
// record. Every step is attempted; failures are logged and returned
// joined. Later calls are no-ops.
//
// The channel goes first. Once the loop has stopped nobody answers
// permission events, so the commands' execs and the tripwire write
// would block on the mount; a closed group lets the kernel allow them.
func (s *Session) Trip(ctx context.Context, cause error) error {
	if s.tripped {
		return nil
	}
	s.tripped = true
	s.logger.Error("kill switch tripped", "cause", cause)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), KillSwitchTimeout)
	defer cancel()

	var errs []error
	if err := s.channel.Close(); err != nil {
		errs = append(errs, fmt.Errorf("releasing gatekeeper channel: %w", err))
	}
	if s.terminator != nil {
		if err := s.terminator.Kill(); err != nil {
			errs = append(errs, fmt.Errorf("terminating monitored tree: %w", err))
		}
	}
	for _, command := range s.killCommands {
		if err := s.runner.Run(ctx, command); err != nil {
			errs = append(errs, fmt.Errorf("kill-switch command %q: %w", command, err))
		}
	}
	if s.tripwirePath != "" {
		if err := tripwire.Write(s.tripwirePath, s.record(cause)); err != nil {
			errs = append(errs, err)
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		s.logger.Error("kill switch incomplete", "error", err)
	}
	return err
}

func (s *Session) record(cause error) tripwire.Record {
	record := tripwire.Record{
		Component: "gatekeeper",
		Op:        "manual",
		Rules:     s.rulesDigest,
		Timestamp: s.clock.Now(),
	}
	if cause != nil {
		record.Error = cause.Error()
	}
	var breach *gatekeeper.BreachError
	var initErr *gatekeeper.InitError
	switch {
	case errors.As(cause, &breach):
		record.Op = breach.Op
	case errors.As(cause, &initErr):
		record.Op = initErr.Op
	}
	if s.ancestry.HasRoot() {
		record.RootPID = s.ancestry.Root()
	}
	return record
}

// Tripped reports whether the kill switch has run.
func (s *Session) Tripped() bool { return s.tripped }

// Stats returns the channel counters.
func (s *Session) Stats() gatekeeper.Stats { return s.channel.Stats() }

// Close releases the channel and forgets the monitored tree. Close is
// idempotent.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.closeLaunchPipe()
	err := s.channel.Close()
	s.ancestry.Reset()
	return err
}
