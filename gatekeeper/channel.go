// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gatekeeper

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/bureau-foundation/gatekeeper/lib/clock"
)

// ChannelConfig holds the collaborators of a Channel.
type ChannelConfig struct {
	// Kernel performs the fanotify system calls. Nil means UnixKernel().
	Kernel Kernel

	// Ancestry scopes decisions to the monitored tree. Required.
	Ancestry *Ancestry

	// Policy decides requests from the monitored tree. Required.
	Policy Policy

	// Class is the fanotify class. Zero means ClassContent.
	Class Class

	// SelfPID is the listener's own pid. Requests from it are
	// answered without resolution so the listener can never wait on
	// itself. Zero means os.Getpid().
	SelfPID int32

	Clock  clock.Clock
	Logger *slog.Logger
}

// Stats counts the outcomes of event cycles since Open.
type Stats struct {
	Events    uint64
	Allowed   uint64
	Denied    uint64
	Skipped   uint64 // answered on a fast path without consulting the policy
	Overflows uint64
}

// Channel owns one fanotify group and answers its permission events.
//
// A Channel is driven from a single event loop goroutine: Open, Arm,
// OnReadable, and Close must not be called concurrently.
type Channel struct {
	kernel   Kernel
	ancestry *Ancestry
	policy   Policy
	class    Class
	selfPID  int32
	clock    clock.Clock
	logger   *slog.Logger

	fd        int
	path      string
	scheduler Scheduler
	stats     Stats

	buffer [EventSize]byte
}

// NewChannel returns a closed Channel.
func NewChannel(config ChannelConfig) *Channel {
	kernel := config.Kernel
	if kernel == nil {
		kernel = UnixKernel()
	}
	class := config.Class
	if class == 0 {
		class = ClassContent
	}
	selfPID := config.SelfPID
	if selfPID == 0 {
		selfPID = int32(os.Getpid())
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		kernel:   kernel,
		ancestry: config.Ancestry,
		policy:   config.Policy,
		class:    class,
		selfPID:  selfPID,
		clock:    clock.OrReal(config.Clock),
		logger:   logger,
		fd:       -1,
	}
}

// Ancestry returns the resolver that scopes the channel's decisions.
func (c *Channel) Ancestry() *Ancestry { return c.ancestry }

// FD returns the fanotify descriptor, or -1 when closed.
func (c *Channel) FD() int { return c.fd }

// Stats returns the counters accumulated since Open.
func (c *Channel) Stats() Stats { return c.stats }

// Open creates the fanotify group and marks the mount containing path
// for open and access permission events. On failure no descriptor is
// held and the error is an *InitError.
func (c *Channel) Open(path string) error {
	if c.fd >= 0 {
		return ErrAlreadyOpen
	}
	if c.ancestry == nil || c.policy == nil {
		return &InitError{Op: "init", Err: ErrIncomplete}
	}

	fd, err := c.kernel.Init(c.class)
	if err != nil {
		return &InitError{Op: "init", Err: fmt.Errorf("%w (requires CAP_SYS_ADMIN)", err)}
	}
	if fd < 0 {
		return &InitError{Op: "init", Err: fmt.Errorf("invalid descriptor %d", fd)}
	}

	if err := c.kernel.Mark(fd, MaskPermissions, path); err != nil {
		if closeErr := c.kernel.Close(fd); closeErr != nil {
			c.logger.Error("closing fanotify descriptor after mark failure", "fd", fd, "error", closeErr)
		}
		return &InitError{Op: "mark", Path: path, Err: err}
	}

	c.fd = fd
	c.path = path
	c.stats = Stats{}
	c.logger.Info("gatekeeper channel open", "path", path, "class", c.class, "fd", fd)
	return nil
}

// Arm registers the descriptor with scheduler. Each readiness
// notification runs one OnReadable cycle.
func (c *Channel) Arm(scheduler Scheduler) error {
	if c.fd < 0 {
		return ErrNotOpen
	}
	if err := scheduler.RegisterReadSource(c.fd, c.OnReadable); err != nil {
		return fmt.Errorf("registering fanotify descriptor: %w", err)
	}
	c.scheduler = scheduler
	return nil
}

// OnReadable performs one event cycle: read one record, decide, write
// one response, release the event descriptor. Every permission event
// that is read gets exactly one response before OnReadable returns.
//
// A failure to read or answer returns a *BreachError, after the
// channel has unregistered itself from the scheduler. The descriptor
// stays open until Close.
func (c *Channel) OnReadable() error {
	n, err := c.kernel.Read(c.fd, c.buffer[:])
	switch {
	case err != nil:
		return c.breach(&BreachError{Op: "read", FD: NoFD, Err: err})
	case n == 0:
		return c.breach(&BreachError{Op: "read", FD: NoFD, Err: ErrEndOfStream})
	case n < EventSize:
		return c.breach(&BreachError{Op: "read", FD: NoFD, Err: fmt.Errorf("%w: read %d bytes", ErrShortRecord, n)})
	}

	event, err := DecodeEvent(c.buffer[:n])
	if err != nil {
		return c.breach(&BreachError{Op: "decode", FD: NoFD, Err: err})
	}
	c.stats.Events++

	if event.FD == NoFD {
		c.stats.Overflows++
		c.logger.Warn("fanotify queue overflow", "mask", event.Mask)
		return nil
	}

	started := c.clock.Now()
	verdict := c.decide(event)

	writeErr := c.respond(event.FD, verdict)
	if closeErr := c.kernel.Close(int(event.FD)); closeErr != nil {
		c.logger.Warn("releasing event descriptor", "fd", event.FD, "error", closeErr)
	}
	if writeErr != nil {
		return c.breach(&BreachError{Op: "write", FD: event.FD, Err: writeErr})
	}

	if verdict == Deny {
		c.stats.Denied++
	} else {
		c.stats.Allowed++
	}
	c.logger.Debug("answered permission event",
		"pid", event.PID,
		"mask", event.Mask,
		"verdict", verdict,
		"elapsed", clock.Since(c.clock, started),
	)

	if event.Version != MetadataVersion {
		return c.breach(&BreachError{
			Op:  "decode",
			FD:  event.FD,
			Err: fmt.Errorf("%w: got %d, want %d", ErrMetadataVersion, event.Version, MetadataVersion),
		})
	}
	return nil
}

// decide returns the verdict for event. Requests from the listener
// itself and, once a root is configured, from processes outside the
// monitored tree are allowed without resolving the path.
func (c *Channel) decide(event Event) Verdict {
	if event.PID == c.selfPID || (c.ancestry.HasRoot() && !c.ancestry.IsMonitored(event.PID)) {
		c.stats.Skipped++
		return Allow
	}

	path, err := c.kernel.ResolvePath(event.FD)
	if err != nil {
		c.logger.Warn("resolving event path", "pid", event.PID, "fd", event.FD, "error", err)
		path = UnknownPath
	}
	return c.consult(path, event.PID)
}

// consult calls the policy. A panicking policy must not leave the
// requester blocked, so the panic is logged and answered with Allow.
func (c *Channel) consult(path string, pid int32) (verdict Verdict) {
	defer func() {
		if recovered := recover(); recovered != nil {
			c.logger.Error("decision policy panicked", "pid", pid, "path", path, "panic", recovered)
			verdict = Allow
		}
	}()
	verdict = c.policy.Decide(path, pid)
	if verdict != Allow && verdict != Deny {
		c.logger.Error("decision policy returned an invalid verdict", "pid", pid, "path", path, "verdict", verdict)
		verdict = Allow
	}
	return verdict
}

func (c *Channel) respond(fd int32, verdict Verdict) error {
	n, err := c.kernel.Write(c.fd, Response{FD: fd, Verdict: verdict}.Encode())
	if err != nil {
		return err
	}
	if n != ResponseSize {
		return fmt.Errorf("short response write: %d of %d bytes", n, ResponseSize)
	}
	return nil
}

// breach unregisters the channel so the loop does not call it again,
// logs the failure, and returns it.
func (c *Channel) breach(err *BreachError) error {
	c.disarm()
	c.logger.Error("gatekeeper channel breach", "op", err.Op, "path", c.path, "error", err.Err)
	return err
}

func (c *Channel) disarm() {
	if c.scheduler == nil {
		return
	}
	if err := c.scheduler.UnregisterReadSource(c.fd); err != nil {
		c.logger.Warn("unregistering fanotify descriptor", "fd", c.fd, "error", err)
	}
	c.scheduler = nil
}

// Close unregisters and releases the fanotify descriptor. Closing a
// channel that was never opened, or closing twice, is a no-op.
func (c *Channel) Close() error {
	if c.fd < 0 {
		return nil
	}
	c.disarm()
	fd := c.fd
	c.fd = -1
	c.logger.Info("gatekeeper channel closed",
		"path", c.path,
		"events", c.stats.Events,
		"allowed", c.stats.Allowed,
		"denied", c.stats.Denied,
		"skipped", c.stats.Skipped,
	)
	if err := c.kernel.Close(fd); err != nil {
		return fmt.Errorf("closing fanotify descriptor: %w", err)
	}
	return nil
}
