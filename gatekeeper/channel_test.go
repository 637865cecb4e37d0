// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gatekeeper

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/gatekeeper/lib/clock"
)

// fakeKernel is an in-memory fanotify. Queued records are returned one
// per Read; responses are recorded per Write.
type fakeKernel struct {
	initFD  int
	initErr error
	markErr error

	markedFD   int
	markedMask Mask
	markedPath string

	queue     [][]byte
	readErr   error
	reads     int
	responses []Response
	writeErr  error
	shortN    int // when non-zero, Write reports this many bytes

	paths    map[int32]string
	resolved []int32

	closed []int
}

func newFakeKernel() *fakeKernel {
	return &fakeKernel{initFD: 10, markedFD: -1, paths: make(map[int32]string)}
}

func (k *fakeKernel) Init(Class) (int, error) {
	if k.initErr != nil {
		return -1, k.initErr
	}
	return k.initFD, nil
}

func (k *fakeKernel) Mark(fd int, mask Mask, path string) error {
	k.markedFD, k.markedMask, k.markedPath = fd, mask, path
	return k.markErr
}

func (k *fakeKernel) Read(fd int, buf []byte) (int, error) {
	k.reads++
	if k.readErr != nil {
		return -1, k.readErr
	}
	if len(k.queue) == 0 {
		return 0, nil
	}
	record := k.queue[0]
	k.queue = k.queue[1:]
	return copy(buf, record), nil
}

func (k *fakeKernel) Write(fd int, buf []byte) (int, error) {
	if k.writeErr != nil {
		return -1, k.writeErr
	}
	response, err := DecodeResponse(buf)
	if err != nil {
		return 0, err
	}
	k.responses = append(k.responses, response)
	if k.shortN != 0 {
		return k.shortN, nil
	}
	return len(buf), nil
}

func (k *fakeKernel) Close(fd int) error {
	k.closed = append(k.closed, fd)
	return nil
}

func (k *fakeKernel) ResolvePath(fd int32) (string, error) {
	k.resolved = append(k.resolved, fd)
	path, ok := k.paths[fd]
	if !ok {
		return "", fmt.Errorf("readlink /proc/self/fd/%d: no such file or directory", fd)
	}
	return path, nil
}

// push queues a well-formed permission event.
func (k *fakeKernel) push(fd, pid int32, path string) {
	k.queue = append(k.queue, Event{
		Length:         EventSize,
		Version:        MetadataVersion,
		MetadataLength: EventSize,
		Mask:           MaskOpenPerm,
		FD:             fd,
		PID:            pid,
	}.Encode())
	if path != "" {
		k.paths[fd] = path
	}
}

// syncScheduler records registrations and lets the test fire the
// registered callback synchronously, like one epoll wakeup.
type syncScheduler struct {
	callbacks map[int]func() error
}

func newSyncScheduler() *syncScheduler {
	return &syncScheduler{callbacks: make(map[int]func() error)}
}

func (s *syncScheduler) RegisterReadSource(fd int, callback func() error) error {
	if _, exists := s.callbacks[fd]; exists {
		return fmt.Errorf("fd %d already registered", fd)
	}
	s.callbacks[fd] = callback
	return nil
}

func (s *syncScheduler) UnregisterReadSource(fd int) error {
	if _, exists := s.callbacks[fd]; !exists {
		return fmt.Errorf("fd %d not registered", fd)
	}
	delete(s.callbacks, fd)
	return nil
}

func (s *syncScheduler) fire(t *testing.T, fd int) error {
	t.Helper()
	callback, ok := s.callbacks[fd]
	if !ok {
		t.Fatalf("fd %d is not registered", fd)
	}
	return callback()
}

// countingPolicy records every consultation and answers with verdict.
type countingPolicy struct {
	verdict Verdict
	calls   []string
}

func (p *countingPolicy) Decide(path string, pid int32) Verdict {
	p.calls = append(p.calls, path)
	return p.verdict
}

const selfPID = 1

type channelFixture struct {
	kernel    *fakeKernel
	scheduler *syncScheduler
	ancestry  *Ancestry
	channel   *Channel
}

func newChannelFixture(t *testing.T, policy Policy) *channelFixture {
	t.Helper()
	kernel := newFakeKernel()
	ancestry := NewAncestry(chainTree(), discardLogger())
	logger, _ := captureLogger()
	channel := NewChannel(ChannelConfig{
		Kernel:   kernel,
		Ancestry: ancestry,
		Policy:   policy,
		SelfPID:  selfPID,
		Clock:    clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		Logger:   logger,
	})
	return &channelFixture{
		kernel:    kernel,
		scheduler: newSyncScheduler(),
		ancestry:  ancestry,
		channel:   channel,
	}
}

func (f *channelFixture) openAndArm(t *testing.T) {
	t.Helper()
	if err := f.channel.Open("/home"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := f.channel.Arm(f.scheduler); err != nil {
		t.Fatalf("Arm: %v", err)
	}
}

func TestChannelOpenRegisters(t *testing.T) {
	f := newChannelFixture(t, &countingPolicy{verdict: Allow})
	f.openAndArm(t)

	if f.channel.FD() != 10 {
		t.Errorf("FD() = %d, want the kernel's descriptor 10", f.channel.FD())
	}
	if _, ok := f.scheduler.callbacks[10]; !ok {
		t.Error("descriptor 10 should be registered with the scheduler")
	}
	if f.kernel.markedFD != 10 || f.kernel.markedPath != "/home" || f.kernel.markedMask != MaskOpenPerm|MaskAccessPerm {
		t.Errorf("Mark(%d, %v, %q), want Mark(10, OPEN_PERM|ACCESS_PERM, /home)",
			f.kernel.markedFD, f.kernel.markedMask, f.kernel.markedPath)
	}
}

func TestChannelMarkFailureClosesDescriptor(t *testing.T) {
	f := newChannelFixture(t, &countingPolicy{verdict: Allow})
	f.kernel.markErr = errors.New("no such file or directory")

	err := f.channel.Open("/nonexistent")
	var initErr *InitError
	if !errors.As(err, &initErr) {
		t.Fatalf("Open error = %v, want *InitError", err)
	}
	if initErr.Op != "mark" || initErr.Path != "/nonexistent" {
		t.Errorf("InitError = %+v, want op=mark path=/nonexistent", initErr)
	}
	if !IsBreach(err) {
		t.Error("IsBreach(InitError) = false")
	}
	if !slices.Equal(f.kernel.closed, []int{10}) {
		t.Errorf("closed descriptors = %v, want [10]", f.kernel.closed)
	}
	if f.channel.FD() != -1 {
		t.Errorf("FD() after failed Open = %d, want -1", f.channel.FD())
	}
	if err := f.channel.Arm(f.scheduler); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Arm after failed Open = %v, want ErrNotOpen", err)
	}
	if len(f.scheduler.callbacks) != 0 {
		t.Error("nothing should be registered after a failed Open")
	}
}

func TestChannelInitFailure(t *testing.T) {
	f := newChannelFixture(t, &countingPolicy{verdict: Allow})
	f.kernel.initErr = errors.New("operation not permitted")

	err := f.channel.Open("/home")
	var initErr *InitError
	if !errors.As(err, &initErr) || initErr.Op != "init" {
		t.Fatalf("Open error = %v, want *InitError with op=init", err)
	}
	if !strings.Contains(err.Error(), "CAP_SYS_ADMIN") {
		t.Errorf("init error should mention the required capability: %v", err)
	}
	if len(f.kernel.closed) != 0 {
		t.Errorf("closed descriptors = %v, want none", f.kernel.closed)
	}
}

func TestChannelOpenTwice(t *testing.T) {
	f := newChannelFixture(t, &countingPolicy{verdict: Allow})
	f.openAndArm(t)
	if err := f.channel.Open("/home"); !errors.Is(err, ErrAlreadyOpen) {
		t.Errorf("second Open = %v, want ErrAlreadyOpen", err)
	}
}

func TestChannelReadFailureIsBreach(t *testing.T) {
	f := newChannelFixture(t, &countingPolicy{verdict: Allow})
	f.openAndArm(t)
	f.kernel.readErr = errors.New("bad file descriptor")

	err := f.scheduler.fire(t, 10)
	var breach *BreachError
	if !errors.As(err, &breach) || breach.Op != "read" {
		t.Fatalf("OnReadable error = %v, want read breach", err)
	}
	if !IsBreach(err) {
		t.Error("IsBreach(read failure) = false")
	}
	if _, ok := f.scheduler.callbacks[10]; ok {
		t.Error("descriptor must not stay registered after a breach")
	}
	if len(f.kernel.responses) != 0 {
		t.Error("no response can be written without a decoded event")
	}
}

func TestChannelEndOfStreamIsBreach(t *testing.T) {
	f := newChannelFixture(t, &countingPolicy{verdict: Allow})
	f.openAndArm(t)

	err := f.scheduler.fire(t, 10) // empty queue reads 0 bytes
	if !errors.Is(err, ErrEndOfStream) || !IsBreach(err) {
		t.Fatalf("OnReadable on EOF = %v, want ErrEndOfStream breach", err)
	}
}

func TestChannelShortReadIsBreach(t *testing.T) {
	f := newChannelFixture(t, &countingPolicy{verdict: Allow})
	f.openAndArm(t)
	f.kernel.queue = append(f.kernel.queue, make([]byte, EventSize-4))

	if err := f.scheduler.fire(t, 10); !errors.Is(err, ErrShortRecord) || !IsBreach(err) {
		t.Fatalf("OnReadable on short read = %v, want ErrShortRecord breach", err)
	}
}

func TestChannelOneResponsePerEvent(t *testing.T) {
	policy := &countingPolicy{verdict: Allow}
	f := newChannelFixture(t, policy)
	f.ancestry.SetRoot(100)
	f.openAndArm(t)

	// Alternate monitored and unmonitored requesters so both paths
	// through the cycle are counted.
	const events = 50
	for i := range events {
		pid := int32(400)
		if i%2 == 1 {
			pid = 900
		}
		f.kernel.push(int32(20+i), pid, fmt.Sprintf("/home/user/file-%d", i))
	}

	for i := range events {
		if err := f.scheduler.fire(t, 10); err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
		if f.kernel.reads != i+1 || len(f.kernel.responses) != i+1 {
			t.Fatalf("after event %d: %d reads, %d responses", i, f.kernel.reads, len(f.kernel.responses))
		}
		if got := f.kernel.responses[i].FD; got != int32(20+i) {
			t.Fatalf("response %d answers fd %d, want %d", i, got, 20+i)
		}
	}

	stats := f.channel.Stats()
	if stats.Events != events || stats.Allowed != events || stats.Skipped != events/2 {
		t.Errorf("Stats = %+v", stats)
	}
	if len(policy.calls) != events/2 {
		t.Errorf("policy consulted %d times, want %d", len(policy.calls), events/2)
	}
}

func TestChannelUnmonitoredSkipsPolicy(t *testing.T) {
	policy := &countingPolicy{verdict: Deny}
	f := newChannelFixture(t, policy)
	f.ancestry.SetRoot(100)
	f.openAndArm(t)
	f.kernel.push(33, 900, "/etc/shadow")

	if err := f.scheduler.fire(t, 10); err != nil {
		t.Fatalf("OnReadable: %v", err)
	}
	if want := []Response{{FD: 33, Verdict: Allow}}; !slices.Equal(f.kernel.responses, want) {
		t.Errorf("responses = %v, want %v", f.kernel.responses, want)
	}
	if len(policy.calls) != 0 {
		t.Errorf("policy consulted for an unmonitored pid: %v", policy.calls)
	}
	if len(f.kernel.resolved) != 0 {
		t.Errorf("path resolved for an unmonitored pid: %v", f.kernel.resolved)
	}
	if !slices.Contains(f.kernel.closed, 33) {
		t.Error("event descriptor 33 was not released")
	}
}

func TestChannelSelfRequestsSkipPolicy(t *testing.T) {
	policy := &countingPolicy{verdict: Deny}
	f := newChannelFixture(t, policy)
	f.openAndArm(t)
	f.kernel.push(34, selfPID, "/home/user/.cache/bureau/tripwire")

	if err := f.scheduler.fire(t, 10); err != nil {
		t.Fatalf("OnReadable: %v", err)
	}
	if f.kernel.responses[0].Verdict != Allow || len(policy.calls) != 0 {
		t.Errorf("own request: verdict %v, policy calls %v", f.kernel.responses[0].Verdict, policy.calls)
	}
}

func TestChannelNoRootConsultsPolicy(t *testing.T) {
	policy := &countingPolicy{verdict: Deny}
	f := newChannelFixture(t, policy)
	f.openAndArm(t)
	f.kernel.push(35, 900, "/home/user/notes")

	if err := f.scheduler.fire(t, 10); err != nil {
		t.Fatalf("OnReadable: %v", err)
	}
	if f.kernel.responses[0].Verdict != Deny || !slices.Equal(policy.calls, []string{"/home/user/notes"}) {
		t.Errorf("verdict %v, policy calls %v", f.kernel.responses[0].Verdict, policy.calls)
	}
	if f.channel.Stats().Denied != 1 {
		t.Errorf("Stats = %+v, want one denial", f.channel.Stats())
	}
}

func TestChannelMonitoredPathPolicy(t *testing.T) {
	logger, buffer := captureLogger()
	f := newChannelFixture(t, NewPathPolicy(Rules{Sanctioned: []string{"/home/user/Ghost"}}, logger))
	f.ancestry.SetRoot(100)
	f.openAndArm(t)

	f.kernel.push(40, 400, "/home/user/Ghost/bookmarks.html")
	if err := f.scheduler.fire(t, 10); err != nil {
		t.Fatalf("OnReadable: %v", err)
	}
	if f.kernel.responses[0] != (Response{FD: 40, Verdict: Allow}) {
		t.Errorf("sanctioned response = %v", f.kernel.responses[0])
	}
	if lines := warnings(buffer); len(lines) != 0 {
		t.Errorf("sanctioned access logged warnings: %v", lines)
	}

	f.kernel.push(41, 400, "/home/user/.ssh/id_ed25519")
	if err := f.scheduler.fire(t, 10); err != nil {
		t.Fatalf("OnReadable: %v", err)
	}
	if f.kernel.responses[1] != (Response{FD: 41, Verdict: Allow}) {
		t.Errorf("unsanctioned response = %v", f.kernel.responses[1])
	}
	lines := warnings(buffer)
	if len(lines) != 1 || !strings.Contains(lines[0], "security alert") || !strings.Contains(lines[0], "/home/user/.ssh/id_ed25519") {
		t.Errorf("want one security alert for the .ssh access, got %v", lines)
	}
	if !slices.Contains(f.kernel.closed, 40) || !slices.Contains(f.kernel.closed, 41) {
		t.Errorf("event descriptors not released: closed %v", f.kernel.closed)
	}
}

func TestChannelResolutionFailureUsesUnknownPath(t *testing.T) {
	policy := &countingPolicy{verdict: Allow}
	f := newChannelFixture(t, policy)
	f.ancestry.SetRoot(100)
	f.openAndArm(t)
	f.kernel.push(42, 200, "") // no path registered for fd 42

	if err := f.scheduler.fire(t, 10); err != nil {
		t.Fatalf("OnReadable: resolution failure must not abort the cycle: %v", err)
	}
	if !slices.Equal(policy.calls, []string{UnknownPath}) {
		t.Errorf("policy calls = %v, want [%s]", policy.calls, UnknownPath)
	}
	if len(f.kernel.responses) != 1 {
		t.Errorf("responses = %v, want exactly one", f.kernel.responses)
	}
}

func TestChannelWriteFailureIsBreach(t *testing.T) {
	f := newChannelFixture(t, &countingPolicy{verdict: Allow})
	f.openAndArm(t)
	f.kernel.push(43, 900, "/home/x")
	f.kernel.writeErr = errors.New("broken pipe")

	err := f.scheduler.fire(t, 10)
	var breach *BreachError
	if !errors.As(err, &breach) || breach.Op != "write" || breach.FD != 43 {
		t.Fatalf("OnReadable error = %v, want write breach on fd 43", err)
	}
	if !slices.Contains(f.kernel.closed, 43) {
		t.Error("event descriptor must be released even when the response fails")
	}
	if _, ok := f.scheduler.callbacks[10]; ok {
		t.Error("descriptor must not stay registered after a breach")
	}
}

func TestChannelShortWriteIsBreach(t *testing.T) {
	f := newChannelFixture(t, &countingPolicy{verdict: Allow})
	f.openAndArm(t)
	f.kernel.push(44, 900, "/home/x")
	f.kernel.shortN = 4

	if err := f.scheduler.fire(t, 10); !IsBreach(err) {
		t.Fatalf("OnReadable on short write = %v, want breach", err)
	}
}

func TestChannelQueueOverflowIsNotAnswered(t *testing.T) {
	f := newChannelFixture(t, &countingPolicy{verdict: Allow})
	f.openAndArm(t)
	f.kernel.queue = append(f.kernel.queue, Event{
		Length: EventSize, Version: MetadataVersion, MetadataLength: EventSize,
		Mask: MaskQueueOverflow, FD: NoFD, PID: 0,
	}.Encode())

	if err := f.scheduler.fire(t, 10); err != nil {
		t.Fatalf("OnReadable: %v", err)
	}
	if len(f.kernel.responses) != 0 {
		t.Errorf("overflow record answered: %v", f.kernel.responses)
	}
	if f.channel.Stats().Overflows != 1 {
		t.Errorf("Stats = %+v, want one overflow", f.channel.Stats())
	}
}

func TestChannelVersionMismatchAnswersThenBreaches(t *testing.T) {
	f := newChannelFixture(t, &countingPolicy{verdict: Allow})
	f.openAndArm(t)
	f.kernel.queue = append(f.kernel.queue, Event{
		Length: EventSize, Version: 2, MetadataLength: EventSize,
		Mask: MaskOpenPerm, FD: 45, PID: 900,
	}.Encode())

	err := f.scheduler.fire(t, 10)
	if !errors.Is(err, ErrMetadataVersion) || !IsBreach(err) {
		t.Fatalf("OnReadable = %v, want metadata version breach", err)
	}
	if len(f.kernel.responses) != 1 || f.kernel.responses[0].FD != 45 {
		t.Errorf("responses = %v, want the pending request answered before escalating", f.kernel.responses)
	}
}

func TestChannelPanickingPolicyStillAnswers(t *testing.T) {
	f := newChannelFixture(t, PolicyFunc(func(string, int32) Verdict { panic("prompt crashed") }))
	f.ancestry.SetRoot(100)
	f.openAndArm(t)
	f.kernel.push(46, 300, "/home/user/a")

	if err := f.scheduler.fire(t, 10); err != nil {
		t.Fatalf("OnReadable: %v", err)
	}
	if f.kernel.responses[0] != (Response{FD: 46, Verdict: Allow}) {
		t.Errorf("response = %v, want allow for fd 46", f.kernel.responses[0])
	}
}

func TestChannelInvalidVerdictIsAllowed(t *testing.T) {
	f := newChannelFixture(t, PolicyFunc(func(string, int32) Verdict { return Verdict(7) }))
	f.openAndArm(t)
	f.kernel.push(47, 300, "/home/user/a")

	if err := f.scheduler.fire(t, 10); err != nil {
		t.Fatalf("OnReadable: %v", err)
	}
	if f.kernel.responses[0].Verdict != Allow {
		t.Errorf("verdict = %v, want allow", f.kernel.responses[0].Verdict)
	}
}

func TestChannelClose(t *testing.T) {
	t.Run("never opened", func(t *testing.T) {
		f := newChannelFixture(t, &countingPolicy{verdict: Allow})
		if err := f.channel.Close(); err != nil {
			t.Errorf("Close on a never-opened channel: %v", err)
		}
		if len(f.kernel.closed) != 0 {
			t.Errorf("closed %v, want nothing", f.kernel.closed)
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		f := newChannelFixture(t, &countingPolicy{verdict: Allow})
		f.openAndArm(t)
		for range 3 {
			if err := f.channel.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}
		}
		if !slices.Equal(f.kernel.closed, []int{10}) {
			t.Errorf("closed %v, want [10] exactly once", f.kernel.closed)
		}
		if len(f.scheduler.callbacks) != 0 {
			t.Error("Close must unregister the descriptor")
		}
		if f.channel.FD() != -1 {
			t.Errorf("FD() after Close = %d", f.channel.FD())
		}
	})

	t.Run("after breach", func(t *testing.T) {
		f := newChannelFixture(t, &countingPolicy{verdict: Allow})
		f.openAndArm(t)
		f.kernel.readErr = io.ErrUnexpectedEOF
		if err := f.scheduler.fire(t, 10); !IsBreach(err) {
			t.Fatalf("want breach, got %v", err)
		}
		if err := f.channel.Close(); err != nil {
			t.Errorf("Close after breach: %v", err)
		}
		if !slices.Equal(f.kernel.closed, []int{10}) {
			t.Errorf("closed %v, want [10]", f.kernel.closed)
		}
	})
}

func TestChannelOpenRequiresCollaborators(t *testing.T) {
	tests := []struct {
		name   string
		config ChannelConfig
	}{
		{"no ancestry", ChannelConfig{Policy: &countingPolicy{verdict: Allow}}},
		{"no policy", ChannelConfig{Ancestry: NewAncestry(chainTree(), discardLogger())}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			kernel := newFakeKernel()
			test.config.Kernel = kernel
			test.config.Logger = discardLogger()
			channel := NewChannel(test.config)

			err := channel.Open("/home")
			var initErr *InitError
			if !errors.As(err, &initErr) || !errors.Is(err, ErrIncomplete) {
				t.Fatalf("Open = %v, want an InitError wrapping ErrIncomplete", err)
			}
			if channel.FD() != -1 || kernel.markedFD != -1 || len(kernel.closed) != 0 {
				t.Error("an incomplete channel must not touch the kernel")
			}
		})
	}
}

func TestChannelAncestry(t *testing.T) {
	f := newChannelFixture(t, &countingPolicy{verdict: Allow})
	if f.channel.Ancestry() != f.ancestry {
		t.Error("Ancestry() does not return the configured resolver")
	}
}
