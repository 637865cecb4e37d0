// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tripwire

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bureau-foundation/gatekeeper/lib/clock"
	"github.com/bureau-foundation/gatekeeper/lib/codec"
)

// Record describes one breach.
type Record struct {
	// Component is the subsystem that failed, e.g. "gatekeeper".
	Component string `cbor:"component"`

	// Op is the failing operation: "init", "mark", "read", "write",
	// "decode", "poll", or "manual".
	Op string `cbor:"op"`

	// Error is the rendered cause.
	Error string `cbor:"error"`

	// RootPID is the monitored root at the time of the breach, or zero
	// when no root was set.
	RootPID int32 `cbor:"root_pid,omitempty"`

	// Rules is the digest of the rule set that was in force, as
	// returned by gatekeeper.Rules.Digest.
	Rules string `cbor:"rules,omitempty"`

	// Timestamp is when the breach was recorded. Check uses it to
	// discard stale records.
	Timestamp time.Time `cbor:"timestamp"`
}

// Write atomically replaces the record at path. The file is created
// with mode 0600. The parent directory is created if missing.
func Write(path string, record Record) error {
	data, err := codec.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding tripwire record: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating tripwire directory: %w", err)
	}

	temporaryPath := path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating temporary tripwire file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary tripwire file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary tripwire file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary tripwire file: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming tripwire file into place: %w", err)
	}

	// Make the rename durable.
	if directory, err := os.Open(filepath.Dir(path)); err == nil {
		directory.Sync()
		directory.Close()
	}
	return nil
}

// Read decodes the record at path. A missing file yields an error
// wrapping os.ErrNotExist.
func Read(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, err
	}
	var record Record
	if err := codec.Unmarshal(data, &record); err != nil {
		return Record{}, fmt.Errorf("decoding tripwire record %s: %w", path, err)
	}
	return record, nil
}

// Check reads the record at path and reports whether it is no older
// than maxAge according to c. A missing or stale record returns false
// with a nil error; unreadable or corrupt records return the error so
// the caller can tell "no breach" from "cannot tell".
func Check(path string, maxAge time.Duration, c clock.Clock) (Record, bool, error) {
	record, err := Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	if clock.Since(clock.OrReal(c), record.Timestamp) > maxAge {
		return Record{}, false, nil
	}
	return record, true, nil
}

// Clear removes the record. Removing a missing record is not an error.
func Clear(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing tripwire record: %w", err)
	}
	return nil
}
