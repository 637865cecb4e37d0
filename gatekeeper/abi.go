// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gatekeeper

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Record layout (from fanotify(7)):
//
//	struct fanotify_event_metadata {
//	    __u32 event_len;     // offset 0
//	    __u8  vers;          // offset 4
//	    __u8  reserved;      // offset 5
//	    __u16 metadata_len;  // offset 6
//	    __aligned_u64 mask;  // offset 8
//	    __s32 fd;            // offset 16
//	    __s32 pid;           // offset 20
//	};
//
//	struct fanotify_response {
//	    __s32 fd;            // offset 0
//	    __u32 response;      // offset 4
//	};
const (
	// EventSize is sizeof(struct fanotify_event_metadata).
	EventSize = 24

	// ResponseSize is sizeof(struct fanotify_response).
	ResponseSize = 8

	// MetadataVersion is FANOTIFY_METADATA_VERSION. Records carrying
	// any other version use a layout this package does not understand.
	MetadataVersion = 3

	// NoFD is FAN_NOFD, the fd value of records that do not refer to
	// an open file (queue overflow).
	NoFD = -1
)

// Class selects the fanotify notification class passed to
// fanotify_init. Permission events require content or pre-content.
type Class uint

const (
	ClassContent    Class = 0x00000004 // FAN_CLASS_CONTENT
	ClassPreContent Class = 0x00000008 // FAN_CLASS_PRE_CONTENT
)

// ParseClass maps the configuration spelling of a class to its value.
func ParseClass(name string) (Class, error) {
	switch name {
	case "", "content":
		return ClassContent, nil
	case "pre-content":
		return ClassPreContent, nil
	default:
		return 0, fmt.Errorf("unknown fanotify class %q (want content or pre-content)", name)
	}
}

func (c Class) String() string {
	switch c {
	case ClassContent:
		return "content"
	case ClassPreContent:
		return "pre-content"
	default:
		return fmt.Sprintf("class(0x%x)", uint(c))
	}
}

// Mark flags passed to fanotify_mark.
const (
	MarkAdd   = 0x00000001 // FAN_MARK_ADD
	MarkMount = 0x00000010 // FAN_MARK_MOUNT
)

// Mask is the event mask bitset of a record.
type Mask uint64

const (
	MaskQueueOverflow Mask = 0x00004000 // FAN_Q_OVERFLOW
	MaskOpenPerm      Mask = 0x00010000 // FAN_OPEN_PERM
	MaskAccessPerm    Mask = 0x00020000 // FAN_ACCESS_PERM

	// MaskPermissions is the mask marked on the monitored mount.
	MaskPermissions = MaskOpenPerm | MaskAccessPerm
)

var maskNames = []struct {
	bit  Mask
	name string
}{
	{MaskOpenPerm, "OPEN_PERM"},
	{MaskAccessPerm, "ACCESS_PERM"},
	{MaskQueueOverflow, "Q_OVERFLOW"},
}

// String renders the known bits joined by "|", with any remaining
// unknown bits in hex.
func (m Mask) String() string {
	var parts []string
	rest := m
	for _, entry := range maskNames {
		if m&entry.bit != 0 {
			parts = append(parts, entry.name)
			rest &^= entry.bit
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint64(rest)))
	}
	if len(parts) == 0 {
		return "0"
	}
	return strings.Join(parts, "|")
}

// Verdict is the response code written back to the kernel.
type Verdict uint32

const (
	Allow Verdict = 0x01 // FAN_ALLOW
	Deny  Verdict = 0x02 // FAN_DENY
)

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return fmt.Sprintf("verdict(0x%x)", uint32(v))
	}
}

// ErrShortRecord is returned when a buffer is smaller than the fixed
// record it is supposed to contain.
var ErrShortRecord = errors.New("gatekeeper: short fanotify record")

// Event is one decoded permission event. FD refers to the accessed
// object and is owned by the receiver until it is released.
type Event struct {
	Length         uint32
	Version        uint8
	Reserved       uint8
	MetadataLength uint16
	Mask           Mask
	FD             int32
	PID            int32
}

// DecodeEvent decodes the first EventSize bytes of buf in native byte
// order. Trailing bytes (information records) are ignored.
func DecodeEvent(buf []byte) (Event, error) {
	if len(buf) < EventSize {
		return Event{}, fmt.Errorf("%w: %d bytes, want %d", ErrShortRecord, len(buf), EventSize)
	}
	return Event{
		Length:         binary.NativeEndian.Uint32(buf[0:4]),
		Version:        buf[4],
		Reserved:       buf[5],
		MetadataLength: binary.NativeEndian.Uint16(buf[6:8]),
		Mask:           Mask(binary.NativeEndian.Uint64(buf[8:16])),
		FD:             int32(binary.NativeEndian.Uint32(buf[16:20])),
		PID:            int32(binary.NativeEndian.Uint32(buf[20:24])),
	}, nil
}

// Encode produces the kernel representation of e.
func (e Event) Encode() []byte {
	buf := make([]byte, EventSize)
	binary.NativeEndian.PutUint32(buf[0:4], e.Length)
	buf[4] = e.Version
	buf[5] = e.Reserved
	binary.NativeEndian.PutUint16(buf[6:8], e.MetadataLength)
	binary.NativeEndian.PutUint64(buf[8:16], uint64(e.Mask))
	binary.NativeEndian.PutUint32(buf[16:20], uint32(e.FD))
	binary.NativeEndian.PutUint32(buf[20:24], uint32(e.PID))
	return buf
}

// Response answers the event whose FD it carries.
type Response struct {
	FD      int32
	Verdict Verdict
}

// Encode produces the kernel representation of r.
func (r Response) Encode() []byte {
	buf := make([]byte, ResponseSize)
	binary.NativeEndian.PutUint32(buf[0:4], uint32(r.FD))
	binary.NativeEndian.PutUint32(buf[4:8], uint32(r.Verdict))
	return buf
}

// DecodeResponse is the inverse of Response.Encode.
func DecodeResponse(buf []byte) (Response, error) {
	if len(buf) < ResponseSize {
		return Response{}, fmt.Errorf("%w: %d bytes, want %d", ErrShortRecord, len(buf), ResponseSize)
	}
	return Response{
		FD:      int32(binary.NativeEndian.Uint32(buf[0:4])),
		Verdict: Verdict(binary.NativeEndian.Uint32(buf[4:8])),
	}, nil
}
