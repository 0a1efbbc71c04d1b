// Copyright 2026 Matthias Baigner. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package frame defines the wire-format boundary between the command/response
// engine and device drivers. A driver supplies a Codec that knows how to turn
// commands into bytes and an incoming byte stream into discrete frames; the
// engine itself has no knowledge of any instrument's vocabulary.
package frame

import (
	"errors"
	"fmt"
	"time"
)

// Command is an opaque, driver-supplied payload plus a caller-assigned
// correlation key and a timeout. It is immutable once submitted.
//
// An empty Key marks a strictly FIFO protocol: the response is matched to the
// oldest outstanding keyless request instead of by identifier.
type Command struct {
	Key     string
	Payload []byte
	Timeout time.Duration
}

// Frame is one complete, delimited unit of the device's wire protocol after
// decoding. A frame correlates to at most one pending request; frames with no
// match are unsolicited device notifications.
type Frame struct {
	Key     string
	Payload []byte
}

// Codec is the capability set a device driver injects into a session. Encode
// must be total for commands that pass Validate; Decode must yield the same
// sequence of frames for a given byte stream no matter how the transport
// chunked it. A codec instance belongs to one session and is driven from a
// single goroutine.
type Codec interface {
	// Validate rejects malformed commands before submission.
	Validate(cmd Command) error

	// Encode turns a validated command into its wire representation.
	Encode(cmd Command) ([]byte, error)

	// Decode attempts to extract one complete frame from buf.
	//
	// It returns (nil, 0, nil) when buf holds only a partial frame; the
	// caller appends more bytes and retries. It returns a *FramingError
	// with consumed > 0 when the leading bytes are unrecoverable; the
	// caller discards them and resumes at the next frame boundary.
	Decode(buf []byte) (f *Frame, consumed int, err error)
}

// Framing error causes.
var (
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrFrameTooLong     = errors.New("frame exceeds maximum length")
	ErrMalformedFrame   = errors.New("malformed frame")
)

// Command validation errors.
var (
	ErrEmptyCommand = errors.New("command payload is empty")
	ErrBadKey       = errors.New("correlation key contains reserved bytes")
	ErrBadPayload   = errors.New("payload contains frame delimiter")
)

// FramingError reports an unrecoverable byte sequence in the incoming stream.
// It is recovered locally by discarding up to the next frame boundary and is
// never surfaced to a specific caller, since it cannot be attributed to one
// request.
type FramingError struct {
	Cause     error
	Discarded int
}

func (sf *FramingError) Error() string {
	return fmt.Sprintf("framing error (%d bytes discarded): %v", sf.Discarded, sf.Cause)
}

func (sf *FramingError) Unwrap() error { return sf.Cause }
