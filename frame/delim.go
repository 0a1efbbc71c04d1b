// Copyright 2026 Matthias Baigner. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package frame

import (
	"bytes"
	"fmt"
	"strconv"
)

// Delimited codec defaults.
const (
	DefaultDelimiter = "\r\n"
	DefaultKeySep    = ':'
	DefaultMaxLen    = 4096

	checksumMark = '*'
)

// DelimitedCodec frames messages as
//
//	[key <sep>] payload [*HH] <delimiter>
//
// where *HH is an optional two-digit uppercase hex checksum (8-bit additive
// sum over everything before the mark). Most line-oriented instrument
// protocols fit this shape; drivers with a different wire format supply their
// own Codec instead.
type DelimitedCodec struct {
	// Delim terminates every frame. Defaults to "\r\n".
	Delim []byte
	// KeySep separates the correlation key from the payload. Defaults to ':'.
	KeySep byte
	// Checksum enables the trailing *HH checksum on both directions.
	Checksum bool
	// MaxLen bounds the length of a single frame including the delimiter.
	// An over-long line is discarded in its entirety, through its
	// terminating delimiter.
	MaxLen int

	// Once a line exceeds MaxLen, everything up to and including the next
	// delimiter is noise. Tracking this across Decode calls keeps the
	// decoded frames identical no matter how the transport chunked the
	// bytes.
	skipping bool
}

func (sf *DelimitedCodec) delim() []byte {
	if len(sf.Delim) == 0 {
		return []byte(DefaultDelimiter)
	}
	return sf.Delim
}

func (sf *DelimitedCodec) keySep() byte {
	if sf.KeySep == 0 {
		return DefaultKeySep
	}
	return sf.KeySep
}

func (sf *DelimitedCodec) maxLen() int {
	if sf.MaxLen <= 0 {
		return DefaultMaxLen
	}
	return sf.MaxLen
}

// checksum is the 8-bit additive sum over data, truncated like the link-layer
// checksum of FT1.2-style framings.
func checksum(data []byte) byte {
	var sum uint16
	for _, b := range data {
		sum += uint16(b)
	}
	return byte(sum)
}

// Validate rejects commands whose key or payload would corrupt the framing.
func (sf *DelimitedCodec) Validate(cmd Command) error {
	if len(cmd.Payload) == 0 {
		return ErrEmptyCommand
	}
	delim := sf.delim()
	if bytes.Contains(cmd.Payload, delim) {
		return ErrBadPayload
	}
	if cmd.Key != "" {
		key := []byte(cmd.Key)
		if bytes.Contains(key, delim) ||
			bytes.IndexByte(key, sf.keySep()) >= 0 ||
			(sf.Checksum && bytes.IndexByte(key, checksumMark) >= 0) {
			return ErrBadKey
		}
	}
	return nil
}

// Encode is total for commands that pass Validate.
func (sf *DelimitedCodec) Encode(cmd Command) ([]byte, error) {
	if err := sf.Validate(cmd); err != nil {
		return nil, err
	}
	buf := make([]byte, 0, len(cmd.Key)+len(cmd.Payload)+8)
	if cmd.Key != "" {
		buf = append(buf, cmd.Key...)
		buf = append(buf, sf.keySep())
	}
	buf = append(buf, cmd.Payload...)
	if sf.Checksum {
		buf = append(buf, checksumMark)
		buf = append(buf, fmt.Sprintf("%02X", checksum(buf[:len(buf)-1]))...)
	}
	buf = append(buf, sf.delim()...)
	return buf, nil
}

// Decode extracts one frame from buf. The sequence of decoded frames is
// independent of how the transport chunked the bytes.
func (sf *DelimitedCodec) Decode(buf []byte) (*Frame, int, error) {
	delim := sf.delim()

	if sf.skipping {
		if i := bytes.Index(buf, delim); i >= 0 {
			sf.skipping = false
			n := i + len(delim)
			return nil, n, &FramingError{Cause: ErrFrameTooLong, Discarded: n}
		}
		// Drop the noise but keep a tail that could be the start of a
		// delimiter split across chunks.
		n := len(buf) - (len(delim) - 1)
		if n <= 0 {
			return nil, 0, nil
		}
		return nil, n, &FramingError{Cause: ErrFrameTooLong, Discarded: n}
	}

	i := bytes.Index(buf, delim)
	if i < 0 {
		if len(buf) >= sf.maxLen() {
			// No boundary within the permitted length; the stream is
			// noise until the next delimiter arrives.
			sf.skipping = true
			n := len(buf) - (len(delim) - 1)
			if n <= 0 {
				return nil, 0, nil
			}
			return nil, n, &FramingError{Cause: ErrFrameTooLong, Discarded: n}
		}
		return nil, 0, nil
	}

	raw := buf[:i]
	consumed := i + len(delim)

	if consumed > sf.maxLen() {
		return nil, consumed, &FramingError{Cause: ErrFrameTooLong, Discarded: consumed}
	}

	if len(raw) == 0 {
		return nil, consumed, &FramingError{Cause: ErrMalformedFrame, Discarded: consumed}
	}

	if sf.Checksum {
		if len(raw) < 4 || raw[len(raw)-3] != checksumMark {
			return nil, consumed, &FramingError{Cause: ErrMalformedFrame, Discarded: consumed}
		}
		got, err := strconv.ParseUint(string(raw[len(raw)-2:]), 16, 8)
		if err != nil {
			return nil, consumed, &FramingError{Cause: ErrMalformedFrame, Discarded: consumed}
		}
		if want := checksum(raw[:len(raw)-3]); want != byte(got) {
			return nil, consumed, &FramingError{Cause: ErrChecksumMismatch, Discarded: consumed}
		}
		raw = raw[:len(raw)-3]
	}

	f := &Frame{}
	if j := bytes.IndexByte(raw, sf.keySep()); j >= 0 {
		f.Key = string(raw[:j])
		raw = raw[j+1:]
	}
	// Copy out of buf: the caller reslices and reuses its accumulation
	// buffer after each decode.
	f.Payload = append([]byte(nil), raw...)

	return f, consumed, nil
}
