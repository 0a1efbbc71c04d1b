// Copyright 2026 Matthias Baigner. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package link

// Transport owns a physical byte link to one device. The session never
// performs raw reads or writes itself; it only consumes this contract, so a
// simulated transport can stand in for a serial port in tests.
type Transport interface {
	// Connect opens the physical link. A failure is fatal to this attempt
	// only; the transport may be connected again later.
	Connect() error

	// Write sends raw bytes. A write failure while connected is treated by
	// the session as an unrecoverable transport error.
	Write(p []byte) error

	// Chunks is the asynchronous byte-arrival notification: a stream of
	// byte chunks that is closed when the link drops or Close is called.
	// It is restartable only by reconnecting.
	Chunks() <-chan []byte

	// Err reports why Chunks closed: nil after an orderly Close, the read
	// error otherwise. Valid only after Chunks is closed.
	Err() error

	// Close releases the link and unblocks any pending reads.
	Close() error
}
