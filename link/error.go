// Copyright 2026 Matthias Baigner. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package link

import (
	"errors"
)

// error defined
var (
	// ErrNotConnected is returned by Submit while the session is not in
	// StateConnected. Surfaced synchronously at submission time.
	ErrNotConnected = errors.New("session not connected")

	// ErrDuplicateKey is returned by Submit when a request with the same
	// non-empty correlation key is already pending. Caller programming
	// error; the earlier request is unaffected.
	ErrDuplicateKey = errors.New("correlation key already pending")

	// ErrTimeout completes a pending request whose deadline elapsed. Other
	// pending requests and the connection state are unaffected.
	ErrTimeout = errors.New("request timed out")

	// ErrCanceled completes a request withdrawn by its caller. The command
	// was already written; a late reply becomes an unsolicited frame.
	ErrCanceled = errors.New("request canceled")

	// ErrSessionClosed completes every pending request when the session is
	// closed by the caller.
	ErrSessionClosed = errors.New("session closed")

	// ErrConnectionLost completes every pending request when the transport
	// fails while connected. The session moves to StateFaulted.
	ErrConnectionLost = errors.New("connection lost")

	// ErrAlreadyConnected is returned by Connect on a session that is
	// already connecting or connected.
	ErrAlreadyConnected = errors.New("session already connected")

	// ErrClosedTransport is returned by transport operations after Close.
	ErrClosedTransport = errors.New("use of closed transport")

	// ErrBufferOverrun records dropped receive chunks on a transport whose
	// reader stalled.
	ErrBufferOverrun = errors.New("receive buffer overrun")
)
