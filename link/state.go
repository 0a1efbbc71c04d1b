// Copyright 2026 Matthias Baigner. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package link

// State is the connection state of a session. It is owned exclusively by the
// session; state-change notifications are the only way callers learn
// connectivity status.
type State uint32

const (
	// StateDisconnected is the initial state, and the state after an
	// orderly Close. A new Connect may be issued.
	StateDisconnected State = iota
	// StateConnecting is the transient state while Connect is outstanding.
	StateConnecting
	// StateConnected is the only state in which Submit is accepted.
	StateConnected
	// StateFaulted is reached after an unrecoverable transport failure.
	// It is terminal until an explicit Connect; the session never retries
	// the connection itself.
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}
