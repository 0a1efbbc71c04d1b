// Copyright 2026 Matthias Baigner. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package link

import (
	"sync"
	"time"

	"github.com/mbaigner/devlink/frame"
)

// Call is the completion handle of an in-flight request. It is created by
// Submit and completed exactly once: with the matched response frame, a
// timeout, a transport failure, or cancellation. Response and Err may be read
// after Done is closed.
type Call struct {
	// Command is the submitted command.
	Command frame.Command
	// Submitted is the submission timestamp.
	Submitted time.Time
	// Response holds the matched frame on success.
	Response *frame.Frame
	// Err holds the terminal failure, nil on success.
	Err error

	sess *Session
	done chan struct{}
	once sync.Once
}

func newCall(sess *Session, cmd frame.Command, now time.Time) *Call {
	return &Call{
		Command:   cmd,
		Submitted: now,
		sess:      sess,
		done:      make(chan struct{}),
	}
}

// Done is closed when the call reaches its terminal outcome.
func (sf *Call) Done() <-chan struct{} {
	return sf.done
}

// Wait blocks until the call completes and returns its outcome.
func (sf *Call) Wait() (*frame.Frame, error) {
	<-sf.done
	return sf.Response, sf.Err
}

// Cancel withdraws the request. The command was already written to the
// device, so a late reply is treated as an unsolicited frame. Cancel is a
// no-op on a completed call.
func (sf *Call) Cancel() {
	sf.sess.cancelCall(sf)
}

// complete resolves the call. Safe against races between resolution, expiry
// and cancellation: only the first outcome wins.
func (sf *Call) complete(f *frame.Frame, err error) {
	sf.once.Do(func() {
		sf.Response = f
		sf.Err = err
		close(sf.done)
	})
}
