// Copyright 2026 Matthias Baigner. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package link

import (
	"sync"
	"time"

	"github.com/mbaigner/devlink/frame"
)

// tracker is the correlation table from in-flight requests to their
// completion handles. Keyed requests live in a map; keyless (strictly FIFO)
// requests live in a queue and are matched in submission order. It is the
// only shared mutable structure of a session and is safe for concurrent
// registration, resolution and expiry.
type tracker struct {
	mu    sync.Mutex
	byKey map[string]*entry
	fifo  []*entry
}

type entry struct {
	call     *Call
	deadline time.Time
}

func newTracker() *tracker {
	return &tracker{byKey: make(map[string]*entry)}
}

// register admits a call with the given deadline. At most one pending request
// may occupy a correlation key at a time; a duplicate fails fast rather than
// silently overwriting.
func (sf *tracker) register(call *Call, deadline time.Time) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	e := &entry{call: call, deadline: deadline}
	if key := call.Command.Key; key != "" {
		if _, dup := sf.byKey[key]; dup {
			return ErrDuplicateKey
		}
		sf.byKey[key] = e
		return nil
	}
	sf.fifo = append(sf.fifo, e)
	return nil
}

// resolve completes the request matching f and removes it. It returns false
// when no request matches; the frame is unsolicited, which is not an error
// since devices may emit spontaneous notifications.
func (sf *tracker) resolve(f *frame.Frame) bool {
	sf.mu.Lock()
	var e *entry
	if f.Key != "" {
		if e = sf.byKey[f.Key]; e != nil {
			delete(sf.byKey, f.Key)
		}
	} else if len(sf.fifo) > 0 {
		e = sf.fifo[0]
		sf.fifo = sf.fifo[1:]
	}
	sf.mu.Unlock()

	if e == nil {
		return false
	}
	e.call.complete(f, nil)
	return true
}

// expire completes every request whose deadline is at or before now with a
// timeout, removing it. Other pending requests and the connection state are
// unaffected.
func (sf *tracker) expire(now time.Time) int {
	sf.mu.Lock()
	var overdue []*entry
	for key, e := range sf.byKey {
		if !e.deadline.After(now) {
			overdue = append(overdue, e)
			delete(sf.byKey, key)
		}
	}
	remaining := sf.fifo[:0]
	for _, e := range sf.fifo {
		if !e.deadline.After(now) {
			overdue = append(overdue, e)
		} else {
			remaining = append(remaining, e)
		}
	}
	sf.fifo = remaining
	sf.mu.Unlock()

	for _, e := range overdue {
		e.call.complete(nil, ErrTimeout)
	}
	return len(overdue)
}

// remove withdraws one call, reporting whether it was still pending.
func (sf *tracker) remove(call *Call) bool {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	if key := call.Command.Key; key != "" {
		if e, ok := sf.byKey[key]; ok && e.call == call {
			delete(sf.byKey, key)
			return true
		}
		return false
	}
	for i, e := range sf.fifo {
		if e.call == call {
			sf.fifo = append(sf.fifo[:i], sf.fifo[i+1:]...)
			return true
		}
	}
	return false
}

// cancelAll completes every pending request with err and empties the table.
// Used on disconnect and teardown so no caller is left waiting forever.
func (sf *tracker) cancelAll(err error) int {
	sf.mu.Lock()
	var all []*entry
	for key, e := range sf.byKey {
		all = append(all, e)
		delete(sf.byKey, key)
	}
	all = append(all, sf.fifo...)
	sf.fifo = nil
	sf.mu.Unlock()

	for _, e := range all {
		e.call.complete(nil, err)
	}
	return len(all)
}

// nextDeadline reports the earliest pending deadline, if any. The expiry
// timer sleeps no longer than this.
func (sf *tracker) nextDeadline() (time.Time, bool) {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	var next time.Time
	found := false
	for _, e := range sf.byKey {
		if !found || e.deadline.Before(next) {
			next = e.deadline
			found = true
		}
	}
	for _, e := range sf.fifo {
		if !found || e.deadline.Before(next) {
			next = e.deadline
			found = true
		}
	}
	return next, found
}

// pending reports the number of outstanding requests.
func (sf *tracker) pending() int {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return len(sf.byKey) + len(sf.fifo)
}
