// Copyright 2026 Matthias Baigner. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package periph

import (
	"context"
	"fmt"
	"sync"

	"github.com/mbaigner/devlink/frame"
	"github.com/mbaigner/devlink/link"
)

// SerialPeripheral adapts a device session into a peripheral: each bound
// attribute turns Get and Set into query and set commands on the wire. The
// command vocabulary stays with the driver that does the binding; this type
// only carries the plumbing.
type SerialPeripheral struct {
	sess *link.Session

	mu    sync.Mutex
	attrs map[string]Attribute
	state State
}

// NewSerialPeripheral wraps an unconnected session. Connect transitions the
// peripheral to Running.
func NewSerialPeripheral(sess *link.Session) *SerialPeripheral {
	return &SerialPeripheral{
		sess:  sess,
		attrs: make(map[string]Attribute),
		state: StatePreInit,
	}
}

// Session exposes the underlying device session, e.g. to subscribe to
// unsolicited notifications.
func (sf *SerialPeripheral) Session() *link.Session { return sf.sess }

// Connect opens the device link.
func (sf *SerialPeripheral) Connect() error {
	sf.setState(StateInit)
	if err := sf.sess.Connect(); err != nil {
		sf.setState(StateError)
		return err
	}
	sf.setState(StateRunning)
	return nil
}

// Bind registers an attribute under name.
func (sf *SerialPeripheral) Bind(name string, attr Attribute) {
	sf.mu.Lock()
	sf.attrs[name] = attr
	sf.mu.Unlock()
}

// BindQuery registers an attribute whose getter submits query and returns
// the response payload as a string, and whose setter formats the value with
// set. A nil set makes the attribute read-only.
func (sf *SerialPeripheral) BindQuery(name, description string, query frame.Command, set func(v Value) frame.Command) {
	attr := Attribute{
		Description: description,
		Get: func(ctx context.Context) (Value, error) {
			resp, err := sf.sess.SubmitWait(ctx, query)
			if err != nil {
				return nil, fmt.Errorf("querying %s: %w", name, err)
			}
			return string(resp.Payload), nil
		},
	}
	if set != nil {
		attr.Set = func(ctx context.Context, v Value) error {
			if _, err := sf.sess.SubmitWait(ctx, set(v)); err != nil {
				return fmt.Errorf("setting %s: %w", name, err)
			}
			return nil
		}
	}
	sf.Bind(name, attr)
}

// Attributes implements Peripheral.
func (sf *SerialPeripheral) Attributes() map[string]Attribute {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	out := make(map[string]Attribute, len(sf.attrs))
	for k, v := range sf.attrs {
		out[k] = v
	}
	return out
}

// State implements Peripheral.
func (sf *SerialPeripheral) State() State {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.state
}

func (sf *SerialPeripheral) setState(s State) {
	sf.mu.Lock()
	sf.state = s
	sf.mu.Unlock()
}

// Shutdown implements Peripheral: it closes the device session.
func (sf *SerialPeripheral) Shutdown(context.Context) error {
	sf.setState(StateShutdown)
	err := sf.sess.Close()
	if err != nil {
		sf.setState(StateError)
		return err
	}
	sf.setState(StatePostShutdown)
	return nil
}
