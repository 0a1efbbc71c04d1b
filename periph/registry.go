// Copyright 2026 Matthias Baigner. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package periph

import (
	"context"
	"fmt"
	"sync"

	"github.com/mbaigner/devlink/clog"
)

// Event is posted to the registry's event loop by peripherals and callers.
type Event interface{}

// EventHandler processes events posted to the registry.
type EventHandler func(ev Event)

// Registry is the interface between users and peripherals: it owns the named
// peripheral instances, serializes access to each device, and runs the event
// loop peripherals report into.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	closed  bool

	events  chan Event
	stop    chan struct{}
	handler EventHandler
	wg      sync.WaitGroup

	clog.Clog
}

type entry struct {
	p Peripheral
	// Serializes attribute access to one device.
	mu sync.Mutex
}

// NewRegistry creates a registry and starts its event loop. handler may be
// nil, in which case events are logged and dropped.
func NewRegistry(handler EventHandler) *Registry {
	sf := &Registry{
		entries: make(map[string]*entry),
		events:  make(chan Event, 64),
		stop:    make(chan struct{}),
		handler: handler,
		Clog:    clog.NewLogger("periph registry => "),
	}
	sf.wg.Add(1)
	go sf.eventLoop()
	return sf
}

func (sf *Registry) eventLoop() {
	defer sf.wg.Done()
	sf.Debug("event loop started")
	for {
		// Stopping outranks a backlog of queued events.
		select {
		case <-sf.stop:
			return
		default:
		}
		select {
		case <-sf.stop:
			return
		case ev := <-sf.events:
			if sf.handler != nil {
				sf.handler(ev)
				continue
			}
			sf.Warn("unhandled event %T", ev)
		}
	}
}

// Post delivers an event to the event loop without blocking; events are
// dropped when the loop has fallen behind.
func (sf *Registry) Post(ev Event) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if sf.closed {
		return
	}
	select {
	case sf.events <- ev:
	default:
		sf.Warn("event queue full, dropping %T", ev)
	}
}

// Add registers a peripheral under a unique name.
func (sf *Registry) Add(name string, p Peripheral) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if sf.closed {
		return ErrRegistryClosed
	}
	if _, dup := sf.entries[name]; dup {
		return fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	sf.entries[name] = &entry{p: p}
	sf.Debug("peripheral %q added (%d attributes)", name, len(p.Attributes()))
	return nil
}

// resolve maps peripheral and attribute names to their objects.
func (sf *Registry) resolve(peripheral, attribute string) (*entry, Attribute, error) {
	sf.mu.Lock()
	e := sf.entries[peripheral]
	sf.mu.Unlock()
	if e == nil {
		return nil, Attribute{}, fmt.Errorf("%w: %q", ErrUnknownPeripheral, peripheral)
	}
	attr, ok := e.p.Attributes()[attribute]
	if !ok {
		return nil, Attribute{}, fmt.Errorf("%w: %q of peripheral %q", ErrUnknownAttribute, attribute, peripheral)
	}
	return e, attr, nil
}

// Get reads the value of a peripheral attribute. Access to the device is
// serialized per peripheral.
func (sf *Registry) Get(ctx context.Context, peripheral, attribute string) (Value, error) {
	e, attr, err := sf.resolve(peripheral, attribute)
	if err != nil {
		return nil, err
	}
	if attr.Get == nil {
		return nil, fmt.Errorf("%w: %q", ErrAttributeWriteOnly, attribute)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return attr.Get(ctx)
}

// Set writes the value of a peripheral attribute. Access to the device is
// serialized per peripheral.
func (sf *Registry) Set(ctx context.Context, peripheral, attribute string, v Value) error {
	e, attr, err := sf.resolve(peripheral, attribute)
	if err != nil {
		return err
	}
	if attr.Set == nil {
		return fmt.Errorf("%w: %q", ErrAttributeReadOnly, attribute)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return attr.Set(ctx, v)
}

// Peripherals returns the registered names.
func (sf *Registry) Peripherals() []string {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	names := make([]string, 0, len(sf.entries))
	for name := range sf.entries {
		names = append(names, name)
	}
	return names
}

// Close shuts down every peripheral and stops the event loop. Peripherals
// are shut down even when earlier ones fail; the first error is returned.
func (sf *Registry) Close(ctx context.Context) error {
	sf.mu.Lock()
	if sf.closed {
		sf.mu.Unlock()
		return nil
	}
	sf.closed = true
	entries := make([]*entry, 0, len(sf.entries))
	for _, e := range sf.entries {
		entries = append(entries, e)
	}
	sf.mu.Unlock()

	var firstErr error
	for _, e := range entries {
		e.mu.Lock()
		err := e.p.Shutdown(ctx)
		e.mu.Unlock()
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	// A dedicated stop channel, not an in-band event: Close must return
	// even when the queue is full.
	close(sf.stop)
	sf.wg.Wait()
	return firstErr
}
