// Copyright 2026 Matthias Baigner. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package periph layers a peripheral registry on top of the command/response
// engine. A peripheral is the software face of one hardware device; its
// attributes expose named, typed values through getter and setter delegates.
// The registry serializes attribute access per peripheral so overlapping
// callers cannot interleave device conversations.
package periph

import (
	"context"
	"errors"
)

// State is the lifecycle state of a peripheral. A peripheral is in exactly
// one state at any given time.
type State int

const (
	StatePreInit State = iota
	StateInit
	StateRunning
	StateShutdown
	StatePostShutdown
	StateError
)

func (s State) String() string {
	switch s {
	case StatePreInit:
		return "preinit"
	case StateInit:
		return "init"
	case StateRunning:
		return "running"
	case StateShutdown:
		return "shutdown"
	case StatePostShutdown:
		return "postshutdown"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Value is the dynamic type of an attribute: a string, an integer, a float
// or raw bytes, depending on the attribute.
type Value any

// Attribute is a named peripheral property with its getter and setter
// delegates. Read-only attributes leave Set nil.
type Attribute struct {
	Description string
	Get         func(ctx context.Context) (Value, error)
	Set         func(ctx context.Context, v Value) error
}

// Peripheral is the interface to one hardware device. Implementations do any
// actual hardware initialization before registration, not in constructors.
type Peripheral interface {
	// Attributes returns the attribute table. The table must not change
	// after registration.
	Attributes() map[string]Attribute

	// State returns the lifecycle state.
	State() State

	// Shutdown releases the underlying device.
	Shutdown(ctx context.Context) error
}

// registry errors
var (
	ErrDuplicateName      = errors.New("peripheral name already exists")
	ErrUnknownPeripheral  = errors.New("peripheral does not exist")
	ErrUnknownAttribute   = errors.New("attribute does not exist")
	ErrAttributeReadOnly  = errors.New("attribute has no setter")
	ErrAttributeWriteOnly = errors.New("attribute has no getter")
	ErrRegistryClosed     = errors.New("registry is closed")
)
