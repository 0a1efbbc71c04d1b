// Copyright 2026 Matthias Baigner. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package buffer provides the data containers producer peripherals fill:
// a circular sample ring (one writer, snapshot readers) and validated raw
// image frames.
package buffer

import (
	"errors"
	"sync"
)

// buffer errors
var (
	ErrBadCapacity = errors.New("ring capacity must be positive")
	ErrTooLarge    = errors.New("item is too large to put into the buffer")
)

// Ring is a fixed-capacity circular buffer of int16 samples, the native
// sample width of most ADC-backed instruments. Writes wrap around; the
// oldest samples are overwritten first.
type Ring struct {
	mu       sync.Mutex
	data     []int16
	writeIdx int
	filled   bool
	total    uint64
}

// NewRing creates a ring holding capacity samples.
func NewRing(capacity int) (*Ring, error) {
	if capacity <= 0 {
		return nil, ErrBadCapacity
	}
	return &Ring{data: make([]int16, capacity)}, nil
}

// Cap returns the ring capacity in samples.
func (sf *Ring) Cap() int { return len(sf.data) }

// Len returns the number of valid samples currently in the ring.
func (sf *Ring) Len() int {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if sf.filled {
		return len(sf.data)
	}
	return sf.writeIdx
}

// Total returns the number of samples ever written, including overwritten
// ones.
func (sf *Ring) Total() uint64 {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.total
}

// Put appends samples, wrapping around at the end of the ring. An item
// larger than the whole ring is rejected.
func (sf *Ring) Put(samples []int16) error {
	if len(samples) > len(sf.data) {
		return ErrTooLarge
	}
	sf.mu.Lock()
	defer sf.mu.Unlock()

	n := copy(sf.data[sf.writeIdx:], samples)
	if n < len(samples) {
		copy(sf.data, samples[n:])
		sf.filled = true
	}
	sf.writeIdx = (sf.writeIdx + len(samples)) % len(sf.data)
	if sf.writeIdx == 0 && len(samples) > 0 {
		sf.filled = true
	}
	sf.total += uint64(len(samples))
	return nil
}

// Snapshot returns a copy of the valid samples in write order, oldest first.
func (sf *Ring) Snapshot() []int16 {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	if !sf.filled {
		out := make([]int16, sf.writeIdx)
		copy(out, sf.data[:sf.writeIdx])
		return out
	}
	out := make([]int16, 0, len(sf.data))
	out = append(out, sf.data[sf.writeIdx:]...)
	out = append(out, sf.data[:sf.writeIdx]...)
	return out
}
