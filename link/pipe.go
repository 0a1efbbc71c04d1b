// Copyright 2026 Matthias Baigner. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package link

import (
	"sync"
)

// Pipe returns a connected pair of in-memory transports. Bytes written on one
// end arrive as chunks on the other. It backs simulated devices in tests and
// examples the same way net.Pipe backs network code.
func Pipe() (*PipeTransport, *PipeTransport) {
	a := newPipeTransport()
	b := newPipeTransport()
	a.peer = b
	b.peer = a
	return a, b
}

// PipeTransport is one end of an in-memory transport pair.
type PipeTransport struct {
	peer *PipeTransport

	mu        sync.Mutex
	chunks    chan []byte
	connected bool
	closed    bool
	err       error
}

func newPipeTransport() *PipeTransport {
	return &PipeTransport{chunks: make(chan []byte, 64)}
}

// Connect marks the end ready for traffic.
func (sf *PipeTransport) Connect() error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if sf.closed {
		return ErrClosedTransport
	}
	sf.connected = true
	return nil
}

// Write delivers bytes to the peer's chunk stream.
func (sf *PipeTransport) Write(p []byte) error {
	sf.mu.Lock()
	if !sf.connected || sf.closed {
		sf.mu.Unlock()
		return ErrClosedTransport
	}
	sf.mu.Unlock()
	return sf.peer.deliver(p)
}

func (sf *PipeTransport) deliver(p []byte) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if sf.closed {
		return ErrClosedTransport
	}
	chunk := make([]byte, len(p))
	copy(chunk, p)
	select {
	case sf.chunks <- chunk:
	default:
		// A stalled reader overruns the receive buffer, as on a real UART.
		sf.err = ErrBufferOverrun
	}
	return nil
}

// Chunks returns the byte-arrival stream.
func (sf *PipeTransport) Chunks() <-chan []byte {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.chunks
}

// Err reports why the chunk stream ended.
func (sf *PipeTransport) Err() error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.err
}

// Close ends the stream gracefully. Pending chunks already delivered remain
// readable until the channel drains.
func (sf *PipeTransport) Close() error {
	return sf.shutdown(nil)
}

// Fail ends the stream with err, simulating an unrecoverable transport
// failure such as an unplugged adapter. Test hook.
func (sf *PipeTransport) Fail(err error) {
	sf.shutdown(err)
}

func (sf *PipeTransport) shutdown(err error) error {
	sf.mu.Lock()
	if sf.closed {
		sf.mu.Unlock()
		return nil
	}
	sf.closed = true
	sf.connected = false
	sf.err = err
	close(sf.chunks)
	peer := sf.peer
	sf.mu.Unlock()

	// Both directions die together, as with net.Pipe. The peer is shut down
	// outside the lock; its call back here stops at the closed check.
	if peer != nil {
		_ = peer.shutdown(err)
	}
	return nil
}
