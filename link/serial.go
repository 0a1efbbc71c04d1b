// Copyright 2026 Matthias Baigner. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package link

import (
	"fmt"
	"sync"

	"go.bug.st/serial"
)

// SerialTransport drives a physical serial port. A background pump goroutine
// turns blocking reads into the asynchronous chunk stream the session
// consumes.
type SerialTransport struct {
	cfg SerialConfig

	mu     sync.Mutex
	port   serial.Port
	chunks chan []byte
	done   chan struct{}
	err    error
	closed bool
}

// NewSerialTransport creates a transport for the given port parameters. The
// port is not opened until Connect.
func NewSerialTransport(cfg SerialConfig) *SerialTransport {
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = DefaultReadBufferSize
	}
	return &SerialTransport{cfg: cfg}
}

// Connect opens the serial port and starts the read pump.
func (sf *SerialTransport) Connect() error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if sf.port != nil {
		return ErrAlreadyConnected
	}

	mode := &serial.Mode{
		BaudRate: sf.cfg.BaudRate,
		DataBits: sf.cfg.DataBits,
		Parity:   mapParity(sf.cfg.Parity),
		StopBits: mapStopBits(sf.cfg.StopBits),
	}
	port, err := serial.Open(sf.cfg.Address, mode)
	if err != nil {
		return fmt.Errorf("opening serial port %s: %w", sf.cfg.Address, err)
	}

	sf.port = port
	sf.chunks = make(chan []byte, 16)
	sf.done = make(chan struct{})
	sf.err = nil
	sf.closed = false
	go sf.readPump(port, sf.chunks, sf.done)
	return nil
}

// readPump reads the port until it fails or is closed, delivering each chunk
// to the session.
func (sf *SerialTransport) readPump(port serial.Port, chunks chan<- []byte, done <-chan struct{}) {
	defer close(chunks)
	buf := make([]byte, sf.cfg.ReadBufferSize)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case chunks <- chunk:
			case <-done:
				return
			}
		}
		if err != nil {
			sf.mu.Lock()
			if !sf.closed {
				sf.err = fmt.Errorf("serial read: %w", err)
			}
			sf.mu.Unlock()
			return
		}
	}
}

// Write sends raw bytes, retrying short writes.
func (sf *SerialTransport) Write(p []byte) error {
	sf.mu.Lock()
	port := sf.port
	closed := sf.closed
	sf.mu.Unlock()
	if port == nil || closed {
		return ErrClosedTransport
	}
	for len(p) > 0 {
		n, err := port.Write(p)
		if err != nil {
			return fmt.Errorf("serial write: %w", err)
		}
		p = p[n:]
	}
	return nil
}

// Chunks returns the byte-arrival stream for the current connection.
func (sf *SerialTransport) Chunks() <-chan []byte {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.chunks
}

// Err reports why the chunk stream ended.
func (sf *SerialTransport) Err() error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.err
}

// Close releases the port and unblocks the read pump. Safe to call more than
// once.
func (sf *SerialTransport) Close() error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if sf.port == nil || sf.closed {
		return nil
	}
	sf.closed = true
	close(sf.done)
	err := sf.port.Close()
	sf.port = nil
	return err
}
