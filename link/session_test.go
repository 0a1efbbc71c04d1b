// Copyright 2026 Matthias Baigner. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package link

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbaigner/devlink/frame"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Serial.Address = "mem"
	cfg.ExpiryTick = 10 * time.Millisecond
	return cfg
}

// pipeSession wires a session to one end of an in-memory transport pair and
// returns both ends alongside it.
func pipeSession(t *testing.T, cfg Config) (*Session, *PipeTransport, *PipeTransport) {
	t.Helper()
	sessEnd, devEnd := Pipe()
	s := New(sessEnd, NewOption().SetConfig(cfg))
	t.Cleanup(func() { _ = s.Close() })
	return s, sessEnd, devEnd
}

// wire builds one delimited frame by hand.
func wire(key, payload string) []byte {
	if key == "" {
		return []byte(payload + "\r\n")
	}
	return []byte(key + ":" + payload + "\r\n")
}

// serveDevice runs a scripted device on the far end of the pipe: every
// decoded frame is passed to handle, and a non-nil return value is written
// back.
func serveDevice(t *testing.T, tr *PipeTransport, codec frame.Codec, handle func(f *frame.Frame) []byte) {
	t.Helper()
	require.NoError(t, tr.Connect())
	go func() {
		var buf []byte
		for chunk := range tr.Chunks() {
			buf = append(buf, chunk...)
			for len(buf) > 0 {
				f, n, err := codec.Decode(buf)
				if err != nil {
					if n <= 0 {
						n = 1
					}
					buf = buf[n:]
					continue
				}
				if f == nil {
					break
				}
				buf = buf[n:]
				if resp := handle(f); resp != nil {
					_ = tr.Write(resp)
				}
			}
		}
	}()
}

func TestSessionSubmitNotConnected(t *testing.T) {
	s, _, _ := pipeSession(t, testConfig())
	_, err := s.Submit(frame.Command{Key: "1", Payload: []byte("PING")})
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestSessionConnectTwice(t *testing.T) {
	s, _, devEnd := pipeSession(t, testConfig())
	require.NoError(t, devEnd.Connect())
	require.NoError(t, s.Connect())
	require.ErrorIs(t, s.Connect(), ErrAlreadyConnected)
}

func TestSessionPingPong(t *testing.T) {
	s, _, devEnd := pipeSession(t, testConfig())
	serveDevice(t, devEnd, &frame.DelimitedCodec{}, func(f *frame.Frame) []byte {
		if f.Key == "1" && string(f.Payload) == "PING" {
			time.Sleep(10 * time.Millisecond)
			return wire("1", "PONG")
		}
		return nil
	})
	require.NoError(t, s.Connect())

	start := time.Now()
	call, err := s.Submit(frame.Command{Key: "1", Payload: []byte("PING"), Timeout: 500 * time.Millisecond})
	require.NoError(t, err)

	resp, err := call.Wait()
	require.NoError(t, err)
	assert.Equal(t, []byte("PONG"), resp.Payload)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Zero(t, s.Pending())
}

func TestSessionTimeoutBounded(t *testing.T) {
	s, _, devEnd := pipeSession(t, testConfig())
	serveDevice(t, devEnd, &frame.DelimitedCodec{}, func(*frame.Frame) []byte { return nil })
	require.NoError(t, s.Connect())

	const timeout = 150 * time.Millisecond
	start := time.Now()
	call, err := s.Submit(frame.Command{Key: "1", Payload: []byte("PING"), Timeout: timeout})
	require.NoError(t, err)

	<-call.Done()
	elapsed := time.Since(start)
	require.ErrorIs(t, call.Err, ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, 2*timeout)
}

func TestSessionTimeoutShorterThanTick(t *testing.T) {
	// A per-command timeout below the expiry tick must still resolve near
	// its own deadline, not at the next tick.
	cfg := testConfig()
	cfg.ExpiryTick = 2 * time.Second
	s, _, devEnd := pipeSession(t, cfg)
	serveDevice(t, devEnd, &frame.DelimitedCodec{}, func(*frame.Frame) []byte { return nil })
	require.NoError(t, s.Connect())

	const timeout = 100 * time.Millisecond
	start := time.Now()
	call, err := s.Submit(frame.Command{Key: "1", Payload: []byte("PING"), Timeout: timeout})
	require.NoError(t, err)

	<-call.Done()
	elapsed := time.Since(start)
	require.ErrorIs(t, call.Err, ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, 2*timeout)
}

func TestSessionNilOption(t *testing.T) {
	sessEnd, devEnd := Pipe()
	require.NoError(t, devEnd.Connect())

	s := New(sessEnd, nil)
	require.NotNil(t, s)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Connect())
	assert.True(t, s.IsConnected())

	// A serial session without an address cannot be built, but it must
	// fail with an error rather than a panic.
	_, err := NewSerial(nil)
	require.Error(t, err)
}

func TestSessionDuplicateKey(t *testing.T) {
	s, _, devEnd := pipeSession(t, testConfig())
	serveDevice(t, devEnd, &frame.DelimitedCodec{}, func(f *frame.Frame) []byte {
		time.Sleep(50 * time.Millisecond)
		return wire(f.Key, "PONG")
	})
	require.NoError(t, s.Connect())

	first, err := s.Submit(frame.Command{Key: "9", Payload: []byte("PING"), Timeout: time.Second})
	require.NoError(t, err)

	_, err = s.Submit(frame.Command{Key: "9", Payload: []byte("PING"), Timeout: time.Second})
	require.ErrorIs(t, err, ErrDuplicateKey)

	// The first request is unaffected and completes normally.
	resp, err := first.Wait()
	require.NoError(t, err)
	assert.Equal(t, []byte("PONG"), resp.Payload)
}

func TestSessionOutOfOrderCompletion(t *testing.T) {
	s, _, devEnd := pipeSession(t, testConfig())
	var pending *frame.Frame
	serveDevice(t, devEnd, &frame.DelimitedCodec{}, func(f *frame.Frame) []byte {
		if f.Key == "a" {
			pending = f
			return nil
		}
		// Answer "b" first, then the held-back "a".
		resp := append(wire("b", "B-DONE"), wire(pending.Key, "A-DONE")...)
		return resp
	})
	require.NoError(t, s.Connect())

	callA, err := s.Submit(frame.Command{Key: "a", Payload: []byte("SLOW"), Timeout: time.Second})
	require.NoError(t, err)
	callB, err := s.Submit(frame.Command{Key: "b", Payload: []byte("FAST"), Timeout: time.Second})
	require.NoError(t, err)

	respB, err := callB.Wait()
	require.NoError(t, err)
	respA, err := callA.Wait()
	require.NoError(t, err)
	assert.Equal(t, []byte("A-DONE"), respA.Payload)
	assert.Equal(t, []byte("B-DONE"), respB.Payload)
}

func TestSessionFIFOCorrelation(t *testing.T) {
	s, _, devEnd := pipeSession(t, testConfig())
	serveDevice(t, devEnd, &frame.DelimitedCodec{}, func(f *frame.Frame) []byte {
		switch string(f.Payload) {
		case "ONE":
			return wire("", "R1")
		case "TWO":
			return wire("", "R2")
		}
		return nil
	})
	require.NoError(t, s.Connect())

	first, err := s.Submit(frame.Command{Payload: []byte("ONE"), Timeout: time.Second})
	require.NoError(t, err)
	second, err := s.Submit(frame.Command{Payload: []byte("TWO"), Timeout: time.Second})
	require.NoError(t, err)

	r1, err := first.Wait()
	require.NoError(t, err)
	r2, err := second.Wait()
	require.NoError(t, err)
	assert.Equal(t, []byte("R1"), r1.Payload)
	assert.Equal(t, []byte("R2"), r2.Payload)
}

func TestSessionTransportFaultCancelsPending(t *testing.T) {
	s, sessEnd, devEnd := pipeSession(t, testConfig())
	serveDevice(t, devEnd, &frame.DelimitedCodec{}, func(*frame.Frame) []byte { return nil })
	require.NoError(t, s.Connect())

	var calls []*Call
	for _, key := range []string{"a", "b", "c"} {
		call, err := s.Submit(frame.Command{Key: key, Payload: []byte("PING"), Timeout: 5 * time.Second})
		require.NoError(t, err)
		calls = append(calls, call)
	}

	sessEnd.Fail(errors.New("adapter unplugged"))

	for _, call := range calls {
		select {
		case <-call.Done():
			assert.ErrorIs(t, call.Err, ErrConnectionLost)
		case <-time.After(time.Second):
			t.Fatal("pending request not canceled after transport fault")
		}
	}
	require.Eventually(t, func() bool { return s.State() == StateFaulted },
		time.Second, 5*time.Millisecond)

	_, err := s.Submit(frame.Command{Key: "d", Payload: []byte("PING")})
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestSessionCloseCancelsPending(t *testing.T) {
	s, _, devEnd := pipeSession(t, testConfig())
	serveDevice(t, devEnd, &frame.DelimitedCodec{}, func(*frame.Frame) []byte { return nil })
	require.NoError(t, s.Connect())

	call, err := s.Submit(frame.Command{Key: "1", Payload: []byte("PING"), Timeout: 5 * time.Second})
	require.NoError(t, err)

	require.NoError(t, s.Close())
	<-call.Done()
	assert.ErrorIs(t, call.Err, ErrSessionClosed)
	assert.Equal(t, StateDisconnected, s.State())
	require.NoError(t, s.Close())
}

func TestSessionCancelIndividual(t *testing.T) {
	s, _, devEnd := pipeSession(t, testConfig())
	unsolicited := make(chan *frame.Frame, 1)
	s.SetOnUnsolicited(func(_ *Session, f *frame.Frame) { unsolicited <- f })
	serveDevice(t, devEnd, &frame.DelimitedCodec{}, func(*frame.Frame) []byte { return nil })
	require.NoError(t, s.Connect())

	call, err := s.Submit(frame.Command{Key: "x", Payload: []byte("PING"), Timeout: 5 * time.Second})
	require.NoError(t, err)

	call.Cancel()
	<-call.Done()
	assert.ErrorIs(t, call.Err, ErrCanceled)
	assert.Zero(t, s.Pending())
	call.Cancel() // no-op on a completed call

	// The command was already written; a late reply is unsolicited.
	require.NoError(t, devEnd.Write(wire("x", "LATE")))
	select {
	case f := <-unsolicited:
		assert.Equal(t, "x", f.Key)
		assert.Equal(t, []byte("LATE"), f.Payload)
	case <-time.After(time.Second):
		t.Fatal("late reply not reported as unsolicited")
	}
}

func TestSessionUnsolicitedNotification(t *testing.T) {
	s, _, devEnd := pipeSession(t, testConfig())
	unsolicited := make(chan *frame.Frame, 1)
	s.SetOnUnsolicited(func(_ *Session, f *frame.Frame) { unsolicited <- f })
	require.NoError(t, devEnd.Connect())
	require.NoError(t, s.Connect())

	require.NoError(t, devEnd.Write(wire("evt", "TEMP 33.1")))
	select {
	case f := <-unsolicited:
		assert.Equal(t, "evt", f.Key)
		assert.Equal(t, []byte("TEMP 33.1"), f.Payload)
	case <-time.After(time.Second):
		t.Fatal("spontaneous notification not delivered")
	}
}

func TestSessionStateChanges(t *testing.T) {
	s, _, devEnd := pipeSession(t, testConfig())
	require.NoError(t, devEnd.Connect())

	var mu sync.Mutex
	var seen []State
	s.SetOnStateChange(func(_ *Session, state State, _ error) {
		mu.Lock()
		seen = append(seen, state)
		mu.Unlock()
	})

	require.NoError(t, s.Connect())
	require.NoError(t, s.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateConnecting, StateConnected, StateDisconnected}, seen)
}

func TestSessionSubmitWaitContextCancel(t *testing.T) {
	s, _, devEnd := pipeSession(t, testConfig())
	serveDevice(t, devEnd, &frame.DelimitedCodec{}, func(*frame.Frame) []byte { return nil })
	require.NoError(t, s.Connect())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := s.SubmitWait(ctx, frame.Command{Key: "1", Payload: []byte("PING"), Timeout: 5 * time.Second})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, s.Pending())
}

func TestSessionRecoversFromFramingNoise(t *testing.T) {
	cfg := testConfig()
	cfg.Checksum = true
	s, _, devEnd := pipeSession(t, cfg)

	codec := &frame.DelimitedCodec{Checksum: true}
	serveDevice(t, devEnd, codec, func(f *frame.Frame) []byte {
		// Noise first, then a valid reply: the read loop must resync.
		reply, _ := codec.Encode(frame.Command{Key: f.Key, Payload: []byte("PONG")})
		return append([]byte("JUNK WITHOUT CHECKSUM\r\n"), reply...)
	})
	require.NoError(t, s.Connect())

	resp, err := s.SubmitWait(context.Background(), frame.Command{Key: "1", Payload: []byte("PING"), Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, []byte("PONG"), resp.Payload)
}

func TestSessionDefaultTimeoutApplied(t *testing.T) {
	cfg := testConfig()
	cfg.TimeoutDefault = 80 * time.Millisecond
	s, _, devEnd := pipeSession(t, cfg)
	serveDevice(t, devEnd, &frame.DelimitedCodec{}, func(*frame.Frame) []byte { return nil })
	require.NoError(t, s.Connect())

	call, err := s.Submit(frame.Command{Key: "1", Payload: []byte("PING")})
	require.NoError(t, err)
	assert.Equal(t, 80*time.Millisecond, call.Command.Timeout)
	<-call.Done()
	assert.ErrorIs(t, call.Err, ErrTimeout)
}
