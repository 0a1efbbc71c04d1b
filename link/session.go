// Copyright 2026 Matthias Baigner. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package link

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mbaigner/devlink/clog"
	"github.com/mbaigner/devlink/frame"
)

// StateChangeHandler observes connection-state transitions. cause is non-nil
// when the transition was driven by an error (connect failure, transport
// fault). Handlers run on the session's goroutines and must not call back
// into the session.
type StateChangeHandler func(s *Session, state State, cause error)

// UnsolicitedHandler observes decoded frames that matched no pending request,
// such as spontaneous device notifications.
type UnsolicitedHandler func(s *Session, f *frame.Frame)

// Session is the per-device facade of the command/response engine. It owns
// one Transport and drives three concurrent activities: the caller-invoked
// write path, the read/demultiplex loop, and the timeout-expiry loop.
//
// Concurrent Submit calls to the same session are serialized around the
// transport write; read processing proceeds independently, so a device may
// answer outstanding requests in any order.
type Session struct {
	id        string
	option    Option
	codec     frame.Codec
	transport Transport
	tracker   *tracker

	// Serializes command writes: one write in flight per device.
	writeMu sync.Mutex

	connStatus uint32
	rwMux      sync.Mutex // guards lifecycle transitions
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	closing    bool

	// Wakes the expiry loop when a new request may carry a deadline
	// nearer than the loop's current sleep.
	nudge chan struct{}

	lastWrite int64 // unix nanos of the last accepted write
	lastRecv  int64 // unix nanos of the last decoded frame

	clog.Clog

	handlerMux    sync.Mutex
	onStateChange StateChangeHandler
	onUnsolicited UnsolicitedHandler
}

// New creates a session over an arbitrary transport. Nothing is opened until
// Connect. A nil option is replaced by the defaults.
func New(t Transport, o *Option) *Session {
	if o == nil {
		o = NewOption()
	}
	opt := *o
	label := opt.config.Serial.Address
	id := uuid.NewString()
	if label == "" {
		label = id[:8]
	}
	s := &Session{
		id:        id,
		option:    opt,
		codec:     opt.buildCodec(),
		transport: t,
		tracker:   newTracker(),
		nudge:     make(chan struct{}, 1),
		Clog:      clog.NewLogger(fmt.Sprintf("devlink session [%s] => ", label)),
	}
	return s
}

// NewSerial creates a session over a serial transport built from the
// option's serial configuration.
func NewSerial(o *Option) (*Session, error) {
	if o == nil {
		o = NewOption()
	}
	opt := *o
	if err := opt.config.Valid(); err != nil {
		return nil, err
	}
	return New(NewSerialTransport(opt.config.Serial), &opt), nil
}

// ID returns the unique identifier of this session, used in log output and
// state events.
func (sf *Session) ID() string { return sf.id }

// SetLogMode enables or disables logging output.
func (sf *Session) SetLogMode(enable bool) {
	sf.Clog.LogMode(enable)
}

// SetOnStateChange sets the connection-state subscription point.
func (sf *Session) SetOnStateChange(f StateChangeHandler) *Session {
	sf.handlerMux.Lock()
	sf.onStateChange = f
	sf.handlerMux.Unlock()
	return sf
}

// SetOnUnsolicited sets the handler for frames matching no pending request.
// Unmatched frames are logged and discarded when no handler is set.
func (sf *Session) SetOnUnsolicited(f UnsolicitedHandler) *Session {
	sf.handlerMux.Lock()
	sf.onUnsolicited = f
	sf.handlerMux.Unlock()
	return sf
}

// State returns the current connection state.
func (sf *Session) State() State {
	return State(atomic.LoadUint32(&sf.connStatus))
}

// IsConnected reports whether Submit would currently be accepted.
func (sf *Session) IsConnected() bool {
	return sf.State() == StateConnected
}

// setState publishes a transition and notifies the subscriber. Callers hold
// rwMux where ordering matters.
func (sf *Session) setState(state State, cause error) {
	old := State(atomic.SwapUint32(&sf.connStatus, uint32(state)))
	if old == state {
		return
	}
	sf.Debug("state %s -> %s", old, state)
	sf.handlerMux.Lock()
	h := sf.onStateChange
	sf.handlerMux.Unlock()
	if h != nil {
		h(sf, state, cause)
	}
}

// Connect opens the transport and starts the read and expiry loops. There is
// no automatic retry: a failed attempt leaves the session Disconnected and
// reconnection policy stays with the caller.
func (sf *Session) Connect() error {
	sf.rwMux.Lock()
	defer sf.rwMux.Unlock()

	switch sf.State() {
	case StateConnecting, StateConnected:
		return ErrAlreadyConnected
	}
	sf.setState(StateConnecting, nil)

	if err := sf.transport.Connect(); err != nil {
		err = fmt.Errorf("connect: %w", err)
		sf.setState(StateDisconnected, err)
		sf.Error("%v", err)
		return err
	}

	sf.ctx, sf.cancel = context.WithCancel(context.Background())
	sf.closing = false
	sf.wg.Add(2)
	go sf.readLoop(sf.ctx, sf.transport.Chunks())
	go sf.expireLoop(sf.ctx)

	sf.setState(StateConnected, nil)
	sf.Debug("connected")
	return nil
}

// Submit validates, encodes and writes a command, returning the handle the
// caller awaits. A zero command timeout is replaced by the configured
// default. Duplicate correlation keys and submissions while not connected
// fail synchronously.
func (sf *Session) Submit(cmd frame.Command) (*Call, error) {
	if sf.State() != StateConnected {
		return nil, ErrNotConnected
	}
	if err := sf.codec.Validate(cmd); err != nil {
		return nil, fmt.Errorf("invalid command: %w", err)
	}
	if cmd.Timeout <= 0 {
		cmd.Timeout = sf.option.config.TimeoutDefault
	}

	data, err := sf.codec.Encode(cmd)
	if err != nil {
		return nil, fmt.Errorf("encoding command: %w", err)
	}

	now := time.Now()
	call := newCall(sf, cmd, now)
	if err := sf.tracker.register(call, now.Add(cmd.Timeout)); err != nil {
		return nil, err
	}

	sf.writeMu.Lock()
	err = sf.transport.Write(data)
	if err == nil {
		atomic.StoreInt64(&sf.lastWrite, now.UnixNano())
	}
	sf.writeMu.Unlock()

	if err != nil {
		err = fmt.Errorf("submitting command: %w", err)
		if sf.tracker.remove(call) {
			call.complete(nil, err)
		}
		sf.Error("%v", err)
		// A write failure while connected is unrecoverable.
		sf.linkDown(err)
		return nil, err
	}

	// Wake the expiry loop in case this deadline is nearer than its sleep.
	select {
	case sf.nudge <- struct{}{}:
	default:
	}

	sf.Debug("submitted key=%q (%d bytes, timeout %s)", cmd.Key, len(data), cmd.Timeout)
	return call, nil
}

// SubmitWait submits cmd and blocks until it completes or ctx is done. A
// context cancellation withdraws the request; the command is not un-sent and
// a late reply becomes an unsolicited frame.
func (sf *Session) SubmitWait(ctx context.Context, cmd frame.Command) (*frame.Frame, error) {
	call, err := sf.Submit(cmd)
	if err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		call.Cancel()
		return nil, ctx.Err()
	case <-call.Done():
		return call.Response, call.Err
	}
}

// cancelCall withdraws a single in-flight request.
func (sf *Session) cancelCall(call *Call) {
	if sf.tracker.remove(call) {
		call.complete(nil, ErrCanceled)
		sf.Debug("request key=%q canceled", call.Command.Key)
	}
}

// Pending reports the number of outstanding requests.
func (sf *Session) Pending() int {
	return sf.tracker.pending()
}

// LastActivity reports when the session last accepted a write or decoded a
// frame. Idle-timeout bookkeeping for drivers that ping quiet devices.
func (sf *Session) LastActivity() time.Time {
	w := atomic.LoadInt64(&sf.lastWrite)
	r := atomic.LoadInt64(&sf.lastRecv)
	if r > w {
		w = r
	}
	return time.Unix(0, w)
}

// readLoop appends transport chunks to a rolling buffer and decodes frames
// until the chunk stream ends.
func (sf *Session) readLoop(ctx context.Context, chunks <-chan []byte) {
	defer sf.wg.Done()
	sf.Debug("readLoop started")
	defer sf.Debug("readLoop stopped")

	var buf []byte
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-chunks:
			if !ok {
				sf.linkDown(sf.transport.Err())
				return
			}
			buf = append(buf, chunk...)
			buf = sf.drain(buf)
		}
	}
}

// drain decodes as many complete frames as the buffer holds. Framing noise
// is recovered locally by resynchronizing at the next boundary; it never
// terminates the loop and is never attributed to a specific request.
func (sf *Session) drain(buf []byte) []byte {
	for len(buf) > 0 {
		f, n, err := sf.codec.Decode(buf)
		if err != nil {
			if n <= 0 {
				// A codec reporting an error without progress
				// would stall the stream.
				n = 1
			}
			sf.Warn("recovering from %v", err)
			buf = buf[n:]
			continue
		}
		if f == nil {
			break // partial frame, wait for more bytes
		}
		buf = buf[n:]
		atomic.StoreInt64(&sf.lastRecv, time.Now().UnixNano())

		if sf.tracker.resolve(f) {
			sf.Debug("resolved key=%q (%d bytes)", f.Key, len(f.Payload))
			continue
		}
		sf.Debug("unsolicited frame key=%q (%d bytes)", f.Key, len(f.Payload))
		sf.handlerMux.Lock()
		h := sf.onUnsolicited
		sf.handlerMux.Unlock()
		if h != nil {
			h(sf, f)
		}
	}
	return buf
}

// expireLoop completes overdue requests with a timeout. The timer sleeps
// until the earliest pending deadline, capped at the configured expiry tick,
// so even a timeout shorter than the tick resolves close to its deadline.
func (sf *Session) expireLoop(ctx context.Context) {
	defer sf.wg.Done()
	timer := time.NewTimer(sf.nextExpiry())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sf.nudge:
			// A new deadline may be nearer than the current sleep.
		case now := <-timer.C:
			if n := sf.tracker.expire(now); n > 0 {
				sf.Debug("expired %d overdue requests", n)
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(sf.nextExpiry())
	}
}

// nextExpiry computes how long the expiry timer should sleep.
func (sf *Session) nextExpiry() time.Duration {
	d := sf.option.config.ExpiryTick
	if next, ok := sf.tracker.nextDeadline(); ok {
		if until := time.Until(next); until < d {
			d = until
		}
	}
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

// linkDown handles an unrecoverable transport failure: the session moves to
// Faulted, every pending request is canceled exactly once, and an explicit
// Connect is required to leave Faulted.
func (sf *Session) linkDown(cause error) {
	sf.rwMux.Lock()
	defer sf.rwMux.Unlock()
	if sf.closing || sf.State() != StateConnected {
		return
	}
	if cause == nil {
		cause = ErrConnectionLost
	} else {
		cause = fmt.Errorf("%w: %v", ErrConnectionLost, cause)
	}
	sf.cancel()
	_ = sf.transport.Close()
	if n := sf.tracker.cancelAll(cause); n > 0 {
		sf.Warn("canceled %d pending requests: %v", n, cause)
	}
	sf.setState(StateFaulted, cause)
}

// Close disconnects the session, cancels every outstanding request and
// releases the transport. Safe to call in any state and more than once.
func (sf *Session) Close() error {
	sf.rwMux.Lock()
	if sf.State() == StateDisconnected {
		sf.rwMux.Unlock()
		return nil
	}
	sf.Debug("close requested")
	sf.closing = true
	if sf.cancel != nil {
		sf.cancel()
	}
	err := sf.transport.Close()
	sf.rwMux.Unlock()

	sf.wg.Wait()
	if n := sf.tracker.cancelAll(ErrSessionClosed); n > 0 {
		sf.Debug("canceled %d pending requests on close", n)
	}

	sf.rwMux.Lock()
	sf.setState(StateDisconnected, nil)
	sf.rwMux.Unlock()
	return err
}
