/* Copyright 2019 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package conn

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Comcast/guisync/wire"

	"github.com/golang/glog"
	"golang.org/x/time/rate"
)

// Handler processes an in-bound message.
//
// Handlers are called from the Manager's Run goroutine, one message at
// a time, in the order the messages arrived.
type Handler func(ctx context.Context, msg wire.Message)

// Manager owns a connection and keeps it up.
type Manager struct {
	Dialer   Dialer
	Settings Settings

	// Metrics, if not nil, is updated as the Manager works.
	Metrics *Metrics

	// HoldReconnects keeps what was queued while disconnected from
	// being written after a reconnect until Release is called.
	// Only SendNow writes while the queue is held.
	HoldReconnects bool

	mu        sync.Mutex
	handlers  map[wire.Type][]Handler
	onConnect []func(ctx context.Context, reconnect bool)
	onState   []func(State)
	state     State
	conn      Conn
	queue     [][]byte
	connects  int
	redialing bool
	held      bool
	running   bool
	closed    bool
	done      chan struct{}

	// wmu serializes writes to the Conn.
	wmu sync.Mutex
}

// NewManager makes a Manager that isn't yet running.
func NewManager(d Dialer, s Settings) *Manager {
	if s.QueueSize <= 0 {
		s.QueueSize = DefaultSettings.QueueSize
	}
	return &Manager{
		Dialer:   d,
		Settings: s,
		handlers: make(map[wire.Type][]Handler),
		done:     make(chan struct{}),
	}
}

// Handle registers a handler for a type tag.  All handlers for a tag
// are called, in the order they were registered.
//
// Handlers may be registered for tags the wire package doesn't know.
// Those handlers get *wire.Unknown messages.
func (m *Manager) Handle(t wire.Type, h Handler) {
	m.mu.Lock()
	m.handlers[t] = append(m.handlers[t], h)
	m.mu.Unlock()
}

// OnConnect registers a function called each time a connection is
// established.  The reconnect flag is false only for the first
// connection of the Manager's lifetime.
func (m *Manager) OnConnect(f func(ctx context.Context, reconnect bool)) {
	m.mu.Lock()
	m.onConnect = append(m.onConnect, f)
	m.mu.Unlock()
}

// OnState registers a function called on every state change.
func (m *Manager) OnState(f func(State)) {
	m.mu.Lock()
	m.onState = append(m.onState, f)
	m.mu.Unlock()
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connects returns the number of connections established so far.
func (m *Manager) Connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	from := m.state
	m.state = s
	fs := append([]func(State){}, m.onState...)
	m.mu.Unlock()

	glog.V(1).Infof("conn: %s -> %s", from, s)
	m.Metrics.setState(s)
	for _, f := range fs {
		f(s)
	}
}

// Run dials and then reads until the connection fails, and then does
// it all again, until the context is done or Close is called.
//
// Transport errors never escape Run.  After the server closes a
// connection, Run redials immediately.  After any other failure, Run
// waits Settings.ReconnectDelay.
//
// Run returns nil after Close and the context's error otherwise.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.running {
		m.mu.Unlock()
		return errors.New("manager already running")
	}
	m.running = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		m.setState(Disconnected)
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-m.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	limit := rate.Inf
	if 0 < m.Settings.DialsPerSecond {
		limit = rate.Limit(m.Settings.DialsPerSecond)
	}
	limiter := rate.NewLimiter(limit, 1)

	for {
		if err := limiter.Wait(ctx); err != nil {
			return m.exit(ctx)
		}

		c, err := m.Dialer.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return m.exit(ctx)
			}
			glog.Warningf("conn: dial failed: %v", err)
			m.Metrics.dialFailed()
			m.setState(Reconnecting)
			if !sleep(ctx, m.Settings.ReconnectDelay) {
				return m.exit(ctx)
			}
			continue
		}

		reconnect := m.attach(c)
		glog.Infof("conn: connected (reconnect=%v)", reconnect)
		m.flush(c)
		for _, f := range m.connectHooks() {
			f(ctx, reconnect)
		}

		err = m.read(ctx, c)
		redial := m.detach(c)

		if ctx.Err() != nil {
			return m.exit(ctx)
		}

		switch {
		case redial:
			glog.Infof("conn: redialling")
			m.setState(Reconnecting)
		case errors.Is(err, ErrServerClosed):
			glog.Infof("conn: %v; reconnecting", err)
			m.setState(Reconnecting)
		default:
			glog.Warningf("conn: connection failed: %v", err)
			m.setState(Reconnecting)
			if !sleep(ctx, m.Settings.ReconnectDelay) {
				return m.exit(ctx)
			}
		}
	}
}

func (m *Manager) exit(ctx context.Context) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil
	}
	return ctx.Err()
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (m *Manager) connectHooks() []func(context.Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]func(context.Context, bool){}, m.onConnect...)
}

// attach makes c the current connection and reports whether it's a
// reconnect.
func (m *Manager) attach(c Conn) bool {
	m.mu.Lock()
	m.conn = c
	reconnect := 0 < m.connects
	m.connects++
	m.held = reconnect && m.HoldReconnects
	m.mu.Unlock()

	m.Metrics.connected(reconnect)
	m.setState(Connected)
	return reconnect
}

// detach forgets c and reports whether Redial caused its demise.
func (m *Manager) detach(c Conn) bool {
	m.mu.Lock()
	if m.conn == c {
		m.conn = nil
	}
	redial := m.redialing
	m.redialing = false
	m.mu.Unlock()

	if err := c.Close(); err != nil {
		glog.V(2).Infof("conn: close: %v", err)
	}
	return redial
}

func (m *Manager) read(ctx context.Context, c Conn) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-stop:
		}
	}()

	for {
		bs, err := c.ReadMessage()
		if err != nil {
			return err
		}
		if len(bs) == 0 {
			continue
		}
		m.Dispatch(ctx, bs)
	}
}

// Dispatch parses the bytes as an envelope and calls the handlers for
// its type.  The envelopes in a multi-send are dispatched one by one.
//
// Malformed envelopes are logged and dropped.  Envelopes with types
// no handler wants are ignored.
func (m *Manager) Dispatch(ctx context.Context, bs []byte) {
	glog.V(2).Infof("conn: heard %s", bs)
	e, err := wire.Unmarshal(bs)
	if err != nil {
		glog.Warningf("conn: dropping %q: %v", bs, err)
		m.Metrics.malformed()
		return
	}
	m.dispatch(ctx, e)
}

func (m *Manager) dispatch(ctx context.Context, e *wire.Envelope) {
	msg, err := e.Message()
	if err != nil {
		glog.Warningf("conn: dropping %s envelope: %v", e.Type, err)
		m.Metrics.malformed()
		return
	}

	_, unknown := msg.(*wire.Unknown)
	if unknown {
		m.Metrics.unknown()
	} else {
		m.Metrics.received(e.Type)
	}

	if ms, is := msg.(*wire.MultiSend); is {
		for _, sub := range ms.Envelopes {
			if sub == nil {
				continue
			}
			m.dispatch(ctx, sub)
		}
		return
	}

	m.mu.Lock()
	hs := m.handlers[e.Type]
	m.mu.Unlock()

	if len(hs) == 0 {
		glog.V(1).Infof("conn: ignoring %s", e.Type)
		return
	}
	for _, h := range hs {
		h(ctx, msg)
	}
}

// Send writes the envelope to the current connection.
//
// Without a connection, the envelope is queued and written after the
// next connection is established, or after Release when the queue is
// held.  Transport errors are not returned:
// a failed write is queued again and the connection is dropped, which
// causes a redial.
func (m *Manager) Send(e *wire.Envelope) error {
	bs, err := e.Marshal()
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	c := m.conn
	if c == nil || m.held || 0 < len(m.queue) {
		err = m.enqueue(bs)
		m.mu.Unlock()
		if err == nil {
			glog.V(2).Infof("conn: queued %s", bs)
		}
		return err
	}
	m.mu.Unlock()

	m.write(c, e.Type, bs)
	return nil
}

// SendNow writes the envelope to the current connection ahead of
// anything queued, even when the queue is held.
func (m *Manager) SendNow(e *wire.Envelope) error {
	bs, err := e.Marshal()
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	c := m.conn
	m.mu.Unlock()

	if c == nil {
		return ErrNotConnected
	}
	m.write(c, e.Type, bs)
	return nil
}

// Release writes what a held queue has accumulated and lets Send
// write directly again.
func (m *Manager) Release() {
	m.mu.Lock()
	m.held = false
	c := m.conn
	m.mu.Unlock()

	if c != nil {
		m.flush(c)
	}
}

// Held reports whether the queue is held.
func (m *Manager) Held() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held
}

// enqueue requires m.mu.
func (m *Manager) enqueue(bs []byte) error {
	if m.Settings.QueueSize <= len(m.queue) {
		return ErrNotConnected
	}
	m.queue = append(m.queue, bs)
	return nil
}

func (m *Manager) write(c Conn, t wire.Type, bs []byte) bool {
	m.wmu.Lock()
	err := c.WriteMessage(bs)
	m.wmu.Unlock()

	if err != nil {
		glog.Warningf("conn: write failed: %v", err)
		m.mu.Lock()
		if err := m.enqueue(bs); err != nil {
			glog.Errorf("conn: dropping %s: %v", bs, err)
		}
		m.mu.Unlock()
		c.Close()
		return false
	}

	glog.V(2).Infof("conn: sent %s", bs)
	m.Metrics.sent(t)
	return true
}

// flush writes what was queued while disconnected, unless the queue
// is held.
func (m *Manager) flush(c Conn) {
	for {
		m.mu.Lock()
		if len(m.queue) == 0 || m.held || m.conn != c {
			m.mu.Unlock()
			return
		}
		bs := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()

		var t wire.Type
		if e, err := wire.Unmarshal(bs); err == nil {
			t = e.Type
		}
		if !m.write(c, t, bs) {
			return
		}
	}
}

// Redial drops the current connection, and anything queued, and
// connects again.  The next connection counts as a reconnect.
func (m *Manager) Redial() {
	m.mu.Lock()
	m.queue = nil
	c := m.conn
	if c != nil {
		m.redialing = true
	}
	m.mu.Unlock()

	if c != nil {
		c.Close()
	}
}

// Close closes the connection and stops Run.  Close does not wait
// for Run to return.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.done)
	m.queue = nil
	c := m.conn
	m.mu.Unlock()

	glog.Infof("conn: closing")
	if c != nil {
		return c.Close()
	}
	return nil
}
