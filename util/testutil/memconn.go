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

package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrClosed is returned by a MemConn that was closed by its client.
var ErrClosed = errors.New("memconn closed")

// MemConn is the client end of an in-memory connection.
type MemConn struct {
	in  chan []byte
	out chan []byte

	mu     sync.Mutex
	done   chan struct{}
	err    error
	closed bool
}

// MemServer is the server end of a MemConn.
type MemServer struct {
	Conn *MemConn
}

// Pipe makes a connected MemConn and MemServer.
func Pipe() (*MemConn, *MemServer) {
	c := &MemConn{
		in:   make(chan []byte, 64),
		out:  make(chan []byte, 64),
		done: make(chan struct{}),
	}
	return c, &MemServer{Conn: c}
}

func (c *MemConn) ReadMessage() ([]byte, error) {
	select {
	case bs := <-c.in:
		return bs, nil
	case <-c.done:
		// Drain what the server sent before hanging up.
		select {
		case bs := <-c.in:
			return bs, nil
		default:
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		return nil, c.err
	}
}

func (c *MemConn) WriteMessage(bs []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return c.err
	}
	select {
	case c.out <- bs:
		return nil
	case <-c.done:
		return c.err
	}
}

// Close closes the connection from the client's side.
func (c *MemConn) Close() error {
	c.shut(ErrClosed)
	return nil
}

func (c *MemConn) shut(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.err = err
	close(c.done)
}

// Closed reports whether either side closed the connection.
func (c *MemConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Push sends a message to the client.  Strings and bytes are sent
// verbatim; anything else is sent as JSON.
func (s *MemServer) Push(x interface{}) {
	var bs []byte
	switch vv := x.(type) {
	case string:
		bs = []byte(vv)
	case []byte:
		bs = vv
	default:
		bs = []byte(JS(vv))
	}
	s.Conn.in <- bs
}

// Next waits for the next message from the client and parses it as a
// JSON object.
func (s *MemServer) Next(timeout time.Duration) (map[string]interface{}, error) {
	select {
	case bs := <-s.Conn.out:
		var m map[string]interface{}
		if err := json.Unmarshal(bs, &m); err != nil {
			return nil, err
		}
		return m, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("nothing heard in %v", timeout)
	}
}

// Expect waits for the next message from the client and checks its
// type tag.
func (s *MemServer) Expect(typ string, timeout time.Duration) (map[string]interface{}, error) {
	m, err := s.Next(timeout)
	if err != nil {
		return nil, fmt.Errorf("waiting for %s: %w", typ, err)
	}
	if m["type"] != typ {
		return m, fmt.Errorf("expected %s, got %s", typ, JS(m))
	}
	return m, nil
}

// Quiet checks that the client sends nothing for the given duration.
func (s *MemServer) Quiet(d time.Duration) error {
	select {
	case bs := <-s.Conn.out:
		return fmt.Errorf("unexpected message %s", bs)
	case <-time.After(d):
		return nil
	}
}

// Hangup closes the connection from the server's side.  The client's
// ReadMessage will return err.
func (s *MemServer) Hangup(err error) {
	s.Conn.shut(err)
}

// MemDialer hands out Pipes.  Each Dial makes a new Pipe and delivers
// its server end on Accepted.
type MemDialer struct {
	Accepted chan *MemServer

	mu sync.Mutex

	// Fail, if not nil, is returned by the next Dial, which then
	// clears it.
	Fail error

	Dials int
}

func NewMemDialer() *MemDialer {
	return &MemDialer{
		Accepted: make(chan *MemServer, 16),
	}
}

func (d *MemDialer) Dial(ctx context.Context) (*MemConn, error) {
	d.mu.Lock()
	d.Dials++
	err := d.Fail
	d.Fail = nil
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	c, s := Pipe()
	select {
	case d.Accepted <- s:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return c, nil
}

// FailNext makes the next Dial fail.
func (d *MemDialer) FailNext(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Fail = err
}

// DialCount returns the number of Dial calls so far.
func (d *MemDialer) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Dials
}

// Accept waits for the next dialed connection.
func (d *MemDialer) Accept(timeout time.Duration) (*MemServer, error) {
	select {
	case s := <-d.Accepted:
		return s, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("no connection in %v", timeout)
	}
}
