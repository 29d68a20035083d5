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

// Package conn manages the one persistent connection an application
// has to its server.
//
// A Manager dials through a Dialer, keeps the connection alive by
// redialling after transport errors and routes every in-bound envelope
// to the handlers registered for its type tag.
package conn

import (
	"context"
	"errors"
	"time"
)

// Conn is a message-oriented connection.
//
// ReadMessage is only called from one goroutine.  WriteMessage may be
// called concurrently with ReadMessage but not with itself.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage([]byte) error
	Close() error
}

// Dialer makes Conns.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc is a function that's a Dialer.
type DialerFunc func(ctx context.Context) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context) (Conn, error) {
	return f(ctx)
}

var (
	// ErrServerClosed is wrapped by errors from a Conn when the
	// server ended the connection.  The Manager reconnects
	// immediately after such an error.
	ErrServerClosed = errors.New("server closed the connection")

	// ErrNotConnected is returned by Send when there is no
	// connection and the out-bound queue is full.
	ErrNotConnected = errors.New("not connected")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("manager closed")
)

// State is the state of a Manager's connection.
type State int

const (
	Disconnected State = iota
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connected:
		return "Connected"
	case Reconnecting:
		return "Reconnecting"
	}
	return "State(?)"
}

// Settings tune a Manager.
type Settings struct {
	// ReconnectDelay is how long to wait before redialling after
	// a transport error or a failed dial.
	ReconnectDelay time.Duration `json:"reconnectDelay" yaml:"reconnectDelay"`

	// DialsPerSecond bounds how often the Manager dials, which
	// matters when a server keeps closing connections.
	DialsPerSecond float64 `json:"dialsPerSecond" yaml:"dialsPerSecond"`

	// QueueSize is the number of out-bound envelopes held while
	// disconnected.
	QueueSize int `json:"queueSize" yaml:"queueSize"`
}

// DefaultSettings reconnects after 500ms.
var DefaultSettings = Settings{
	ReconnectDelay: 500 * time.Millisecond,
	DialsPerSecond: 4,
	QueueSize:      128,
}
