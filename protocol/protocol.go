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

// Package protocol implements the client side of the synchronization
// handshake: session id, application id, module context and finally
// the data tree, after which steady-state updates are accepted.
//
// A Machine does no IO.  Each in-bound message is presented to Step,
// which returns a Stride describing the transition along with the
// messages to emit and the effects the caller should apply.
package protocol

import (
	"errors"

	"github.com/Comcast/guisync/wire"
)

// State is a handshake state.
type State int

const (
	Unauthenticated       State = iota // No client id.
	AwaitingAppID                      // Client id but no app id.
	AwaitingModuleContext              // Ids but no module context.
	AwaitingDataTree                   // Everything but the data tree.
	Synced                             // Steady state.
)

var stateNames = [...]string{
	Unauthenticated:       "Unauthenticated",
	AwaitingAppID:         "AwaitingAppID",
	AwaitingModuleContext: "AwaitingModuleContext",
	AwaitingDataTree:      "AwaitingDataTree",
	Synced:                "Synced",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "State(?)"
	}
	return stateNames[s]
}

var (
	// ErrNotSynced is returned for steady-state traffic that
	// arrives or is attempted before the handshake completes.
	ErrNotSynced = errors.New("not synced")

	// ErrUnexpectedTree is returned for a data tree that wasn't
	// requested.
	ErrUnexpectedTree = errors.New("unexpected data tree")
)

// Stride is the result of presenting one message (or event) to a
// Machine.
type Stride struct {
	From State
	To   State

	// Emitted are the messages to send, in order.
	Emitted []wire.Outbound

	// ClientID is set when the server assigned a client id that
	// should be persisted.
	ClientID string

	// Tree, when not nil, should replace the variable store's
	// contents.
	Tree *wire.DataTree

	// FirstTree is true only for the first Tree of the Machine's
	// lifetime.
	FirstTree bool

	// Superseded is true for a data tree that answered a request
	// made for an older module context.  It is dropped.
	Superseded bool

	// Updates are steady-state updates to apply.
	Updates []*wire.Update

	// Rehandshake reports that the server process changed.  All
	// session data is stale, and the caller should drop pending
	// requests, forget the persisted client id and reconnect.
	Rehandshake bool
}

func (s *Stride) emit(m wire.Outbound) {
	s.Emitted = append(s.Emitted, m)
}

// Machine tracks the handshake.
//
// Not thread-safe.
type Machine struct {
	ClientID      string
	AppID         string
	ModuleContext string

	// Path is the page whose module context is requested.
	Path string

	// treeRequested is whether a tree was requested for the
	// current module context.
	treeRequested bool
	treeReceived  bool

	// pendingTrees counts requested trees that haven't arrived.
	// Trees arrive in the order they were requested.
	pendingTrees int

	probing       bool
	initialized   bool
}

// NewMachine makes a Machine that will resolve the given path.
func NewMachine(path string) *Machine {
	if path == "" {
		path = "/"
	}
	return &Machine{
		Path: path,
	}
}

// State computes the current handshake state.
func (m *Machine) State() State {
	switch {
	case m.ClientID == "":
		return Unauthenticated
	case m.AppID == "":
		return AwaitingAppID
	case m.ModuleContext == "":
		return AwaitingModuleContext
	case !m.treeReceived:
		return AwaitingDataTree
	default:
		return Synced
	}
}

// Synced is State() == Synced.
func (m *Machine) Synced() bool {
	return m.State() == Synced
}

// Initialized reports whether a data tree has ever been received.
func (m *Machine) Initialized() bool {
	return m.initialized
}

// Probing reports whether a reconnect probe is awaiting its reply.
func (m *Machine) Probing() bool {
	return m.probing
}

// Stamp returns the session data for out-bound envelopes.
func (m *Machine) Stamp() wire.Stamp {
	return wire.Stamp{
		ClientID:      m.ClientID,
		ModuleContext: m.ModuleContext,
	}
}

func (m *Machine) stride() *Stride {
	return &Stride{
		From: m.State(),
	}
}

func (m *Machine) done(s *Stride) *Stride {
	s.To = m.State()
	return s
}

// Connected handles a transport connection.
//
// A reconnect of an established session probes the server's app id.
// Otherwise, a resumable client id is offered if there is one, and
// the server is expected to push a session id.
func (m *Machine) Connected(reconnect bool, resumeID string) *Stride {
	s := m.stride()

	// Requests made on an earlier connection won't be answered.
	m.pendingTrees = 0
	if !m.treeReceived {
		m.treeRequested = false
	}

	if reconnect && m.ClientID != "" && m.AppID != "" {
		m.probing = true
		s.emit(&wire.AppIDProbe{ID: m.AppID})
		return m.done(s)
	}
	m.probing = false
	if m.ClientID == "" && resumeID != "" {
		s.emit(&wire.SessionID{ID: resumeID})
	}
	return m.done(s)
}

// Navigate changes the path and, if the session has a client id,
// asks for the path's module context.
func (m *Machine) Navigate(path string) *Stride {
	s := m.stride()
	m.Path = path
	if m.ClientID != "" {
		s.emit(&wire.ModuleContextRequest{Path: m.Path})
	}
	return m.done(s)
}

// ready reports whether all ids are known.
func (m *Machine) ready() bool {
	return m.ClientID != "" && m.AppID != "" && m.ModuleContext != ""
}

// maybeRequestTree asks for the data tree once all ids are known.
func (m *Machine) maybeRequestTree(s *Stride) {
	if m.ready() && !m.treeRequested {
		m.treeRequested = true
		m.pendingTrees++
		s.emit(&wire.DataTreeRequest{})
	}
}

// reset forgets the session.  The app id and initialization survive.
func (m *Machine) reset() {
	m.ClientID = ""
	m.ModuleContext = ""
	m.treeRequested = false
	m.treeReceived = false
	m.pendingTrees = 0
	m.probing = false
}

// Step presents an in-bound message to the machine.
//
// Messages that aren't part of the protocol return a nil Stride and a
// nil error.  Updates received before the handshake completes return
// ErrNotSynced and are not applied.
func (m *Machine) Step(msg wire.Message) (*Stride, error) {
	switch vv := msg.(type) {
	case *wire.SessionID:
		s := m.stride()
		if vv.ID == "" || (vv.ID == m.ClientID && m.ModuleContext != "") {
			// Nothing new, which is what a server says when
			// a resumed session reconnects.
			return m.done(s), nil
		}
		m.ClientID = vv.ID
		m.ModuleContext = ""
		m.treeRequested = false
		m.treeReceived = false
		s.ClientID = vv.ID
		s.emit(&wire.ModuleContextRequest{Path: m.Path})
		return m.done(s), nil

	case *wire.ModuleContext:
		s := m.stride()
		m.ModuleContext = vv.Context
		m.treeRequested = false
		m.treeReceived = false
		m.maybeRequestTree(s)
		return m.done(s), nil

	case *wire.AppID:
		s := m.stride()
		if vv.ID == "" {
			return m.done(s), nil
		}
		wasProbing := m.probing
		m.probing = false
		switch {
		case m.AppID == "":
			m.AppID = vv.ID
			m.maybeRequestTree(s)
		case m.AppID == vv.ID:
			// Same server process.  A tree requested on the
			// lost connection is requested again.
			m.maybeRequestTree(s)
		default:
			m.AppID = vv.ID
			if wasProbing || m.ClientID != "" {
				m.reset()
				s.Rehandshake = true
			}
		}
		return m.done(s), nil

	case *wire.DataTree:
		s := m.stride()
		if m.pendingTrees == 0 {
			return m.done(s), ErrUnexpectedTree
		}
		m.pendingTrees--
		if 0 < m.pendingTrees || !m.treeRequested || m.treeReceived {
			s.Superseded = true
			return m.done(s), nil
		}
		m.treeReceived = true
		s.Tree = vv
		s.FirstTree = !m.initialized
		m.initialized = true
		return m.done(s), nil

	case *wire.Update:
		s := m.stride()
		if !m.Synced() {
			return m.done(s), ErrNotSynced
		}
		s.Updates = []*wire.Update{vv}
		return m.done(s), nil

	case *wire.MultiUpdate:
		s := m.stride()
		if !m.Synced() {
			return m.done(s), ErrNotSynced
		}
		s.Updates = vv.Updates
		return m.done(s), nil
	}
	return nil, nil
}
