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

package wire

import (
	"encoding/json"
	"fmt"
)

// Message is implemented by every decoded or encodable message.
type Message interface {
	Type() Type
}

// Outbound is a Message a client can send.
type Outbound interface {
	Message

	// encode returns the envelope name, the payload (nil for
	// none) and the top-level id (if any).
	encode() (name string, payload interface{}, id string)
}

// SessionID assigns (server to client) or resumes (client to
// server) the client id.
type SessionID struct {
	ID string
}

func (m *SessionID) Type() Type { return TypeSessionID }

func (m *SessionID) encode() (string, interface{}, string) {
	return ClientIDName, m.ID, m.ID
}

// AppID carries the server application's id.
//
// Reconnect is set when the message answers an AppIDProbe.
type AppID struct {
	ID        string
	Reconnect bool
}

func (m *AppID) Type() Type { return TypeAppID }

// AppIDProbe asks the server to confirm its application id after a
// reconnect.
type AppIDProbe struct {
	ID string
}

func (m *AppIDProbe) Type() Type { return TypeAppID }

func (m *AppIDProbe) encode() (string, interface{}, string) {
	return ReconnectName, m.ID, ""
}

// ModuleContextRequest asks the server to resolve a path to a
// module context.
type ModuleContextRequest struct {
	Path string
}

func (m *ModuleContextRequest) Type() Type { return TypeModuleContext }

func (m *ModuleContextRequest) encode() (string, interface{}, string) {
	return ModuleContextName, map[string]interface{}{"path": m.Path}, ""
}

// ModuleContext is the server's answer to a ModuleContextRequest.
type ModuleContext struct {
	Context string
}

func (m *ModuleContext) Type() Type { return TypeModuleContext }

// DataTreeRequest asks for the full data tree of the current module
// context.
type DataTreeRequest struct{}

func (m *DataTreeRequest) Type() Type { return TypeDataTree }

func (m *DataTreeRequest) encode() (string, interface{}, string) {
	return DataTreeName, map[string]interface{}{}, ""
}

// Entry is one variable or function as declared in a data tree.
type Entry struct {
	Value       interface{} `json:"value"`
	EncodedName string      `json:"encoded_name"`
	Type        string      `json:"type,omitempty"`
}

// Modules maps module name to entry name to entry.
type Modules map[string]map[string]*Entry

// DataTree is the server's answer to a DataTreeRequest.
type DataTree struct {
	Variables Modules `json:"variable"`
	Functions Modules `json:"function"`
}

func (m *DataTree) Type() Type { return TypeDataTree }

// Update is a scalar update.  Sent by the client, it asks the server
// to change a variable.  Sent by the server, it reports a new value.
//
// PageKey, when not empty, scopes the value to a request cache entry.
type Update struct {
	Name     string
	Value    interface{}
	PageKey  string
	OnChange string
}

func (m *Update) Type() Type { return TypeUpdate }

func (m *Update) encode() (string, interface{}, string) {
	p := map[string]interface{}{
		"value": m.Value,
	}
	if m.OnChange != "" {
		p["on_change"] = m.OnChange
	}
	if m.PageKey != "" {
		p["pagekey"] = m.PageKey
	}
	return m.Name, p, ""
}

// MultiUpdate is a batch of updates from the server.
type MultiUpdate struct {
	Updates []*Update
}

func (m *MultiUpdate) Type() Type { return TypeMultiUpdate }

// RequestUpdate asks for a paged, filtered or aggregated view of a
// variable.  The answer arrives as an Update with the same PageKey.
type RequestUpdate struct {
	Name    string
	PageKey string
	Query   map[string]interface{}
}

func (m *RequestUpdate) Type() Type { return TypeRequestUpdate }

func (m *RequestUpdate) encode() (string, interface{}, string) {
	p := make(map[string]interface{}, len(m.Query)+1)
	for k, v := range m.Query {
		p[k] = v
	}
	p["pagekey"] = m.PageKey
	return m.Name, p, ""
}

// Action triggers a named server-side action.
type Action struct {
	Origin string
	Action string
	Args   interface{}
}

func (m *Action) Type() Type { return TypeAction }

func (m *Action) encode() (string, interface{}, string) {
	p := map[string]interface{}{
		"action": m.Action,
	}
	if m.Args != nil {
		p["args"] = m.Args
	}
	return m.Origin, p, ""
}

// Alert is a user-visible notification.
type Alert struct {
	Severity string `json:"atype"`
	Message  string `json:"message"`
	System   bool   `json:"system,omitempty"`
	Duration int    `json:"duration,omitempty"`
}

func (m *Alert) Type() Type { return TypeAlert }

// Block asks the client to block (or unblock) user interaction.
type Block struct {
	Action  string `json:"action,omitempty"`
	Close   bool   `json:"close,omitempty"`
	Message string `json:"message,omitempty"`
}

func (m *Block) Type() Type { return TypeBlock }

// Navigate asks the client to go to another page.
type Navigate struct {
	To     string            `json:"to"`
	Params map[string]string `json:"params,omitempty"`
	Tab    string            `json:"tab,omitempty"`
	Force  bool              `json:"force,omitempty"`
}

func (m *Navigate) Type() Type { return TypeNavigate }

// Download offers content to the client.
type Download struct {
	Content  string `json:"content"`
	Name     string `json:"name,omitempty"`
	OnAction string `json:"onAction,omitempty"`
}

func (m *Download) Type() Type { return TypeDownload }

// Partial announces (or withdraws) a partial page.
type Partial struct {
	Name   string `json:"name"`
	Create bool   `json:"create,omitempty"`
}

func (m *Partial) Type() Type { return TypePartial }

// MultiSend bundles several envelopes into one.
type MultiSend struct {
	Envelopes []*Envelope
}

func (m *MultiSend) Type() Type { return TypeMultiSend }

// Ack acknowledges an out-bound envelope by its ack id.
type Ack struct {
	ID string
}

func (m *Ack) Type() Type { return TypeAck }

// Routes lists the pages the server offers.
type Routes struct {
	Routes map[string]string `json:"routes"`
}

func (m *Routes) Type() Type { return TypeRoutes }

// Unknown stands for an envelope whose type tag isn't known.
type Unknown struct {
	Tag      Type
	Envelope *Envelope
}

func (m *Unknown) Type() Type { return m.Tag }

// Message interprets the envelope's payload according to its type
// tag.
func (e *Envelope) Message() (Message, error) {
	switch e.Type {
	case TypeSessionID:
		id := e.ID
		if id == "" {
			// Some servers put the id in the payload.
			var s string
			if err := e.payload(&s); err == nil {
				id = s
			}
		}
		return &SessionID{ID: id}, nil

	case TypeAppID:
		var p struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		}
		if err := e.payload(&p); err != nil {
			// A probe carries the bare id.
			if err := e.payload(&p.ID); err != nil {
				return nil, err
			}
		}
		return &AppID{
			ID:        p.ID,
			Reconnect: p.Name == ReconnectName || e.Name == ReconnectName,
		}, nil

	case TypeModuleContext:
		var p struct {
			Data string `json:"data"`
		}
		if err := e.payload(&p); err != nil {
			return nil, err
		}
		return &ModuleContext{Context: p.Data}, nil

	case TypeDataTree:
		var m DataTree
		if err := e.payload(&m); err != nil {
			return nil, err
		}
		return &m, nil

	case TypeUpdate:
		return e.update(e.Name, e.Payload)

	case TypeMultiUpdate:
		var ps []struct {
			Name    string          `json:"name"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := e.payload(&ps); err != nil {
			return nil, err
		}
		m := &MultiUpdate{
			Updates: make([]*Update, 0, len(ps)),
		}
		for _, p := range ps {
			u, err := e.update(p.Name, p.Payload)
			if err != nil {
				return nil, err
			}
			m.Updates = append(m.Updates, u)
		}
		return m, nil

	case TypeRequestUpdate:
		var p map[string]interface{}
		if err := e.payload(&p); err != nil {
			return nil, err
		}
		m := &RequestUpdate{
			Name:  e.Name,
			Query: p,
		}
		if k, is := p["pagekey"].(string); is {
			m.PageKey = k
			delete(p, "pagekey")
		}
		return m, nil

	case TypeAction:
		var p struct {
			Action string      `json:"action"`
			Args   interface{} `json:"args"`
		}
		if err := e.payload(&p); err != nil {
			return nil, err
		}
		return &Action{Origin: e.Name, Action: p.Action, Args: p.Args}, nil

	case TypeAlert:
		var m Alert
		return &m, e.payload(&m)

	case TypeBlock:
		var m Block
		return &m, e.payload(&m)

	case TypeNavigate:
		var m Navigate
		return &m, e.payload(&m)

	case TypeDownload:
		var m Download
		return &m, e.payload(&m)

	case TypePartial:
		var m Partial
		return &m, e.payload(&m)

	case TypeMultiSend:
		var es []*Envelope
		if err := e.payload(&es); err != nil {
			return nil, err
		}
		return &MultiSend{Envelopes: es}, nil

	case TypeAck:
		return &Ack{ID: e.ID}, nil

	case TypeRoutes:
		var m Routes
		return &m, e.payload(&m)

	default:
		return &Unknown{Tag: e.Type, Envelope: e}, nil
	}
}

// payload unmarshals the raw payload into x.  An absent payload
// leaves x alone.
func (e *Envelope) payload(x interface{}) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, x); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformed, e.Type, err)
	}
	return nil
}

func (e *Envelope) update(name string, raw json.RawMessage) (*Update, error) {
	var p struct {
		Value    interface{} `json:"value"`
		PageKey  string      `json:"pagekey"`
		OnChange string      `json:"on_change"`
	}
	if 0 < len(raw) {
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformed, e.Type, err)
		}
	}
	return &Update{
		Name:     name,
		Value:    p.Value,
		PageKey:  p.PageKey,
		OnChange: p.OnChange,
	}, nil
}
