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

// Package wire defines the messages exchanged between a client and
// the GUI server and encodes them to and from the JSON envelope that
// travels over the connection.
//
// Every message type tag has a Go type.  Decode maps an envelope to
// exactly one of those types, and a tag this package doesn't know
// becomes an *Unknown, which callers are expected to ignore.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type is the type tag carried by every envelope.
type Type string

const (
	TypeSessionID     Type = "ID"
	TypeAppID         Type = "AID"
	TypeModuleContext Type = "GMC"
	TypeDataTree      Type = "GDT"
	TypeUpdate        Type = "U"
	TypeMultiUpdate   Type = "MU"
	TypeRequestUpdate Type = "RU"
	TypeAction        Type = "A"
	TypeAlert         Type = "AL"
	TypeBlock         Type = "BL"
	TypeNavigate      Type = "NA"
	TypeMultiSend     Type = "MS"
	TypeDownload      Type = "DF"
	TypePartial       Type = "PR"
	TypeAck           Type = "ACK"
	TypeRoutes        Type = "GR"
)

// Types lists every known type tag.
var Types = []Type{
	TypeSessionID, TypeAppID, TypeModuleContext, TypeDataTree,
	TypeUpdate, TypeMultiUpdate, TypeRequestUpdate, TypeAction,
	TypeAlert, TypeBlock, TypeNavigate, TypeMultiSend,
	TypeDownload, TypePartial, TypeAck, TypeRoutes,
}

// Known reports whether t is one of Types.
func (t Type) Known() bool {
	for _, k := range Types {
		if k == t {
			return true
		}
	}
	return false
}

// Names used as envelope targets by the handshake messages.
const (
	ClientIDName      = "TaipyClientId"
	ReconnectName     = "reconnect"
	ModuleContextName = "get_module_context"
	DataTreeName      = "get_data_tree"
)

// ErrMalformed is wrapped by errors returned when bytes or a payload
// can't be parsed.
var ErrMalformed = errors.New("malformed envelope")

// Envelope is the unit of transmission.
//
// Payload stays raw until the envelope is turned into a Message.
type Envelope struct {
	Type          Type            `json:"type"`
	Name          string          `json:"name,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Propagate     bool            `json:"propagate"`
	ClientID      string          `json:"client_id,omitempty"`
	ModuleContext string          `json:"module_context,omitempty"`
	AckID         string          `json:"ack_id,omitempty"`

	// ID is used at the top level by session id and ack messages.
	ID string `json:"id,omitempty"`
}

// Stamp gives the session data written into every out-bound
// envelope.
type Stamp struct {
	ClientID      string
	ModuleContext string
	Propagate     bool
}

// Marshal renders the envelope as JSON.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal parses bytes into an Envelope without interpreting the
// payload.
func Unmarshal(bs []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(bs, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if e.Type == "" {
		return nil, fmt.Errorf("%w: no type", ErrMalformed)
	}
	return &e, nil
}

// NewEnvelope renders an out-bound message with a fresh ack id.
func NewEnvelope(m Outbound, s Stamp) (*Envelope, error) {
	name, payload, id := m.encode()
	e := &Envelope{
		Type:          m.Type(),
		Name:          name,
		Propagate:     s.Propagate,
		ClientID:      s.ClientID,
		ModuleContext: s.ModuleContext,
		AckID:         NewAckID(),
		ID:            id,
	}
	if payload != nil {
		js, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		e.Payload = js
	}
	return e, nil
}

// Encode is NewEnvelope followed by Marshal.
func Encode(m Outbound, s Stamp) ([]byte, *Envelope, error) {
	e, err := NewEnvelope(m, s)
	if err != nil {
		return nil, nil, err
	}
	bs, err := e.Marshal()
	if err != nil {
		return nil, nil, err
	}
	return bs, e, nil
}

// Decode parses bytes into a Message.
//
// An envelope with an unknown type tag decodes to an *Unknown with a
// nil error.
func Decode(bs []byte) (Message, error) {
	e, err := Unmarshal(bs)
	if err != nil {
		return nil, err
	}
	return e.Message()
}
