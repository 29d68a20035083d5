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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDecodeHandshake(t *testing.T) {
	tests := []struct {
		name string
		js   string
		want Message
	}{
		{
			name: "session id",
			js:   `{"type":"ID","id":"c1"}`,
			want: &SessionID{ID: "c1"},
		},
		{
			name: "app id",
			js:   `{"type":"AID","payload":{"id":"a1"}}`,
			want: &AppID{ID: "a1"},
		},
		{
			name: "app id reconnect reply",
			js:   `{"type":"AID","payload":{"id":"a2","name":"reconnect"}}`,
			want: &AppID{ID: "a2", Reconnect: true},
		},
		{
			name: "module context",
			js:   `{"type":"GMC","payload":{"data":"mod1"}}`,
			want: &ModuleContext{Context: "mod1"},
		},
		{
			name: "ack",
			js:   `{"type":"ACK","id":"01ABC"}`,
			want: &Ack{ID: "01ABC"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.js))
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("Decode(%s) mismatch (-want +got):\n%s", tt.js, diff)
			}
		})
	}
}

func TestDecodeDataTree(t *testing.T) {
	js := `{"type":"GDT","payload":{"variable":{"mod1":{"x":{"value":5,"encoded_name":"TPEC_x"}}},"function":{}}}`
	m, err := Decode([]byte(js))
	if err != nil {
		t.Fatal(err)
	}
	dt, is := m.(*DataTree)
	if !is {
		t.Fatalf("got %T", m)
	}
	x := dt.Variables["mod1"]["x"]
	if x == nil {
		t.Fatal("no x in mod1")
	}
	if x.EncodedName != "TPEC_x" {
		t.Fatalf("encoded name %q", x.EncodedName)
	}
	if x.Value != float64(5) {
		t.Fatalf("value %#v", x.Value)
	}
	if len(dt.Functions) != 0 {
		t.Fatalf("functions %#v", dt.Functions)
	}
}

func TestDecodeMultiUpdate(t *testing.T) {
	js := `{"type":"MU","payload":[{"name":"TPEC_x","payload":{"value":9}},{"name":"TPEC_t","payload":{"value":[1,2],"pagekey":"0-100"}}]}`
	m, err := Decode([]byte(js))
	if err != nil {
		t.Fatal(err)
	}
	want := &MultiUpdate{
		Updates: []*Update{
			{Name: "TPEC_x", Value: float64(9)},
			{Name: "TPEC_t", Value: []interface{}{float64(1), float64(2)}, PageKey: "0-100"},
		},
	}
	if diff := cmp.Diff(want, m); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeUnknown(t *testing.T) {
	m, err := Decode([]byte(`{"type":"ZZ","name":"x","payload":{"whatever":1}}`))
	if err != nil {
		t.Fatal(err)
	}
	u, is := m.(*Unknown)
	if !is {
		t.Fatalf("got %T", m)
	}
	if u.Type() != "ZZ" {
		t.Fatal(u.Type())
	}
	if Type("ZZ").Known() {
		t.Fatal("ZZ shouldn't be known")
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, js := range []string{
		`not json`,
		`{"name":"no type"}`,
		`{"type":"GMC","payload":{"data":42}}`,
	} {
		if _, err := Decode([]byte(js)); !errors.Is(err, ErrMalformed) {
			t.Fatalf("%s: expected ErrMalformed, got %v", js, err)
		}
	}
}

func TestEncodeStampsEnvelope(t *testing.T) {
	s := Stamp{
		ClientID:      "c1",
		ModuleContext: "mod1",
		Propagate:     true,
	}
	bs, e, err := Encode(&Update{Name: "TPEC_x", Value: 7}, s)
	if err != nil {
		t.Fatal(err)
	}
	if e.AckID == "" {
		t.Fatal("no ack id")
	}

	var m map[string]interface{}
	if err := json.Unmarshal(bs, &m); err != nil {
		t.Fatal(err)
	}
	want := map[string]interface{}{
		"type":           "U",
		"name":           "TPEC_x",
		"payload":        map[string]interface{}{"value": float64(7)},
		"propagate":      true,
		"client_id":      "c1",
		"module_context": "mod1",
		"ack_id":         e.AckID,
	}
	if diff := cmp.Diff(want, m); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	// Out-bound messages that the server could echo back should
	// decode to what was sent.
	for _, out := range []Outbound{
		&Update{Name: "TPEC_x", Value: "hi", PageKey: "k"},
		&Action{Origin: "button1", Action: "on_click", Args: []interface{}{"a"}},
		&RequestUpdate{Name: "TPEC_t", PageKey: "0-10", Query: map[string]interface{}{"start": float64(0)}},
		&AppIDProbe{ID: "a1"},
	} {
		bs, _, err := Encode(out, Stamp{})
		if err != nil {
			t.Fatal(err)
		}
		in, err := Decode(bs)
		if err != nil {
			t.Fatal(err)
		}
		if in.Type() != out.Type() {
			t.Fatalf("%s decoded as %s", out.Type(), in.Type())
		}
		switch vv := in.(type) {
		case *Update:
			if vv.PageKey != "k" || vv.Value != "hi" {
				t.Fatalf("%#v", vv)
			}
		case *Action:
			if vv.Origin != "button1" || vv.Action != "on_click" {
				t.Fatalf("%#v", vv)
			}
		case *RequestUpdate:
			if vv.PageKey != "0-10" || vv.Query["start"] != float64(0) {
				t.Fatalf("%#v", vv)
			}
		case *AppID:
			if vv.ID != "a1" || !vv.Reconnect {
				t.Fatalf("%#v", vv)
			}
		}
	}
}

func TestAckIDsUnique(t *testing.T) {
	seen := make(map[string]bool, 1000)
	for i := 0; i < 1000; i++ {
		id := NewAckID()
		if seen[id] {
			t.Fatalf("duplicate %s", id)
		}
		seen[id] = true
	}
}
