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

package main

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want interface{}
	}{
		{"42", 42},
		{"4.5", 4.5},
		{"true", true},
		{"hello", "hello"},
		{`"42"`, "42"},
		{"", ""},
		{`{"a": [1, 2]}`, map[string]interface{}{"a": []interface{}{1, 2}}},
		{"{a: b}", map[string]interface{}{"a": "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseValue(tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("(-want +got):\n%s", diff)
			}
		})
	}

	if _, err := parseValue("{a: ["); err == nil {
		t.Fatal("parsed garbage")
	}
}

func TestRender(t *testing.T) {
	x := map[string]interface{}{
		"rows": []interface{}{
			map[string]interface{}{"name": "a", "n": 1},
			map[string]interface{}{"name": "b", "n": 2},
		},
	}

	s, err := render(x, "")
	if err != nil {
		t.Fatal(err)
	}
	if s != `{"rows":[{"n":1,"name":"a"},{"n":2,"name":"b"}]}` {
		t.Fatal(s)
	}

	if s, err = render(x, "rows.1.name"); err != nil || s != `"b"` {
		t.Fatal(s, err)
	}
	if s, err = render(x, "rows.#.n"); err != nil || s != `[1,2]` {
		t.Fatal(s, err)
	}
	if _, err = render(x, "rows.9"); err == nil {
		t.Fatal("rendered nothing")
	}
}

func TestSchedule(t *testing.T) {
	s, err := parseSchedule("*/5 * * * *")
	if err != nil {
		t.Fatal(err)
	}
	from := time.Date(2019, 5, 1, 12, 3, 0, 0, time.UTC)
	d, ok := s.next(from)
	if !ok || d != 2*time.Minute {
		t.Fatal(d, ok)
	}

	if _, err := parseSchedule("never"); err == nil {
		t.Fatal("parsed garbage")
	}
}

func TestConfFlags(t *testing.T) {
	defer func() {
		url, path, transport, sessionKind, sessionFile = "", "", "", "", ""
	}()

	url = "ws://elsewhere/ws"
	path = "/page"
	sessionKind = "bolt"
	sessionFile = "/tmp/s.db"

	c, err := conf()
	if err != nil {
		t.Fatal(err)
	}
	if c.URL != url || c.Path != path || c.Session.Kind != "bolt" || c.Session.Filename != sessionFile {
		t.Fatal(c)
	}
	if c.Transport != "ws" {
		t.Fatal(c.Transport)
	}
}
