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

package store

import (
	"encoding/json"
	"testing"
)

func TestQueryKeyDeterministic(t *testing.T) {
	a := &Query{
		Columns: []string{"a", "b"},
		Start:   0,
		End:     100,
		OrderBy: "a",
		Sort:    "asc",
		Applies: map[string]string{"b": "mean", "a": "sum"},
		Filters: []Filter{{Column: "a", Action: ">", Value: 3}},
	}
	b := &Query{
		Columns: []string{"a", "b"},
		Start:   0,
		End:     100,
		OrderBy: "a",
		Sort:    "asc",
		Applies: map[string]string{"a": "sum", "b": "mean"},
		Filters: []Filter{{Column: "a", Action: ">", Value: float64(3)}},
	}
	if a.Key() != b.Key() {
		t.Fatalf("%q != %q", a.Key(), b.Key())
	}

	// Equal numbers of different Go types.
	for _, v := range []interface{}{int64(5), int32(5), uint8(5), float32(5), json.Number("5")} {
		x := &Query{Filters: []Filter{{Column: "c", Value: 5}}}
		y := &Query{Filters: []Filter{{Column: "c", Value: v}}}
		if x.Key() != y.Key() {
			t.Fatalf("%T: %q != %q", v, x.Key(), y.Key())
		}
	}
	x := &Query{Filters: []Filter{{Column: "c", Value: 2.5}}}
	y := &Query{Filters: []Filter{{Column: "c", Value: float32(2.5)}}}
	if x.Key() != y.Key() {
		t.Fatalf("%q != %q", x.Key(), y.Key())
	}

	if (&Query{}).Key() != (&Query{Columns: []string{}}).Key() {
		t.Fatal("nil and empty columns differ")
	}
}

func TestQueryKeyDistinct(t *testing.T) {
	qs := []*Query{
		{Start: 0, End: 100},
		{Start: 0, End: 10},
		{Start: 0, End: 100, Sort: "asc"},
		{Start: 0, End: 100, Sort: "desc"},
		{Start: 0, End: 100, Columns: []string{"a-b"}},
		{Start: 0, End: 100, Columns: []string{"a", "b"}},
		{Start: 0, End: 100, Columns: []string{"a,b"}},
		{Start: 0, End: 100, Filters: []Filter{{Column: "a", Action: "==", Value: "1"}}},
		{Start: 0, End: 100, Filters: []Filter{{Column: "a", Action: "==", Value: 1}}},
		{Start: 0, End: 100, Infinite: true},
		{Start: 0, End: 100, Aggregates: []string{"a"}},
		{Start: 0, End: 100, Columns: []string{""}},
		{Start: 0, End: 100, Columns: []string{"", ""}},
		{Start: 0, End: 100, Aggregates: []string{""}},
		{Start: 0, End: 100, Columns: []string{""}, Aggregates: []string{""}},
		{Start: 0, End: 100, Filters: []Filter{{Column: "a", Value: 5}}},
		{Start: 0, End: 100, Filters: []Filter{{Column: "a", Value: 5.5}}},
		{Start: 0, End: 100, Filters: []Filter{{Column: "a", Value: "5"}}},
		{Start: 0, End: 100, Filters: []Filter{{}}},
		{Start: 0, End: 100, Applies: map[string]string{"": ""}},
	}
	seen := make(map[string]int, len(qs))
	for i, q := range qs {
		k := q.Key()
		if j, have := seen[k]; have {
			t.Fatalf("queries %d and %d share key %q", j, i, k)
		}
		seen[k] = i
	}
}

func TestQueryPayload(t *testing.T) {
	q := &Query{Start: 10, End: 20, Sort: "asc"}
	p := q.Payload()
	if p["start"] != 10 || p["end"] != 20 || p["sort"] != "asc" {
		t.Fatalf("payload %#v", p)
	}
	if _, have := p["columns"]; have {
		t.Fatal("empty columns in payload")
	}
}
