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
	"testing"

	"github.com/google/go-cmp/cmp"
)

func tree(vars map[string]map[string][2]interface{}) *Tree {
	t := &Tree{
		Variables: make(Modules),
		Functions: make(Modules),
	}
	for module, vs := range vars {
		t.Variables[module] = make(map[string]*Descriptor)
		for name, ev := range vs {
			t.Variables[module][name] = &Descriptor{
				EncodedName: ev[0].(string),
				Value:       ev[1],
			}
		}
	}
	return t
}

func sample() *Tree {
	return tree(map[string]map[string][2]interface{}{
		"mod1": {
			"x":   {"TPEC_x", 5},
			"y":   {"TPEC_y", "hello"},
			"tbl": {"TPEC_tbl", nil},
		},
		"mod2": {
			"x": {"TPEC_mod2_x", true},
		},
	})
}

func TestReadAfterInit(t *testing.T) {
	s := New()
	tr := sample()
	if d := s.InitOrReset(tr); d != nil {
		t.Fatalf("unexpected desync %v", d)
	}
	for module, vs := range tr.Variables {
		for name, d := range vs {
			e, ok := s.ResolveEncodedName(name, module)
			if !ok {
				t.Fatalf("can't resolve %s.%s", module, name)
			}
			v, err := s.Get(e)
			if err != nil {
				t.Fatal(err)
			}
			if v != d.Value {
				t.Fatalf("%s: %#v != %#v", e, v, d.Value)
			}
			ref, ok := s.ResolveName(e)
			if !ok || ref != (Ref{Module: module, Name: name}) {
				t.Fatalf("ResolveName(%s) = %v, %v", e, ref, ok)
			}
		}
	}
}

func TestUnknownNames(t *testing.T) {
	s := New()
	s.InitOrReset(sample())

	if _, err := s.Get("TPEC_nope"); !IsNotAvailable(err) {
		t.Fatalf("Get: %v", err)
	}
	if err := s.Update("TPEC_nope", 1); !IsNotAvailable(err) {
		t.Fatalf("Update: %v", err)
	}
	if _, err := s.Get("TPEC_nope"); !IsNotAvailable(err) {
		t.Fatal("Update created a variable")
	}
	if _, ok := s.ResolveEncodedName("nope", "mod1"); ok {
		t.Fatal("resolved nope")
	}
	if _, ok := s.ResolveName("TPEC_nope"); ok {
		t.Fatal("resolved TPEC_nope")
	}
	if _, err := s.Info("TPEC_nope"); !IsNotAvailable(err) {
		t.Fatalf("Info: %v", err)
	}
}

func TestUpdateIsolation(t *testing.T) {
	s := New()
	s.InitOrReset(sample())
	before := s.AllData()

	if err := s.Update("TPEC_x", 9); err != nil {
		t.Fatal(err)
	}

	after := s.AllData()
	for e, v := range before {
		if e == "TPEC_x" {
			continue
		}
		if after[e] != v {
			t.Fatalf("%s changed from %#v to %#v", e, v, after[e])
		}
	}
	if after["TPEC_x"] != 9 {
		t.Fatalf("TPEC_x = %#v", after["TPEC_x"])
	}

	info, err := s.Info("TPEC_x")
	if err != nil {
		t.Fatal(err)
	}
	if info.Value != 5 || info.Current != 9 {
		t.Fatalf("info %#v", info)
	}
}

func TestRequestKeyIsolation(t *testing.T) {
	s := New()
	s.InitOrReset(sample())

	if err := s.RegisterRequest("TPEC_tbl", "k1", nil); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateRequest("TPEC_tbl", "k2", "data"); !IsNotAvailable(err) {
		t.Fatalf("UpdateRequest k2: %v", err)
	}
	r, err := s.Request("TPEC_tbl", "k1")
	if err != nil {
		t.Fatal(err)
	}
	if r.Received || r.Data != nil {
		t.Fatalf("k1 touched: %#v", r)
	}

	if err := s.UpdateRequest("TPEC_tbl", "k1", "rows"); err != nil {
		t.Fatal(err)
	}
	if v, err := s.GetRequest("TPEC_tbl", "k1"); err != nil || v != "rows" {
		t.Fatalf("GetRequest = %#v, %v", v, err)
	}
	// The unscoped value is untouched.
	if v, _ := s.Get("TPEC_tbl"); v != nil {
		t.Fatalf("TPEC_tbl = %#v", v)
	}
}

func TestRegisterRequestUnknown(t *testing.T) {
	s := New()
	s.InitOrReset(sample())
	if err := s.RegisterRequest("TPEC_nope", "k", nil); !IsNotAvailable(err) {
		t.Fatal(err)
	}
}

func TestRegisterOverwrites(t *testing.T) {
	s := New()
	s.InitOrReset(sample())
	s.RegisterRequest("TPEC_tbl", "k", nil)
	s.UpdateRequest("TPEC_tbl", "k", "old")
	q := &Query{Start: 0, End: 10}
	s.RegisterRequest("TPEC_tbl", "k", q)
	r, err := s.Request("TPEC_tbl", "k")
	if err != nil {
		t.Fatal(err)
	}
	if r.Received || r.Data != nil || r.Options != q {
		t.Fatalf("not overwritten: %#v", r)
	}
}

func TestLateResponseAfterRelease(t *testing.T) {
	s := New()
	s.InitOrReset(sample())

	if err := s.RegisterRequest("TPEC_tbl", "0-100-asc", &Query{End: 100, Sort: "asc"}); err != nil {
		t.Fatal(err)
	}
	s.ReleaseRequest("TPEC_tbl", "0-100-asc")
	s.ReleaseRequest("TPEC_tbl", "0-100-asc") // no-op

	err := s.UpdateRequest("TPEC_tbl", "0-100-asc", []interface{}{1, 2})
	if !IsNotAvailable(err) {
		t.Fatalf("late response: %v", err)
	}
	if _, err := s.Request("TPEC_tbl", "0-100-asc"); !IsNotAvailable(err) {
		t.Fatal("entry resurrected")
	}
}

func TestIdempotentReset(t *testing.T) {
	once := New()
	once.InitOrReset(sample())

	twice := New()
	twice.InitOrReset(sample())
	if d := twice.InitOrReset(sample()); d != nil {
		t.Fatalf("desync on identical tree: %v", d)
	}

	if diff := cmp.Diff(once.DataTree(), twice.DataTree()); diff != "" {
		t.Fatalf("trees differ:\n%s", diff)
	}
	if diff := cmp.Diff(once.AllData(), twice.AllData()); diff != "" {
		t.Fatalf("data differs:\n%s", diff)
	}
}

func TestResetReportsMissing(t *testing.T) {
	s := New()
	s.InitOrReset(sample())
	s.RegisterRequest("TPEC_tbl", "k", nil)

	next := tree(map[string]map[string][2]interface{}{
		"mod1": {
			"x": {"TPEC_x", 1},
		},
	})
	d := s.InitOrReset(next)
	if d == nil {
		t.Fatal("no desync")
	}
	want := []Ref{
		{Module: "mod1", Name: "tbl"},
		{Module: "mod1", Name: "y"},
		{Module: "mod2", Name: "x"},
	}
	if diff := cmp.Diff(want, d.Missing); diff != "" {
		t.Fatalf("missing (-want +got):\n%s", diff)
	}

	// The new tree was applied anyway.
	if v, err := s.Get("TPEC_x"); err != nil || v != 1 {
		t.Fatalf("TPEC_x = %#v, %v", v, err)
	}
	if _, err := s.Get("TPEC_y"); !IsNotAvailable(err) {
		t.Fatal("TPEC_y survived")
	}
	if _, err := s.Request("TPEC_tbl", "k"); !IsNotAvailable(err) {
		t.Fatal("request survived reset")
	}
}

func TestDuplicateEncodedNames(t *testing.T) {
	s := New()
	d := s.InitOrReset(tree(map[string]map[string][2]interface{}{
		"a": {"x": {"TPEC_dup", 1}},
		"b": {"x": {"TPEC_dup", 2}},
	}))
	if d == nil || len(d.Dropped) != 1 || d.Dropped[0] != (Ref{Module: "a", Name: "x"}) {
		t.Fatalf("desync %#v", d)
	}
	if v, _ := s.Get("TPEC_dup"); v != 2 {
		t.Fatalf("TPEC_dup = %#v", v)
	}
	if _, ok := s.ResolveEncodedName("x", "a"); ok {
		t.Fatal("a.x still resolves")
	}
	if ref, _ := s.ResolveName("TPEC_dup"); ref != (Ref{Module: "b", Name: "x"}) {
		t.Fatalf("TPEC_dup -> %v", ref)
	}
}

func TestFunctions(t *testing.T) {
	s := New()
	tr := sample()
	tr.Functions["mod1"] = map[string]*Descriptor{
		"on_click": {EncodedName: "on_click"},
	}
	s.InitOrReset(tr)
	if e, ok := s.ResolveFunction("on_click", "mod1"); !ok || e != "on_click" {
		t.Fatalf("ResolveFunction = %q, %v", e, ok)
	}
	if _, err := s.Get("on_click"); !IsNotAvailable(err) {
		t.Fatal("function readable as a variable")
	}
}

func TestDrainRequests(t *testing.T) {
	s := New()
	s.InitOrReset(sample())
	s.RegisterRequest("TPEC_tbl", "b", nil)
	s.RegisterRequest("TPEC_tbl", "a", nil)
	s.UpdateRequest("TPEC_tbl", "a", 1)

	drained := s.DrainRequests()
	rs := drained["TPEC_tbl"]
	if len(rs) != 2 || rs[0].Key != "a" || !rs[0].Received || rs[1].Key != "b" || rs[1].Received {
		t.Fatalf("drained %#v", drained)
	}
	if _, err := s.Request("TPEC_tbl", "a"); !IsNotAvailable(err) {
		t.Fatal("not drained")
	}
}
