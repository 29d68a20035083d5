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

// Package store holds the client's copy of every variable the server
// exposes, along with a per-request cache for paged or otherwise
// parameterized views of those variables.
//
// Scalar values and request caches share one encoded-name space and
// are reset together.  All methods are safe for concurrent use.
package store

import (
	"sort"
	"sync"
)

// Descriptor describes one server-declared variable or function.
type Descriptor struct {
	Module      string      `json:"module"`
	Name        string      `json:"name"`
	EncodedName string      `json:"encoded_name"`
	Type        string      `json:"type,omitempty"`
	Value       interface{} `json:"value"`
}

// Ref returns the descriptor's module and name.
func (d *Descriptor) Ref() Ref {
	return Ref{Module: d.Module, Name: d.Name}
}

// Modules maps module to name to descriptor.
type Modules map[string]map[string]*Descriptor

// Tree is a full data tree.
type Tree struct {
	Variables Modules `json:"variable"`
	Functions Modules `json:"function"`
}

// Info is a descriptor along with the variable's current value.
type Info struct {
	Descriptor
	Current interface{} `json:"current"`
}

// Request is a request cache entry.
//
// Data stays nil and Received false until a response is applied.
type Request struct {
	Key      string
	Options  *Query
	Data     interface{}
	Received bool
}

// names is a bidirectional (module, name) <-> encoded name index.
type names struct {
	byEncoded map[string]*Descriptor
	byRef     map[Ref]string
}

func newNames() *names {
	return &names{
		byEncoded: make(map[string]*Descriptor, 32),
		byRef:     make(map[Ref]string, 32),
	}
}

// build indexes the given modules.  When two entries claim the same
// encoded name, the later one in (module, name) order wins and the
// earlier one is returned as dropped.
func (ns *names) build(ms Modules) []Ref {
	var dropped []Ref
	for _, ref := range sortedRefs(ms) {
		d := ms[ref.Module][ref.Name]
		if d == nil {
			continue
		}
		d = d.copy()
		d.Module, d.Name = ref.Module, ref.Name
		if d.EncodedName == "" {
			dropped = append(dropped, ref)
			continue
		}
		if prev, have := ns.byEncoded[d.EncodedName]; have {
			delete(ns.byRef, prev.Ref())
			dropped = append(dropped, prev.Ref())
		}
		ns.byEncoded[d.EncodedName] = d
		ns.byRef[ref] = d.EncodedName
	}
	return dropped
}

func (d *Descriptor) copy() *Descriptor {
	c := *d
	return &c
}

func sortedRefs(ms Modules) []Ref {
	acc := make([]Ref, 0, 32)
	for module, vs := range ms {
		for name := range vs {
			acc = append(acc, Ref{Module: module, Name: name})
		}
	}
	sort.Slice(acc, func(i, j int) bool {
		if acc[i].Module != acc[j].Module {
			return acc[i].Module < acc[j].Module
		}
		return acc[i].Name < acc[j].Name
	})
	return acc
}

// Store is the variable store.
type Store struct {
	mu sync.RWMutex

	vars  *names
	funcs *names

	// values is the encoded name -> current value projection.
	values map[string]interface{}

	// requests maps encoded name to request key to entry.
	requests map[string]map[string]*Request

	initialized bool
}

// New makes an empty Store.
func New() *Store {
	return &Store{
		vars:     newNames(),
		funcs:    newNames(),
		values:   make(map[string]interface{}),
		requests: make(map[string]map[string]*Request),
	}
}

// InitOrReset replaces the store's contents with the given tree.
//
// The value projection is rebuilt from scratch and every request
// cache entry is discarded.  The returned *Desync, if not nil,
// describes variables that disappeared relative to the previous tree
// and entries dropped for duplicate encoded names.
func (s *Store) InitOrReset(t *Tree) *Desync {
	if t == nil {
		t = &Tree{}
	}

	vars := newNames()
	funcs := newNames()
	dropped := vars.build(t.Variables)
	dropped = append(dropped, funcs.build(t.Functions)...)

	s.mu.Lock()
	defer s.mu.Unlock()

	var missing []Ref
	if s.initialized {
		for _, ref := range sortedKeys(s.vars.byRef) {
			if _, have := vars.byRef[ref]; !have {
				missing = append(missing, ref)
			}
		}
	}

	s.vars = vars
	s.funcs = funcs
	s.values = make(map[string]interface{}, len(vars.byEncoded))
	for e, d := range vars.byEncoded {
		s.values[e] = d.Value
	}
	s.requests = make(map[string]map[string]*Request)
	s.initialized = true

	if len(missing) == 0 && len(dropped) == 0 {
		return nil
	}
	return &Desync{
		Missing: missing,
		Dropped: dropped,
	}
}

func sortedKeys(m map[Ref]string) []Ref {
	acc := make([]Ref, 0, len(m))
	for ref := range m {
		acc = append(acc, ref)
	}
	sort.Slice(acc, func(i, j int) bool {
		return acc[i].String() < acc[j].String()
	})
	return acc
}

// Initialized reports whether InitOrReset has been called.
func (s *Store) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// Get returns the current value of the variable.
func (s *Store) Get(encodedName string) (interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, have := s.values[encodedName]
	if !have {
		return nil, &NotAvailable{EncodedName: encodedName}
	}
	return v, nil
}

// Update sets the current value of a known variable.
func (s *Store) Update(encodedName string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, have := s.values[encodedName]; !have {
		return &NotAvailable{EncodedName: encodedName}
	}
	s.values[encodedName] = value
	return nil
}

// GetRequest returns the data received for the request key, which is
// nil while the request is still pending.
func (s *Store) GetRequest(encodedName, key string) (interface{}, error) {
	r, err := s.Request(encodedName, key)
	if err != nil {
		return nil, err
	}
	return r.Data, nil
}

// Request returns a copy of the request cache entry.
func (s *Store) Request(encodedName, key string) (Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, have := s.requests[encodedName][key]
	if !have {
		return Request{}, &NotAvailable{EncodedName: encodedName, RequestKey: key}
	}
	return *r, nil
}

// UpdateRequest stores the response for a registered request,
// overwriting any previous response.
func (s *Store) UpdateRequest(encodedName, key string, data interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, have := s.requests[encodedName][key]
	if !have {
		return &NotAvailable{EncodedName: encodedName, RequestKey: key}
	}
	r.Data = data
	r.Received = true
	return nil
}

// RegisterRequest creates or overwrites a pending request cache entry
// for a known variable.
func (s *Store) RegisterRequest(encodedName, key string, opts *Query) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, have := s.values[encodedName]; !have {
		return &NotAvailable{EncodedName: encodedName, RequestKey: key}
	}
	rs, have := s.requests[encodedName]
	if !have {
		rs = make(map[string]*Request, 4)
		s.requests[encodedName] = rs
	}
	rs[key] = &Request{
		Key:     key,
		Options: opts,
	}
	return nil
}

// ReleaseRequest removes a request cache entry.  Releasing an absent
// entry does nothing.
func (s *Store) ReleaseRequest(encodedName, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, have := s.requests[encodedName]
	if !have {
		return
	}
	delete(rs, key)
	if len(rs) == 0 {
		delete(s.requests, encodedName)
	}
}

// DrainRequests removes every request cache entry and returns the
// removed entries keyed by encoded name.
func (s *Store) DrainRequests() map[string][]Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := make(map[string][]Request, len(s.requests))
	for e, rs := range s.requests {
		for _, r := range rs {
			acc[e] = append(acc[e], *r)
		}
		sort.Slice(acc[e], func(i, j int) bool {
			return acc[e][i].Key < acc[e][j].Key
		})
	}
	s.requests = make(map[string]map[string]*Request)
	return acc
}

// ResolveEncodedName finds the encoded name of a variable.
func (s *Store) ResolveEncodedName(name, module string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, have := s.vars.byRef[Ref{Module: module, Name: name}]
	return e, have
}

// ResolveName finds the module and name of an encoded name.
func (s *Store) ResolveName(encodedName string) (Ref, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, have := s.vars.byEncoded[encodedName]
	if !have {
		return Ref{}, false
	}
	return d.Ref(), true
}

// ResolveFunction finds the encoded name of a function.
func (s *Store) ResolveFunction(name, module string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, have := s.funcs.byRef[Ref{Module: module, Name: name}]
	return e, have
}

// Info returns the variable's descriptor and current value.
func (s *Store) Info(encodedName string) (*Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, have := s.vars.byEncoded[encodedName]
	if !have {
		return nil, &NotAvailable{EncodedName: encodedName}
	}
	return &Info{
		Descriptor: *d,
		Current:    s.values[encodedName],
	}, nil
}

// DataTree returns a copy of the current tree with current values.
func (s *Store) DataTree() *Tree {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := &Tree{
		Variables: make(Modules),
		Functions: make(Modules),
	}
	for e, d := range s.vars.byEncoded {
		d = d.copy()
		d.Value = s.values[e]
		t.Variables.add(d)
	}
	for _, d := range s.funcs.byEncoded {
		t.Functions.add(d.copy())
	}
	return t
}

func (ms Modules) add(d *Descriptor) {
	vs, have := ms[d.Module]
	if !have {
		vs = make(map[string]*Descriptor)
		ms[d.Module] = vs
	}
	vs[d.Name] = d
}

// AllData returns a copy of the encoded name -> value projection.
func (s *Store) AllData() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc := make(map[string]interface{}, len(s.values))
	for e, v := range s.values {
		acc[e] = v
	}
	return acc
}
