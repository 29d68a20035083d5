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

package session

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"os"
	"sync"
)

// JSONStore is a primitive Storage that keeps its map as JSON in a
// file.
//
// Not glamorous or efficient: every Set rewrites the whole file.
type JSONStore struct {
	// Filename is the file that holds the state.
	Filename string

	// Scope partitions the file so that several servers can
	// share it.
	Scope string

	sync.Mutex
	state map[string]map[string]string
}

func NewJSONStore(filename, scope string) *JSONStore {
	return &JSONStore{
		Filename: filename,
		Scope:    scope,
	}
}

// Open reads the file if it exists.
func (s *JSONStore) Open(ctx context.Context) error {
	s.Lock()
	defer s.Unlock()
	s.state = make(map[string]map[string]string)
	js, err := ioutil.ReadFile(s.Filename)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(js) == 0 {
		return nil
	}
	return json.Unmarshal(js, &s.state)
}

func (s *JSONStore) Get(ctx context.Context, key string) (string, error) {
	s.Lock()
	defer s.Unlock()
	return s.state[s.Scope][key], nil
}

func (s *JSONStore) Set(ctx context.Context, key, value string) error {
	s.Lock()
	defer s.Unlock()
	if s.state == nil {
		s.state = make(map[string]map[string]string)
	}
	m, have := s.state[s.Scope]
	if !have {
		m = make(map[string]string)
		s.state[s.Scope] = m
	}
	m[key] = value
	return s.write()
}

func (s *JSONStore) Delete(ctx context.Context, key string) error {
	s.Lock()
	defer s.Unlock()
	m, have := s.state[s.Scope]
	if !have {
		return nil
	}
	delete(m, key)
	return s.write()
}

// Close writes out the state.
func (s *JSONStore) Close(ctx context.Context) error {
	s.Lock()
	defer s.Unlock()
	return s.write()
}

// write writes the entire state as JSON.
func (s *JSONStore) write() error {
	if s.state == nil {
		return nil
	}
	js, err := json.MarshalIndent(&s.state, "", "  ")
	if err != nil {
		return err
	}
	return ioutil.WriteFile(s.Filename, js, 0644)
}
