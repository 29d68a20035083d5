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

// Package session persists the small amount of client state that
// should survive a restart, most importantly the client id the server
// assigned, so that a later connection can ask to resume the session.
package session

import (
	"context"
	"sync"
)

// ClientIDKey is the key under which the client id is stored.
const ClientIDKey = "TaipyClientId"

// Storage is a persistent string map scoped to one server.
//
// Get returns an empty string for an absent key.
type Storage interface {
	Open(ctx context.Context) error
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close(ctx context.Context) error
}

// MemStorage is a Storage that forgets everything when the process
// exits.
type MemStorage struct {
	sync.Mutex
	m map[string]string
}

func NewMemStorage() *MemStorage {
	return &MemStorage{
		m: make(map[string]string),
	}
}

func (s *MemStorage) Open(ctx context.Context) error {
	return nil
}

func (s *MemStorage) Get(ctx context.Context, key string) (string, error) {
	s.Lock()
	defer s.Unlock()
	return s.m[key], nil
}

func (s *MemStorage) Set(ctx context.Context, key, value string) error {
	s.Lock()
	defer s.Unlock()
	s.m[key] = value
	return nil
}

func (s *MemStorage) Delete(ctx context.Context, key string) error {
	s.Lock()
	defer s.Unlock()
	delete(s.m, key)
	return nil
}

func (s *MemStorage) Close(ctx context.Context) error {
	return nil
}
