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

// Package bolt is a session.Storage backed by bbolt.
package bolt

import (
	"context"
	"errors"
	"time"

	"github.com/golang/glog"
	bolt "go.etcd.io/bbolt"
)

// NotOpen is returned when the Storage is used before Open.
var NotOpen = errors.New("bolt storage not open")

// Storage keeps each scope in its own bucket.
type Storage struct {
	Debug bool

	filename string
	scope    []byte
	db       *bolt.DB
}

func NewStorage(filename, scope string) *Storage {
	if scope == "" {
		scope = "default"
	}
	return &Storage{
		filename: filename,
		scope:    []byte(scope),
	}
}

func (s *Storage) logf(format string, args ...interface{}) {
	if s.Debug {
		glog.Infof("BoltDB Storage."+format, args...)
	}
}

func (s *Storage) Open(ctx context.Context) error {
	opts := &bolt.Options{
		Timeout: time.Second,
	}

	db, err := bolt.Open(s.filename, 0644, opts)
	if err != nil {
		return err
	}
	s.db = db
	return s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(s.scope)
		return err
	})
}

func (s *Storage) Close(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Storage) Get(ctx context.Context, key string) (string, error) {
	if s.db == nil {
		return "", NotOpen
	}
	var val string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.scope)
		if b == nil {
			return nil
		}
		val = string(b.Get([]byte(key)))
		return nil
	})
	s.logf("Get %s %s = %q", s.scope, key, val)
	return val, err
}

func (s *Storage) Set(ctx context.Context, key, value string) error {
	if s.db == nil {
		return NotOpen
	}
	s.logf("Set %s %s = %q", s.scope, key, value)
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(s.scope)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), []byte(value))
	})
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	if s.db == nil {
		return NotOpen
	}
	s.logf("Delete %s %s", s.scope, key)
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.scope)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}
