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
	"errors"
	"fmt"
	"strings"
)

// NotAvailable occurs when a read or write addresses an encoded name,
// or an encoded name and request key, that the Store doesn't have.
type NotAvailable struct {
	EncodedName string
	RequestKey  string
}

func (e *NotAvailable) Error() string {
	if e.RequestKey != "" {
		return `request "` + e.RequestKey + `" for "` + e.EncodedName + `" not available`
	}
	return `variable "` + e.EncodedName + `" not available`
}

// IsNotAvailable reports whether err is (or wraps) a *NotAvailable.
func IsNotAvailable(err error) bool {
	var na *NotAvailable
	return errors.As(err, &na)
}

// Ref names a variable by module and name.
type Ref struct {
	Module string `json:"module"`
	Name   string `json:"name"`
}

func (r Ref) String() string {
	return r.Module + "." + r.Name
}

// Desync reports what a new tree did to the old one.
//
// A Desync is a diagnostic, not a failure: the new tree has been
// applied when one is returned.
type Desync struct {
	// Missing are the variables present before the reset but
	// absent after it.
	Missing []Ref

	// Dropped are variables from the new tree that lost their
	// encoded name to a later entry of the same tree.
	Dropped []Ref
}

func (d *Desync) Error() string {
	parts := make([]string, 0, 2)
	if 0 < len(d.Missing) {
		parts = append(parts, fmt.Sprintf("missing %s", refs(d.Missing)))
	}
	if 0 < len(d.Dropped) {
		parts = append(parts, fmt.Sprintf("dropped %s", refs(d.Dropped)))
	}
	return "desynchronized tree: " + strings.Join(parts, "; ")
}

func refs(rs []Ref) string {
	acc := make([]string, len(rs))
	for i, r := range rs {
		acc[i] = r.String()
	}
	return strings.Join(acc, ", ")
}
