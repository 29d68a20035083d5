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


// Package testutil has helpers for tests: an in-memory transport that
// plays the server's end of a connection, and JSON rendering for
// failure messages.
package testutil

import (
	"encoding/json"
	"fmt"
)

// JS renders x as compact JSON for failure messages.  Values that
// don't marshal are rendered with %#v.
func JS(x interface{}) string {
	if bs, err := json.Marshal(x); err == nil {
		return string(bs)
	}
	return fmt.Sprintf("%#v", x)
}
