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

// Package guisync keeps a client's copy of a server-driven UI's
// variables consistent with the server.
//
// The packages, from the bottom up:
//
//    wire:     envelopes and one Go type per message type
//    store:    variables, encoded names and request caches
//    protocol: the handshake state machine
//    conn:     the connection, with reconnection and dispatch
//    session:  persisted client ids
//    client:   the facade applications hold
//    hooks:    ECMAScript callbacks
//    upload:   chunked file uploads
//
// The command-line tool is in cmd/guisync.
package guisync
