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

package client

import (
	"context"

	"github.com/Comcast/guisync/protocol"
	"github.com/Comcast/guisync/session"
	"github.com/Comcast/guisync/store"
	"github.com/Comcast/guisync/wire"

	"github.com/golang/glog"
)

// connected is called by the connection manager for each new
// connection.
//
// After a reconnect, envelopes queued while disconnected carry the old
// session.  They stay held until the server confirms its app id.
func (a *App) connected(ctx context.Context, reconnect bool) {
	a.mu.Lock()
	s := a.machine.Connected(reconnect, a.resumeID)
	probing := a.machine.Probing()
	stamp := a.stamp()
	a.mu.Unlock()

	for _, m := range s.Emitted {
		e, err := wire.NewEnvelope(m, stamp)
		if err == nil {
			err = a.conn.SendNow(e)
		}
		if err != nil {
			glog.Errorf("client: sending %s: %v", m.Type(), err)
		}
	}
	if !probing {
		a.conn.Release()
	}
}

// step presents a protocol message to the handshake machine.
func (a *App) step(ctx context.Context, msg wire.Message) {
	a.mu.Lock()
	wasProbing := a.machine.Probing()
	s, err := a.machine.Step(msg)
	if err == protocol.ErrNotSynced {
		a.rejected++
	}
	resumed := wasProbing && !a.machine.Probing() && s != nil && !s.Rehandshake
	stamp := a.stamp()
	a.mu.Unlock()

	if err != nil {
		from := protocol.State(-1)
		if s != nil {
			from = s.From
		}
		glog.Warningf("client: protocol error: %s in state %s: %v", msg.Type(), from, err)
		return
	}
	if s == nil {
		return
	}
	a.apply(ctx, s, stamp)

	if resumed {
		glog.Infof("client: session resumed")
		a.conn.Release()
	}
}

func (a *App) apply(ctx context.Context, s *protocol.Stride, stamp wire.Stamp) {
	if s.From != s.To {
		glog.Infof("client: %s -> %s", s.From, s.To)
	}

	if s.ClientID != "" {
		a.remember(ctx, s.ClientID)
	}

	if s.Rehandshake {
		a.rehandshake(ctx)
		return
	}

	if err := a.emit(s.Emitted, stamp); err != nil {
		glog.Errorf("client: sending: %v", err)
	}

	if s.Superseded {
		glog.V(1).Infof("client: dropping data tree for an earlier module context")
	}
	if s.Tree != nil {
		a.install(s.Tree, s.FirstTree)
	}

	for _, u := range s.Updates {
		a.update(u)
	}
}

func (a *App) remember(ctx context.Context, id string) {
	a.mu.Lock()
	a.resumeID = id
	a.mu.Unlock()
	if err := a.storage.Set(ctx, session.ClientIDKey, id); err != nil {
		glog.Errorf("client: saving client id: %v", err)
	}
}

// rehandshake abandons the session after the server process changed.
//
// Pending data requests and acks fail with ErrRehandshake, the
// persisted client id is forgotten and the connection is redialled so
// the server assigns a new one.
func (a *App) rehandshake(ctx context.Context) {
	glog.Warningf("client: server app id changed; starting a new session")

	pending := a.store.DrainRequests()

	a.mu.Lock()
	a.resumeID = ""
	acks := a.acks
	a.acks = make(map[string]AckFunc)
	cbs := a.callbacks
	a.mu.Unlock()

	if err := a.storage.Delete(ctx, session.ClientIDKey); err != nil {
		glog.Errorf("client: forgetting client id: %v", err)
	}

	for name, rs := range pending {
		for _, r := range rs {
			glog.V(1).Infof("client: abandoning request %s/%s", name, r.Key)
			for _, f := range cbs.requestFailed {
				f(a, name, r.Key, ErrRehandshake)
			}
		}
	}
	for _, f := range acks {
		f(ErrRehandshake)
	}

	a.conn.Redial()
}

func (a *App) install(t *wire.DataTree, first bool) {
	if d := a.store.InitOrReset(tree(t)); d != nil {
		glog.Warningf("client: %v", d)
	}
	glog.Infof("client: installed data tree with %d modules", len(t.Variables))
	if !first {
		return
	}
	for _, f := range a.cbs().init {
		f(a)
	}
}

func (a *App) update(u *wire.Update) {
	if u.PageKey != "" {
		if err := a.store.UpdateRequest(u.Name, u.PageKey, u.Value); err != nil {
			// Most likely released before the response arrived.
			glog.V(1).Infof("client: dropping response: %v", err)
			return
		}
		for _, f := range a.cbs().data {
			f(a, u.Name, u.PageKey, u.Value)
		}
		return
	}

	if err := a.store.Update(u.Name, u.Value); err != nil {
		glog.Warningf("client: %v", err)
		return
	}
	glog.V(1).Infof("client: %s = %v", u.Name, u.Value)
	for _, f := range a.cbs().change {
		f(a, u.Name, u.Value)
	}
}

func tree(t *wire.DataTree) *store.Tree {
	return &store.Tree{
		Variables: modules(t.Variables),
		Functions: modules(t.Functions),
	}
}

func modules(ms wire.Modules) store.Modules {
	acc := make(store.Modules, len(ms))
	for module, es := range ms {
		ds := make(map[string]*store.Descriptor, len(es))
		for name, e := range es {
			if e == nil {
				continue
			}
			ds[name] = &store.Descriptor{
				Module:      module,
				Name:        name,
				EncodedName: e.EncodedName,
				Type:        e.Type,
				Value:       e.Value,
			}
		}
		acc[module] = ds
	}
	return acc
}

func (a *App) alert(ctx context.Context, msg wire.Message) {
	m := msg.(*wire.Alert)
	glog.V(1).Infof("client: alert %s: %s", m.Severity, m.Message)
	for _, f := range a.cbs().notify {
		f(a, m.Severity, m.Message)
	}
}

func (a *App) block(ctx context.Context, msg wire.Message) {
	m := msg.(*wire.Block)
	for _, f := range a.cbs().block {
		f(a, m)
	}
}

func (a *App) navigate(ctx context.Context, msg wire.Message) {
	m := msg.(*wire.Navigate)
	for _, f := range a.cbs().navigate {
		f(a, m)
	}
}

func (a *App) download(ctx context.Context, msg wire.Message) {
	m := msg.(*wire.Download)
	for _, f := range a.cbs().download {
		f(a, m)
	}
}

func (a *App) ack(ctx context.Context, msg wire.Message) {
	id := msg.(*wire.Ack).ID
	a.mu.Lock()
	f, have := a.acks[id]
	delete(a.acks, id)
	a.mu.Unlock()
	if !have {
		glog.V(2).Infof("client: ack for %q", id)
		return
	}
	f(nil)
}

func (a *App) setRoutes(ctx context.Context, msg wire.Message) {
	m := msg.(*wire.Routes)
	a.mu.Lock()
	a.routes = m.Routes
	a.mu.Unlock()
}
