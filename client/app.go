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

// Package client is the facade an application holds: it reads
// variables from the local store, asks the server to change them,
// triggers actions and reports what the server says through
// callbacks.
//
// Local values change only when the server's updates are applied.
// Update doesn't write to the store.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Comcast/guisync/conn"
	"github.com/Comcast/guisync/protocol"
	"github.com/Comcast/guisync/session"
	"github.com/Comcast/guisync/store"
	"github.com/Comcast/guisync/upload"
	"github.com/Comcast/guisync/wire"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ErrNotSynced is returned by operations that need a
	// completed handshake.
	ErrNotSynced = protocol.ErrNotSynced

	// ErrRehandshake is given to callbacks for requests that were
	// pending when the server process changed.
	ErrRehandshake = errors.New("server restarted; session abandoned")

	// ErrNoUploader is returned by UploadFile when no uploader is
	// configured.
	ErrNoUploader = errors.New("no uploader")
)

type (
	InitFunc          func(app *App)
	ChangeFunc        func(app *App, encodedName string, value interface{})
	DataFunc          func(app *App, encodedName, key string, data interface{})
	NotifyFunc        func(app *App, severity, message string)
	BlockFunc         func(app *App, b *wire.Block)
	NavigateFunc      func(app *App, n *wire.Navigate)
	DownloadFunc      func(app *App, d *wire.Download)
	RequestFailedFunc func(app *App, encodedName, key string, err error)

	// AckFunc is called with nil when the server acknowledges a
	// message and with an error when it never will.
	AckFunc func(err error)
)

type callbacks struct {
	init          []InitFunc
	change        []ChangeFunc
	data          []DataFunc
	notify        []NotifyFunc
	block         []BlockFunc
	navigate      []NavigateFunc
	download      []DownloadFunc
	requestFailed []RequestFailedFunc
}

// App is a client application instance.
type App struct {
	conf     *Conf
	conn     *conn.Manager
	storage  session.Storage
	uploader upload.Uploader
	store    *store.Store

	mu        sync.Mutex
	machine   *protocol.Machine
	resumeID  string
	acks      map[string]AckFunc
	routes    map[string]string
	rejected  int
	callbacks callbacks
}

// New makes an App.  A nil conf means DefaultConf().  A nil dialer or
// storage is made from the conf.
func New(conf *Conf, d conn.Dialer, s session.Storage) (*App, error) {
	if conf == nil {
		conf = DefaultConf()
	}
	var err error
	if d == nil {
		if d, err = conf.Dialer(); err != nil {
			return nil, err
		}
	}
	if s == nil {
		if s, err = conf.Storage(); err != nil {
			return nil, err
		}
	}
	u, err := conf.Uploader()
	if err != nil {
		return nil, err
	}

	a := &App{
		conf:     conf,
		conn:     conn.NewManager(d, conf.Conn),
		storage:  s,
		uploader: u,
		store:    store.New(),
		machine:  protocol.NewMachine(conf.Path),
		acks:     make(map[string]AckFunc),
	}
	a.conn.HoldReconnects = true
	if conf.Metrics {
		a.conn.Metrics = conn.NewMetrics(prometheus.DefaultRegisterer)
	}

	for _, t := range []wire.Type{
		wire.TypeSessionID,
		wire.TypeAppID,
		wire.TypeModuleContext,
		wire.TypeDataTree,
		wire.TypeUpdate,
		wire.TypeMultiUpdate,
	} {
		a.conn.Handle(t, a.step)
	}
	a.conn.Handle(wire.TypeAlert, a.alert)
	a.conn.Handle(wire.TypeBlock, a.block)
	a.conn.Handle(wire.TypeNavigate, a.navigate)
	a.conn.Handle(wire.TypeDownload, a.download)
	a.conn.Handle(wire.TypeAck, a.ack)
	a.conn.Handle(wire.TypeRoutes, a.setRoutes)
	a.conn.OnConnect(a.connected)

	return a, nil
}

// Conn exposes the connection manager so that extensions can register
// handlers and metrics.
func (a *App) Conn() *conn.Manager {
	return a.conn
}

// Store exposes the variable store.
func (a *App) Store() *store.Store {
	return a.store
}

// SetUploader replaces the uploader.
func (a *App) SetUploader(u upload.Uploader) {
	a.mu.Lock()
	a.uploader = u
	a.mu.Unlock()
}

// Run opens the session storage and runs the connection until the
// context is done or Close is called.
func (a *App) Run(ctx context.Context) error {
	if err := a.storage.Open(ctx); err != nil {
		return fmt.Errorf("session storage: %w", err)
	}
	defer func() {
		if err := a.storage.Close(context.Background()); err != nil {
			glog.Errorf("client: closing session storage: %v", err)
		}
	}()

	id, err := a.storage.Get(ctx, session.ClientIDKey)
	if err != nil {
		glog.Warningf("client: reading client id: %v", err)
	}
	a.mu.Lock()
	a.resumeID = id
	a.mu.Unlock()

	return a.conn.Run(ctx)
}

// Close stops Run.
func (a *App) Close() error {
	return a.conn.Close()
}

// OnInit registers a function called once, when the first data tree
// has been installed.
func (a *App) OnInit(f InitFunc) {
	a.mu.Lock()
	a.callbacks.init = append(a.callbacks.init, f)
	a.mu.Unlock()
}

// OnChange registers a function called after each scalar update is
// applied to the store.
func (a *App) OnChange(f ChangeFunc) {
	a.mu.Lock()
	a.callbacks.change = append(a.callbacks.change, f)
	a.mu.Unlock()
}

// OnData registers a function called after a response to RequestData
// is cached.
func (a *App) OnData(f DataFunc) {
	a.mu.Lock()
	a.callbacks.data = append(a.callbacks.data, f)
	a.mu.Unlock()
}

// OnNotify registers a function called for each alert.
func (a *App) OnNotify(f NotifyFunc) {
	a.mu.Lock()
	a.callbacks.notify = append(a.callbacks.notify, f)
	a.mu.Unlock()
}

// OnBlock registers a function called when the server blocks or
// unblocks the interface.
func (a *App) OnBlock(f BlockFunc) {
	a.mu.Lock()
	a.callbacks.block = append(a.callbacks.block, f)
	a.mu.Unlock()
}

// OnNavigate registers a function called when the server asks for
// another page.
func (a *App) OnNavigate(f NavigateFunc) {
	a.mu.Lock()
	a.callbacks.navigate = append(a.callbacks.navigate, f)
	a.mu.Unlock()
}

// OnDownload registers a function called for each file the server
// offers.
func (a *App) OnDownload(f DownloadFunc) {
	a.mu.Lock()
	a.callbacks.download = append(a.callbacks.download, f)
	a.mu.Unlock()
}

// OnRequestFailed registers a function called for each pending data
// request abandoned because the server process changed.
func (a *App) OnRequestFailed(f RequestFailedFunc) {
	a.mu.Lock()
	a.callbacks.requestFailed = append(a.callbacks.requestFailed, f)
	a.mu.Unlock()
}

func (a *App) cbs() callbacks {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.callbacks
}

// State returns the handshake state.
func (a *App) State() protocol.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.machine.State()
}

// ClientID returns the session id the server assigned, if any.
func (a *App) ClientID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.machine.ClientID
}

// AppID returns the server process's app id, if known.
func (a *App) AppID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.machine.AppID
}

// ModuleContext returns the current page's module context.
func (a *App) ModuleContext() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.machine.ModuleContext
}

// Routes returns the pages the server last announced.
func (a *App) Routes() map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	acc := make(map[string]string, len(a.routes))
	for k, v := range a.routes {
		acc[k] = v
	}
	return acc
}

// Rejected returns the number of updates rejected because they
// arrived before the handshake completed.
func (a *App) Rejected() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rejected
}

// Get returns a variable's current value.
func (a *App) Get(encodedName string) (interface{}, error) {
	return a.store.Get(encodedName)
}

// GetRequest returns the data cached for a request key.
func (a *App) GetRequest(encodedName, key string) (interface{}, error) {
	return a.store.GetRequest(encodedName, key)
}

// GetEncodedName finds a variable's encoded name.
func (a *App) GetEncodedName(name, module string) (string, bool) {
	return a.store.ResolveEncodedName(name, module)
}

// GetName finds the module and name for an encoded name.
func (a *App) GetName(encodedName string) (store.Ref, bool) {
	return a.store.ResolveName(encodedName)
}

// GetFunctionName finds a function's encoded name, which is what
// Trigger takes.
func (a *App) GetFunctionName(name, module string) (string, bool) {
	return a.store.ResolveFunction(name, module)
}

// GetInfo returns a variable's descriptor and current value.
func (a *App) GetInfo(encodedName string) (*store.Info, error) {
	return a.store.Info(encodedName)
}

// GetDataTree returns a copy of the data tree with current values.
func (a *App) GetDataTree() *store.Tree {
	return a.store.DataTree()
}

// GetAllData returns every variable's current value by encoded name.
func (a *App) GetAllData() map[string]interface{} {
	return a.store.AllData()
}

// Update asks the server to change a variable.  The local value
// changes only when the server's update arrives.
func (a *App) Update(encodedName string, value interface{}) error {
	return a.UpdateWithAck(encodedName, value, nil)
}

// UpdateWithAck is Update with a function called when the server
// acknowledges the request.
func (a *App) UpdateWithAck(encodedName string, value interface{}, ack AckFunc) error {
	if err := a.ready(); err != nil {
		return err
	}
	if _, err := a.store.Get(encodedName); err != nil {
		return err
	}
	return a.send(&wire.Update{Name: encodedName, Value: value}, ack)
}

// Trigger asks the server to run an action.  Origin identifies what
// triggered the action, and payload becomes the action's arguments.
func (a *App) Trigger(action, origin string, payload interface{}) error {
	return a.TriggerWithAck(action, origin, payload, nil)
}

// TriggerWithAck is Trigger with a function called when the server
// acknowledges the request.
func (a *App) TriggerWithAck(action, origin string, payload interface{}, ack AckFunc) error {
	if err := a.ready(); err != nil {
		return err
	}
	return a.send(&wire.Action{Origin: origin, Action: action, Args: payload}, ack)
}

// Navigate changes the current page.  The server's answer changes the
// module context, and a new data tree replaces the store's contents.
func (a *App) Navigate(path string) error {
	a.mu.Lock()
	s := a.machine.Navigate(path)
	stamp := a.stamp()
	a.mu.Unlock()
	return a.emit(s.Emitted, stamp)
}

// RequestData registers a request cache entry for the query and asks
// the server for the data.  The returned key finds the data with
// GetRequest once it arrives.
func (a *App) RequestData(encodedName string, q *store.Query) (string, error) {
	if err := a.ready(); err != nil {
		return "", err
	}
	if q == nil {
		q = &store.Query{}
	}
	key := q.Key()
	if err := a.store.RegisterRequest(encodedName, key, q); err != nil {
		return "", err
	}
	m := &wire.RequestUpdate{
		Name:    encodedName,
		PageKey: key,
		Query:   q.Payload(),
	}
	if err := a.send(m, nil); err != nil {
		a.store.ReleaseRequest(encodedName, key)
		return "", err
	}
	return key, nil
}

// ReleaseData forgets a request cache entry.  A response that arrives
// later is dropped.
func (a *App) ReleaseData(encodedName, key string) {
	a.store.ReleaseRequest(encodedName, key)
}

// UploadFile sends files for a variable through the uploader.
func (a *App) UploadFile(ctx context.Context, encodedName string, files []*upload.File, progress upload.Progress) error {
	a.mu.Lock()
	u := a.uploader
	t := upload.Target{
		VarName:  encodedName,
		ClientID: a.machine.ClientID,
		Context:  a.machine.ModuleContext,
	}
	a.mu.Unlock()

	if u == nil {
		return ErrNoUploader
	}
	if t.ClientID == "" {
		return ErrNotSynced
	}
	return u.Upload(ctx, t, files, progress)
}

func (a *App) ready() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.machine.Synced() {
		return ErrNotSynced
	}
	return nil
}

// stamp requires a.mu.
func (a *App) stamp() wire.Stamp {
	s := a.machine.Stamp()
	s.Propagate = a.conf.Propagate
	return s
}

func (a *App) send(m wire.Outbound, ack AckFunc) error {
	a.mu.Lock()
	stamp := a.stamp()
	a.mu.Unlock()

	e, err := wire.NewEnvelope(m, stamp)
	if err != nil {
		return err
	}
	if ack != nil {
		a.mu.Lock()
		a.acks[e.AckID] = ack
		a.mu.Unlock()
	}
	if err := a.conn.Send(e); err != nil {
		if ack != nil {
			a.mu.Lock()
			delete(a.acks, e.AckID)
			a.mu.Unlock()
		}
		return err
	}
	return nil
}

func (a *App) emit(ms []wire.Outbound, stamp wire.Stamp) error {
	for _, m := range ms {
		e, err := wire.NewEnvelope(m, stamp)
		if err != nil {
			return err
		}
		if err := a.conn.Send(e); err != nil {
			return err
		}
	}
	return nil
}
