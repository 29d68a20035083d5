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

// Package hooks runs ECMAScript callbacks for an App.
//
// A script may define any of these functions:
//
//    onInit(app)
//    onChange(app, encodedName, value)
//    onNotify(app, severity, message)
//
// The app object offers:
//
//    get(encodedName): the variable's current value.
//    update(encodedName, value): ask the server to change a variable.
//    trigger(action, origin, payload): ask the server to run an action.
//    encodedName(name, module): find an encoded name or null.
//
// Scripts also see log(x) and cronNext(expr).
//
// The ECMAScript implementation is Goja.  See
// https://github.com/dop251/goja.
package hooks

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Comcast/guisync/client"

	"github.com/dop251/goja"
	"github.com/golang/glog"
	"github.com/gorhill/cronexpr"
)

var (
	// InterruptedMessage is the string value of Interrupted.
	InterruptedMessage = "RuntimeError: timeout"

	// Interrupted is returned by a call that ran out of time.
	Interrupted = errors.New(InterruptedMessage)

	// DefaultTimeout bounds each call into a script.
	DefaultTimeout = time.Second
)

// App is what a script's app object calls.  *client.App is an App.
type App interface {
	Get(encodedName string) (interface{}, error)
	Update(encodedName string, value interface{}) error
	Trigger(action, origin string, payload interface{}) error
	GetEncodedName(name, module string) (string, bool)
}

// Script is a compiled script with its own runtime.
//
// Calls are serialized.
type Script struct {
	Name    string
	Timeout time.Duration

	sync.Mutex
	o   *goja.Runtime
	fns map[string]goja.Callable
}

var functions = []string{"onInit", "onChange", "onNotify"}

// Compile compiles and runs the source, which should define some of
// the functions.
func Compile(name, src string) (*Script, error) {
	p, err := goja.Compile(name, src, true)
	if err != nil {
		return nil, err
	}

	s := &Script{
		Name:    name,
		Timeout: DefaultTimeout,
		o:       goja.New(),
		fns:     make(map[string]goja.Callable, len(functions)),
	}
	s.globals()

	if err := s.run(func() error {
		_, err := s.o.RunProgram(p)
		return err
	}); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	for _, f := range functions {
		if fn, is := goja.AssertFunction(s.o.Get(f)); is {
			s.fns[f] = fn
		}
	}
	if len(s.fns) == 0 {
		glog.Warningf("hooks: %s defines no hooks", name)
	}
	return s, nil
}

// Load compiles the file.
func Load(filename string) (*Script, error) {
	bs, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return Compile(filename, string(bs))
}

// Has reports whether the script defines the function.
func (s *Script) Has(f string) bool {
	_, have := s.fns[f]
	return have
}

func (s *Script) protest(x interface{}) {
	panic(s.o.ToValue(x))
}

func (s *Script) globals() {
	s.o.Set("log", func(x interface{}) interface{} {
		js, err := json.Marshal(&x)
		if err != nil {
			glog.Infof("hooks: %s: (can't marshal: %v)", s.Name, err)
		} else {
			glog.Infof("hooks: %s: %s", s.Name, js)
		}
		return x
	})

	s.o.Set("cronNext", func(x interface{}) interface{} {
		expr, is := x.(string)
		if !is {
			s.protest("not a string")
		}
		c, err := cronexpr.Parse(expr)
		if err != nil {
			s.protest(err.Error())
		}
		return c.Next(time.Now()).UTC().Format(time.RFC3339Nano)
	})
}

func (s *Script) app(app App) goja.Value {
	fail := func(err error) {
		panic(s.o.NewGoError(err))
	}
	return s.o.ToValue(map[string]interface{}{
		"get": func(name string) interface{} {
			v, err := app.Get(name)
			if err != nil {
				fail(err)
			}
			return v
		},
		"update": func(name string, value interface{}) {
			if err := app.Update(name, value); err != nil {
				fail(err)
			}
		},
		"trigger": func(action, origin string, payload interface{}) {
			if err := app.Trigger(action, origin, payload); err != nil {
				fail(err)
			}
		},
		"encodedName": func(name, module string) interface{} {
			e, have := app.GetEncodedName(name, module)
			if !have {
				return nil
			}
			return e
		},
	})
}

// run calls f with the interrupt timer armed.  Requires the lock, or
// exclusive access during Compile.
func (s *Script) run(f func() error) error {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	t := time.AfterFunc(timeout, func() {
		s.o.Interrupt(InterruptedMessage)
	})
	err := f()
	t.Stop()
	s.o.ClearInterrupt()

	var ie *goja.InterruptedError
	if errors.As(err, &ie) {
		return Interrupted
	}
	return err
}

func (s *Script) call(f string, app App, args ...interface{}) error {
	s.Lock()
	defer s.Unlock()

	fn, have := s.fns[f]
	if !have {
		return nil
	}

	vals := make([]goja.Value, 0, len(args)+1)
	vals = append(vals, s.app(app))
	for _, x := range args {
		vals = append(vals, s.o.ToValue(x))
	}

	err := s.run(func() error {
		_, err := fn(goja.Undefined(), vals...)
		return err
	})
	if err != nil {
		return fmt.Errorf("%s %s: %w", s.Name, f, err)
	}
	return nil
}

func (s *Script) OnInit(app App) error {
	return s.call("onInit", app)
}

func (s *Script) OnChange(app App, encodedName string, value interface{}) error {
	return s.call("onChange", app, encodedName, value)
}

func (s *Script) OnNotify(app App, severity, message string) error {
	return s.call("onNotify", app, severity, message)
}

// Install registers the script's functions as the App's callbacks.
// Errors from the script are logged.
func (s *Script) Install(app *client.App) {
	if s.Has("onInit") {
		app.OnInit(func(a *client.App) {
			if err := s.OnInit(a); err != nil {
				glog.Errorf("hooks: %v", err)
			}
		})
	}
	if s.Has("onChange") {
		app.OnChange(func(a *client.App, name string, value interface{}) {
			if err := s.OnChange(a, name, value); err != nil {
				glog.Errorf("hooks: %v", err)
			}
		})
	}
	if s.Has("onNotify") {
		app.OnNotify(func(a *client.App, severity, message string) {
			if err := s.OnNotify(a, severity, message); err != nil {
				glog.Errorf("hooks: %v", err)
			}
		})
	}
}
