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

package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Comcast/guisync/client"
	"github.com/Comcast/guisync/store"

	"github.com/golang/glog"
)

// connect starts an App and waits for its first data tree.  The
// returned function stops the App.
func connect(ctx context.Context, c *client.Conf, timeout time.Duration, setup func(*client.App)) (*client.App, func(), error) {
	app, err := client.New(c, nil, nil)
	if err != nil {
		return nil, nil, err
	}

	inited := make(chan struct{})
	app.OnInit(func(*client.App) {
		close(inited)
	})
	if setup != nil {
		setup(app)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- app.Run(ctx)
	}()

	stop := func() {
		app.Close()
		cancel()
		if err := <-done; err != nil && err != context.Canceled {
			glog.Warningf("run: %v", err)
		}
	}

	select {
	case <-inited:
		return app, stop, nil
	case err := <-done:
		cancel()
		if err == nil {
			err = fmt.Errorf("stopped before sync")
		}
		return nil, nil, err
	case <-time.After(timeout):
		stop()
		return nil, nil, fmt.Errorf("no sync after %v", timeout)
	}
}

// resolve finds the encoded name for a variable.  The name can be an
// encoded name, or a name that's unique across modules, or a name in
// the given module.
func resolve(app *client.App, name, module string) (string, error) {
	if module != "" {
		if e, have := app.GetEncodedName(name, module); have {
			return e, nil
		}
		return "", &store.NotAvailable{EncodedName: module + "." + name}
	}
	if _, err := app.Get(name); err == nil {
		return name, nil
	}

	var found []store.Ref
	for m, vs := range app.GetDataTree().Variables {
		if _, have := vs[name]; have {
			found = append(found, store.Ref{Module: m, Name: name})
		}
	}
	switch len(found) {
	case 0:
		return "", &store.NotAvailable{EncodedName: name}
	case 1:
		e, _ := app.GetEncodedName(name, found[0].Module)
		return e, nil
	default:
		sort.Slice(found, func(i, j int) bool {
			return found[i].Module < found[j].Module
		})
		return "", fmt.Errorf("%s is ambiguous (%v); use --module", name, found)
	}
}
