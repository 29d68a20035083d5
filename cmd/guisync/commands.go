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
	"os"
	"os/signal"
	"time"

	"github.com/Comcast/guisync/client"
	"github.com/Comcast/guisync/hooks"
	"github.com/Comcast/guisync/store"
	"github.com/Comcast/guisync/wire"

	"github.com/golang/glog"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var (
	module    string
	jsonPath  string
	hooksFile string
	every     string
	action    string
	origin    string
	argsValue string
	wait      time.Duration

	metricsAddr string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Connect and print changes and alerts until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := conf()
		if err != nil {
			return err
		}

		var script *hooks.Script
		if hooksFile != "" {
			if script, err = hooks.Load(hooksFile); err != nil {
				return err
			}
		}

		var sched *schedule
		if every != "" {
			if action == "" {
				return fmt.Errorf("--every needs --action")
			}
			if sched, err = parseSchedule(every); err != nil {
				return err
			}
		}

		if metricsAddr != "" {
			c.Metrics = true
			addr, stop, err := serveMetrics(metricsAddr)
			if err != nil {
				return err
			}
			defer stop()
			pterm.Info.Printf("metrics at http://%s/metrics\n", addr)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()

		app, stop, err := connect(ctx, c, syncTimeout, func(app *client.App) {
			if script != nil {
				script.Install(app)
			}
			app.OnChange(func(a *client.App, name string, value interface{}) {
				s, _ := render(value, "")
				pterm.Info.Printf("%s = %s\n", name, s)
			})
			app.OnNotify(func(a *client.App, severity, message string) {
				notify(severity, message)
			})
			app.OnNavigate(func(a *client.App, n *wire.Navigate) {
				pterm.Info.Printf("navigating to %s\n", n.To)
				if err := a.Navigate(n.To); err != nil {
					glog.Errorf("navigate: %v", err)
				}
			})
		})
		if err != nil {
			return err
		}
		defer stop()

		pterm.Success.Printf("synced as %s (module %s)\n", app.ClientID(), app.ModuleContext())

		if sched == nil {
			<-ctx.Done()
			return nil
		}
		return trigger(ctx, app, sched)
	},
}

// trigger runs the --action on the schedule until the context is
// done.
func trigger(ctx context.Context, app *client.App, sched *schedule) error {
	payload, err := parseArgs()
	if err != nil {
		return err
	}
	for {
		d, ok := sched.next(time.Now())
		if !ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(d):
		}
		if err := app.Trigger(action, origin, payload); err != nil {
			pterm.Warning.Printf("trigger %s: %v\n", action, err)
		}
	}
}

var getCmd = &cobra.Command{
	Use:   "get NAME",
	Short: "Print a variable's value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := conf()
		if err != nil {
			return err
		}
		app, stop, err := connect(context.Background(), c, syncTimeout, nil)
		if err != nil {
			return err
		}
		defer stop()

		name, err := resolve(app, args[0], module)
		if err != nil {
			return err
		}
		x, err := app.Get(name)
		if err != nil {
			return err
		}
		s, err := render(x, jsonPath)
		if err != nil {
			return err
		}
		fmt.Println(s)
		return nil
	},
}

var updateCmd = &cobra.Command{
	Use:   "update NAME VALUE",
	Short: "Ask the server to change a variable",
	Long:  "The value is YAML or JSON.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := parseValue(args[1])
		if err != nil {
			return err
		}
		c, err := conf()
		if err != nil {
			return err
		}
		app, stop, err := connect(context.Background(), c, syncTimeout, nil)
		if err != nil {
			return err
		}
		defer stop()

		name, err := resolve(app, args[0], module)
		if err != nil {
			return err
		}

		acked := make(chan error, 1)
		if err := app.UpdateWithAck(name, value, func(err error) { acked <- err }); err != nil {
			return err
		}
		return await(acked, "update "+name)
	},
}

var triggerCmd = &cobra.Command{
	Use:   "trigger ACTION",
	Short: "Ask the server to run an action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := parseArgs()
		if err != nil {
			return err
		}
		c, err := conf()
		if err != nil {
			return err
		}
		app, stop, err := connect(context.Background(), c, syncTimeout, func(app *client.App) {
			app.OnNotify(func(a *client.App, severity, message string) {
				notify(severity, message)
			})
		})
		if err != nil {
			return err
		}
		defer stop()

		name := args[0]
		if module != "" {
			e, have := app.GetFunctionName(name, module)
			if !have {
				return &store.NotAvailable{EncodedName: module + "." + name}
			}
			name = e
		}

		acked := make(chan error, 1)
		if err := app.TriggerWithAck(name, origin, payload, func(err error) { acked <- err }); err != nil {
			return err
		}
		return await(acked, "trigger "+name)
	},
}

// parseArgs parses --args.  No args is nil.
func parseArgs() (interface{}, error) {
	if argsValue == "" {
		return nil, nil
	}
	return parseValue(argsValue)
}

// await waits for an ack.  Not hearing one isn't an error, since not
// every server acknowledges.
func await(acked chan error, what string) error {
	select {
	case err := <-acked:
		if err != nil {
			return err
		}
		pterm.Success.Printf("%s acknowledged\n", what)
	case <-time.After(wait):
		pterm.Info.Printf("%s sent\n", what)
	}
	return nil
}

func init() {
	watchCmd.Flags().StringVar(&hooksFile, "hooks", "", "ECMAScript file with onInit, onChange and onNotify")
	watchCmd.Flags().StringVar(&every, "every", "", "cron expression for triggering --action")
	watchCmd.Flags().StringVar(&action, "action", "", "action to trigger on the --every schedule")
	watchCmd.Flags().StringVar(&origin, "origin", "guisync", "origin of triggered actions")
	watchCmd.Flags().StringVar(&argsValue, "args", "", "action arguments (YAML or JSON)")
	watchCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address for serving Prometheus metrics")

	getCmd.Flags().StringVar(&module, "module", "", "the variable's module")
	getCmd.Flags().StringVar(&jsonPath, "path", "", "gjson path into the value")

	updateCmd.Flags().StringVar(&module, "module", "", "the variable's module")
	updateCmd.Flags().DurationVar(&wait, "wait", 2*time.Second, "how long to wait for an acknowledgement")

	triggerCmd.Flags().StringVar(&module, "module", "", "the action's module; ACTION is then a function name")
	triggerCmd.Flags().StringVar(&origin, "origin", "guisync", "origin of the action")
	triggerCmd.Flags().StringVar(&argsValue, "args", "", "action arguments (YAML or JSON)")
	triggerCmd.Flags().DurationVar(&wait, "wait", 2*time.Second, "how long to wait for an acknowledgement")
}
