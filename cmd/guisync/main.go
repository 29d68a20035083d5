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

// Package main is a command-line client that syncs with a server's
// variables.
//
//    guisync watch --url ws://localhost:5000/ws --hooks hooks.js
//    guisync get x --module mod1 --path 'rows.0'
//    guisync update TPEC_x '{a: 1}'
//    guisync trigger on_click --origin btn1
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Comcast/guisync/client"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	confFile    string
	url         string
	path        string
	transport   string
	sessionKind string
	sessionFile string
	syncTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "guisync",
	Short:         "Sync with a server-driven UI's variables",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		glog.Flush()
	},
}

func init() {
	fs := rootCmd.PersistentFlags()
	addGlogFlags(fs)
	fs.StringVar(&confFile, "config", "", "YAML configuration file")
	fs.StringVar(&url, "url", "", "server URL (overrides the configuration)")
	fs.StringVar(&path, "page", "", "initial page path (overrides the configuration)")
	fs.StringVar(&transport, "transport", "", "ws or mqtt (overrides the configuration)")
	fs.StringVar(&sessionKind, "session", "", "session storage: mem, json or bolt")
	fs.StringVar(&sessionFile, "session-file", "", "session storage filename")
	fs.DurationVar(&syncTimeout, "sync-timeout", 10*time.Second, "how long to wait for the handshake")

	rootCmd.AddCommand(watchCmd, getCmd, updateCmd, triggerCmd)
}

// addGlogFlags exposes glog's flags (-v, -logtostderr, ...).
func addGlogFlags(fs *pflag.FlagSet) {
	fs.AddGoFlagSet(flag.CommandLine)
}

// conf loads the configuration file, if any, and applies the flags.
func conf() (*client.Conf, error) {
	c := client.DefaultConf()
	if confFile != "" {
		var err error
		if c, err = client.LoadConf(confFile); err != nil {
			return nil, err
		}
	}
	if url != "" {
		c.URL = url
	}
	if path != "" {
		c.Path = path
	}
	if transport != "" {
		c.Transport = transport
	}
	if sessionKind != "" {
		c.Session.Kind = sessionKind
	}
	if sessionFile != "" {
		c.Session.Filename = sessionFile
	}
	return c, nil
}

func main() {
	// glog wants flag.Parse to have been called.
	flag.CommandLine.Parse(nil)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		glog.Flush()
		os.Exit(1)
	}
}
