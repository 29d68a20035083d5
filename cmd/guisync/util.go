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
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/jsccast/yaml"
	"github.com/pterm/pterm"
	"github.com/tidwall/gjson"
)

// parseValue reads a command-line value as YAML, which also accepts
// JSON.  An empty string is an empty string.
func parseValue(s string) (interface{}, error) {
	if strings.TrimSpace(s) == "" {
		return s, nil
	}
	var x interface{}
	if err := yaml.Unmarshal([]byte(s), &x); err != nil {
		return nil, fmt.Errorf("bad value %q: %w", s, err)
	}
	return x, nil
}

// render writes a value as JSON.  If path isn't empty, only the part
// of the value at that gjson path is rendered.
func render(x interface{}, path string) (string, error) {
	js, err := json.Marshal(&x)
	if err != nil {
		return "", err
	}
	if path == "" {
		return string(js), nil
	}
	r := gjson.GetBytes(js, path)
	if !r.Exists() {
		return "", fmt.Errorf("nothing at %q", path)
	}
	return r.Raw, nil
}

// schedule is a parsed cron expression.
type schedule struct {
	expr *cronexpr.Expression
}

func parseSchedule(s string) (*schedule, error) {
	e, err := cronexpr.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("bad schedule %q: %w", s, err)
	}
	return &schedule{expr: e}, nil
}

// next returns how long after from the next scheduled time is.  The
// second result is false if there is no next time.
func (s *schedule) next(from time.Time) (time.Duration, bool) {
	t := s.expr.Next(from)
	if t.IsZero() {
		return 0, false
	}
	return t.Sub(from), true
}

// notify prints an alert according to its severity.
func notify(severity, message string) {
	switch strings.ToLower(severity) {
	case "error":
		pterm.Error.Println(message)
	case "warning":
		pterm.Warning.Println(message)
	case "success":
		pterm.Success.Println(message)
	default:
		pterm.Info.Println(message)
	}
}
