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
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Filter restricts the rows of a tabular request.
type Filter struct {
	Column string      `json:"col" yaml:"col"`
	Action string      `json:"action" yaml:"action"`
	Value  interface{} `json:"value" yaml:"value"`
}

// Query is the shape of a parameterized data request.
//
// Two Queries with equal fields have equal Keys.
type Query struct {
	Columns    []string          `json:"columns,omitempty" yaml:"columns,omitempty"`
	Start      int               `json:"start" yaml:"start"`
	End        int               `json:"end" yaml:"end"`
	OrderBy    string            `json:"orderby,omitempty" yaml:"orderby,omitempty"`
	Sort       string            `json:"sort,omitempty" yaml:"sort,omitempty"`
	Filters    []Filter          `json:"filters,omitempty" yaml:"filters,omitempty"`
	Aggregates []string          `json:"aggregates,omitempty" yaml:"aggregates,omitempty"`
	Applies    map[string]string `json:"applies,omitempty" yaml:"applies,omitempty"`
	Infinite   bool              `json:"infinite,omitempty" yaml:"infinite,omitempty"`
}

// Key renders the query as a request key.
//
// The key is a plain concatenation of the query's fields.  Separators
// that occur inside field values are escaped and lists carry their
// lengths, so distinct queries never share a key.  Filter values that
// are equal numbers render the same whatever their Go types.
func (q *Query) Key() string {
	if q == nil {
		return ""
	}
	parts := []string{
		strconv.Itoa(q.Start),
		strconv.Itoa(q.End),
		list(q.Columns),
		escape(q.OrderBy),
		escape(q.Sort),
		list(q.Aggregates),
		q.applies(),
		q.filters(),
	}
	if q.Infinite {
		parts = append(parts, "inf")
	}
	return strings.Join(parts, "-")
}

// Payload renders the query as the options map of a request.
func (q *Query) Payload() map[string]interface{} {
	p := map[string]interface{}{
		"start": q.Start,
		"end":   q.End,
	}
	if 0 < len(q.Columns) {
		p["columns"] = q.Columns
	}
	if q.OrderBy != "" {
		p["orderby"] = q.OrderBy
	}
	if q.Sort != "" {
		p["sort"] = q.Sort
	}
	if 0 < len(q.Filters) {
		p["filters"] = q.Filters
	}
	if 0 < len(q.Aggregates) {
		p["aggregates"] = q.Aggregates
	}
	if 0 < len(q.Applies) {
		p["applies"] = q.Applies
	}
	if q.Infinite {
		p["infinite"] = true
	}
	return p
}

func (q *Query) applies() string {
	cols := make([]string, 0, len(q.Applies))
	for c := range q.Applies {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	acc := make([]string, len(cols))
	for i, c := range cols {
		acc[i] = escape(c) + ":" + escape(q.Applies[c])
	}
	return counted(acc)
}

func (q *Query) filters() string {
	acc := make([]string, len(q.Filters))
	for i, f := range q.Filters {
		acc[i] = escape(f.Column) + ":" + escape(f.Action) + ":" + escape(scalar(f.Value))
	}
	return counted(acc)
}

func list(xs []string) string {
	acc := make([]string, len(xs))
	for i, x := range xs {
		acc[i] = escape(x)
	}
	return counted(acc)
}

// counted joins escaped items and prefixes their number, which tells
// an empty list from a list with one empty item.
func counted(items []string) string {
	return strconv.Itoa(len(items)) + "[" + strings.Join(items, ",") + "]"
}

var escaper = strings.NewReplacer(`\`, `\\`, `-`, `\-`, `,`, `\,`, `:`, `\:`)

func escape(s string) string {
	return escaper.Replace(s)
}

func scalar(x interface{}) string {
	switch vv := x.(type) {
	case nil:
		return ""
	case string:
		return "s" + vv
	case bool:
		return "b" + strconv.FormatBool(vv)
	case json.Number:
		if f, err := vv.Float64(); err == nil {
			return scalar(f)
		}
		return "n" + string(vv)
	case float64:
		if math.Trunc(vv) == vv && math.Abs(vv) < 1<<53 {
			return "n" + strconv.FormatInt(int64(vv), 10)
		}
		return "n" + strconv.FormatFloat(vv, 'g', -1, 64)
	case float32:
		return scalar(float64(vv))
	case int:
		return "n" + strconv.FormatInt(int64(vv), 10)
	case int8:
		return "n" + strconv.FormatInt(int64(vv), 10)
	case int16:
		return "n" + strconv.FormatInt(int64(vv), 10)
	case int32:
		return "n" + strconv.FormatInt(int64(vv), 10)
	case int64:
		return "n" + strconv.FormatInt(vv, 10)
	case uint:
		return "n" + strconv.FormatUint(uint64(vv), 10)
	case uint8:
		return "n" + strconv.FormatUint(uint64(vv), 10)
	case uint16:
		return "n" + strconv.FormatUint(uint64(vv), 10)
	case uint32:
		return "n" + strconv.FormatUint(uint64(vv), 10)
	case uint64:
		return "n" + strconv.FormatUint(vv, 10)
	default:
		js, err := json.Marshal(vv)
		if err != nil {
			return fmt.Sprintf("?%#v", vv)
		}
		return "j" + string(js)
	}
}
