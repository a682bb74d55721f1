/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Handler runs a command with its positional JSON arguments.
type Handler func(ctx context.Context, args []json.RawMessage) (any, error)

// Param documents one positional argument.
type Param struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Optional    bool   `json:"optional,omitempty"`
}

// Command is one entry of the command table.
type Command struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Params      []Param `json:"params,omitempty"`
	Handler     Handler `json:"-"`
}

// Table maps command names to handlers. It is built once and then read
// concurrently.
type Table struct {
	mu   sync.RWMutex
	cmds map[string]Command
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{cmds: make(map[string]Command)}
}

// Register adds c. Names are unique.
func (t *Table) Register(c Command) error {
	if c.Name == "" || c.Handler == nil {
		return errors.New("command needs a name and a handler")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, dup := t.cmds[c.Name]; dup {
		return fmt.Errorf("command %s already registered", c.Name)
	}
	t.cmds[c.Name] = c
	return nil
}

// MustRegister is Register for static tables.
func (t *Table) MustRegister(cmds ...Command) {
	for _, c := range cmds {
		if err := t.Register(c); err != nil {
			panic(err)
		}
	}
}

// Lookup returns the command registered under name.
func (t *Table) Lookup(name string) (Command, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.cmds[name]
	return c, ok
}

// Names returns the sorted command names.
func (t *Table) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.cmds))
	for n := range t.cmds {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Commands returns every command sorted by name.
func (t *Table) Commands() []Command {
	names := t.Names()
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Command, 0, len(names))
	for _, n := range names {
		out = append(out, t.cmds[n])
	}
	return out
}

// Invoke spreads data into positional arguments and runs the named command.
func (t *Table) Invoke(ctx context.Context, name string, data json.RawMessage) (any, error) {
	c, ok := t.Lookup(name)
	if !ok {
		return nil, notFound(name)
	}
	args, err := SpreadArgs(data)
	if err != nil {
		return nil, &ArgError{Command: name, Err: err}
	}
	res, err := c.Handler(ctx, args)
	var ae *ArgError
	if errors.As(err, &ae) && ae.Command == "" {
		ae.Command = name
	}
	return res, err
}

// SpreadArgs turns message data into positional arguments: absent or null
// data is no arguments, an array is spread, anything else is one argument.
func SpreadArgs(data json.RawMessage) ([]json.RawMessage, error) {
	d := bytes.TrimSpace(data)
	if len(d) == 0 || bytes.Equal(d, []byte("null")) {
		return nil, nil
	}
	if d[0] != '[' {
		return []json.RawMessage{d}, nil
	}
	var args []json.RawMessage
	if err := json.Unmarshal(d, &args); err != nil {
		return nil, err
	}
	return args, nil
}
