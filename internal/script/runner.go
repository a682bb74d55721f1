/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */


// Package script runs Lua automation scripts against the editor command
// table. Scripts see a global "poster" table holding one function per
// command, plus poster.call(name, ...) and poster.commands().
package script

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	applog "goposter/internal/log"
	"goposter/internal/remote"
)

// DefaultTimeout bounds one script run.
const DefaultTimeout = 30 * time.Second

// Globals removed from the base library: they load code from disk or
// strings.
var unsafeGlobals = []string{"dofile", "loadfile", "load", "loadstring", "require", "module"}

// Options configures a Runner.
type Options struct {
	// Output receives print(); nil logs each printed line.
	Output  io.Writer
	Timeout time.Duration
	Logger  *slog.Logger
}

// Runner executes scripts. Every run gets a fresh Lua state.
type Runner struct {
	table *remote.Table
	opts  Options
	log   *slog.Logger
}

// New returns a runner driving t.
func New(t *remote.Table, opts Options) *Runner {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	l := opts.Logger
	if l == nil {
		l = applog.WithComponent("script")
	}
	return &Runner{table: t, opts: opts, log: l}
}

// RunFile runs the script at path.
func (r *Runner) RunFile(ctx context.Context, path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}
	return r.Run(ctx, filepath.Base(path), string(src))
}

// Run executes src. name is used in error positions.
func (r *Runner) Run(ctx context.Context, name, src string) error {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	L := newState()
	defer L.Close()
	L.SetContext(ctx)
	L.SetGlobal("print", L.NewFunction(r.print))
	L.SetGlobal("poster", r.module(L))

	log := applog.WithOperation(r.log, "run").With(slog.String("script", name))
	start := time.Now()
	fn, err := L.Load(strings.NewReader(src), name)
	if err != nil {
		return fmt.Errorf("compile %s: %w", name, err)
	}
	L.Push(fn)
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		log.Warn("script failed", slog.Any("err", err))
		return fmt.Errorf("run %s: %w", name, err)
	}
	log.Debug("script finished", slog.Duration("took", time.Since(start)))
	return nil
}

func newState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, g := range unsafeGlobals {
		L.SetGlobal(g, lua.LNil)
	}
	return L
}

func (r *Runner) print(L *lua.LState) int {
	parts := make([]string, 0, L.GetTop())
	for i := 1; i <= L.GetTop(); i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	line := strings.Join(parts, "\t")
	if r.opts.Output == nil {
		r.log.Info("print", slog.String("line", line))
		return 0
	}
	_, _ = fmt.Fprintln(r.opts.Output, line)
	return 0
}

func (r *Runner) module(L *lua.LState) *lua.LTable {
	mod := L.NewTable()
	for _, name := range r.table.Names() {
		mod.RawSetString(name, L.NewFunction(func(L *lua.LState) int {
			return r.invoke(L, name, 1)
		}))
	}
	mod.RawSetString("call", L.NewFunction(func(L *lua.LState) int {
		return r.invoke(L, L.CheckString(1), 2)
	}))
	mod.RawSetString("commands", L.NewFunction(func(L *lua.LState) int {
		names := L.NewTable()
		for _, n := range r.table.Names() {
			names.Append(lua.LString(n))
		}
		L.Push(names)
		return 1
	}))
	return mod
}

// invoke runs command name with the Lua arguments from index first on.
// Failures are raised as Lua errors so scripts can pcall them.
func (r *Runner) invoke(L *lua.LState, name string, first int) int {
	args := make([]any, 0, L.GetTop())
	for i := first; i <= L.GetTop(); i++ {
		v, err := ToGo(L.Get(i))
		if err != nil {
			L.ArgError(i, err.Error())
			return 0
		}
		args = append(args, v)
	}
	data, err := json.Marshal(args)
	if err != nil {
		L.RaiseError("%s: %s", name, err.Error())
		return 0
	}
	res, err := r.table.Invoke(L.Context(), name, data)
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	lv, err := FromResult(L, res)
	if err != nil {
		L.RaiseError("%s: %s", name, err.Error())
		return 0
	}
	L.Push(lv)
	return 1
}

// FromResult converts a command result into a Lua value through its JSON
// form.
func FromResult(L *lua.LState, res any) (lua.LValue, error) {
	if res == nil {
		return lua.LNil, nil
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return lua.LNil, err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return lua.LNil, err
	}
	return ToLua(L, v), nil
}
