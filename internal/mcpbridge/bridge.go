/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package mcpbridge publishes the editor command table as MCP tools. Every
// command becomes a tool whose named inputs are the command's positional
// parameters.
package mcpbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	applog "goposter/internal/log"
	"goposter/internal/remote"
	"goposter/internal/version"
)

// Option configures Register.
type Option func(*config)

type config struct {
	observer remote.Observer
	log      *slog.Logger
	skip     map[string]bool
}

// WithObserver installs a hook run after every tool call.
func WithObserver(o remote.Observer) Option {
	return func(c *config) { c.observer = o }
}

// WithLogger sets the bridge logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.log = l }
}

// Skip leaves the named commands out of the tool list.
func Skip(names ...string) Option {
	return func(c *config) {
		for _, n := range names {
			c.skip[n] = true
		}
	}
}

// NewServer returns an MCP server exposing every command of t.
func NewServer(t *remote.Table, opts ...Option) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "goposter", Version: version.Version}, nil)
	Register(srv, t, opts...)
	return srv
}

// Register adds one tool per command of t to srv.
func Register(srv *mcp.Server, t *remote.Table, opts ...Option) {
	cfg := config{skip: map[string]bool{}}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.log == nil {
		cfg.log = applog.WithComponent("mcp")
	}
	n := 0
	for _, c := range t.Commands() {
		if cfg.skip[c.Name] {
			continue
		}
		srv.AddTool(&mcp.Tool{
			Name:        c.Name,
			Description: c.Description,
			InputSchema: json.RawMessage(mustMarshal(InputSchema(c))),
		}, handler(t, c, &cfg))
		n++
	}
	cfg.log.Debug("tools registered", slog.Int("count", n))
}

// Handler serves srv over streamable HTTP.
func Handler(srv *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil)
}

// ServeStdio runs srv on stdin/stdout until ctx is done or the client goes
// away.
func ServeStdio(ctx context.Context, srv *mcp.Server) error {
	return srv.Run(ctx, &mcp.StdioTransport{})
}

func handler(t *remote.Table, c remote.Command, cfg *config) mcp.ToolHandler {
	name := c.Name
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var in map[string]json.RawMessage
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &in); err != nil {
				return toolError(fmt.Errorf("%s: invalid arguments: %w", name, err)), nil
			}
		}
		data, err := Positional(c, in)
		if err != nil {
			return toolError(err), nil
		}

		start := time.Now()
		res, err := t.Invoke(ctx, name, data)
		if cfg.observer != nil {
			cfg.observer(name, time.Since(start), err)
		}
		if err != nil {
			cfg.log.Debug("tool failed", slog.String("tool", name), slog.Any("err", err))
			return toolError(fmt.Errorf("%s: %w", name, err)), nil
		}
		text, err := json.Marshal(res)
		if err != nil {
			return toolError(fmt.Errorf("%s: encode result: %w", name, err)), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(text)}},
		}, nil
	}
}

func toolError(err error) *mcp.CallToolResult {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res
}

// Positional orders named tool inputs by the command's parameter list. A
// missing parameter followed by a present one is passed as null; trailing
// missing parameters are dropped.
func Positional(c remote.Command, in map[string]json.RawMessage) (json.RawMessage, error) {
	for k := range in {
		if !hasParam(c, k) {
			return nil, fmt.Errorf("%s: unknown argument %q", c.Name, k)
		}
	}
	last := -1
	for i, p := range c.Params {
		if _, ok := in[p.Name]; ok {
			last = i
		} else if !p.Optional {
			return nil, fmt.Errorf("%s: missing argument %q", c.Name, p.Name)
		}
	}
	args := make([]json.RawMessage, 0, last+1)
	for _, p := range c.Params[:last+1] {
		v, ok := in[p.Name]
		if !ok {
			v = json.RawMessage("null")
		}
		args = append(args, v)
	}
	return json.Marshal(args)
}

func hasParam(c remote.Command, name string) bool {
	for _, p := range c.Params {
		if p.Name == name {
			return true
		}
	}
	return false
}

// InputSchema describes the command's parameters as a JSON schema object.
func InputSchema(c remote.Command) map[string]any {
	props := map[string]any{}
	required := []string{}
	for _, p := range c.Params {
		s := map[string]any{}
		if p.Description != "" {
			s["description"] = p.Description
		}
		switch p.Type {
		case "string", "number", "integer", "boolean", "object", "array":
			s["type"] = p.Type
		}
		props[p.Name] = s
		if !p.Optional {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("mcpbridge: marshal input schema: %v", err))
	}
	return data
}
