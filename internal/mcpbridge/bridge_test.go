/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package mcpbridge

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"goposter/internal/editor"
	applog "goposter/internal/log"
	"goposter/internal/remote"
	"goposter/internal/scene/memengine"
)

var testImpl = &mcp.Implementation{Name: "goposter-test", Version: "0.1.0"}

func mcpSession(t *testing.T, opts ...Option) (*mcp.ClientSession, *editor.Editor) {
	t.Helper()
	ed, err := editor.New(memengine.New(800, 600, "#ffffff"), editor.Options{Logger: applog.Discard()})
	if err != nil {
		t.Fatalf("editor.New: %v", err)
	}
	t.Cleanup(func() { _ = ed.Destroy() })
	srv := NewServer(ed.Table(), append(opts, WithLogger(applog.Discard()))...)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session, ed
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args any) *mcp.CallToolResult {
	t.Helper()
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	return res
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatalf("empty tool result")
	}
	tc, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", res.Content[0])
	}
	return tc.Text
}

func TestToolsMirrorCommands(t *testing.T) {
	session, ed := mcpSession(t, Skip("destroy"))
	list, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	got := map[string]bool{}
	for _, tool := range list.Tools {
		got[tool.Name] = true
	}
	if got["destroy"] {
		t.Fatalf("skipped command was published")
	}
	for _, name := range ed.Table().Names() {
		if name != "destroy" && !got[name] {
			t.Errorf("command %s has no tool", name)
		}
	}
}

func TestCallTools(t *testing.T) {
	var calls []string
	session, ed := mcpSession(t, WithObserver(func(cmd string, _ time.Duration, _ error) {
		calls = append(calls, cmd)
	}))

	res := callTool(t, session, "addRect", map[string]any{"options": map[string]any{"fill": "#123456"}})
	if err := res.GetError(); err != nil {
		t.Fatalf("addRect: %v", err)
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(text(t, res)), &obj); err != nil || obj["fill"] != "#123456" {
		t.Fatalf("addRect result = %s", text(t, res))
	}

	res = callTool(t, session, "setCanvasSize", map[string]any{"width": 1024, "height": 768})
	if err := res.GetError(); err != nil {
		t.Fatalf("setCanvasSize: %v", err)
	}
	if c := ed.Scene().Data().Canvas; c.Width != 1024 || c.Height != 768 {
		t.Fatalf("canvas = %+v", c)
	}

	res = callTool(t, session, "getObjects", map[string]any{})
	want, _ := json.Marshal(ed.GetObjects())
	if got := text(t, res); got != string(want) {
		t.Fatalf("getObjects = %s, want %s", got, want)
	}
	if len(calls) != 3 {
		t.Fatalf("observer calls = %v", calls)
	}
}

func TestToolErrors(t *testing.T) {
	session, _ := mcpSession(t)
	res := callTool(t, session, "setCanvasSize", map[string]any{"width": -5, "height": 10})
	if !res.IsError {
		t.Fatalf("negative width should be a tool error")
	}
	if msg := text(t, res); !strings.Contains(msg, "invalid canvas size") {
		t.Fatalf("canvas size error = %q", msg)
	}
	res = callTool(t, session, "getObject", map[string]any{"id": "missing"})
	if !res.IsError {
		t.Fatalf("missing object should be a tool error")
	}
	if msg := text(t, res); !strings.Contains(msg, "object not found") {
		t.Fatalf("missing object error = %q", msg)
	}
}

func TestPositional(t *testing.T) {
	c := remote.Command{Name: "f", Params: []remote.Param{
		{Name: "a", Type: "string"},
		{Name: "b", Type: "object", Optional: true},
		{Name: "c", Type: "number", Optional: true},
	}}
	cases := []struct {
		in   map[string]json.RawMessage
		want string
		err  bool
	}{
		{map[string]json.RawMessage{"a": json.RawMessage(`"x"`)}, `["x"]`, false},
		{map[string]json.RawMessage{"a": json.RawMessage(`"x"`), "c": json.RawMessage(`3`)}, `["x",null,3]`, false},
		{map[string]json.RawMessage{"c": json.RawMessage(`3`)}, "", true},
		{map[string]json.RawMessage{"a": json.RawMessage(`"x"`), "z": json.RawMessage(`1`)}, "", true},
	}
	for i, tc := range cases {
		got, err := Positional(c, tc.in)
		if (err != nil) != tc.err {
			t.Fatalf("case %d: err = %v", i, err)
		}
		if !tc.err && string(got) != tc.want {
			t.Fatalf("case %d: got %s, want %s", i, got, tc.want)
		}
	}

	schema := InputSchema(c)
	if req, _ := schema["required"].([]string); len(req) != 1 || req[0] != "a" {
		t.Fatalf("required = %v", schema["required"])
	}
}
