/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"goposter/internal/editor"
	applog "goposter/internal/log"
	"goposter/internal/remote"
	"goposter/internal/scene"
	"goposter/internal/scene/memengine"
)

const allowedOrigin = "http://localhost:3000"

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *editor.Editor) {
	t.Helper()
	ed, err := editor.New(memengine.New(800, 600, "#ffffff"), editor.Options{Logger: applog.Discard()})
	if err != nil {
		t.Fatalf("editor.New: %v", err)
	}
	if opts.AllowedOrigins == nil {
		opts.AllowedOrigins = []string{allowedOrigin}
	}
	opts.Logger = applog.Discard()
	srv := httptest.NewServer(New(ed, opts).Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = ed.Destroy()
	})
	return srv, ed
}

func get(t *testing.T, url string, header http.Header) (*http.Response, string) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, url, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, string(b)
}

func TestHealthVersionReady(t *testing.T) {
	srv, ed := newTestServer(t, Options{})
	if resp, body := get(t, srv.URL+"/healthz", nil); resp.StatusCode != 200 || body != "ok" {
		t.Fatalf("healthz = %d %q", resp.StatusCode, body)
	}
	if resp, body := get(t, srv.URL+"/version", nil); resp.StatusCode != 200 || body == "" {
		t.Fatalf("version = %d %q", resp.StatusCode, body)
	}
	if resp, _ := get(t, srv.URL+"/readyz", nil); resp.StatusCode != 200 {
		t.Fatalf("readyz = %d", resp.StatusCode)
	}
	_ = ed.Destroy()
	if resp, _ := get(t, srv.URL+"/readyz", nil); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("readyz after destroy = %d", resp.StatusCode)
	}
}

func TestRESTCommands(t *testing.T) {
	var observed atomic.Int32
	srv, ed := newTestServer(t, Options{Observer: func(string, time.Duration, error) { observed.Add(1) }})
	c := NewClient(srv.URL+"/", "")
	ctx := context.Background()

	cmds, err := c.Commands(ctx)
	if err != nil || len(cmds) == 0 {
		t.Fatalf("Commands: %v %v", cmds, err)
	}
	raw, err := c.Call(ctx, "addRect", scene.Props{"fill": "#abcdef"})
	if err != nil {
		t.Fatalf("addRect: %v", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil || obj["fill"] != "#abcdef" {
		t.Fatalf("addRect result = %s", raw)
	}
	if n := len(ed.GetObjects()); n != 1 {
		t.Fatalf("objects = %d", n)
	}
	raw, err = c.CallRaw(ctx, "getObjects", nil)
	want, _ := json.Marshal(ed.GetObjects())
	if err != nil || string(raw) != string(want) {
		t.Fatalf("getObjects = %s, want %s (%v)", raw, want, err)
	}

	var rerr *remote.RemoteError
	if _, err := c.Call(ctx, "fly"); !errors.As(err, &rerr) || rerr.Message != "command not found: fly" {
		t.Fatalf("unknown command err = %v", err)
	}
	if observed.Load() != 3 {
		t.Fatalf("observer saw %d calls, want 3", observed.Load())
	}

	cases := []struct {
		name, body string
		status     int
	}{
		{"fly", "", http.StatusNotFound},
		{"setCanvasSize", `["wide", 10]`, http.StatusBadRequest},
		{"setCanvasSize", `[10`, http.StatusBadRequest},
		{"loadFromJSON", `{"objects":[{"left":1}]}`, http.StatusBadRequest},
		{"saveDocument", `"poster"`, http.StatusNotImplemented},
		{"setCanvasSize", `[1024, 768]`, http.StatusOK},
	}
	for _, tc := range cases {
		resp, err := http.Post(srv.URL+"/api/commands/"+tc.name, "application/json", strings.NewReader(tc.body))
		if err != nil {
			t.Fatal(err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != tc.status {
			t.Errorf("%s %s: status %d, want %d", tc.name, tc.body, resp.StatusCode, tc.status)
		}
	}
}

func TestOriginAndToken(t *testing.T) {
	srv, _ := newTestServer(t, Options{Token: "s3cret"})

	h := http.Header{}
	h.Set("Origin", "https://evil.test")
	h.Set("Authorization", "Bearer s3cret")
	if resp, _ := get(t, srv.URL+"/api/commands", h); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign origin status = %d", resp.StatusCode)
	}

	if resp, _ := get(t, srv.URL+"/api/commands", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d", resp.StatusCode)
	}
	h = http.Header{}
	h.Set("Authorization", "Bearer wrong")
	if resp, _ := get(t, srv.URL+"/api/commands", h); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d", resp.StatusCode)
	}

	h = http.Header{}
	h.Set("Origin", allowedOrigin)
	h.Set("Authorization", "Bearer s3cret")
	resp, _ := get(t, srv.URL+"/api/commands", h)
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Access-Control-Allow-Origin") != allowedOrigin {
		t.Fatalf("allowed origin = %d %q", resp.StatusCode, resp.Header.Get("Access-Control-Allow-Origin"))
	}
	if resp, _ := get(t, srv.URL+"/api/commands?token=s3cret", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("query token status = %d", resp.StatusCode)
	}

	for _, path := range []string{"/api/commands/addRect", "/api/commands"} {
		req, _ := http.NewRequest(http.MethodOptions, srv.URL+path, nil)
		req.Header.Set("Origin", allowedOrigin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "authorization, content-type")
		pre, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		_ = pre.Body.Close()
		if pre.StatusCode != http.StatusNoContent {
			t.Fatalf("preflight %s status = %d", path, pre.StatusCode)
		}
		if got := pre.Header.Get("Access-Control-Allow-Headers"); !strings.Contains(got, "Authorization") {
			t.Fatalf("preflight %s allow headers = %q", path, got)
		}
		if got := pre.Header.Get("Access-Control-Allow-Origin"); got != allowedOrigin {
			t.Fatalf("preflight %s allow origin = %q", path, got)
		}
	}

	if _, err := NewClient(srv.URL, "").Commands(context.Background()); err == nil {
		t.Fatalf("client without token should fail")
	}
	if _, err := NewClient(srv.URL, "s3cret").Commands(context.Background()); err != nil {
		t.Fatalf("client with token: %v", err)
	}
}

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
}

func TestWebSocketRoundTrip(t *testing.T) {
	srv, ed := newTestServer(t, Options{Token: "s3cret"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	port, err := remote.DialWS(ctx, wsURL(srv, "?token=s3cret"), allowedOrigin, nil)
	if err != nil {
		t.Fatalf("DialWS: %v", err)
	}
	proxy := remote.NewProxy(port, remote.WithTimeout(3*time.Second))
	defer proxy.Close()

	added := make(chan json.RawMessage, 1)
	proxy.On("circle:added", func(p any) error {
		added <- p.(json.RawMessage)
		return nil
	})
	if _, err := proxy.Call(ctx, "addCircle", scene.Props{"radius": 7}); err != nil {
		t.Fatalf("addCircle: %v", err)
	}
	select {
	case raw := <-added:
		if !strings.Contains(string(raw), `"radius":7`) {
			t.Fatalf("relayed payload = %s", raw)
		}
	case <-ctx.Done():
		t.Fatal("circle:added was not relayed")
	}

	got, err := proxy.Call(ctx, "getObjects")
	want, _ := json.Marshal(ed.GetObjects())
	if err != nil || string(got) != string(want) {
		t.Fatalf("getObjects = %s, want %s (%v)", got, want, err)
	}

	var rerr *remote.RemoteError
	if _, err := proxy.Call(ctx, "fly"); !errors.As(err, &rerr) {
		t.Fatalf("unknown command err = %v", err)
	}
}

func TestWebSocketRejections(t *testing.T) {
	srv, _ := newTestServer(t, Options{Token: "s3cret"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := remote.DialWS(ctx, wsURL(srv, "?token=s3cret"), "https://evil.test", nil); err == nil {
		t.Fatalf("foreign origin should be rejected")
	}
	if _, err := remote.DialWS(ctx, wsURL(srv, ""), allowedOrigin, nil); err == nil {
		t.Fatalf("missing token should be rejected")
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer s3cret")
	port, err := remote.DialWS(ctx, wsURL(srv, ""), allowedOrigin, h)
	if err != nil {
		t.Fatalf("header token: %v", err)
	}
	_ = port.Close()
}

func TestEventStream(t *testing.T) {
	srv, ed := newTestServer(t, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	if _, err := ed.Exec(ctx, "addRect"); err != nil {
		t.Fatal(err)
	}
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for sc.Scan() {
		if sc.Text() == "event: rect:added" {
			return
		}
	}
	t.Fatalf("rect:added not streamed: %v", sc.Err())
}

func TestEventStreamKeepsEveryEvent(t *testing.T) {
	srv, ed := newTestServer(t, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	const n = 500
	for i := 0; i < n; i++ {
		ed.Bus().Publish("tick", i)
	}
	sc := bufio.NewScanner(resp.Body)
	got := 0
	for got < n && sc.Scan() {
		if sc.Text() == "event: tick" {
			got++
		}
	}
	if got != n {
		t.Fatalf("streamed %d of %d events: %v", got, n, sc.Err())
	}
}
