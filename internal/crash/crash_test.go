/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */


package crash

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"goposter/internal/scene"
)

type fixedDoc struct{ doc scene.Document }

func (f fixedDoc) ToJSON() scene.Document { return f.doc }

type panickyDoc struct{}

func (panickyDoc) ToJSON() scene.Document { panic("scene gone") }

func findFile(t *testing.T, dir, prefix, suffix string) string {
	t.Helper()
	files, _ := os.ReadDir(dir)
	for _, f := range files {
		if strings.HasPrefix(f.Name(), prefix) && strings.HasSuffix(f.Name(), suffix) {
			return filepath.Join(dir, f.Name())
		}
	}
	t.Fatalf("no %s*%s under %s", prefix, suffix, dir)
	return ""
}

func TestWriteReport(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	path, err := writeReport(dir, "boom", []byte("stacktrace"))
	if err != nil {
		t.Fatalf("writeReport error: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	s := string(b)
	if !strings.Contains(s, "GoPoster Crash Report") || !strings.Contains(s, "Panic: boom") {
		t.Fatalf("report content: %s", s)
	}
}

func TestAutosave(t *testing.T) {
	dir := t.TempDir()
	doc := scene.Document{Version: "1", Canvas: scene.Canvas{Width: 10, Height: 20, BackgroundColor: "#fff"}}
	path, err := Autosave(fixedDoc{doc}, dir)
	if err != nil {
		t.Fatalf("Autosave: %v", err)
	}
	b, _ := os.ReadFile(path)
	var got scene.Document
	if err := json.Unmarshal(b, &got); err != nil || got.Canvas.Height != 20 {
		t.Fatalf("autosave = %s (%v)", b, err)
	}
	if _, err := Autosave(panickyDoc{}, dir); err == nil {
		t.Fatalf("panicking source should fail the autosave")
	}
}

func TestRecover(t *testing.T) {
	oldStderr := os.Stderr
	r, w, _ := os.Pipe()
	os.Stderr = w
	defer func() {
		_ = w.Close()
		os.Stderr = oldStderr
		_, _ = io.Copy(io.Discard, r)
	}()

	called := 0
	oldExit := exitFn
	exitFn = func(code int) { called = code }
	defer func() { exitFn = oldExit }()

	dir := t.TempDir()
	var ref Ref
	func() {
		defer Recover(&ref, dir)
		ref.Set(fixedDoc{scene.Document{Version: "1"}})
		panic("boom")
	}()

	b, err := os.ReadFile(findFile(t, dir, "crash-", ".log"))
	if err != nil || !strings.Contains(string(b), "Panic: boom") {
		t.Fatalf("report = %s (%v)", b, err)
	}
	findFile(t, dir, "autosave-", ".json")
	if called != 2 {
		t.Fatalf("expected exit code 2, got %d", called)
	}
}

func TestRecoverWithoutPanic(t *testing.T) {
	called := false
	oldExit := exitFn
	exitFn = func(int) { called = true }
	defer func() { exitFn = oldExit }()
	func() {
		defer Recover(nil, t.TempDir())
	}()
	if called {
		t.Fatalf("exit without panic")
	}
}
