/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */


// Package crash turns a panic at the top of the CLI into a crash report, an
// autosave of the open poster and a non-zero exit.
package crash

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	applog "goposter/internal/log"
	"goposter/internal/scene"
	"goposter/internal/telemetry"
	"goposter/internal/version"
)

// exitFn is used to allow testing of Recover without terminating the test process.
var exitFn = os.Exit

// Source yields the document to autosave.
type Source interface {
	ToJSON() scene.Document
}

// Ref holds the source to autosave. It may be set after Recover was
// deferred.
type Ref struct {
	mu  sync.Mutex
	src Source
}

// Set installs src.
func (r *Ref) Set(src Source) {
	r.mu.Lock()
	r.src = src
	r.mu.Unlock()
}

func (r *Ref) get() Source {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.src
}

// DefaultDir is where reports go when no directory is given.
func DefaultDir() string { return filepath.Join(os.TempDir(), "goposter-crash") }

// Recover captures a panic, logs it with its stack, writes a report to dir,
// autosaves the source held by ref next to it and exits with code 2. It
// must be deferred directly.
//
// Usage: defer crash.Recover(ref, dir)
func Recover(ref *Ref, dir string) {
	r := recover()
	if r == nil {
		return
	}
	l := applog.WithComponent("crash")
	stack := debug.Stack()
	l.Error("panic recovered", slog.Any("panic", r), slog.String("stack", string(stack)))
	if dir == "" {
		dir = DefaultDir()
	}

	reportPath, err := writeReport(dir, r, stack)
	if err != nil {
		l.Error("crash report failed", slog.Any("err", err))
	}
	if src := ref.get(); src != nil {
		if path, err := Autosave(src, dir); err != nil {
			l.Error("autosave failed", slog.Any("err", err))
		} else {
			l.Info("autosave written", slog.String("path", path))
		}
	}

	if _, err := fmt.Fprintf(os.Stderr, "A fatal error occurred. A crash report was saved to: %s\n", reportPath); err != nil {
		l.Error("failed to write crash message to stderr", slog.Any("err", err))
	}
	if _, err := fmt.Fprintf(os.Stderr, "Version: %s\nOS/Arch: %s/%s\n", version.String(), runtime.GOOS, runtime.GOARCH); err != nil {
		l.Error("failed to write version info to stderr", slog.Any("err", err))
	}
	exitFn(2)
}

// Autosave writes the current document of src to dir. A panic while
// reading the document is returned as an error.
func Autosave(src Source, dir string) (path string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read document: %v", r)
		}
	}()
	data, err := src.ToJSON().Encode()
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path = filepath.Join(dir, fmt.Sprintf("autosave-%s.json", time.Now().Format("20060102-150405")))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func writeReport(dir string, panicVal any, stack []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("crash-%s.log", time.Now().Format("20060102-150405")))

	var buf bytes.Buffer
	_, _ = fmt.Fprintf(&buf, "GoPoster Crash Report\n")
	_, _ = fmt.Fprintf(&buf, "Timestamp: %s\n", time.Now().Format(time.RFC3339))
	_, _ = fmt.Fprintf(&buf, "Version: %s\n", version.String())
	_, _ = fmt.Fprintf(&buf, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	_, _ = fmt.Fprintf(&buf, "\nPanic: %v\n\n", panicVal)
	_, _ = fmt.Fprintf(&buf, "Stack:\n%s\n", string(stack))

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return path, err
	}

	// upload only when opted in
	telemetry.UploadCrash(buf.Bytes())
	return path, nil
}
