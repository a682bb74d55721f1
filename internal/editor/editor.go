/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package editor is the poster editor facade. It composes the event bus, the
// scene adapter, the history manager and the command table, and exposes every
// editor operation both as a Go method and as a named command.
package editor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"goposter/internal/assets"
	"goposter/internal/event"
	applog "goposter/internal/log"
	"goposter/internal/remote"
	"goposter/internal/scene"
	"goposter/internal/storage"
	"goposter/internal/undo"
)

// Editor events not produced by the scene adapter or the history manager.
const (
	EventInitialized     = "initialized"
	EventDestroyed       = "destroyed"
	EventObjectMoved     = "object:moved"
	EventObjectCloned    = "object:cloned"
	EventObjectsDeleted  = "objects:deleted"
	EventGroupCreated    = "group:created"
	EventGroupUngrouped  = "group:ungrouped"
	EventFilterApplied   = "filter:applied"
	EventFiltersRemoved  = "filters:removed"
	EventObjectLocked    = "object:locked"
	EventObjectUnlocked  = "object:unlocked"
	EventGradientApplied = "gradient:applied"
	EventPatternApplied  = "pattern:applied"
	EventShadowApplied   = "shadow:applied"
	EventDrawingEnabled  = "drawing:enabled"
	EventDrawingDisabled = "drawing:disabled"
	EventCanvasResized   = "canvas:resized"
	EventBackground      = "background:changed"
	EventJSONLoaded      = "json:loaded"
	EventDocumentSaved   = "document:saved"
	EventDocumentOpened  = "document:opened"
	EventDocumentDeleted = "document:deleted"
)

var (
	// ErrNoStore is returned by persistence operations when no store is configured.
	ErrNoStore = errors.New("no document store configured")
	// ErrDestroyed is returned by commands after Destroy.
	ErrDestroyed = errors.New("editor destroyed")
	// ErrNotImage is returned by filter operations on anything but an image.
	ErrNotImage = errors.New("object is not an image")
)

// AssetLoader resolves image and SVG sources to their intrinsic size.
type AssetLoader interface {
	Image(ctx context.Context, src string) (assets.Image, error)
	SVG(ctx context.Context, src string) (assets.SVG, error)
}

// DocumentStore persists named documents.
type DocumentStore interface {
	SaveDocument(ctx context.Context, name string, body []byte) (storage.DocumentInfo, error)
	LoadDocument(ctx context.Context, name string) ([]byte, error)
	ListDocuments(ctx context.Context) ([]storage.DocumentInfo, error)
	DeleteDocument(ctx context.Context, name string) error
}

// Options configures New. Zero values fall back to an 800x600 white canvas,
// a 50 entry history with a baseline entry and the default persisted fields.
type Options struct {
	Width           int
	Height          int
	BackgroundColor string
	// History overrides the history configuration; nil keeps the defaults.
	History         *undo.Config
	PersistedFields []string
	Logger          *slog.Logger
	// Bus lets callers subscribe before New publishes "initialized".
	Bus    *event.Bus
	Assets AssetLoader
	Store  DocumentStore
}

// Initialized is the payload of the initialized event.
type Initialized struct {
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	BackgroundColor string `json:"backgroundColor"`
}

// Editor is the facade. Methods are meant for one goroutine at a time; the
// commands of Table serialize themselves on the editor's operation lock.
type Editor struct {
	bus    *event.Bus
	scene  *scene.Adapter
	hist   *undo.Manager
	table  *remote.Table
	assets AssetLoader
	store  DocumentStore
	log    *slog.Logger

	op        sync.Mutex
	mu        sync.Mutex
	sessions  []*remote.Session
	destroyed bool
}

// New builds an editor around eng.
func New(eng scene.Engine, opts Options) (*Editor, error) {
	if eng == nil {
		return nil, errors.New("editor needs a scene engine")
	}
	if opts.Width <= 0 {
		opts.Width = 800
	}
	if opts.Height <= 0 {
		opts.Height = 600
	}
	if opts.BackgroundColor == "" {
		opts.BackgroundColor = "#ffffff"
	}
	e := &Editor{
		bus:    opts.Bus,
		assets: opts.Assets,
		store:  opts.Store,
		log:    opts.Logger,
	}
	if e.log == nil {
		e.log = applog.WithComponent("editor")
	}
	if e.bus == nil {
		e.bus = event.New(event.WithLogger(e.log))
	}
	if e.assets == nil {
		e.assets = assets.NewLoader(assets.WithLogger(e.log))
	}

	eng.SetDimensions(opts.Width, opts.Height)
	eng.SetBackgroundColor(opts.BackgroundColor)
	e.scene = scene.NewAdapter(eng, e.bus,
		scene.WithPersistedFields(opts.PersistedFields...),
		scene.WithAdapterLogger(e.log))

	hc := undo.Config{Baseline: true}
	if opts.History != nil {
		hc = *opts.History
	}
	e.hist = undo.NewManager(hc, e.scene, e.bus)

	e.table = remote.NewTable()
	if err := e.registerCommands(); err != nil {
		return nil, fmt.Errorf("build command table: %w", err)
	}

	e.log.Info("editor initialized",
		slog.Int("width", opts.Width), slog.Int("height", opts.Height),
		slog.Int("commands", len(e.table.Names())))
	e.bus.Publish(EventInitialized, Initialized{Width: opts.Width, Height: opts.Height, BackgroundColor: opts.BackgroundColor})
	return e, nil
}

// Bus returns the event bus.
func (e *Editor) Bus() *event.Bus { return e.bus }

// Scene returns the scene adapter.
func (e *Editor) Scene() *scene.Adapter { return e.scene }

// HistoryManager returns the history manager.
func (e *Editor) HistoryManager() *undo.Manager { return e.hist }

// Table returns the command table.
func (e *Editor) Table() *remote.Table { return e.table }

// On subscribes fn to an editor event.
func (e *Editor) On(name string, fn event.Listener) *event.Subscription {
	return e.bus.Subscribe(name, fn)
}

// Once subscribes fn to the next occurrence of an editor event.
func (e *Editor) Once(name string, fn event.Listener) *event.Subscription {
	return e.bus.SubscribeOnce(name, fn)
}

// Off removes a subscription; a nil sub removes every listener of name.
func (e *Editor) Off(name string, sub *event.Subscription) {
	e.bus.Unsubscribe(name, sub)
}

// Exec runs a command through the command table, the way a remote caller would.
// It must not be called from an event listener of a running command.
func (e *Editor) Exec(ctx context.Context, name string, args ...any) (any, error) {
	if args == nil {
		args = []any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, &remote.ArgError{Command: name, Index: -1, Err: err}
	}
	return e.table.Invoke(ctx, name, data)
}

// EnableRemote serves the command table on port and relays every editor event
// to it. The session ends when ctx is done, the port closes or Destroy runs.
func (e *Editor) EnableRemote(ctx context.Context, port remote.Port, opts ...remote.DispatcherOption) *remote.Session {
	opts = append([]remote.DispatcherOption{remote.WithDispatcherLogger(e.log)}, opts...)
	s := remote.Attach(ctx, e.bus, e.table, port, opts...)
	e.mu.Lock()
	e.sessions = append(e.sessions, s)
	e.mu.Unlock()
	go func() {
		<-s.Done()
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, x := range e.sessions {
			if x == s {
				e.sessions = append(e.sessions[:i:i], e.sessions[i+1:]...)
				break
			}
		}
	}()
	return s
}

// Destroyed reports whether Destroy ran.
func (e *Editor) Destroyed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.destroyed
}

// Destroy publishes "destroyed", detaches history and adapter, disposes the
// engine and drops every listener. Remote sessions are closed in the
// background so a remote "destroy" can still be answered.
func (e *Editor) Destroy() error {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return nil
	}
	e.destroyed = true
	sessions := e.sessions
	e.sessions = nil
	e.mu.Unlock()

	e.bus.Publish(EventDestroyed, nil)
	e.hist.Close()
	_ = e.scene.Close()
	err := e.scene.Engine().Dispose()
	e.bus.UnsubscribeAll()
	for _, s := range sessions {
		go func(s *remote.Session) {
			if cerr := s.Close(); cerr != nil {
				e.log.Debug("remote session close", slog.Any("err", cerr))
			}
		}(s)
	}
	e.log.Info("editor destroyed")
	return err
}

// target resolves an object by id; an empty id addresses the active object.
// A nil object with a nil error means nothing is addressed.
func (e *Editor) target(id string) (*scene.Object, error) {
	if id == "" {
		return e.scene.Engine().ActiveObject(), nil
	}
	if o := e.scene.Find(id); o != nil {
		return o, nil
	}
	return nil, fmt.Errorf("object not found: %s", id)
}
