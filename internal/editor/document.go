/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package editor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"goposter/internal/scene"
	"goposter/internal/storage"
)

// HistoryInfo describes the history cursor.
type HistoryInfo struct {
	Index   int    `json:"index"`
	Length  int    `json:"length"`
	CanUndo bool   `json:"canUndo"`
	CanRedo bool   `json:"canRedo"`
	State   string `json:"state"`
	Bytes   int    `json:"bytes"`
}

// Resized is the payload of canvas:resized.
type Resized struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DocumentEvent is the payload of document:* events.
type DocumentEvent struct {
	Name string               `json:"name"`
	Info *storage.DocumentInfo `json:"info,omitempty"`
}

// Undo steps back one history entry. It reports false at the oldest entry.
func (e *Editor) Undo(ctx context.Context) (bool, error) { return e.hist.Undo(ctx) }

// Redo steps forward one history entry. It reports false at the newest entry.
func (e *Editor) Redo(ctx context.Context) (bool, error) { return e.hist.Redo(ctx) }

// History describes the history cursor.
func (e *Editor) History() HistoryInfo {
	b, n, i := e.hist.Stats()
	return HistoryInfo{
		Index: i, Length: n, Bytes: b,
		CanUndo: e.hist.CanUndo(), CanRedo: e.hist.CanRedo(),
		State: e.hist.State().String(),
	}
}

// ClearHistory drops every entry; with a baseline the current scene becomes
// entry 0.
func (e *Editor) ClearHistory() (HistoryInfo, error) {
	if err := e.hist.Reset(); err != nil {
		return HistoryInfo{}, err
	}
	return e.History(), nil
}

// SetCanvasSize resizes the canvas. Both sizes must be positive.
func (e *Editor) SetCanvasSize(width, height int) error {
	if err := e.scene.SetDimensions(width, height); err != nil {
		return err
	}
	e.bus.Publish(EventCanvasResized, Resized{Width: width, Height: height})
	return nil
}

// SetBackgroundColor changes the canvas background.
func (e *Editor) SetBackgroundColor(color string) {
	e.scene.SetBackgroundColor(color)
	e.bus.Publish(EventBackground, map[string]string{"color": color})
}

// ToDataURL exports the canvas. format defaults to "png" and quality to 1;
// which formats are available depends on the engine.
func (e *Editor) ToDataURL(format string, quality float64) (string, error) {
	if format == "" {
		format = "png"
	}
	if quality <= 0 {
		quality = 1
	}
	return e.scene.Engine().Export(format, quality)
}

// ToJSON returns a copy of the current document view.
func (e *Editor) ToJSON() scene.Document { return e.scene.Data() }

// LoadFromJSON replaces the scene with a document. Missing canvas size and
// background keep their current values. The document is validated before the
// scene is touched and the load is one undoable step.
func (e *Editor) LoadFromJSON(ctx context.Context, raw json.RawMessage) (scene.Document, error) {
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return scene.Document{}, errors.New("invalid JSON data")
	}
	cur := e.scene.Data()
	body := []byte(raw)
	var err error
	set := func(path string, v any) {
		if err == nil && !doc.Get(path).Exists() {
			body, err = sjson.SetBytes(body, path, v)
		}
	}
	set("canvas.width", cur.Canvas.Width)
	set("canvas.height", cur.Canvas.Height)
	set("canvas.backgroundColor", cur.Canvas.BackgroundColor)
	set("objects", []any{})
	set("version", scene.FormatVersion)
	if err != nil {
		return scene.Document{}, err
	}
	err = e.hist.Batch(func() error {
		if err := e.scene.Load(ctx, body); err != nil {
			return err
		}
		// object triggers miss a load that only changes the canvas
		if e.scene.Data().Canvas != cur.Canvas {
			return e.hist.Touch()
		}
		return nil
	})
	if err != nil {
		return scene.Document{}, err
	}
	data := e.scene.Data()
	e.bus.Publish(EventJSONLoaded, map[string]any{"data": data})
	return data, nil
}

func (e *Editor) needStore() error {
	if e.store == nil {
		return ErrNoStore
	}
	return nil
}

// SaveDocument stores the current scene under name.
func (e *Editor) SaveDocument(ctx context.Context, name string) (storage.DocumentInfo, error) {
	if err := e.needStore(); err != nil {
		return storage.DocumentInfo{}, err
	}
	snap, err := e.scene.Serialize()
	if err != nil {
		return storage.DocumentInfo{}, err
	}
	info, err := e.store.SaveDocument(ctx, name, snap)
	if err != nil {
		return storage.DocumentInfo{}, fmt.Errorf("save %q: %w", name, err)
	}
	e.log.Info("document saved", slog.String("name", name), slog.Int("objects", info.Objects))
	e.bus.Publish(EventDocumentSaved, DocumentEvent{Name: name, Info: &info})
	return info, nil
}

// OpenDocument loads the document stored under name into the scene.
func (e *Editor) OpenDocument(ctx context.Context, name string) (scene.Document, error) {
	if err := e.needStore(); err != nil {
		return scene.Document{}, err
	}
	body, err := e.store.LoadDocument(ctx, name)
	if err != nil {
		return scene.Document{}, fmt.Errorf("open %q: %w", name, err)
	}
	doc, err := e.LoadFromJSON(ctx, body)
	if err != nil {
		return scene.Document{}, err
	}
	e.bus.Publish(EventDocumentOpened, DocumentEvent{Name: name})
	return doc, nil
}

// ListDocuments lists the stored documents, most recently saved first.
func (e *Editor) ListDocuments(ctx context.Context) ([]storage.DocumentInfo, error) {
	if err := e.needStore(); err != nil {
		return nil, err
	}
	docs, err := e.store.ListDocuments(ctx)
	if docs == nil && err == nil {
		docs = []storage.DocumentInfo{}
	}
	return docs, err
}

// DeleteDocument removes a stored document and its revisions.
func (e *Editor) DeleteDocument(ctx context.Context, name string) error {
	if err := e.needStore(); err != nil {
		return err
	}
	if err := e.store.DeleteDocument(ctx, name); err != nil {
		return fmt.Errorf("delete %q: %w", name, err)
	}
	e.bus.Publish(EventDocumentDeleted, DocumentEvent{Name: name})
	return nil
}
