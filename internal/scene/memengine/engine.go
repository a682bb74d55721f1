/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package memengine is an in-memory scene.Engine. It keeps the ordered object
// list, selection and canvas state, fires the engine event stream and exports
// SVG, PNG and JPEG snapshots.
package memengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	applog "goposter/internal/log"
	"goposter/internal/scene"
)

// ErrUnsupportedFormat is returned by Export for formats other than svg, png
// and jpeg.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// ErrDisposed is returned once the engine has been disposed.
var ErrDisposed = errors.New("engine disposed")

type listener struct {
	id int
	fn func(scene.EngineEvent)
}

// Engine implements scene.Engine. Events are delivered synchronously after the
// internal lock is released, so listeners may call back into the engine.
type Engine struct {
	mu       sync.Mutex
	objects  []*scene.Object
	active   []*scene.Object
	width    int
	height   int
	bg       string
	drawing  bool
	brush    scene.Brush
	subs     []listener
	nextSub  int
	renders  int
	disposed bool
	log      *slog.Logger
}

// New returns an empty engine with the given canvas.
func New(width, height int, background string) *Engine {
	return &Engine{
		width:  width,
		height: height,
		bg:     background,
		log:    applog.WithComponent("memengine"),
	}
}

func (e *Engine) emit(evs ...scene.EngineEvent) {
	if len(evs) == 0 {
		return
	}
	e.mu.Lock()
	subs := append([]listener(nil), e.subs...)
	e.mu.Unlock()
	for _, ev := range evs {
		for _, s := range subs {
			s.fn(ev)
		}
	}
}

func (e *Engine) indexOf(o *scene.Object) int {
	return slices.Index(e.objects, o)
}

// Add appends objects not already on the canvas, firing object:added for each.
func (e *Engine) Add(objs ...*scene.Object) {
	for _, o := range objs {
		if o == nil {
			continue
		}
		e.mu.Lock()
		if e.indexOf(o) >= 0 {
			e.mu.Unlock()
			continue
		}
		e.objects = append(e.objects, o)
		e.mu.Unlock()
		e.emit(scene.EngineEvent{Type: scene.ObjectAdded, Target: o})
	}
}

// Remove drops objects, firing object:removed for each and updating the selection.
func (e *Engine) Remove(objs ...*scene.Object) {
	for _, o := range objs {
		e.mu.Lock()
		i := e.indexOf(o)
		if i < 0 {
			e.mu.Unlock()
			continue
		}
		e.objects = slices.Delete(e.objects, i, i+1)
		var sel []scene.EngineEvent
		if j := slices.Index(e.active, o); j >= 0 {
			e.active = slices.Delete(slices.Clone(e.active), j, j+1)
			typ := scene.SelectionUpdated
			if len(e.active) == 0 {
				typ = scene.SelectionCleared
			}
			sel = append(sel, scene.EngineEvent{Type: typ, Selected: slices.Clone(e.active), Deselected: []*scene.Object{o}})
		}
		e.mu.Unlock()
		e.emit(scene.EngineEvent{Type: scene.ObjectRemoved, Target: o})
		e.emit(sel...)
	}
}

// Objects returns the objects in paint order.
func (e *Engine) Objects() []*scene.Object {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.objects)
}

// ActiveObject returns the single selected object, or nil.
func (e *Engine) ActiveObject() *scene.Object {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.active) == 1 {
		return e.active[0]
	}
	return nil
}

// ActiveObjects returns the selection.
func (e *Engine) ActiveObjects() []*scene.Object {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.active)
}

// SetActiveObjects replaces the selection with those objs that are on the
// canvas and selectable.
func (e *Engine) SetActiveObjects(objs ...*scene.Object) {
	e.mu.Lock()
	var next []*scene.Object
	for _, o := range objs {
		if o != nil && e.indexOf(o) >= 0 && o.Selectable() && !slices.Contains(next, o) {
			next = append(next, o)
		}
	}
	prev := e.active
	e.active = next
	e.mu.Unlock()

	if len(next) == 0 {
		if len(prev) > 0 {
			e.emit(scene.EngineEvent{Type: scene.SelectionCleared, Deselected: prev})
		}
		return
	}
	var added, dropped []*scene.Object
	for _, o := range next {
		if !slices.Contains(prev, o) {
			added = append(added, o)
		}
	}
	for _, o := range prev {
		if !slices.Contains(next, o) {
			dropped = append(dropped, o)
		}
	}
	if len(prev) == 0 {
		e.emit(scene.EngineEvent{Type: scene.SelectionCreated, Selected: added})
		return
	}
	if len(added) > 0 || len(dropped) > 0 {
		e.emit(scene.EngineEvent{Type: scene.SelectionUpdated, Selected: added, Deselected: dropped})
	}
}

// DiscardActiveObject clears the selection.
func (e *Engine) DiscardActiveObject() {
	e.mu.Lock()
	prev := e.active
	e.active = nil
	e.mu.Unlock()
	if len(prev) > 0 {
		e.emit(scene.EngineEvent{Type: scene.SelectionCleared, Deselected: prev})
	}
}

func (e *Engine) move(o *scene.Object, to func(i, n int) int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.indexOf(o)
	if i < 0 {
		return
	}
	j := to(i, len(e.objects))
	if j < 0 || j >= len(e.objects) || j == i {
		return
	}
	e.objects = slices.Delete(e.objects, i, i+1)
	e.objects = slices.Insert(e.objects, j, o)
}

// BringForward moves o one step up.
func (e *Engine) BringForward(o *scene.Object) { e.move(o, func(i, _ int) int { return i + 1 }) }

// BringToFront moves o to the top.
func (e *Engine) BringToFront(o *scene.Object) { e.move(o, func(_, n int) int { return n - 1 }) }

// SendBackward moves o one step down.
func (e *Engine) SendBackward(o *scene.Object) { e.move(o, func(i, _ int) int { return i - 1 }) }

// SendToBack moves o to the bottom.
func (e *Engine) SendToBack(o *scene.Object) { e.move(o, func(_, _ int) int { return 0 }) }

// Modified fires object:modified for an object on the canvas.
func (e *Engine) Modified(o *scene.Object) {
	e.mu.Lock()
	on := e.indexOf(o) >= 0
	e.mu.Unlock()
	if on {
		e.emit(scene.EngineEvent{Type: scene.ObjectModified, Target: o})
	}
}

// Serialize writes the scene as a scene.Document.
func (e *Engine) Serialize(persisted []string) (scene.Snapshot, error) {
	e.mu.Lock()
	d := scene.Document{
		Version: scene.FormatVersion,
		Canvas:  scene.Canvas{Width: e.width, Height: e.height, BackgroundColor: e.bg},
		Objects: make([]json.RawMessage, 0, len(e.objects)),
	}
	for _, o := range e.objects {
		d.Objects = append(d.Objects, scene.Persist(o, persisted))
	}
	e.mu.Unlock()
	return d.Encode()
}

// Deserialize replaces the whole scene with s. Current objects are removed
// and the snapshot's objects added, each firing its engine event.
func (e *Engine) Deserialize(ctx context.Context, s scene.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	disposed := e.disposed
	e.mu.Unlock()
	if disposed {
		return ErrDisposed
	}
	doc, err := scene.DecodeDocument(s)
	if err != nil {
		return err
	}
	objs, err := doc.Drawables()
	if err != nil {
		return fmt.Errorf("load objects: %w", err)
	}

	e.mu.Lock()
	old := e.objects
	prevSel := e.active
	e.objects = nil
	e.active = nil
	if doc.Canvas.Width > 0 && doc.Canvas.Height > 0 {
		e.width, e.height = doc.Canvas.Width, doc.Canvas.Height
	}
	e.bg = doc.Canvas.BackgroundColor
	e.mu.Unlock()

	if len(prevSel) > 0 {
		e.emit(scene.EngineEvent{Type: scene.SelectionCleared, Deselected: prevSel})
	}
	for _, o := range old {
		e.emit(scene.EngineEvent{Type: scene.ObjectRemoved, Target: o})
	}
	e.Add(objs...)
	e.RenderAll()
	return nil
}

// RenderAll counts render requests.
func (e *Engine) RenderAll() {
	e.mu.Lock()
	e.renders++
	e.mu.Unlock()
}

// Renders reports how many times RenderAll ran.
func (e *Engine) Renders() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.renders
}

// SetDimensions resizes the canvas.
func (e *Engine) SetDimensions(width, height int) {
	e.mu.Lock()
	e.width, e.height = width, height
	e.mu.Unlock()
}

// Dimensions returns the canvas size.
func (e *Engine) Dimensions() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.width, e.height
}

// SetBackgroundColor sets the canvas background.
func (e *Engine) SetBackgroundColor(color string) {
	e.mu.Lock()
	e.bg = color
	e.mu.Unlock()
}

// BackgroundColor returns the canvas background.
func (e *Engine) BackgroundColor() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bg
}

// Clear removes every object and fires canvas:cleared. The background is kept.
func (e *Engine) Clear() {
	e.mu.Lock()
	old := e.objects
	prevSel := e.active
	e.objects = nil
	e.active = nil
	e.mu.Unlock()
	if len(prevSel) > 0 {
		e.emit(scene.EngineEvent{Type: scene.SelectionCleared, Deselected: prevSel})
	}
	for _, o := range old {
		e.emit(scene.EngineEvent{Type: scene.ObjectRemoved, Target: o})
	}
	e.emit(scene.EngineEvent{Type: scene.CanvasCleared})
}

// SetDrawingMode toggles free drawing.
func (e *Engine) SetDrawingMode(enabled bool, b scene.Brush) {
	e.mu.Lock()
	e.drawing = enabled
	if enabled {
		e.brush = b
	}
	e.mu.Unlock()
}

// DrawingMode reports the drawing state and brush.
func (e *Engine) DrawingMode() (bool, scene.Brush) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.drawing, e.brush
}

// Export renders the scene as a data URL in format "svg", "png" or "jpeg"
// ("jpg" is accepted). quality applies to jpeg.
func (e *Engine) Export(format string, quality float64) (string, error) {
	format = strings.ToLower(format)
	if format == "jpg" {
		format = "jpeg"
	}
	switch format {
	case "svg", "png", "jpeg":
	default:
		e.log.Debug("export refused", slog.String("format", format), slog.Float64("quality", quality))
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	e.mu.Lock()
	w, h, bg := e.width, e.height, e.bg
	objs := slices.Clone(e.objects)
	e.mu.Unlock()
	if format == "svg" {
		return svgDataURL(w, h, bg, objs)
	}
	return rasterDataURL(format, quality, w, h, bg, objs)
}

// Subscribe registers fn for every engine event.
func (e *Engine) Subscribe(fn func(scene.EngineEvent)) func() {
	e.mu.Lock()
	e.nextSub++
	id := e.nextSub
	e.subs = append(e.subs, listener{id: id, fn: fn})
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.subs = slices.DeleteFunc(e.subs, func(l listener) bool { return l.id == id })
	}
}

// Dispose drops all listeners and objects.
func (e *Engine) Dispose() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disposed = true
	e.subs = nil
	e.objects = nil
	e.active = nil
	return nil
}

var _ scene.Engine = (*Engine)(nil)
