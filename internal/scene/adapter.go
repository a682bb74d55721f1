/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package scene

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"goposter/internal/event"
	applog "goposter/internal/log"
)

// DataChanged is published with the recomputed Document view after every mutation.
const DataChanged = "data:changed"

// ObjectEvent is the payload of object:* events.
type ObjectEvent struct {
	Target *Object `json:"target"`
}

// SelectionEvent is the payload of selection:* events.
type SelectionEvent struct {
	Selected   []*Object `json:"selected"`
	Deselected []*Object `json:"deselected"`
}

// Created is the payload of the named "<kind>:added" events.
type Created struct {
	Object *Object `json:"object"`
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithPersistedFields adds custom fields to the ones kept in snapshots.
// DefaultPersistedFields are always kept.
func WithPersistedFields(fields ...string) AdapterOption {
	return func(a *Adapter) {
		seen := make(map[string]bool, len(a.persisted)+len(fields))
		for _, f := range a.persisted {
			seen[f] = true
		}
		for _, f := range fields {
			if f == "" || seen[f] {
				continue
			}
			seen[f] = true
			a.persisted = append(a.persisted, f)
		}
	}
}

// WithAdapterLogger sets the adapter logger.
func WithAdapterLogger(l *slog.Logger) AdapterOption {
	return func(a *Adapter) {
		if l != nil {
			a.log = l
		}
	}
}

// Adapter couples an Engine to the event bus. Engine mutations are republished
// on the bus and the denormalized Document view is kept current.
type Adapter struct {
	eng       Engine
	bus       *event.Bus
	persisted []string
	log       *slog.Logger

	mu     sync.RWMutex
	data   Document
	cancel func()
}

// NewAdapter subscribes to eng and starts republishing its events on bus.
func NewAdapter(eng Engine, bus *event.Bus, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		eng:       eng,
		bus:       bus,
		persisted: append([]string(nil), DefaultPersistedFields...),
		log:       applog.WithComponent("scene"),
	}
	for _, o := range opts {
		o(a)
	}
	a.cancel = eng.Subscribe(a.onEngineEvent)
	a.recompute()
	return a
}

func (a *Adapter) onEngineEvent(ev EngineEvent) {
	switch ev.Type {
	case ObjectAdded, ObjectModified, ObjectRemoved:
		a.bus.Publish(ev.Type, ObjectEvent{Target: ev.Target})
		a.Refresh()
	case SelectionCreated, SelectionUpdated, SelectionCleared:
		a.bus.Publish(ev.Type, SelectionEvent{Selected: ev.Selected, Deselected: ev.Deselected})
	case CanvasCleared:
		a.bus.Publish(ev.Type, nil)
		a.Refresh()
	default:
		a.log.Debug("unhandled engine event", slog.String("type", ev.Type))
	}
}

// Engine returns the wrapped engine.
func (a *Adapter) Engine() Engine { return a.eng }

// PersistedFields returns the custom fields kept in snapshots.
func (a *Adapter) PersistedFields() []string { return append([]string(nil), a.persisted...) }

// AddObject adds obj, makes it the active object and publishes name with a
// Created payload.
func (a *Adapter) AddObject(name string, obj *Object) {
	a.eng.Add(obj)
	a.eng.SetActiveObjects(obj)
	a.eng.RenderAll()
	if name != "" {
		a.bus.Publish(name, Created{Object: obj})
	}
}

// Remove removes objs from the scene.
func (a *Adapter) Remove(objs ...*Object) {
	if len(objs) == 0 {
		return
	}
	a.eng.Remove(objs...)
	a.eng.RenderAll()
}

// Select replaces the selection.
func (a *Adapter) Select(objs ...*Object) {
	a.eng.SetActiveObjects(objs...)
	a.eng.RenderAll()
}

// Discard clears the selection.
func (a *Adapter) Discard() {
	a.eng.DiscardActiveObject()
	a.eng.RenderAll()
}

// Touch commits a property change made to obj.
func (a *Adapter) Touch(obj *Object) {
	a.eng.Modified(obj)
	a.eng.RenderAll()
}

// Find returns the live object with the given id.
func (a *Adapter) Find(id string) *Object {
	for _, o := range a.eng.Objects() {
		if o.ID() == id {
			return o
		}
	}
	return nil
}

// Serialize captures the whole scene.
func (a *Adapter) Serialize() (Snapshot, error) {
	s, err := a.eng.Serialize(a.persisted)
	if err != nil {
		return nil, fmt.Errorf("serialize scene: %w", err)
	}
	return s, nil
}

// Capture is Serialize in the form the history manager consumes.
func (a *Adapter) Capture() ([]byte, error) { return a.Serialize() }

// Restore overwrites the scene with s and waits for it to be rendered.
func (a *Adapter) Restore(ctx context.Context, s []byte) error {
	if err := a.eng.Deserialize(ctx, s); err != nil {
		return fmt.Errorf("restore scene: %w", err)
	}
	a.eng.RenderAll()
	a.Refresh()
	return nil
}

// Load validates raw and restores it.
func (a *Adapter) Load(ctx context.Context, raw []byte) error {
	if err := Validate(raw); err != nil {
		return err
	}
	return a.Restore(ctx, raw)
}

// SetDimensions resizes the canvas.
func (a *Adapter) SetDimensions(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid canvas size %dx%d", width, height)
	}
	a.eng.SetDimensions(width, height)
	a.eng.RenderAll()
	a.Refresh()
	return nil
}

// SetBackgroundColor sets the canvas background.
func (a *Adapter) SetBackgroundColor(color string) {
	a.eng.SetBackgroundColor(color)
	a.eng.RenderAll()
	a.Refresh()
}

// Data returns the current denormalized view.
func (a *Adapter) Data() Document {
	a.mu.RLock()
	defer a.mu.RUnlock()
	d := a.data
	d.Objects = append([]json.RawMessage(nil), a.data.Objects...)
	return d
}

// Refresh recomputes the view and publishes data:changed.
func (a *Adapter) Refresh() {
	a.bus.Publish(DataChanged, a.recompute())
}

func (a *Adapter) recompute() Document {
	w, h := a.eng.Dimensions()
	d := Document{
		Version: FormatVersion,
		Canvas:  Canvas{Width: w, Height: h, BackgroundColor: a.eng.BackgroundColor()},
	}
	objs := a.eng.Objects()
	d.Objects = make([]json.RawMessage, 0, len(objs))
	for _, o := range objs {
		d.Objects = append(d.Objects, o.Raw())
	}
	a.mu.Lock()
	a.data = d
	a.mu.Unlock()
	return d
}

// Close detaches from the engine.
func (a *Adapter) Close() error {
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	return nil
}

// ErrNoObject is returned when an operation needs an object and none is addressed.
var ErrNoObject = errors.New("no object selected")
