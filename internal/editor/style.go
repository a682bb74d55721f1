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
	"log/slog"

	"goposter/internal/scene"
)

// ColorStop is one stop of a gradient.
type ColorStop struct {
	Offset float64 `json:"offset"`
	Color  string  `json:"color"`
}

// Styled is the payload of styling events; Value holds the applied filter,
// gradient, pattern or shadow.
type Styled struct {
	Object *scene.Object `json:"object"`
	Value  scene.Props   `json:"value,omitempty"`
}

// DrawingOptions configures free drawing.
type DrawingOptions struct {
	BrushType string  `json:"brushType,omitempty"`
	Color     string  `json:"color,omitempty"`
	Width     float64 `json:"width,omitempty"`
}

var lockFields = []string{"lockMovementX", "lockMovementY", "lockRotation", "lockScalingX", "lockScalingY"}

func lockProps(locked bool) scene.Props {
	p := scene.Props{"hasControls": !locked, "selectable": !locked}
	for _, f := range lockFields {
		p[f] = locked
	}
	return p
}

func (e *Editor) image(id string) (*scene.Object, error) {
	o, err := e.target(id)
	if err != nil {
		return nil, err
	}
	if o == nil || o.Type() != "image" {
		return nil, ErrNotImage
	}
	return o, nil
}

// ApplyFilter appends filter to an image's filter list.
func (e *Editor) ApplyFilter(id string, filter scene.Props) (*scene.Object, error) {
	o, err := e.image(id)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(filter)
	if err != nil {
		return nil, err
	}
	if !o.Get("filters").IsArray() {
		if err := o.SetRaw("filters", []byte("[]")); err != nil {
			return nil, err
		}
	}
	if err := o.SetRaw("filters.-1", raw); err != nil {
		return nil, err
	}
	e.scene.Touch(o)
	e.bus.Publish(EventFilterApplied, Styled{Object: o, Value: filter})
	return o, nil
}

// RemoveFilters clears an image's filter list.
func (e *Editor) RemoveFilters(id string) (*scene.Object, error) {
	o, err := e.image(id)
	if err != nil {
		return nil, err
	}
	if err := o.SetRaw("filters", []byte("[]")); err != nil {
		return nil, err
	}
	e.scene.Touch(o)
	e.bus.Publish(EventFiltersRemoved, Styled{Object: o})
	return o, nil
}

// LockSelected freezes every selected object and clears the selection.
func (e *Editor) LockSelected() ([]*scene.Object, error) {
	sel := e.scene.Engine().ActiveObjects()
	if len(sel) == 0 {
		return nil, nil
	}
	err := e.hist.Batch(func() error {
		for _, o := range sel {
			if err := o.Merge(lockProps(true)); err != nil {
				return err
			}
		}
		e.scene.Discard()
		for _, o := range sel {
			e.scene.Touch(o)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, o := range sel {
		e.bus.Publish(EventObjectLocked, Styled{Object: o})
	}
	return sel, nil
}

// UnlockObject makes a locked object movable and selectable again.
func (e *Editor) UnlockObject(id string) (*scene.Object, error) {
	o, err := e.target(id)
	if err != nil || o == nil {
		return nil, err
	}
	if err := o.Merge(lockProps(false)); err != nil {
		return nil, err
	}
	e.scene.Touch(o)
	e.bus.Publish(EventObjectUnlocked, Styled{Object: o})
	return o, nil
}

var coordKeys = []string{"x1", "y1", "x2", "y2", "r1", "r2"}

// gradient builds the serialized gradient: coordinates are gathered under
// "coords", everything else stays top-level.
func gradient(kind string, colors []ColorStop, defaults, opts scene.Props) scene.Props {
	flat := scene.Props{}
	for k, v := range defaults {
		flat[k] = v
	}
	for k, v := range opts {
		flat[k] = v
	}
	coords := scene.Props{}
	for _, k := range coordKeys {
		if v, ok := flat[k]; ok {
			coords[k] = v
			delete(flat, k)
		}
	}
	if colors == nil {
		colors = []ColorStop{}
	}
	flat["type"] = kind
	flat["coords"] = coords
	if _, ok := flat["colorStops"]; !ok {
		flat["colorStops"] = colors
	}
	return flat
}

func (e *Editor) fill(id, name string, value func(o *scene.Object) scene.Props, key string) (*scene.Object, error) {
	o, err := e.target(id)
	if err != nil || o == nil {
		return nil, err
	}
	v := value(o)
	if err := o.Set(key, v); err != nil {
		return nil, err
	}
	e.scene.Touch(o)
	e.bus.Publish(name, Styled{Object: o, Value: v})
	return o, nil
}

// ApplyLinearGradient fills an object with a horizontal gradient across its width.
func (e *Editor) ApplyLinearGradient(id string, colors []ColorStop, opts scene.Props) (*scene.Object, error) {
	return e.fill(id, EventGradientApplied, func(o *scene.Object) scene.Props {
		return gradient("linear", colors, scene.Props{
			"x1": 0, "y1": 0, "x2": o.Float("width", 100), "y2": 0,
		}, opts)
	}, "fill")
}

// ApplyRadialGradient fills an object with a gradient from its centre.
func (e *Editor) ApplyRadialGradient(id string, colors []ColorStop, opts scene.Props) (*scene.Object, error) {
	return e.fill(id, EventGradientApplied, func(o *scene.Object) scene.Props {
		w, h := o.Float("width", 100), o.Float("height", 100)
		return gradient("radial", colors, scene.Props{
			"r1": 0, "r2": w / 2, "x1": w / 2, "y1": h / 2, "x2": w / 2, "y2": h / 2,
		}, opts)
	}, "fill")
}

// ApplyPattern fills an object with a repeating image. The image is loaded
// first; a load failure leaves the object untouched.
func (e *Editor) ApplyPattern(ctx context.Context, id, src string, opts scene.Props) (*scene.Object, error) {
	o, err := e.target(id)
	if err != nil || o == nil {
		return nil, err
	}
	img, err := e.assets.Image(ctx, src)
	if err != nil {
		e.log.Error("error applying pattern", slog.String("src", src), slog.Any("err", err))
		return nil, err
	}
	return e.fill(o.ID(), EventPatternApplied, func(*scene.Object) scene.Props {
		p := scene.Props{"type": "pattern", "source": src, "repeat": "repeat", "width": img.Width, "height": img.Height}
		for k, v := range opts {
			p[k] = v
		}
		return p
	}, "fill")
}

// AddShadow sets a drop shadow, by default a soft 5/5 offset.
func (e *Editor) AddShadow(id string, opts scene.Props) (*scene.Object, error) {
	return e.fill(id, EventShadowApplied, func(*scene.Object) scene.Props {
		p := scene.Props{"color": "rgba(0,0,0,0.3)", "blur": 10, "offsetX": 5, "offsetY": 5}
		for k, v := range opts {
			p[k] = v
		}
		return p
	}, "shadow")
}

// EnableDrawingMode turns on free drawing with a pencil, circle or spray
// brush. Unknown brush types fall back to the pencil.
func (e *Editor) EnableDrawingMode(opts DrawingOptions) DrawingOptions {
	switch opts.BrushType {
	case "pencil", "circle", "spray":
	default:
		opts.BrushType = "pencil"
	}
	if opts.Color == "" {
		opts.Color = "#000000"
	}
	if opts.Width <= 0 {
		opts.Width = 5
	}
	e.scene.Engine().SetDrawingMode(true, scene.Brush{Kind: opts.BrushType, Color: opts.Color, Width: opts.Width})
	e.bus.Publish(EventDrawingEnabled, opts)
	return opts
}

// DisableDrawingMode turns free drawing off.
func (e *Editor) DisableDrawingMode() {
	_, b := e.scene.Engine().DrawingMode()
	e.scene.Engine().SetDrawingMode(false, b)
	e.bus.Publish(EventDrawingDisabled, nil)
}
