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
	"encoding/json"
	"fmt"
	"math"

	"github.com/tidwall/gjson"

	"goposter/internal/scene"
)

// Moved is the payload of object:moved.
type Moved struct {
	Object *scene.Object `json:"object"`
	Action string        `json:"action"`
}

// Cloned is the payload of object:cloned.
type Cloned struct {
	Original *scene.Object `json:"original"`
	Clone    *scene.Object `json:"clone"`
}

// ObjectsEvent is the payload of events about several objects.
type ObjectsEvent struct {
	Objects []*scene.Object `json:"objects"`
}

// GetActiveObject returns the single selected object, or nil.
func (e *Editor) GetActiveObject() *scene.Object { return e.scene.Engine().ActiveObject() }

// GetActiveObjects returns the whole selection.
func (e *Editor) GetActiveObjects() []*scene.Object {
	objs := e.scene.Engine().ActiveObjects()
	if objs == nil {
		objs = []*scene.Object{}
	}
	return objs
}

// GetObjects returns every object in paint order.
func (e *Editor) GetObjects() []*scene.Object {
	objs := e.scene.Engine().Objects()
	if objs == nil {
		objs = []*scene.Object{}
	}
	return objs
}

// GetObject returns the object with the given id.
func (e *Editor) GetObject(id string) (*scene.Object, error) {
	if id == "" {
		return nil, fmt.Errorf("object id is required")
	}
	return e.target(id)
}

// SelectObjects replaces the selection with the objects of the given ids.
// Unselectable objects are skipped by the engine.
func (e *Editor) SelectObjects(ids ...string) ([]*scene.Object, error) {
	objs := make([]*scene.Object, 0, len(ids))
	for _, id := range ids {
		o := e.scene.Find(id)
		if o == nil {
			return nil, fmt.Errorf("object not found: %s", id)
		}
		objs = append(objs, o)
	}
	e.scene.Select(objs...)
	return e.GetActiveObjects(), nil
}

// DiscardSelection clears the selection.
func (e *Editor) DiscardSelection() { e.scene.Discard() }

// extent returns the scaled size of a drawable.
func extent(o gjson.Result) (w, h float64) {
	w, h = o.Get("width").Float(), o.Get("height").Float()
	if r := o.Get("radius"); r.Exists() {
		w, h = 2*r.Float(), 2*r.Float()
	} else if rx := o.Get("rx"); rx.Exists() && o.Get("type").String() == "ellipse" {
		w, h = 2*rx.Float(), 2*o.Get("ry").Float()
	}
	sx, sy := 1.0, 1.0
	if v := o.Get("scaleX"); v.Exists() {
		sx = v.Float()
	}
	if v := o.Get("scaleY"); v.Exists() {
		sy = v.Float()
	}
	return w * sx, h * sy
}

// GroupSelected turns a selection of two or more objects into one group.
// Children are stored relative to the group origin. It returns nil when the
// selection is too small.
func (e *Editor) GroupSelected() (*scene.Object, error) {
	sel := e.scene.Engine().ActiveObjects()
	if len(sel) < 2 {
		return nil, nil
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, o := range sel {
		r := gjson.ParseBytes(o.Raw())
		l, t := r.Get("left").Float(), r.Get("top").Float()
		w, h := extent(r)
		minX, minY = math.Min(minX, l), math.Min(minY, t)
		maxX, maxY = math.Max(maxX, l+w), math.Max(maxY, t+h)
	}
	children := make([]json.RawMessage, 0, len(sel))
	for _, o := range sel {
		c := o.Copy()
		if err := c.Merge(scene.Props{
			"left": o.Float("left", 0) - minX,
			"top":  o.Float("top", 0) - minY,
		}); err != nil {
			return nil, err
		}
		children = append(children, c.Raw())
	}
	group, err := scene.NewObject("group", scene.Props{
		"left": minX, "top": minY, "width": maxX - minX, "height": maxY - minY,
		"objects": children,
	}, nil)
	if err != nil {
		return nil, err
	}
	err = e.hist.Batch(func() error {
		e.scene.Discard()
		e.scene.Remove(sel...)
		e.scene.AddObject("", group)
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.bus.Publish(EventGroupCreated, scene.Created{Object: group})
	return group, nil
}

// UngroupSelected dissolves the active group and selects its former children.
// It returns nil when the active object is not a group.
func (e *Editor) UngroupSelected() ([]*scene.Object, error) {
	g := e.scene.Engine().ActiveObject()
	if g == nil || g.Type() != "group" {
		return nil, nil
	}
	gl, gt := g.Float("left", 0), g.Float("top", 0)
	var items []*scene.Object
	var perr error
	g.Get("objects").ForEach(func(_, child gjson.Result) bool {
		o, err := scene.ObjectFromJSON([]byte(child.Raw))
		if err == nil {
			err = o.Merge(scene.Props{
				"left": o.Float("left", 0) + gl,
				"top":  o.Float("top", 0) + gt,
			})
		}
		if err != nil {
			perr = fmt.Errorf("ungroup: %w", err)
			return false
		}
		items = append(items, o)
		return true
	})
	if perr != nil {
		return nil, perr
	}
	err := e.hist.Batch(func() error {
		e.scene.Remove(g)
		e.scene.Engine().Add(items...)
		e.scene.Select(items...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.bus.Publish(EventGroupUngrouped, ObjectsEvent{Objects: items})
	return items, nil
}

// CloneSelected duplicates the selection 10 units down and right and selects
// the copies.
func (e *Editor) CloneSelected() ([]*scene.Object, error) {
	sel := e.scene.Engine().ActiveObjects()
	if len(sel) == 0 {
		return nil, nil
	}
	clones := make([]*scene.Object, 0, len(sel))
	for _, o := range sel {
		c := o.Clone()
		if err := c.Merge(scene.Props{
			"left": o.Float("left", 0) + 10,
			"top":  o.Float("top", 0) + 10,
		}); err != nil {
			return nil, err
		}
		clones = append(clones, c)
	}
	err := e.hist.Batch(func() error {
		e.scene.Engine().Add(clones...)
		e.scene.Select(clones...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, c := range clones {
		e.bus.Publish(EventObjectCloned, Cloned{Original: sel[i], Clone: c})
	}
	return clones, nil
}

// DeleteSelected removes every selected object as one history step.
func (e *Editor) DeleteSelected() ([]*scene.Object, error) {
	sel := e.scene.Engine().ActiveObjects()
	if len(sel) == 0 {
		return nil, nil
	}
	err := e.hist.Batch(func() error {
		e.scene.Discard()
		e.scene.Remove(sel...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.bus.Publish(EventObjectsDeleted, ObjectsEvent{Objects: sel})
	return sel, nil
}

// Clear removes every object. The background is kept and the clear is one
// undoable step.
func (e *Editor) Clear() error {
	return e.hist.Batch(func() error {
		e.scene.Engine().Clear()
		e.scene.Engine().RenderAll()
		return nil
	})
}

func (e *Editor) layer(action string, move func(*scene.Object)) *scene.Object {
	o := e.scene.Engine().ActiveObject()
	if o == nil {
		return nil
	}
	move(o)
	e.scene.Touch(o)
	e.bus.Publish(EventObjectMoved, Moved{Object: o, Action: action})
	return o
}

// BringObjectForward moves the active object one step up.
func (e *Editor) BringObjectForward() *scene.Object {
	return e.layer("forward", e.scene.Engine().BringForward)
}

// BringObjectToFront moves the active object to the top.
func (e *Editor) BringObjectToFront() *scene.Object {
	return e.layer("front", e.scene.Engine().BringToFront)
}

// SendBackward moves the active object one step down.
func (e *Editor) SendBackward() *scene.Object {
	return e.layer("backward", e.scene.Engine().SendBackward)
}

// SendToBack moves the active object to the bottom.
func (e *Editor) SendToBack() *scene.Object {
	return e.layer("back", e.scene.Engine().SendToBack)
}
