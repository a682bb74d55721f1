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

	"goposter/internal/remote"
	"goposter/internal/scene"
)

// guard serializes command execution on the operation lock and refuses
// commands after Destroy.
func (e *Editor) guard(h remote.Handler) remote.Handler {
	return func(ctx context.Context, args []json.RawMessage) (any, error) {
		e.op.Lock()
		defer e.op.Unlock()
		if e.Destroyed() {
			return nil, ErrDestroyed
		}
		return h(ctx, args)
	}
}

func param(name, typ, desc string) remote.Param {
	return remote.Param{Name: name, Type: typ, Description: desc}
}

func optParam(name, typ, desc string) remote.Param {
	return remote.Param{Name: name, Type: typ, Description: desc, Optional: true}
}

var (
	optionsParam = optParam("options", "object", "properties overriding the defaults")
	idParam      = optParam("id", "string", "object id; empty addresses the active object")
)

// commands returns the command table entries. Every public operation is one
// entry; arguments are positional.
func (e *Editor) commands() []remote.Command {
	addShape := func(name, desc string, fn func(scene.Props) (*scene.Object, error)) remote.Command {
		return remote.Command{
			Name: name, Description: desc,
			Params: []remote.Param{optionsParam},
			Handler: remote.Func1(func(_ context.Context, o scene.Props) (*scene.Object, error) {
				return fn(o)
			}),
		}
	}
	return []remote.Command{
		// objects
		{
			Name: "addText", Description: "Add a wrapping text box.",
			Params: []remote.Param{param("text", "string", "content"), optionsParam},
			Handler: remote.Func2(func(_ context.Context, text string, o scene.Props) (*scene.Object, error) {
				return e.AddText(text, o)
			}),
		},
		{
			Name: "addEditableText", Description: "Add editable single-line text.",
			Params: []remote.Param{param("text", "string", "content"), optionsParam},
			Handler: remote.Func2(func(_ context.Context, text string, o scene.Props) (*scene.Object, error) {
				return e.AddEditableText(text, o)
			}),
		},
		{
			Name: "addImage", Description: "Load an image URL and add it at half scale.",
			Params: []remote.Param{param("url", "string", "http(s), file or data URL"), optionsParam},
			Handler: remote.Func2(func(ctx context.Context, url string, o scene.Props) (*scene.Object, error) {
				return e.AddImage(ctx, url, o)
			}),
		},
		addShape("addRect", "Add a rectangle.", e.AddRect),
		addShape("addCircle", "Add a circle.", e.AddCircle),
		addShape("addTriangle", "Add a triangle.", e.AddTriangle),
		addShape("addEllipse", "Add an ellipse.", e.AddEllipse),
		addShape("addLine", "Add a line; x1, y1, x2, y2 in options move its end points.", e.AddLine),
		{
			Name: "addPolygon", Description: "Add a polygon; without points a pentagon.",
			Params: []remote.Param{optParam("points", "array", "[{x,y}, ...]"), optionsParam},
			Handler: remote.Func2(func(_ context.Context, pts []Point, o scene.Props) (*scene.Object, error) {
				return e.AddPolygon(pts, o)
			}),
		},
		{
			Name: "addPath", Description: "Add a free-form path.",
			Params: []remote.Param{param("path", "string|array", "SVG path data"), optionsParam},
			Handler: remote.Func2(func(_ context.Context, path json.RawMessage, o scene.Props) (*scene.Object, error) {
				return e.AddPath(path, o)
			}),
		},
		{
			Name: "addSVG", Description: "Load an SVG URL and add it as a group.",
			Params: []remote.Param{param("url", "string", "http(s), file or data URL"), optionsParam},
			Handler: remote.Func2(func(ctx context.Context, url string, o scene.Props) (*scene.Object, error) {
				return e.AddSVG(ctx, url, o)
			}),
		},

		// selection
		{
			Name: "getActiveObject", Description: "Return the single selected object or null.",
			Handler: remote.Func0(func(context.Context) (*scene.Object, error) { return e.GetActiveObject(), nil }),
		},
		{
			Name: "getActiveObjects", Description: "Return the selection.",
			Handler: remote.Func0(func(context.Context) ([]*scene.Object, error) { return e.GetActiveObjects(), nil }),
		},
		{
			Name: "getObjects", Description: "Return every object in paint order.",
			Handler: remote.Func0(func(context.Context) ([]*scene.Object, error) { return e.GetObjects(), nil }),
		},
		{
			Name: "getObject", Description: "Return one object by id.",
			Params: []remote.Param{param("id", "string", "object id")},
			Handler: remote.Func1(func(_ context.Context, id string) (*scene.Object, error) { return e.GetObject(id) }),
		},
		{
			Name: "selectObjects", Description: "Replace the selection by object ids.",
			Params: []remote.Param{param("ids", "array", "object ids")},
			Handler: remote.Func1(func(_ context.Context, ids []string) ([]*scene.Object, error) {
				return e.SelectObjects(ids...)
			}),
		},
		{
			Name: "discardSelection", Description: "Clear the selection.",
			Handler: remote.Action0(func(context.Context) error { e.DiscardSelection(); return nil }),
		},

		// structure
		{
			Name: "groupSelected", Description: "Group the selected objects.",
			Handler: remote.Func0(func(context.Context) (*scene.Object, error) { return e.GroupSelected() }),
		},
		{
			Name: "ungroupSelected", Description: "Dissolve the selected group.",
			Handler: remote.Func0(func(context.Context) ([]*scene.Object, error) { return e.UngroupSelected() }),
		},
		{
			Name: "cloneSelected", Description: "Duplicate the selection.",
			Handler: remote.Func0(func(context.Context) ([]*scene.Object, error) { return e.CloneSelected() }),
		},
		{
			Name: "deleteSelected", Description: "Remove the selection.",
			Handler: remote.Func0(func(context.Context) ([]*scene.Object, error) { return e.DeleteSelected() }),
		},
		{
			Name: "clear", Description: "Remove every object.",
			Handler: remote.Action0(func(context.Context) error { return e.Clear() }),
		},

		// layering
		{
			Name: "bringObjectForward", Description: "Move the active object one step up.",
			Handler: remote.Func0(func(context.Context) (*scene.Object, error) { return e.BringObjectForward(), nil }),
		},
		{
			Name: "bringObjectToFront", Description: "Move the active object to the top.",
			Handler: remote.Func0(func(context.Context) (*scene.Object, error) { return e.BringObjectToFront(), nil }),
		},
		{
			Name: "sendBackward", Description: "Move the active object one step down.",
			Handler: remote.Func0(func(context.Context) (*scene.Object, error) { return e.SendBackward(), nil }),
		},
		{
			Name: "sendToBack", Description: "Move the active object to the bottom.",
			Handler: remote.Func0(func(context.Context) (*scene.Object, error) { return e.SendToBack(), nil }),
		},

		// styling
		{
			Name: "applyFilter", Description: "Append a filter to an image.",
			Params: []remote.Param{idParam, param("filter", "object", "filter description")},
			Handler: remote.Func2(func(_ context.Context, id string, f scene.Props) (*scene.Object, error) {
				return e.ApplyFilter(id, f)
			}),
		},
		{
			Name: "removeFilters", Description: "Remove every filter of an image.",
			Params: []remote.Param{idParam},
			Handler: remote.Func1(func(_ context.Context, id string) (*scene.Object, error) { return e.RemoveFilters(id) }),
		},
		{
			Name: "lockSelected", Description: "Lock the selection and deselect it.",
			Handler: remote.Func0(func(context.Context) ([]*scene.Object, error) { return e.LockSelected() }),
		},
		{
			Name: "unlockObject", Description: "Unlock an object.",
			Params: []remote.Param{param("id", "string", "object id")},
			Handler: remote.Func1(func(_ context.Context, id string) (*scene.Object, error) { return e.UnlockObject(id) }),
		},
		{
			Name: "applyLinearGradient", Description: "Fill an object with a linear gradient.",
			Params: []remote.Param{idParam, param("colors", "array", "[{offset,color}, ...]"), optionsParam},
			Handler: remote.Func3(func(_ context.Context, id string, c []ColorStop, o scene.Props) (*scene.Object, error) {
				return e.ApplyLinearGradient(id, c, o)
			}),
		},
		{
			Name: "applyRadialGradient", Description: "Fill an object with a radial gradient.",
			Params: []remote.Param{idParam, param("colors", "array", "[{offset,color}, ...]"), optionsParam},
			Handler: remote.Func3(func(_ context.Context, id string, c []ColorStop, o scene.Props) (*scene.Object, error) {
				return e.ApplyRadialGradient(id, c, o)
			}),
		},
		{
			Name: "applyPattern", Description: "Fill an object with a repeating image.",
			Params: []remote.Param{idParam, param("url", "string", "image URL"), optionsParam},
			Handler: remote.Func3(func(ctx context.Context, id, url string, o scene.Props) (*scene.Object, error) {
				return e.ApplyPattern(ctx, id, url, o)
			}),
		},
		{
			Name: "addShadow", Description: "Give an object a drop shadow.",
			Params: []remote.Param{idParam, optionsParam},
			Handler: remote.Func2(func(_ context.Context, id string, o scene.Props) (*scene.Object, error) {
				return e.AddShadow(id, o)
			}),
		},

		// drawing
		{
			Name: "enableDrawingMode", Description: "Turn on free drawing.",
			Params: []remote.Param{optParam("options", "object", "{brushType, color, width}")},
			Handler: remote.Func1(func(_ context.Context, o DrawingOptions) (DrawingOptions, error) {
				return e.EnableDrawingMode(o), nil
			}),
		},
		{
			Name: "disableDrawingMode", Description: "Turn off free drawing.",
			Handler: remote.Action0(func(context.Context) error { e.DisableDrawingMode(); return nil }),
		},

		// history
		{
			Name: "undo", Description: "Step back in history.",
			Handler: remote.Func0(e.Undo),
		},
		{
			Name: "redo", Description: "Step forward in history.",
			Handler: remote.Func0(e.Redo),
		},
		{
			Name: "getHistory", Description: "Describe the history cursor.",
			Handler: remote.Func0(func(context.Context) (HistoryInfo, error) { return e.History(), nil }),
		},
		{
			Name: "clearHistory", Description: "Drop the history.",
			Handler: remote.Func0(func(context.Context) (HistoryInfo, error) { return e.ClearHistory() }),
		},

		// canvas
		{
			Name: "setCanvasSize", Description: "Resize the canvas.",
			Params: []remote.Param{param("width", "integer", "pixels"), param("height", "integer", "pixels")},
			Handler: remote.Action2(func(_ context.Context, w, h int) error { return e.SetCanvasSize(w, h) }),
		},
		{
			Name: "setBackgroundColor", Description: "Change the background.",
			Params: []remote.Param{param("color", "string", "CSS color")},
			Handler: remote.Action1(func(_ context.Context, c string) error { e.SetBackgroundColor(c); return nil }),
		},
		{
			Name: "toDataURL", Description: "Export the canvas as a data URL.",
			Params: []remote.Param{optParam("format", "string", "png by default"), optParam("quality", "number", "0..1")},
			Handler: remote.Func2(func(_ context.Context, f string, q float64) (string, error) { return e.ToDataURL(f, q) }),
		},

		// serialization
		{
			Name: "toJSON", Description: "Return the document.",
			Handler: remote.Func0(func(context.Context) (scene.Document, error) { return e.ToJSON(), nil }),
		},
		{
			Name: "loadFromJSON", Description: "Replace the scene with a document.",
			Params: []remote.Param{param("data", "object", "document")},
			Handler: remote.Func1(e.LoadFromJSON),
		},

		// persistence
		{
			Name: "saveDocument", Description: "Store the scene under a name.",
			Params: []remote.Param{param("name", "string", "document name")},
			Handler: remote.Func1(e.SaveDocument),
		},
		{
			Name: "openDocument", Description: "Load a stored document.",
			Params: []remote.Param{param("name", "string", "document name")},
			Handler: remote.Func1(e.OpenDocument),
		},
		{
			Name: "listDocuments", Description: "List stored documents.",
			Handler: remote.Func0(e.ListDocuments),
		},
		{
			Name: "deleteDocument", Description: "Delete a stored document.",
			Params: []remote.Param{param("name", "string", "document name")},
			Handler: remote.Action1(e.DeleteDocument),
		},

		// introspection and lifecycle
		{
			Name: "listCommands", Description: "Describe every command.",
			Handler: remote.Func0(func(context.Context) ([]remote.Command, error) { return e.table.Commands(), nil }),
		},
		{
			Name: "destroy", Description: "Tear the editor down.",
			Handler: remote.Action0(func(context.Context) error { return e.Destroy() }),
		},
	}
}

// aliases maps alternative names to commands.
var aliases = map[string]string{
	"getJSON":    "toJSON",
	"loadJSON":   "loadFromJSON",
	"getDataURL": "toDataURL",
}

func (e *Editor) registerCommands() error {
	for _, c := range e.commands() {
		c.Handler = e.guard(c.Handler)
		if err := e.table.Register(c); err != nil {
			return err
		}
	}
	for alias, name := range aliases {
		c, _ := e.table.Lookup(name)
		c.Name = alias
		c.Description = "Alias of " + name + "."
		if err := e.table.Register(c); err != nil {
			return err
		}
	}
	return nil
}
