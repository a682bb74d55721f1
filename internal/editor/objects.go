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
	"log/slog"
	"math"

	"goposter/internal/scene"
)

// Point is a polygon vertex.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DefaultPolygon is the pentagon used when AddPolygon gets no points.
var DefaultPolygon = []Point{{0, 0}, {50, -50}, {100, 0}, {75, 50}, {25, 50}}

func (e *Editor) add(typ, name string, defaults, opts scene.Props) (*scene.Object, error) {
	o, err := scene.NewObject(typ, defaults, opts)
	if err != nil {
		return nil, err
	}
	e.scene.AddObject(name, o)
	return o, nil
}

// AddText adds a wrapping text box.
func (e *Editor) AddText(text string, opts scene.Props) (*scene.Object, error) {
	return e.add("textbox", "text:added", scene.Props{
		"text": text, "left": 100, "top": 100, "fontSize": 20, "fill": "#000000", "width": 200,
	}, opts)
}

// AddEditableText adds single-line editable text.
func (e *Editor) AddEditableText(text string, opts scene.Props) (*scene.Object, error) {
	return e.add("i-text", "itext:added", scene.Props{
		"text": text, "left": 100, "top": 100, "fontSize": 20, "fill": "#000000", "editable": true,
	}, opts)
}

// AddRect adds a rectangle.
func (e *Editor) AddRect(opts scene.Props) (*scene.Object, error) {
	return e.add("rect", "rect:added", scene.Props{
		"left": 100, "top": 100, "width": 100, "height": 100, "fill": "#ff0000",
	}, opts)
}

// AddCircle adds a circle.
func (e *Editor) AddCircle(opts scene.Props) (*scene.Object, error) {
	return e.add("circle", "circle:added", scene.Props{
		"left": 100, "top": 100, "radius": 50, "fill": "#00ff00",
	}, opts)
}

// AddTriangle adds an isosceles triangle.
func (e *Editor) AddTriangle(opts scene.Props) (*scene.Object, error) {
	return e.add("triangle", "triangle:added", scene.Props{
		"left": 100, "top": 100, "width": 100, "height": 100, "fill": "#0000ff",
	}, opts)
}

// AddEllipse adds an ellipse.
func (e *Editor) AddEllipse(opts scene.Props) (*scene.Object, error) {
	return e.add("ellipse", "ellipse:added", scene.Props{
		"left": 100, "top": 100, "rx": 80, "ry": 40, "fill": "#ff00ff",
	}, opts)
}

// AddLine adds a line from (x1,y1) to (x2,y2), by default (50,50)-(200,200).
// Its bounding box follows the end points unless opts place it explicitly.
func (e *Editor) AddLine(opts scene.Props) (*scene.Object, error) {
	pt := func(k string, def float64) float64 {
		if v, ok := opts[k].(float64); ok {
			return v
		}
		if v, ok := opts[k].(int); ok {
			return float64(v)
		}
		return def
	}
	x1, y1, x2, y2 := pt("x1", 50), pt("y1", 50), pt("x2", 200), pt("y2", 200)
	return e.add("line", "line:added", scene.Props{
		"x1": x1, "y1": y1, "x2": x2, "y2": y2,
		"left": math.Min(x1, x2), "top": math.Min(y1, y2),
		"width": math.Abs(x2 - x1), "height": math.Abs(y2 - y1),
		"stroke": "#000000", "strokeWidth": 2,
	}, opts)
}

// AddPolygon adds a closed polygon; no points yields DefaultPolygon.
func (e *Editor) AddPolygon(points []Point, opts scene.Props) (*scene.Object, error) {
	if len(points) == 0 {
		points = DefaultPolygon
	}
	return e.add("polygon", "polygon:added", scene.Props{
		"points": points, "left": 100, "top": 100, "fill": "#ffa500",
	}, opts)
}

// AddPath adds a free-form path. path is SVG path data, either a string or a
// command array such as [["M",0,0],["L",10,10]].
func (e *Editor) AddPath(path json.RawMessage, opts scene.Props) (*scene.Object, error) {
	if len(path) == 0 || string(path) == "null" || string(path) == `""` {
		return nil, errors.New("path is required")
	}
	if !json.Valid(path) {
		return nil, errors.New("path is not valid JSON")
	}
	return e.add("path", "path:added", scene.Props{
		"path": path, "fill": "", "stroke": "#000000", "strokeWidth": 2,
	}, opts)
}

// AddImage loads src to learn its intrinsic size and adds it scaled to half.
// Load failures are logged and returned; the scene is left untouched.
func (e *Editor) AddImage(ctx context.Context, src string, opts scene.Props) (*scene.Object, error) {
	img, err := e.assets.Image(ctx, src)
	if err != nil {
		e.log.Error("error loading image", slog.String("src", src), slog.Any("err", err))
		return nil, err
	}
	return e.add("image", "image:added", scene.Props{
		"src": src, "crossOrigin": "anonymous",
		"width": img.Width, "height": img.Height,
		"left": 100, "top": 100, "scaleX": 0.5, "scaleY": 0.5,
	}, opts)
}

// AddSVG loads an SVG document and adds it as a group holding the graphic.
func (e *Editor) AddSVG(ctx context.Context, src string, opts scene.Props) (*scene.Object, error) {
	svg, err := e.assets.SVG(ctx, src)
	if err != nil {
		e.log.Error("error loading SVG", slog.String("src", src), slog.Any("err", err))
		return nil, err
	}
	child := scene.Props{
		"type": "image", "src": src, "left": 0, "top": 0,
		"width": svg.Width, "height": svg.Height,
	}
	return e.add("group", "svg:added", scene.Props{
		"left": 100, "top": 100, "scaleX": 0.5, "scaleY": 0.5,
		"width": svg.Width, "height": svg.Height,
		"objects": []scene.Props{child},
	}, opts)
}
