/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package memengine

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"goposter/internal/scene"
)

// svgDataURL describes the scene as an SVG document wrapped in a data URL.
func svgDataURL(w, h int, bg string, objs []*scene.Object) (string, error) {
	var buf bytes.Buffer
	var werr error
	wf := func(format string, args ...any) {
		if werr != nil {
			return
		}
		_, werr = fmt.Fprintf(&buf, format, args...)
	}

	wf("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
	wf("<svg xmlns=\"http://www.w3.org/2000/svg\" xmlns:xlink=\"http://www.w3.org/1999/xlink\" version=\"1.1\" width=\"%d\" height=\"%d\" viewBox=\"0 0 %d %d\">\n", w, h, w, h)
	if bg != "" {
		wf("  <rect x=\"0\" y=\"0\" width=\"%d\" height=\"%d\" fill=\"%s\"/>\n", w, h, escAttr(bg))
	}
	for _, o := range objs {
		writeShape(wf, gjson.ParseBytes(o.Raw()), "  ")
	}
	wf("</svg>\n")
	if werr != nil {
		return "", fmt.Errorf("build svg: %w", werr)
	}
	return "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func num(o gjson.Result, key string, def float64) float64 {
	if v := o.Get(key); v.Exists() && v.Type == gjson.Number {
		return v.Float()
	}
	return def
}

// paint returns a solid color for fill or stroke; gradients and patterns fall
// back to their first color stop or to none.
func paint(v gjson.Result) string {
	switch {
	case v.Type == gjson.String && v.String() != "":
		return escAttr(v.String())
	case v.IsObject():
		if c := v.Get("colorStops.0.color"); c.Exists() {
			return escAttr(c.String())
		}
	}
	return "none"
}

func writeShape(wf func(string, ...any), o gjson.Result, indent string) {
	if v := o.Get("visible"); v.Exists() && !v.Bool() {
		return
	}
	left, top := num(o, "left", 0), num(o, "top", 0)
	sx, sy := num(o, "scaleX", 1), num(o, "scaleY", 1)
	angle := num(o, "angle", 0)
	fill, stroke := paint(o.Get("fill")), paint(o.Get("stroke"))
	sw := num(o, "strokeWidth", 1)
	if stroke == "none" {
		sw = 0
	}
	style := fmt.Sprintf("fill=\"%s\" stroke=\"%s\" stroke-width=\"%g\" opacity=\"%g\"", fill, stroke, sw, num(o, "opacity", 1))

	wf("%s<g transform=\"translate(%g %g) rotate(%g) scale(%g %g)\">\n", indent, left, top, angle, sx, sy)
	in := indent + "  "
	width, height := num(o, "width", 0), num(o, "height", 0)
	switch o.Get("type").String() {
	case "rect":
		wf("%s<rect x=\"0\" y=\"0\" width=\"%g\" height=\"%g\" rx=\"%g\" ry=\"%g\" %s/>\n", in, width, height, num(o, "rx", 0), num(o, "ry", 0), style)
	case "circle":
		r := num(o, "radius", 0)
		wf("%s<circle cx=\"%g\" cy=\"%g\" r=\"%g\" %s/>\n", in, r, r, r, style)
	case "ellipse":
		rx, ry := num(o, "rx", 0), num(o, "ry", 0)
		wf("%s<ellipse cx=\"%g\" cy=\"%g\" rx=\"%g\" ry=\"%g\" %s/>\n", in, rx, ry, rx, ry, style)
	case "triangle":
		wf("%s<polygon points=\"%g,0 %g,%g 0,%g\" %s/>\n", in, width/2, width, height, height, style)
	case "line":
		x1, y1, x2, y2 := num(o, "x1", 0), num(o, "y1", 0), num(o, "x2", 0), num(o, "y2", 0)
		wf("%s<line x1=\"%g\" y1=\"%g\" x2=\"%g\" y2=\"%g\" %s/>\n", in, x1-left, y1-top, x2-left, y2-top, style)
	case "polygon", "polyline":
		var pts []string
		o.Get("points").ForEach(func(_, p gjson.Result) bool {
			pts = append(pts, fmt.Sprintf("%g,%g", p.Get("x").Float(), p.Get("y").Float()))
			return true
		})
		wf("%s<%s points=\"%s\" %s/>\n", in, o.Get("type").String(), strings.Join(pts, " "), style)
	case "path":
		wf("%s<path d=\"%s\" %s/>\n", in, escAttr(pathData(o.Get("path"))), style)
	case "text", "i-text", "textbox":
		fs := num(o, "fontSize", 20)
		font := o.Get("fontFamily").String()
		if font == "" {
			font = "Helvetica, Arial, sans-serif"
		}
		y := fs
		for _, line := range strings.Split(o.Get("text").String(), "\n") {
			wf("%s<text x=\"0\" y=\"%g\" font-family=\"%s\" font-size=\"%g\" %s>%s</text>\n", in, y, escAttr(font), fs, style, escText(line))
			y += fs * num(o, "lineHeight", 1.16)
		}
	case "image":
		wf("%s<image x=\"0\" y=\"0\" width=\"%g\" height=\"%g\" xlink:href=\"%s\"/>\n", in, width, height, escAttr(o.Get("src").String()))
	case "group":
		o.Get("objects").ForEach(func(_, child gjson.Result) bool {
			writeShape(wf, child, in)
			return true
		})
	}
	wf("%s</g>\n", indent)
}

// pathData accepts either an SVG path string or a command array such as
// [["M",0,0],["L",10,10]].
func pathData(p gjson.Result) string {
	if p.Type == gjson.String {
		return p.String()
	}
	var parts []string
	p.ForEach(func(_, cmd gjson.Result) bool {
		var seg []string
		cmd.ForEach(func(_, v gjson.Result) bool {
			seg = append(seg, v.String())
			return true
		})
		parts = append(parts, strings.Join(seg, " "))
		return true
	})
	return strings.Join(parts, " ")
}

func escAttr(s string) string {
	r := strings.NewReplacer("&", "&amp;", "\"", "&quot;", "<", "&lt;", "\n", " ", "\r", "")
	return r.Replace(s)
}

func escText(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
