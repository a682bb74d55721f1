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
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/image/vector"

	"goposter/internal/scene"
)

// circleSegments is the polygon resolution used for circles and ellipses.
const circleSegments = 64

// affine maps (x, y) to (a*x + c*y + e, b*x + d*y + f).
type affine [6]float64

var identity = affine{1, 0, 0, 1, 0, 0}

func (m affine) apply(x, y float64) (float32, float32) {
	return float32(m[0]*x + m[2]*y + m[4]), float32(m[1]*x + m[3]*y + m[5])
}

// then returns m followed by the object transform translate, rotate, scale.
func (m affine) then(left, top, angle, sx, sy float64) affine {
	rad := angle * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)
	l := affine{cos * sx, sin * sx, -sin * sy, cos * sy, left, top}
	return affine{
		m[0]*l[0] + m[2]*l[1],
		m[1]*l[0] + m[3]*l[1],
		m[0]*l[2] + m[2]*l[3],
		m[1]*l[2] + m[3]*l[3],
		m[0]*l[4] + m[2]*l[5] + m[4],
		m[1]*l[4] + m[3]*l[5] + m[5],
	}
}

// rasterDataURL renders the scene into a PNG or JPEG data URL. Shapes are
// filled with their solid color (or first gradient stop); lines are stroked.
// Text, paths and images are not rasterized.
func rasterDataURL(format string, quality float64, w, h int, bg string, objs []*scene.Object) (string, error) {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	if c, ok := parseColor(bg); ok {
		draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	} else if format == "jpeg" {
		draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	}
	for _, o := range objs {
		rasterShape(img, gjson.ParseBytes(o.Raw()), identity, 1)
	}

	var buf bytes.Buffer
	var mime string
	switch format {
	case "png":
		mime = "image/png"
		if err := png.Encode(&buf, img); err != nil {
			return "", fmt.Errorf("encode png: %w", err)
		}
	case "jpeg":
		mime = "image/jpeg"
		q := int(math.Round(quality * 100))
		if q < 1 || q > 100 {
			q = 100
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
			return "", fmt.Errorf("encode jpeg: %w", err)
		}
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func rasterShape(dst *image.RGBA, o gjson.Result, parent affine, parentOpacity float64) {
	if v := o.Get("visible"); v.Exists() && !v.Bool() {
		return
	}
	m := parent.then(num(o, "left", 0), num(o, "top", 0), num(o, "angle", 0), num(o, "scaleX", 1), num(o, "scaleY", 1))
	opacity := parentOpacity * num(o, "opacity", 1)
	fill, fillOK := solid(o.Get("fill"), opacity)
	width, height := num(o, "width", 0), num(o, "height", 0)

	switch o.Get("type").String() {
	case "rect":
		if fillOK {
			fillPolygon(dst, m, fill, [][2]float64{{0, 0}, {width, 0}, {width, height}, {0, height}})
		}
	case "circle":
		r := num(o, "radius", 0)
		if fillOK {
			fillPolygon(dst, m, fill, ellipsePoints(r, r))
		}
	case "ellipse":
		if fillOK {
			fillPolygon(dst, m, fill, ellipsePoints(num(o, "rx", 0), num(o, "ry", 0)))
		}
	case "triangle":
		if fillOK {
			fillPolygon(dst, m, fill, [][2]float64{{width / 2, 0}, {width, height}, {0, height}})
		}
	case "polygon":
		var pts [][2]float64
		o.Get("points").ForEach(func(_, p gjson.Result) bool {
			pts = append(pts, [2]float64{p.Get("x").Float(), p.Get("y").Float()})
			return true
		})
		if fillOK && len(pts) > 2 {
			fillPolygon(dst, m, fill, pts)
		}
	case "line":
		stroke, ok := solid(o.Get("stroke"), opacity)
		if !ok {
			return
		}
		left, top := num(o, "left", 0), num(o, "top", 0)
		strokeLine(dst, m, stroke, num(o, "strokeWidth", 1),
			num(o, "x1", 0)-left, num(o, "y1", 0)-top, num(o, "x2", 0)-left, num(o, "y2", 0)-top)
	case "group":
		o.Get("objects").ForEach(func(_, child gjson.Result) bool {
			rasterShape(dst, child, m, opacity)
			return true
		})
	}
}

func ellipsePoints(rx, ry float64) [][2]float64 {
	pts := make([][2]float64, circleSegments)
	for i := range pts {
		a := 2 * math.Pi * float64(i) / circleSegments
		pts[i] = [2]float64{rx + rx*math.Cos(a), ry + ry*math.Sin(a)}
	}
	return pts
}

func fillPolygon(dst *image.RGBA, m affine, c color.NRGBA, pts [][2]float64) {
	b := dst.Bounds()
	z := vector.NewRasterizer(b.Dx(), b.Dy())
	z.DrawOp = draw.Over
	x, y := m.apply(pts[0][0], pts[0][1])
	z.MoveTo(x, y)
	for _, p := range pts[1:] {
		x, y = m.apply(p[0], p[1])
		z.LineTo(x, y)
	}
	z.ClosePath()
	z.Draw(dst, b, image.NewUniform(c), image.Point{})
}

// strokeLine fills the rectangle of width sw around the segment.
func strokeLine(dst *image.RGBA, m affine, c color.NRGBA, sw, x1, y1, x2, y2 float64) {
	dx, dy := x2-x1, y2-y1
	l := math.Hypot(dx, dy)
	if l == 0 || sw <= 0 {
		return
	}
	nx, ny := -dy/l*sw/2, dx/l*sw/2
	fillPolygon(dst, m, c, [][2]float64{{x1 + nx, y1 + ny}, {x2 + nx, y2 + ny}, {x2 - nx, y2 - ny}, {x1 - nx, y1 - ny}})
}

// solid resolves a fill or stroke value to a color with opacity applied.
func solid(v gjson.Result, opacity float64) (color.NRGBA, bool) {
	s := v.String()
	if v.IsObject() {
		s = v.Get("colorStops.0.color").String()
	}
	c, ok := parseColor(s)
	if !ok {
		return c, false
	}
	c.A = uint8(math.Round(float64(c.A) * math.Max(0, math.Min(1, opacity))))
	return c, c.A > 0
}

var namedColors = map[string]color.NRGBA{
	"black":  {0, 0, 0, 255},
	"white":  {255, 255, 255, 255},
	"red":    {255, 0, 0, 255},
	"green":  {0, 128, 0, 255},
	"blue":   {0, 0, 255, 255},
	"yellow": {255, 255, 0, 255},
	"orange": {255, 165, 0, 255},
	"gray":   {128, 128, 128, 255},
	"grey":   {128, 128, 128, 255},
}

// parseColor understands #rgb, #rrggbb, #rrggbbaa, rgb(), rgba() and a few
// color names.
func parseColor(s string) (color.NRGBA, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if c, ok := namedColors[s]; ok {
		return c, true
	}
	if strings.HasPrefix(s, "#") {
		hex := s[1:]
		if len(hex) == 3 {
			hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
		}
		if len(hex) == 6 {
			hex += "ff"
		}
		if len(hex) != 8 {
			return color.NRGBA{}, false
		}
		v, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return color.NRGBA{}, false
		}
		return color.NRGBA{uint8(v >> 24), uint8(v >> 16), uint8(v >> 8), uint8(v)}, true
	}
	for _, fn := range []string{"rgba(", "rgb("} {
		if !strings.HasPrefix(s, fn) || !strings.HasSuffix(s, ")") {
			continue
		}
		parts := strings.Split(s[len(fn):len(s)-1], ",")
		if len(parts) < 3 || len(parts) > 4 {
			return color.NRGBA{}, false
		}
		var ch [4]float64
		ch[3] = 1
		for i, p := range parts {
			f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return color.NRGBA{}, false
			}
			ch[i] = f
		}
		clamp := func(f float64) uint8 { return uint8(math.Round(math.Max(0, math.Min(255, f)))) }
		return color.NRGBA{clamp(ch[0]), clamp(ch[1]), clamp(ch[2]), clamp(ch[3] * 255)}, true
	}
	return color.NRGBA{}, false
}
