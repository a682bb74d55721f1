/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package assets

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// SVG describes a fetched SVG document.
type SVG struct {
	URL     string  `json:"url"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	ViewBox string  `json:"viewBox,omitempty"`
	Markup  string  `json:"-"`
}

// SVG fetches src and reads the size of its root element. Width and height
// fall back to the viewBox when absent or relative.
func (l *Loader) SVG(ctx context.Context, src string) (SVG, error) {
	b, err := l.Fetch(ctx, src)
	if err != nil {
		return SVG{}, err
	}
	s, err := parseSVG(b)
	if err != nil {
		l.log.Error("svg parse failed", slog.String("url", short(src)), slog.Any("err", err))
		return SVG{}, fmt.Errorf("parse svg %s: %w", short(src), err)
	}
	s.URL = src
	return s, nil
}

func parseSVG(b []byte) (SVG, error) {
	dec := xml.NewDecoder(bytes.NewReader(b))
	dec.Strict = false
	for {
		tok, err := dec.Token()
		if err != nil {
			return SVG{}, errors.New("no svg root element")
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if se.Name.Local != "svg" {
			return SVG{}, fmt.Errorf("root element is <%s>", se.Name.Local)
		}
		s := SVG{Markup: string(b)}
		var w, h string
		for _, a := range se.Attr {
			switch a.Name.Local {
			case "width":
				w = a.Value
			case "height":
				h = a.Value
			case "viewBox":
				s.ViewBox = a.Value
			}
		}
		s.Width, s.Height = length(w), length(h)
		if vb := strings.Fields(strings.ReplaceAll(s.ViewBox, ",", " ")); len(vb) == 4 {
			if s.Width == 0 {
				s.Width, _ = strconv.ParseFloat(vb[2], 64)
			}
			if s.Height == 0 {
				s.Height, _ = strconv.ParseFloat(vb[3], 64)
			}
		}
		return s, nil
	}
}

// length parses an absolute SVG length in user units; relative lengths are 0.
func length(v string) float64 {
	v = strings.TrimSpace(v)
	if v == "" || strings.HasSuffix(v, "%") {
		return 0
	}
	scale := 1.0
	for unit, f := range map[string]float64{"px": 1, "pt": 4.0 / 3, "pc": 16, "mm": 96 / 25.4, "cm": 96 / 2.54, "in": 96} {
		if strings.HasSuffix(v, unit) {
			v, scale = strings.TrimSuffix(v, unit), f
			break
		}
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return n * scale
}
