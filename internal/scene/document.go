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
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// FormatVersion is written into every serialized document.
const FormatVersion = "1.0"

// Snapshot is the serialized form of a whole scene. Treat it as immutable.
type Snapshot = []byte

// Canvas holds the scene-level properties of a document.
type Canvas struct {
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	BackgroundColor string `json:"backgroundColor"`
}

// Document is the persisted and exchanged scene format.
type Document struct {
	Version string            `json:"version"`
	Canvas  Canvas            `json:"canvas"`
	Objects []json.RawMessage `json:"objects"`
}

// Encode returns the JSON form of the document.
func (d Document) Encode() (Snapshot, error) {
	if d.Objects == nil {
		d.Objects = []json.RawMessage{}
	}
	if d.Version == "" {
		d.Version = FormatVersion
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return b, nil
}

// DecodeDocument parses a serialized scene without validating it.
func DecodeDocument(s Snapshot) (Document, error) {
	var d Document
	if err := json.Unmarshal(s, &d); err != nil {
		return Document{}, fmt.Errorf("decode document: %w", err)
	}
	return d, nil
}

// Drawables restores every object of the document.
func (d Document) Drawables() ([]*Object, error) {
	out := make([]*Object, 0, len(d.Objects))
	for i, raw := range d.Objects {
		o, err := ObjectFromJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("object %d: %w", i, err)
		}
		out = append(out, o)
	}
	return out, nil
}

// StandardFields are the drawable properties every engine persists. Keys
// starting with an underscore are derived state and are never persisted.
var StandardFields = []string{
	"type", "version", "originX", "originY", "left", "top", "width", "height",
	"fill", "stroke", "strokeWidth", "strokeDashArray", "strokeLineCap", "strokeLineJoin",
	"scaleX", "scaleY", "angle", "flipX", "flipY", "opacity", "shadow", "visible",
	"backgroundColor", "fillRule", "globalCompositeOperation", "skewX", "skewY",
	"text", "fontSize", "fontFamily", "fontWeight", "fontStyle", "lineHeight",
	"underline", "overline", "linethrough", "textAlign", "charSpacing", "editable",
	"radius", "startAngle", "endAngle", "rx", "ry", "x1", "y1", "x2", "y2",
	"points", "path", "src", "crossOrigin", "filters", "objects",
	"lockMovementX", "lockMovementY", "lockRotation", "lockScalingX", "lockScalingY",
	"hasControls", "evented",
}

// DefaultPersistedFields are the custom fields kept in snapshots when the
// adapter is not configured otherwise.
var DefaultPersistedFields = []string{"id", "selectable"}

// Persist reduces an object to the standard fields plus the extra persisted
// ones, in the object's own key order.
func Persist(o *Object, extra []string) json.RawMessage {
	keep := make(map[string]bool, len(StandardFields)+len(extra))
	for _, k := range StandardFields {
		keep[k] = true
	}
	for _, k := range extra {
		keep[k] = true
	}
	out := []byte("{")
	first := true
	gjson.ParseBytes(o.raw).ForEach(func(key, value gjson.Result) bool {
		k := key.String()
		if !keep[k] || (len(k) > 0 && k[0] == '_') {
			return true
		}
		if !first {
			out = append(out, ',')
		}
		first = false
		kb, _ := json.Marshal(k)
		out = append(out, kb...)
		out = append(out, ':')
		out = append(out, value.Raw...)
		return true
	})
	out = append(out, '}')
	return out
}
