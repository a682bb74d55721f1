/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package scene adapts an external scene engine to the editor: it defines the
// drawable Object, the serialized Document format, the Engine capability the
// editor consumes and the Adapter that republishes engine mutations on the
// event bus.
package scene

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Props is a loose property bag used for object defaults and option overrides.
type Props map[string]any

// Object is an opaque drawable. Its state is its JSON form; fields are read
// with gjson paths and written with sjson paths. Every object carries an "id"
// identity key and a "type".
//
// Objects are not safe for concurrent mutation.
type Object struct {
	raw []byte
}

// NewObject builds an object of the given type from defaults overridden by opts.
// A missing id is generated.
func NewObject(typ string, defaults, opts Props) (*Object, error) {
	m := make(map[string]any, len(defaults)+len(opts)+2)
	for k, v := range defaults {
		m[k] = v
	}
	for k, v := range opts {
		m[k] = v
	}
	m["type"] = typ
	if id, _ := m["id"].(string); id == "" {
		m["id"] = uuid.NewString()
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", typ, err)
	}
	return &Object{raw: raw}, nil
}

// ObjectFromJSON restores an object from its serialized form.
func ObjectFromJSON(raw []byte) (*Object, error) {
	res := gjson.ParseBytes(raw)
	if !res.IsObject() {
		return nil, errors.New("drawable must be a JSON object")
	}
	if res.Get("type").String() == "" {
		return nil, errors.New("drawable is missing its type")
	}
	o := &Object{raw: append([]byte(nil), raw...)}
	if o.ID() == "" {
		if err := o.Set("id", uuid.NewString()); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// ID returns the identity key.
func (o *Object) ID() string { return o.Get("id").String() }

// Type returns the drawable type, e.g. "rect" or "textbox".
func (o *Object) Type() string { return o.Get("type").String() }

// Selectable reports the selectability flag; objects are selectable unless the
// flag is explicitly false.
func (o *Object) Selectable() bool {
	r := o.Get("selectable")
	return !r.Exists() || r.Bool()
}

// Get reads the value at a gjson path.
func (o *Object) Get(path string) gjson.Result { return gjson.GetBytes(o.raw, path) }

// Float reads a number, falling back to def when absent.
func (o *Object) Float(path string, def float64) float64 {
	if r := o.Get(path); r.Exists() && r.Type == gjson.Number {
		return r.Float()
	}
	return def
}

// String reads a string value, empty when absent.
func (o *Object) String(path string) string { return o.Get(path).String() }

// Set writes v at an sjson path.
func (o *Object) Set(path string, v any) error {
	raw, err := sjson.SetBytes(o.raw, path, v)
	if err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	o.raw = raw
	return nil
}

// SetRaw writes pre-encoded JSON at an sjson path.
func (o *Object) SetRaw(path string, value []byte) error {
	raw, err := sjson.SetRawBytes(o.raw, path, value)
	if err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	o.raw = raw
	return nil
}

// Merge writes every top-level key of p. Keys are applied in sorted order so the
// resulting document is deterministic.
func (o *Object) Merge(p Props) error {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := o.Set(escapeKey(k), p[k]); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes the value at path.
func (o *Object) Delete(path string) error {
	raw, err := sjson.DeleteBytes(o.raw, path)
	if err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	o.raw = raw
	return nil
}

// Copy returns a deep copy that keeps every identity key.
func (o *Object) Copy() *Object {
	return &Object{raw: append([]byte(nil), o.raw...)}
}

// Clone returns a deep copy with fresh identity keys, group children
// included.
func (o *Object) Clone() *Object {
	return &Object{raw: freshIDs(append([]byte(nil), o.raw...), "")}
}

func freshIDs(raw []byte, prefix string) []byte {
	if out, err := sjson.SetBytes(raw, prefix+"id", uuid.NewString()); err == nil {
		raw = out
	}
	n := gjson.GetBytes(raw, prefix+"objects.#").Int()
	for i := int64(0); i < n; i++ {
		child := fmt.Sprintf("%sobjects.%d.", prefix, i)
		if gjson.GetBytes(raw, child[:len(child)-1]).IsObject() {
			raw = freshIDs(raw, child)
		}
	}
	return raw
}

// Raw returns a copy of the serialized form.
func (o *Object) Raw() []byte { return append([]byte(nil), o.raw...) }

// Map decodes the object into a generic map.
func (o *Object) Map() map[string]any {
	m := map[string]any{}
	_ = json.Unmarshal(o.raw, &m)
	return m
}

// MarshalJSON implements json.Marshaler.
func (o *Object) MarshalJSON() ([]byte, error) {
	if o == nil {
		return []byte("null"), nil
	}
	return o.Raw(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *Object) UnmarshalJSON(b []byte) error {
	obj, err := ObjectFromJSON(b)
	if err != nil {
		return err
	}
	o.raw = obj.raw
	return nil
}

// escapeKey protects gjson/sjson path syntax characters in a literal key.
func escapeKey(k string) string {
	out := make([]byte, 0, len(k))
	for i := 0; i < len(k); i++ {
		switch k[i] {
		case '.', '*', '?', '|', '#', '@', '\\', '!', '=', '<', '>', '%', ':':
			out = append(out, '\\')
		}
		out = append(out, k[i])
	}
	return string(out)
}
