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

import "context"

// Engine event types.
const (
	ObjectAdded      = "object:added"
	ObjectModified   = "object:modified"
	ObjectRemoved    = "object:removed"
	SelectionCreated = "selection:created"
	SelectionUpdated = "selection:updated"
	SelectionCleared = "selection:cleared"
	CanvasCleared    = "canvas:cleared"
)

// EngineEvent is one entry of the engine's mutation stream.
type EngineEvent struct {
	Type       string
	Target     *Object
	Selected   []*Object
	Deselected []*Object
}

// Brush configures free drawing.
type Brush struct {
	Kind  string  `json:"kind"`
	Color string  `json:"color"`
	Width float64 `json:"width"`
}

// Engine is the scene-graph capability the editor drives. Implementations own
// the live objects, render them and report mutations through Subscribe.
// Engines are driven from one goroutine at a time.
type Engine interface {
	Add(objs ...*Object)
	Remove(objs ...*Object)
	Objects() []*Object

	ActiveObject() *Object
	ActiveObjects() []*Object
	SetActiveObjects(objs ...*Object)
	DiscardActiveObject()

	BringForward(o *Object)
	BringToFront(o *Object)
	SendBackward(o *Object)
	SendToBack(o *Object)

	// Modified reports that o's properties changed.
	Modified(o *Object)

	// Serialize writes the whole scene, keeping persisted custom fields.
	Serialize(persisted []string) (Snapshot, error)
	// Deserialize replaces the scene and returns once it is loaded and rendered.
	Deserialize(ctx context.Context, s Snapshot) error
	RenderAll()

	SetDimensions(width, height int)
	Dimensions() (width, height int)
	SetBackgroundColor(color string)
	BackgroundColor() string
	Clear()

	SetDrawingMode(enabled bool, b Brush)
	DrawingMode() (bool, Brush)

	// Export renders the scene to a data URL.
	Export(format string, quality float64) (string, error)

	Subscribe(fn func(EngineEvent)) (cancel func())
	Dispose() error
}
