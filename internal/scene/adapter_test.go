/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package scene_test

import (
	"context"
	"errors"
	"testing"

	"goposter/internal/event"
	applog "goposter/internal/log"
	"goposter/internal/scene"
	"goposter/internal/scene/memengine"
)

func newAdapter(t *testing.T) (*scene.Adapter, *event.Bus, *memengine.Engine) {
	t.Helper()
	eng := memengine.New(800, 600, "#ffffff")
	bus := event.New(event.WithLogger(applog.Discard()))
	a := scene.NewAdapter(eng, bus, scene.WithAdapterLogger(applog.Discard()))
	t.Cleanup(func() { _ = a.Close() })
	return a, bus, eng
}

func record(bus *event.Bus, names ...string) *[]string {
	var got []string
	for _, n := range names {
		n := n
		bus.Subscribe(n, func(any) error {
			got = append(got, n)
			return nil
		})
	}
	return &got
}

func TestAdapterAddObjectPublishesInOrder(t *testing.T) {
	a, bus, eng := newAdapter(t)
	got := record(bus, scene.ObjectAdded, scene.SelectionCreated, scene.DataChanged, "rect:added")

	var created scene.Created
	bus.Subscribe("rect:added", func(p any) error {
		created = p.(scene.Created)
		return nil
	})

	r, _ := scene.NewObject("rect", nil, scene.Props{"id": "r1"})
	a.AddObject("rect:added", r)

	want := []string{scene.ObjectAdded, scene.DataChanged, scene.SelectionCreated, "rect:added"}
	if len(*got) != len(want) {
		t.Fatalf("events = %v, want %v", *got, want)
	}
	for i := range want {
		if (*got)[i] != want[i] {
			t.Fatalf("events = %v, want %v", *got, want)
		}
	}
	if created.Object != r {
		t.Fatalf("named event must carry the created object")
	}
	if eng.ActiveObject() != r {
		t.Fatalf("added object should be active")
	}
	if n := len(a.Data().Objects); n != 1 {
		t.Fatalf("data view objects = %d", n)
	}
}

func TestAdapterObjectEventPayload(t *testing.T) {
	a, bus, _ := newAdapter(t)
	var target *scene.Object
	bus.Subscribe(scene.ObjectModified, func(p any) error {
		target = p.(scene.ObjectEvent).Target
		return nil
	})
	r, _ := scene.NewObject("rect", nil, nil)
	a.AddObject("", r)
	_ = r.Set("fill", "#000000")
	a.Touch(r)
	if target != r {
		t.Fatalf("object:modified target = %v", target)
	}
	if got := a.Find(r.ID()); got != r {
		t.Fatalf("Find returned %v", got)
	}
}

func TestAdapterSerializeRestoreRoundTrip(t *testing.T) {
	a, _, eng := newAdapter(t)
	r, _ := scene.NewObject("rect", nil, scene.Props{"id": "r1", "left": 10, "selectable": false})
	c, _ := scene.NewObject("circle", nil, scene.Props{"id": "c1", "radius": 5})
	a.AddObject("", r)
	a.AddObject("", c)
	a.SetBackgroundColor("#eeeeee")

	snap, err := a.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	a.Remove(r, c)
	if len(eng.Objects()) != 0 {
		t.Fatalf("objects not removed")
	}
	if err := a.Restore(context.Background(), snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	objs := eng.Objects()
	if len(objs) != 2 || objs[0].ID() != "r1" || objs[1].ID() != "c1" {
		t.Fatalf("restored objects wrong: %v", objs)
	}
	if objs[0].Selectable() {
		t.Fatalf("selectable flag not persisted")
	}
	if eng.BackgroundColor() != "#eeeeee" {
		t.Fatalf("background not restored")
	}
	again, _ := a.Serialize()
	if string(again) != string(snap) {
		t.Fatalf("round trip not stable:\n%s\n%s", snap, again)
	}
}

func TestAdapterPersistedFieldsKeepDefaults(t *testing.T) {
	eng := memengine.New(800, 600, "#ffffff")
	bus := event.New(event.WithLogger(applog.Discard()))
	a := scene.NewAdapter(eng, bus, scene.WithAdapterLogger(applog.Discard()), scene.WithPersistedFields("name", "id", "name"))
	defer func() { _ = a.Close() }()

	got := a.PersistedFields()
	want := []string{"id", "selectable", "name"}
	if len(got) != len(want) {
		t.Fatalf("persisted fields = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("persisted fields = %v, want %v", got, want)
		}
	}

	r, _ := scene.NewObject("rect", nil, scene.Props{"id": "r1", "name": "bg", "selectable": false})
	a.AddObject("", r)
	snap, err := a.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	a.Remove(r)
	if err := a.Restore(context.Background(), snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	objs := eng.Objects()
	if len(objs) != 1 || objs[0].ID() != "r1" || objs[0].Selectable() || objs[0].Get("name").String() != "bg" {
		t.Fatalf("restored = %v", objs)
	}
}

func TestAdapterLoadValidates(t *testing.T) {
	a, _, eng := newAdapter(t)
	err := a.Load(context.Background(), []byte(`{"objects":"nope"}`))
	var ve *scene.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	doc := `{"version":"1.0","canvas":{"width":300,"height":200,"backgroundColor":"#000"},"objects":[{"type":"rect","id":"x"}]}`
	if err := a.Load(context.Background(), []byte(doc)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if w, h := eng.Dimensions(); w != 300 || h != 200 {
		t.Fatalf("dimensions = %dx%d", w, h)
	}
	if d := a.Data(); d.Canvas.Width != 300 || len(d.Objects) != 1 {
		t.Fatalf("data view not refreshed: %+v", d.Canvas)
	}
}

func TestAdapterSetDimensionsRejectsNonPositive(t *testing.T) {
	a, _, _ := newAdapter(t)
	if err := a.SetDimensions(0, 10); err == nil {
		t.Fatalf("expected error")
	}
	if err := a.SetDimensions(1024, 768); err != nil {
		t.Fatalf("SetDimensions: %v", err)
	}
	if d := a.Data(); d.Canvas.Width != 1024 || d.Canvas.Height != 768 {
		t.Fatalf("data = %+v", d.Canvas)
	}
}

func TestAdapterCloseStopsRepublishing(t *testing.T) {
	a, bus, eng := newAdapter(t)
	got := record(bus, scene.ObjectAdded)
	_ = a.Close()
	r, _ := scene.NewObject("rect", nil, nil)
	eng.Add(r)
	if len(*got) != 0 {
		t.Fatalf("events after Close: %v", *got)
	}
}
