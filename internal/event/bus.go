/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package event implements the editor's synchronous publish/subscribe bus.
//
// Listeners for one event name run in registration order on the publishing
// goroutine. A listener that fails (returned error or panic) is logged and
// skipped; it never aborts the publish loop and never reaches the publisher.
package event

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	applog "goposter/internal/log"
)

// Listener receives the payload of a published event.
type Listener func(payload any) error

// Tap observes every publish regardless of the event name.
type Tap func(name string, payload any)

// Subscription is the handle returned by Subscribe and SubscribeOnce.
type Subscription struct {
	id    uint64
	name  string
	fn    Listener
	once  bool
	fired atomic.Bool
	bus   *Bus
}

// Name returns the event name the subscription listens to.
func (s *Subscription) Name() string { return s.name }

// Cancel removes the subscription. Cancelling twice is a no-op.
func (s *Subscription) Cancel() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.Unsubscribe(s.name, s)
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used to report listener failures.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.log = l
		}
	}
}

type tapEntry struct {
	id uint64
	fn Tap
}

// Bus is safe for concurrent use. The zero value is not usable; call New.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]*Subscription
	order  []string
	taps   []tapEntry
	nextID uint64
	log    *slog.Logger
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs: make(map[string][]*Subscription),
	}
	for _, o := range opts {
		o(b)
	}
	if b.log == nil {
		b.log = applog.WithComponent("event")
	}
	return b
}

// Subscribe registers fn for name. Multiple listeners per name are allowed.
func (b *Bus) Subscribe(name string, fn Listener) *Subscription {
	return b.add(name, fn, false)
}

// SubscribeOnce registers fn for a single delivery. The subscription is removed
// before fn runs, so it is gone even if fn fails.
func (b *Bus) SubscribeOnce(name string, fn Listener) *Subscription {
	return b.add(name, fn, true)
}

func (b *Bus) add(name string, fn Listener, once bool) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	s := &Subscription{id: b.nextID, name: name, fn: fn, once: once, bus: b}
	if _, ok := b.subs[name]; !ok {
		b.order = append(b.order, name)
	}
	b.subs[name] = append(b.subs[name], s)
	return s
}

// Unsubscribe removes sub from name. A nil sub removes every listener of name.
func (b *Bus) Unsubscribe(name string, sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list, ok := b.subs[name]
	if !ok {
		return
	}
	if sub == nil {
		b.dropLocked(name)
		return
	}
	kept := make([]*Subscription, 0, len(list))
	for _, s := range list {
		if s != sub {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		b.dropLocked(name)
		return
	}
	b.subs[name] = kept
}

// UnsubscribeAll removes the listeners of the given names, or of every name
// when called without arguments. Taps are kept.
func (b *Bus) UnsubscribeAll(names ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(names) == 0 {
		b.subs = make(map[string][]*Subscription)
		b.order = nil
		return
	}
	for _, n := range names {
		if _, ok := b.subs[n]; ok {
			b.dropLocked(n)
		}
	}
}

func (b *Bus) dropLocked(name string) {
	delete(b.subs, name)
	for i, n := range b.order {
		if n == name {
			b.order = append(b.order[:i:i], b.order[i+1:]...)
			break
		}
	}
}

// Publish delivers payload to the listeners of name, then to every tap.
// It reports whether at least one listener was registered for name.
func (b *Bus) Publish(name string, payload any) bool {
	b.mu.RLock()
	list := append([]*Subscription(nil), b.subs[name]...)
	taps := append([]tapEntry(nil), b.taps...)
	b.mu.RUnlock()

	for _, s := range list {
		if s.once {
			if s.fired.Swap(true) {
				continue
			}
			b.Unsubscribe(name, s)
		}
		b.invoke(name, s.fn, payload)
	}
	for _, t := range taps {
		b.invokeTap(name, t.fn, payload)
	}
	return len(list) > 0
}

func (b *Bus) invoke(name string, fn Listener, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event listener panicked",
				slog.String("event", name),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()
	if err := fn(payload); err != nil {
		b.log.Error("event listener failed", slog.String("event", name), slog.Any("err", err))
	}
}

func (b *Bus) invokeTap(name string, t Tap, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event tap panicked", slog.String("event", name), slog.Any("panic", fmt.Sprint(r)))
		}
	}()
	t(name, payload)
}

// Tap registers fn to observe every publish after the listeners ran.
// The returned function removes the tap.
func (b *Bus) Tap(fn Tap) (cancel func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.taps = append(b.taps, tapEntry{id: id, fn: fn})
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, t := range b.taps {
			if t.id == id {
				b.taps = append(b.taps[:i:i], b.taps[i+1:]...)
				return
			}
		}
	}
}

// ListenerCount returns the number of listeners registered for name.
func (b *Bus) ListenerCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[name])
}

// EventNames returns the names that currently have listeners, in the order
// they were first subscribed.
func (b *Bus) EventNames() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.order...)
}
