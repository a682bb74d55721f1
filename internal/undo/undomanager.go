/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package undo keeps the bounded, linear undo/redo log of scene snapshots.
package undo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"goposter/internal/event"
	applog "goposter/internal/log"
)

// History events.
const (
	EventUndo    = "history:undo"
	EventRedo    = "history:redo"
	EventChanged = "history:changed"
)

// ErrBusy is returned when an operation needs the Idle state.
var ErrBusy = errors.New("history is busy")

// State is the manager's position in its Idle/Capturing/Replaying cycle.
type State int

const (
	Idle State = iota
	// Capturing: a snapshot is being taken, or a batch is open.
	Capturing
	// Replaying: a snapshot is being loaded into the scene; triggers are ignored.
	Replaying
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	case Replaying:
		return "replaying"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Scene is what the manager snapshots and restores.
type Scene interface {
	Capture() ([]byte, error)
	Restore(ctx context.Context, snapshot []byte) error
}

// Config controls depth and memory caps.
type Config struct {
	// MaxLength bounds the number of entries (default 50).
	MaxLength int
	// MaxBytes is a soft memory cap; oldest entries are evicted while exceeded (0 disables).
	MaxBytes int
	// MinInterval coalesces captures that follow the newest entry within the
	// interval into that entry (0 disables).
	MinInterval time.Duration
	// Baseline captures the current scene as entry 0 on construction and Reset.
	Baseline bool
	// Triggers are the bus events that commit a snapshot.
	Triggers []string
}

// DefaultTriggers are the scene mutations that are recorded.
var DefaultTriggers = []string{"object:added", "object:modified", "object:removed"}

// Entry is one recorded snapshot.
type Entry struct {
	Blob     []byte
	TS       time.Time
	Baseline bool
}

// Info is the payload of history events.
type Info struct {
	Index  int `json:"index"`
	Length int `json:"length"`
}

// Manager records a snapshot of the scene on every trigger event and replays
// them on Undo and Redo. It is safe for concurrent use; Scene callbacks run
// without the internal lock held so they may publish triggers synchronously.
type Manager struct {
	cfg Config
	sc  Scene
	bus *event.Bus
	log *slog.Logger
	now func() time.Time

	mu         sync.Mutex
	state      State
	batch      int
	dirty      bool
	entries    []Entry
	index      int
	totalBytes int
	subs       []*event.Subscription
}

// NewManager subscribes to cfg.Triggers on bus. With cfg.Baseline the current
// scene is captured right away.
func NewManager(cfg Config, sc Scene, bus *event.Bus) *Manager {
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = 50
	}
	if len(cfg.Triggers) == 0 {
		cfg.Triggers = DefaultTriggers
	}
	m := &Manager{
		cfg:   cfg,
		sc:    sc,
		bus:   bus,
		log:   applog.WithComponent("history"),
		now:   time.Now,
		index: -1,
	}
	for _, name := range cfg.Triggers {
		m.subs = append(m.subs, bus.Subscribe(name, m.onTrigger))
	}
	if cfg.Baseline {
		if err := m.Reset(); err != nil {
			m.log.Warn("baseline capture failed", slog.Any("err", err))
		}
	}
	return m
}

func (m *Manager) onTrigger(any) error {
	m.mu.Lock()
	switch m.state {
	case Replaying:
		m.mu.Unlock()
		return nil
	case Capturing:
		m.dirty = true
		m.mu.Unlock()
		return nil
	}
	m.state = Capturing
	m.mu.Unlock()
	return m.capture()
}

// capture runs in the Capturing state and leaves the manager Idle, unless a
// batch is still open.
func (m *Manager) capture() error {
	for {
		blob, err := m.sc.Capture()
		m.mu.Lock()
		if err != nil {
			m.dirty = false
			m.settleLocked()
			m.mu.Unlock()
			m.log.Error("capture failed", slog.Any("err", err))
			return fmt.Errorf("capture snapshot: %w", err)
		}
		m.commitLocked(blob, false)
		again := m.dirty && m.batch == 0
		m.dirty = false
		if !again {
			m.settleLocked()
		}
		info := m.infoLocked()
		m.mu.Unlock()
		m.bus.Publish(EventChanged, info)
		if !again {
			return nil
		}
	}
}

func (m *Manager) settleLocked() {
	if m.batch > 0 {
		m.state = Capturing
		return
	}
	m.state = Idle
}

func (m *Manager) commitLocked(blob []byte, baseline bool) {
	now := m.now()
	if n := len(m.entries); m.cfg.MinInterval > 0 && !baseline && n > 0 && m.index == n-1 {
		last := m.entries[n-1]
		if !last.Baseline && now.Sub(last.TS) < m.cfg.MinInterval {
			m.totalBytes += len(blob) - len(last.Blob)
			m.entries[n-1] = Entry{Blob: blob, TS: now}
			m.enforceCapsLocked()
			return
		}
	}
	// a new entry discards the redo branch
	for _, e := range m.entries[m.index+1:] {
		m.totalBytes -= len(e.Blob)
	}
	m.entries = append(m.entries[:m.index+1], Entry{Blob: blob, TS: now, Baseline: baseline})
	m.totalBytes += len(blob)
	m.index = len(m.entries) - 1
	m.enforceCapsLocked()
}

// enforceCapsLocked evicts the oldest entries. The newest entry is never evicted.
func (m *Manager) enforceCapsLocked() {
	drop := 0
	bytes := m.totalBytes
	for len(m.entries)-drop > 1 {
		over := len(m.entries)-drop > m.cfg.MaxLength
		if !over && m.cfg.MaxBytes > 0 && bytes > m.cfg.MaxBytes {
			over = true
		}
		if !over {
			break
		}
		bytes -= len(m.entries[drop].Blob)
		drop++
	}
	if drop == 0 {
		return
	}
	m.entries = append([]Entry(nil), m.entries[drop:]...)
	m.totalBytes = bytes
	m.index -= drop
	if m.index < 0 {
		m.index = 0
	}
}

func (m *Manager) infoLocked() Info {
	return Info{Index: m.index, Length: len(m.entries)}
}

// Touch records a change that fired no trigger. Inside a batch it marks the
// batch dirty; otherwise it captures an entry right away. It is a no-op while
// replaying.
func (m *Manager) Touch() error { return m.onTrigger(nil) }

// Batch runs fn in the Capturing state. Triggers fired by fn are folded into a
// single entry captured when the outermost batch ends.
func (m *Manager) Batch(fn func() error) error {
	m.mu.Lock()
	if m.state == Replaying || (m.state == Capturing && m.batch == 0) {
		m.mu.Unlock()
		return ErrBusy
	}
	m.state = Capturing
	m.batch++
	m.mu.Unlock()

	err := fn()

	m.mu.Lock()
	m.batch--
	if m.batch > 0 {
		m.mu.Unlock()
		return err
	}
	if !m.dirty {
		m.state = Idle
		m.mu.Unlock()
		return err
	}
	m.dirty = false
	m.mu.Unlock()
	if cerr := m.capture(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Undo restores the previous entry. At the oldest entry it returns false and
// publishes nothing.
func (m *Manager) Undo(ctx context.Context) (bool, error) {
	return m.replay(ctx, -1, EventUndo)
}

// Redo restores the next entry. At the newest entry it returns false and
// publishes nothing.
func (m *Manager) Redo(ctx context.Context) (bool, error) {
	return m.replay(ctx, 1, EventRedo)
}

func (m *Manager) replay(ctx context.Context, step int, name string) (bool, error) {
	m.mu.Lock()
	if m.state != Idle {
		m.mu.Unlock()
		return false, ErrBusy
	}
	target := m.index + step
	if target < 0 || target >= len(m.entries) {
		m.mu.Unlock()
		return false, nil
	}
	prev := m.index
	m.index = target
	m.state = Replaying
	blob := m.entries[target].Blob
	m.mu.Unlock()

	err := m.sc.Restore(ctx, blob)

	m.mu.Lock()
	if err != nil {
		m.index = prev
	}
	m.state = Idle
	info := m.infoLocked()
	m.mu.Unlock()
	if err != nil {
		m.log.Error("replay failed", slog.String("op", name), slog.Any("err", err))
		return false, fmt.Errorf("%s: %w", name, err)
	}
	m.bus.Publish(name, info)
	m.bus.Publish(EventChanged, info)
	return true, nil
}

// Reset drops every entry. With Baseline the current scene becomes entry 0.
func (m *Manager) Reset() error {
	m.mu.Lock()
	if m.state != Idle {
		m.mu.Unlock()
		return ErrBusy
	}
	m.entries = nil
	m.index = -1
	m.totalBytes = 0
	m.dirty = false
	baseline := m.cfg.Baseline
	if baseline {
		m.state = Capturing
	}
	info := m.infoLocked()
	m.mu.Unlock()

	if !baseline {
		m.bus.Publish(EventChanged, info)
		return nil
	}
	blob, err := m.sc.Capture()
	m.mu.Lock()
	if err == nil {
		m.commitLocked(blob, true)
	}
	m.state = Idle
	m.dirty = false
	info = m.infoLocked()
	m.mu.Unlock()
	m.bus.Publish(EventChanged, info)
	if err != nil {
		return fmt.Errorf("capture baseline: %w", err)
	}
	return nil
}

// Index returns the cursor; -1 when the log is empty.
func (m *Manager) Index() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index
}

// Len returns the number of entries.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CanUndo reports whether Undo would move the cursor.
func (m *Manager) CanUndo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index > 0
}

// CanRedo reports whether Redo would move the cursor.
func (m *Manager) CanRedo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index < len(m.entries)-1
}

// Current returns the snapshot at the cursor.
func (m *Manager) Current() ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index < 0 {
		return nil, false
	}
	return m.entries[m.index].Blob, true
}

// Stats returns current sizes for diagnostics.
func (m *Manager) Stats() (totalBytes int, entries int, index int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalBytes, len(m.entries), m.index
}

// Close stops listening for triggers.
func (m *Manager) Close() {
	m.mu.Lock()
	subs := m.subs
	m.subs = nil
	m.mu.Unlock()
	for _, s := range subs {
		s.Cancel()
	}
}
