/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package remote

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"goposter/internal/event"
	applog "goposter/internal/log"
)

// relayTimeout bounds how long one relayed event may wait on a slow boundary.
const relayTimeout = 2 * time.Second

// Relay posts every publish on bus to port as an EVENT message until the
// returned cancel func is called.
func Relay(bus *event.Bus, port Port) (cancel func()) {
	log := applog.WithComponent("relay")
	return bus.Tap(func(name string, payload any) {
		data, err := marshalData(payload)
		if err != nil {
			log.Warn("event not relayed", slog.String("event", name), slog.Any("err", err))
			return
		}
		ctx, done := context.WithTimeout(context.Background(), relayTimeout)
		defer done()
		if err := port.Post(ctx, Message{Type: TypeEvent, Event: name, Data: data}); err != nil {
			log.Debug("event not relayed", slog.String("event", name), slog.Any("err", err))
		}
	})
}

// Session binds a dispatcher and an event relay to one port.
type Session struct {
	port   Port
	cancel context.CancelFunc
	unTap  func()
	done   chan struct{}

	once sync.Once
	mu   sync.Mutex
	err  error
}

// Attach serves table commands received on port and relays bus events to it.
func Attach(ctx context.Context, bus *event.Bus, table *Table, port Port, opts ...DispatcherOption) *Session {
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		port:   port,
		cancel: cancel,
		unTap:  Relay(bus, port),
		done:   make(chan struct{}),
	}
	d := NewDispatcher(table, opts...)
	go func() {
		defer close(s.done)
		err := d.Serve(ctx, port)
		s.unTap()
		if err != nil && ctx.Err() == nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
		}
	}()
	return s
}

// Done is closed when the session stopped serving.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns why serving stopped, nil for a regular close.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops serving and closes the port.
func (s *Session) Close() error {
	var err error
	s.once.Do(func() {
		s.unTap()
		s.cancel()
		err = s.port.Close()
		<-s.done
	})
	return err
}
