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
	"errors"
	"log/slog"
	"time"

	applog "goposter/internal/log"
)

// Observer is told about every dispatched command.
type Observer func(command string, took time.Duration, err error)

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// AllowOrigins restricts the senders whose commands are served. "*" allows
// every origin. Without this option every origin is allowed.
func AllowOrigins(origins ...string) DispatcherOption {
	return func(d *Dispatcher) {
		d.allow = make(map[string]bool, len(origins))
		for _, o := range origins {
			d.allow[o] = true
		}
	}
}

// WithObserver installs a hook run after each command.
func WithObserver(o Observer) DispatcherOption {
	return func(d *Dispatcher) { d.observer = o }
}

// WithDispatcherLogger sets the dispatcher logger.
func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// Dispatcher serves inbound COMMAND messages against a Table.
type Dispatcher struct {
	table    *Table
	allow    map[string]bool
	observer Observer
	log      *slog.Logger
}

// NewDispatcher returns a dispatcher for t.
func NewDispatcher(t *Table, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{table: t, log: applog.WithComponent("dispatcher")}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Allowed reports whether commands from origin are served.
func (d *Dispatcher) Allowed(origin string) bool {
	if d.allow == nil {
		return true
	}
	return d.allow["*"] || d.allow[origin]
}

// Handle processes one inbound message and returns the reply to send, if any.
// Messages from foreign origins, malformed envelopes and non-command types are
// dropped.
func (d *Dispatcher) Handle(ctx context.Context, in Inbound) *Message {
	if !d.Allowed(in.Origin) {
		d.log.Warn("message from disallowed origin dropped", slog.String("origin", in.Origin))
		return nil
	}
	m, err := Decode(in.Data)
	if err != nil {
		d.log.Debug("ignoring message", slog.Any("err", err))
		return nil
	}
	if m.Type != TypeCommand {
		return nil
	}
	return d.Exec(ctx, m)
}

// Exec runs a decoded COMMAND and builds its reply. No reply is built when
// the command carries no call id.
func (d *Dispatcher) Exec(ctx context.Context, m Message) *Message {
	start := time.Now()
	res, err := d.table.Invoke(ctx, m.Command, m.Data)
	var data []byte
	if err == nil {
		data, err = marshalData(res)
	}
	if d.observer != nil {
		d.observer(m.Command, time.Since(start), err)
	}
	if err != nil {
		d.log.Info("command failed", slog.String("command", m.Command), slog.Any("err", err))
	}
	if m.CallID == nil {
		return nil
	}
	if err != nil {
		return &Message{Type: TypeError, Command: m.Command, Error: err.Error(), CallID: callID(*m.CallID)}
	}
	return &Message{Type: TypeResponse, Command: m.Command, Data: data, CallID: callID(*m.CallID)}
}

// Serve handles port's inbox one message at a time until the inbox closes or
// ctx ends.
func (d *Dispatcher) Serve(ctx context.Context, port Port) error {
	inbox := port.Inbox()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in, ok := <-inbox:
			if !ok {
				return nil
			}
			reply := d.Handle(ctx, in)
			if reply == nil {
				continue
			}
			if err := port.Post(ctx, *reply); err != nil {
				if errors.Is(err, ErrClosed) {
					return nil
				}
				d.log.Warn("reply not delivered", slog.String("command", reply.Command), slog.Any("err", err))
			}
		}
	}
}
