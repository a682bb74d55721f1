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
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"goposter/internal/event"
	applog "goposter/internal/log"
)

// DefaultTimeout bounds a proxied call without an answer.
const DefaultTimeout = 5 * time.Second

var reserved = map[string]bool{
	"on":                  true,
	"addEventListener":    true,
	"off":                 true,
	"removeEventListener": true,
}

// ProxyOption configures a Proxy.
type ProxyOption func(*Proxy)

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) ProxyOption {
	return func(p *Proxy) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// ExpectOrigin drops inbound messages whose origin differs from origin.
func ExpectOrigin(origin string) ProxyOption {
	return func(p *Proxy) { p.origin = origin }
}

type result struct {
	data json.RawMessage
	err  error
}

type pendingCall struct {
	command string
	ch      chan result
}

type relayed struct {
	name string
	data json.RawMessage
}

// Proxy issues commands to a remote editor and re-emits its events locally.
type Proxy struct {
	port    Port
	timeout time.Duration
	origin  string
	events  *event.Bus
	log     *slog.Logger

	mu      sync.Mutex
	next    int64
	pending map[int64]*pendingCall
	closed  bool
	done    chan struct{}

	// relayed events wait here for the delivery goroutine so listeners
	// may call back into the proxy without stalling replies.
	evMu    sync.Mutex
	evCond  *sync.Cond
	evQueue []relayed
	evEnd   bool
	evDone  chan struct{}
}

// NewProxy starts reading port.
func NewProxy(port Port, opts ...ProxyOption) *Proxy {
	log := applog.WithComponent("proxy")
	p := &Proxy{
		port:    port,
		timeout: DefaultTimeout,
		events:  event.New(event.WithLogger(log)),
		log:     log,
		pending: make(map[int64]*pendingCall),
		done:    make(chan struct{}),
		evDone:  make(chan struct{}),
	}
	p.evCond = sync.NewCond(&p.evMu)
	for _, o := range opts {
		o(p)
	}
	go p.deliver()
	go p.read()
	return p
}

func (p *Proxy) read() {
	defer close(p.done)
	defer p.endEvents()
	for in := range p.port.Inbox() {
		if p.origin != "" && in.Origin != p.origin {
			p.log.Warn("message from unexpected origin dropped", slog.String("origin", in.Origin))
			continue
		}
		m, err := Decode(in.Data)
		if err != nil {
			p.log.Debug("ignoring message", slog.Any("err", err))
			continue
		}
		switch m.Type {
		case TypeEvent:
			p.queueEvent(relayed{name: m.Event, data: m.Data})
		case TypeResponse, TypeError:
			if m.CallID == nil {
				continue
			}
			pc := p.take(*m.CallID)
			if pc == nil {
				p.log.Debug("late or unknown reply ignored", slog.Int64("callId", *m.CallID))
				continue
			}
			if m.Type == TypeError {
				pc.ch <- result{err: &RemoteError{Command: m.Command, Message: m.Error}}
			} else {
				pc.ch <- result{data: m.Data}
			}
		}
	}
	p.failAll(ErrClosed)
}

func (p *Proxy) queueEvent(ev relayed) {
	p.evMu.Lock()
	p.evQueue = append(p.evQueue, ev)
	p.evMu.Unlock()
	p.evCond.Signal()
}

func (p *Proxy) endEvents() {
	p.evMu.Lock()
	p.evEnd = true
	p.evMu.Unlock()
	p.evCond.Signal()
}

// deliver publishes relayed events in arrival order until the port is
// drained and closed.
func (p *Proxy) deliver() {
	defer close(p.evDone)
	for {
		p.evMu.Lock()
		for len(p.evQueue) == 0 && !p.evEnd {
			p.evCond.Wait()
		}
		if len(p.evQueue) == 0 {
			p.evMu.Unlock()
			return
		}
		ev := p.evQueue[0]
		p.evQueue[0] = relayed{}
		p.evQueue = p.evQueue[1:]
		p.evMu.Unlock()
		p.events.Publish(ev.name, ev.data)
	}
}

func (p *Proxy) take(id int64) *pendingCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	pc := p.pending[id]
	delete(p.pending, id)
	return pc
}

func (p *Proxy) failAll(err error) {
	p.mu.Lock()
	p.closed = true
	calls := p.pending
	p.pending = make(map[int64]*pendingCall)
	p.mu.Unlock()
	for _, pc := range calls {
		pc.ch <- result{err: err}
	}
}

// Call sends command with args as positional data and waits for the reply,
// the timeout or ctx, whichever comes first.
func (p *Proxy) Call(ctx context.Context, command string, args ...any) (json.RawMessage, error) {
	if reserved[command] {
		return nil, fmt.Errorf("%w: %s manages local listeners, use On or Off", ErrReserved, command)
	}
	if args == nil {
		args = []any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode %s arguments: %w", command, err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	p.next++
	id := p.next
	pc := &pendingCall{command: command, ch: make(chan result, 1)}
	p.pending[id] = pc
	p.mu.Unlock()

	if err := p.port.Post(ctx, Message{Type: TypeCommand, Command: command, Data: data, CallID: callID(id)}); err != nil {
		p.take(id)
		return nil, fmt.Errorf("send %s: %w", command, err)
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case r := <-pc.ch:
		return r.data, r.err
	case <-timer.C:
		p.take(id)
		return nil, &TimeoutError{Command: command, CallID: id, After: p.timeout}
	case <-ctx.Done():
		p.take(id)
		return nil, ctx.Err()
	}
}

// CallInto is Call decoding the result into out.
func (p *Proxy) CallInto(ctx context.Context, out any, command string, args ...any) error {
	raw, err := p.Call(ctx, command, args...)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s result: %w", command, err)
	}
	return nil
}

// Pending returns the number of calls awaiting an answer.
func (p *Proxy) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// On registers fn for a relayed remote event. The payload is the event data
// as json.RawMessage. Listeners run on a delivery goroutine of their own, in
// arrival order, and may issue Calls.
func (p *Proxy) On(name string, fn event.Listener) *event.Subscription {
	return p.events.Subscribe(name, fn)
}

// Off removes a listener registered with On; a nil sub removes all of them.
func (p *Proxy) Off(name string, sub *event.Subscription) {
	p.events.Unsubscribe(name, sub)
}

// Close closes the port, fails the pending calls and waits for queued events
// to be delivered. It must not be called from an On listener.
func (p *Proxy) Close() error {
	err := p.port.Close()
	<-p.done
	<-p.evDone
	return err
}
