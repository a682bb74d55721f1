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
	"sync"
)

// Inbound is one raw message received by a port, tagged with the origin of
// its sender.
type Inbound struct {
	Origin string
	Data   []byte
}

// Port is one side of a message boundary.
type Port interface {
	// Post sends m to the other side.
	Post(ctx context.Context, m Message) error
	// Inbox delivers received messages; it is closed when the port closes.
	Inbox() <-chan Inbound
	Close() error
}

// pipeEnd is one side of an in-process pair.
type pipeEnd struct {
	origin string
	in     chan Inbound
	peer   *pipeEnd

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	once   sync.Once
}

// NewPipe returns two connected ports. Messages posted on a are received by b
// with origin originA, and the other way around.
func NewPipe(originA, originB string) (a, b Port) {
	ea := &pipeEnd{origin: originA, in: make(chan Inbound, 64), done: make(chan struct{})}
	eb := &pipeEnd{origin: originB, in: make(chan Inbound, 64), done: make(chan struct{})}
	ea.peer, eb.peer = eb, ea
	return ea, eb
}

func (p *pipeEnd) Post(ctx context.Context, m Message) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return p.peer.deliver(ctx, Inbound{Origin: p.origin, Data: raw})
}

// Inject delivers raw data into the port's inbox as if sent from origin.
func (p *pipeEnd) Inject(ctx context.Context, origin string, raw []byte) error {
	return p.deliver(ctx, Inbound{Origin: origin, Data: raw})
}

func (p *pipeEnd) deliver(ctx context.Context, in Inbound) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.in <- in:
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Inbox() <-chan Inbound { return p.in }

func (p *pipeEnd) Close() error {
	p.once.Do(func() {
		close(p.done)
		p.mu.Lock()
		p.closed = true
		close(p.in)
		p.mu.Unlock()
	})
	return nil
}

// Injector is implemented by ports that accept raw foreign messages, such as
// the in-process pipe.
type Injector interface {
	Inject(ctx context.Context, origin string, raw []byte) error
}
