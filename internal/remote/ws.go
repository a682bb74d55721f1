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
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/websocket"
)

// WSPort is a Port over a WebSocket connection. Each text frame carries one
// JSON envelope.
type WSPort struct {
	conn   *websocket.Conn
	origin string
	in     chan Inbound

	wmu  sync.Mutex
	once sync.Once
	done chan struct{}
	gone chan struct{}
}

// NewWSPort wraps conn. Received messages are tagged with origin.
func NewWSPort(conn *websocket.Conn, origin string) *WSPort {
	p := &WSPort{
		conn:   conn,
		origin: origin,
		in:     make(chan Inbound, 64),
		done:   make(chan struct{}),
		gone:   make(chan struct{}),
	}
	go p.read()
	return p
}

// DialWS connects to a WebSocket endpoint announcing origin.
func DialWS(ctx context.Context, url, origin string, header http.Header) (*WSPort, error) {
	cfg, err := websocket.NewConfig(url, origin)
	if err != nil {
		return nil, fmt.Errorf("websocket config: %w", err)
	}
	for k, v := range header {
		cfg.Header[k] = v
	}
	conn, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewWSPort(conn, url), nil
}

func (p *WSPort) read() {
	defer close(p.gone)
	defer close(p.in)
	for {
		var raw []byte
		if err := websocket.Message.Receive(p.conn, &raw); err != nil {
			return
		}
		select {
		case p.in <- Inbound{Origin: p.origin, Data: raw}:
		case <-p.done:
			return
		}
	}
}

// Post writes m as one text frame.
func (p *WSPort) Post(ctx context.Context, m Message) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	p.wmu.Lock()
	defer p.wmu.Unlock()
	if dl, ok := ctx.Deadline(); ok {
		_ = p.conn.SetWriteDeadline(dl)
	} else {
		_ = p.conn.SetWriteDeadline(time.Time{})
	}
	if err := websocket.Message.Send(p.conn, string(raw)); err != nil {
		return fmt.Errorf("websocket send: %w", err)
	}
	return nil
}

func (p *WSPort) Inbox() <-chan Inbound { return p.in }

// Done is closed once the connection stopped delivering messages.
func (p *WSPort) Done() <-chan struct{} { return p.gone }

func (p *WSPort) Close() error {
	var err error
	p.once.Do(func() {
		close(p.done)
		err = p.conn.Close()
	})
	return err
}
