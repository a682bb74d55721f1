/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/net/websocket"

	"goposter/internal/remote"
)

// wsServer accepts WebSocket connections; each one becomes a remote session
// serving the command table and receiving every editor event.
func (s *Server) wsServer() websocket.Server {
	return websocket.Server{
		Handshake: func(cfg *websocket.Config, r *http.Request) error {
			o, err := websocket.Origin(cfg, r)
			if err != nil {
				return err
			}
			cfg.Origin = o
			if o != nil && !s.originAllowed(o.String()) {
				s.log.Warn("websocket origin rejected", slog.String("origin", o.String()))
				return fmt.Errorf("origin not allowed: %s", o)
			}
			return nil
		},
		Handler: s.serveWS,
	}
}

func (s *Server) serveWS(conn *websocket.Conn) {
	origin := ""
	if o := conn.Config().Origin; o != nil {
		origin = strings.TrimRight(o.String(), "/")
	}
	port := remote.NewWSPort(conn, origin)
	sess := s.ed.EnableRemote(conn.Request().Context(), port, s.dispatcherOptions()...)
	s.log.Info("remote session opened", slog.String("origin", origin))
	<-sess.Done()
	_ = sess.Close()
	if err := sess.Err(); err != nil {
		s.log.Warn("remote session ended", slog.String("origin", origin), slog.Any("err", err))
		return
	}
	s.log.Info("remote session closed", slog.String("origin", origin))
}

func (s *Server) dispatcherOptions() []remote.DispatcherOption {
	var opts []remote.DispatcherOption
	if s.opts.Observer != nil {
		opts = append(opts, remote.WithObserver(s.opts.Observer))
	}
	if s.allow["*"] {
		return append(opts, remote.AllowOrigins("*"))
	}
	origins := []string{""}
	for o := range s.allow {
		origins = append(origins, o)
	}
	return append(opts, remote.AllowOrigins(origins...))
}

// handleEvents streams editor events as server-sent events until the client
// goes away. Every event is queued for the client; publishers never wait on a
// slow reader.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	fl, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}
	type frame struct {
		name string
		data []byte
	}
	var (
		mu    sync.Mutex
		queue []frame
		wake  = make(chan struct{}, 1)
	)
	cancel := s.ed.Bus().Tap(func(name string, payload any) {
		data, err := json.Marshal(payload)
		if err != nil {
			s.log.Debug("event not streamed", slog.String("event", name), slog.Any("err", err))
			return
		}
		mu.Lock()
		queue = append(queue, frame{name, data})
		mu.Unlock()
		select {
		case wake <- struct{}{}:
		default:
		}
	})
	defer cancel()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fl.Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-wake:
		}
		mu.Lock()
		batch := queue
		queue = nil
		mu.Unlock()
		for _, f := range batch {
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", f.name, f.data); err != nil {
				return
			}
		}
		fl.Flush()
	}
}
