/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package server exposes an editor over HTTP: a REST command endpoint and a
// WebSocket boundary carrying the remote message protocol.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"goposter/internal/editor"
	applog "goposter/internal/log"
	"goposter/internal/remote"
	"goposter/internal/scene"
	"goposter/internal/version"
)

// maxBody bounds REST command payloads.
const maxBody = 16 << 20

// Pinger is implemented by stores that can report readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures a Server.
type Options struct {
	Addr string
	// AllowedOrigins lists the browser origins allowed to talk to the editor;
	// "*" allows any. Requests without an Origin header are not browser
	// requests and pass.
	AllowedOrigins []string
	// Token, when set, is required as a bearer token (or "token" query
	// parameter for WebSocket clients).
	Token    string
	Observer remote.Observer
	Ready    Pinger
	// MCP, when set, is served at /mcp behind the same origin and token
	// checks.
	MCP    http.Handler
	Logger *slog.Logger
}

// Server serves one editor.
type Server struct {
	ed     *editor.Editor
	opts   Options
	allow  map[string]bool
	router chi.Router
	log    *slog.Logger
	calls  atomic.Int64
}

// New builds the router for ed.
func New(ed *editor.Editor, opts Options) *Server {
	s := &Server{ed: ed, opts: opts, log: opts.Logger, allow: map[string]bool{}}
	if s.log == nil {
		s.log = applog.WithComponent("server")
	}
	for _, o := range opts.AllowedOrigins {
		s.allow[strings.TrimRight(o, "/")] = true
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", s.handleReady)
	r.Get("/version", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(version.String()))
	})

	r.Group(func(r chi.Router) {
		r.Use(s.checkOrigin)
		r.Use(s.withAuth)
		r.Get("/api/commands", s.handleCommands)
		r.Post("/api/commands/{name}", s.handleCommand)
		// Preflights are answered by checkOrigin; the routes only need to match.
		r.Options("/api/commands", noContent)
		r.Options("/api/commands/{name}", noContent)
		r.Get("/api/events", s.handleEvents)
		r.Handle("/ws", s.wsServer())
		if opts.MCP != nil {
			r.Handle("/mcp", opts.MCP)
		}
	})
	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on opts.Addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Info("listening", slog.String("addr", s.opts.Addr))
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdown); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("took", time.Since(start)),
			slog.String("req_id", middleware.GetReqID(r.Context())))
	})
}

// originAllowed reports whether a browser origin may use the editor. An
// empty origin is a non-browser client.
func (s *Server) originAllowed(origin string) bool {
	if origin == "" || s.allow["*"] {
		return true
	}
	return s.allow[strings.TrimRight(origin, "/")]
}

func noContent(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) checkOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if !s.originAllowed(origin) {
			s.log.Warn("origin rejected", slog.String("origin", origin), slog.String("path", r.URL.Path))
			writeError(w, http.StatusForbidden, fmt.Errorf("origin not allowed: %s", origin))
			return
		}
		if origin != "" {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Token == "" || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		token := r.URL.Query().Get("token")
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
			token = strings.TrimSpace(auth[len(prefix):])
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.Token)) != 1 {
			writeError(w, http.StatusUnauthorized, errors.New("invalid token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ed.Destroyed() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("editor destroyed"))
		return
	}
	if s.opts.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.opts.Ready.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("store not ready"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleCommands(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ed.Table().Commands())
}

// handleCommand runs one command. The body is the message data; the reply is
// the RESPONSE or ERROR envelope.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(body) > maxBody {
		writeError(w, http.StatusRequestEntityTooLarge, errors.New("payload too large"))
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 && !json.Valid(body) {
		writeError(w, http.StatusBadRequest, errors.New("body is not valid JSON"))
		return
	}
	id := s.calls.Add(1)
	start := time.Now()
	res, err := s.ed.Table().Invoke(r.Context(), name, body)
	reply := remote.Reply(name, &id, res, err)
	if s.opts.Observer != nil {
		var oerr error
		if reply.Type == remote.TypeError {
			oerr = errors.New(reply.Error)
		}
		s.opts.Observer(name, time.Since(start), oerr)
	}
	writeJSON(w, statusFor(err, reply), reply)
}

func statusFor(err error, reply remote.Message) int {
	var ae *remote.ArgError
	var ve *scene.ValidationError
	switch {
	case err == nil && reply.Type == remote.TypeResponse:
		return http.StatusOK
	case errors.Is(err, remote.ErrCommandNotFound):
		return http.StatusNotFound
	case errors.As(err, &ae), errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, editor.ErrDestroyed):
		return http.StatusGone
	case errors.Is(err, editor.ErrNoStore):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}
