// Rover Link
// Copyright (c) 2026 The Rover Link Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Rover Link.
//
// Rover Link is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Rover Link is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Rover Link.  If not, see <http://www.gnu.org/licenses/>.

// Package api serves the rover dashboard: a WebSocket that streams serial
// events and accepts drive commands, a REST endpoint for the serial
// monitor, health and Prometheus metrics.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/olahol/melody"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	apimiddleware "github.com/roverlink/roverlink/pkg/api/middleware"
	"github.com/roverlink/roverlink/pkg/api/models"
	"github.com/roverlink/roverlink/pkg/api/notifications"
	"github.com/roverlink/roverlink/pkg/api/validation"
	"github.com/roverlink/roverlink/pkg/metrics"
	"github.com/rs/zerolog/log"
)

const (
	RequestTimeout  = 10 * time.Second
	ShutdownTimeout = 5 * time.Second
	MaxMessageSize  = 64 * 1024
	MaxRequestBody  = 64 * 1024

	sessionIDKey = "id"
)

// SerialBridge is the part of the serial worker the API drives.
type SerialBridge interface {
	SendLine(text string, appendNewline bool) (int, error)
	SendWASD(key string, durationMs *int) error
	SendSerialLine(line string) models.SerialSendResponse
}

type Options struct {
	// Bridge is nil when serial is disabled; commands are then ignored and
	// REST sends answer ok:false.
	Bridge      SerialBridge
	Dispatcher  *notifications.Dispatcher
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer
	CORSOrigins []string
	AllowedIPs  []string
}

type Server struct {
	bridge      SerialBridge
	dispatcher  *notifications.Dispatcher
	metrics     *metrics.Metrics
	melody      *melody.Melody
	router      chi.Router
	httpLimiter *apimiddleware.IPRateLimiter
	wsLimiter   *apimiddleware.IPRateLimiter
	origins     []string
}

func NewServer(opts *Options) *Server {
	s := &Server{
		bridge:      opts.Bridge,
		dispatcher:  opts.Dispatcher,
		metrics:     opts.Metrics,
		melody:      melody.New(),
		httpLimiter: apimiddleware.NewHTTPRateLimiter(),
		wsLimiter:   apimiddleware.NewWebSocketRateLimiter(),
		origins:     opts.CORSOrigins,
	}
	if len(s.origins) == 0 {
		s.origins = []string{"*"}
	}

	s.melody.Config.MaxMessageSize = MaxMessageSize
	s.melody.Upgrader.CheckOrigin = s.checkOrigin
	s.melody.HandleConnect(s.handleConnect)
	s.melody.HandleDisconnect(s.handleDisconnect)
	s.melody.HandleMessage(apimiddleware.WebSocketRateLimitHandler(s.wsLimiter, s.handleWSMessage))

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(apimiddleware.HTTPIPFilterMiddleware(apimiddleware.NewIPFilter(opts.AllowedIPs)))
	r.Use(privateNetworkAccessMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: !slices.Contains(s.origins, "*"),
	}))

	r.Get("/ws", s.handleWS)

	r.Group(func(r chi.Router) {
		r.Use(middleware.NoCache)
		r.Use(middleware.Timeout(RequestTimeout))
		r.Use(apimiddleware.HTTPRateLimitMiddleware(s.httpLimiter))
		r.Get("/api/health", handleHealth)
		r.Post("/api/serial/send", s.handleSerialSend)
	})

	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Sessions returns the number of connected WebSocket clients.
func (s *Server) Sessions() int {
	return s.melody.Len()
}

// Broadcast sends data to every connected client.
func (s *Server) Broadcast(data []byte) error {
	if err := s.melody.Broadcast(data); err != nil {
		return fmt.Errorf("melody broadcast: %w", err)
	}
	return nil
}

// Serve runs the HTTP server and the event broadcaster on ln until ctx is
// cancelled, then shuts both down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: RequestTimeout,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	s.httpLimiter.StartCleanup(ctx)
	s.wsLimiter.StartCleanup(ctx)

	// the broadcaster also stops if the listener fails on its own
	bcastCtx, stopBcast := context.WithCancel(ctx)
	defer stopBcast()

	bcastDone := make(chan struct{})
	go func() {
		defer close(bcastDone)
		if s.dispatcher == nil {
			<-bcastCtx.Done()
			return
		}
		_ = s.dispatcher.Run(bcastCtx, func(_ models.Event, data []byte) error {
			return s.Broadcast(data)
		})
	}()

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Msg("api server listening")
		serveErr <- srv.Serve(ln)
	}()

	var err error
	select {
	case err = <-serveErr:
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if closeErr := s.melody.Close(); closeErr != nil {
			log.Debug().Err(closeErr).Msg("closing websocket sessions")
		}
		err = srv.Shutdown(shutdownCtx)
		<-serveErr
	}
	stopBcast()
	<-bcastDone

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// ListenAndServe binds addr before serving so clients connecting right after
// startup never see a refused connection.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(s.origins, "*") {
		return true
	}
	return slices.Contains(s.origins, origin)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if err := s.melody.HandleRequest(w, r); err != nil {
		log.Error().Err(err).Msg("handling websocket request")
	}
}

func (s *Server) handleConnect(session *melody.Session) {
	id := uuid.New().String()
	session.Set(sessionIDKey, id)
	s.metrics.ClientConnected()
	log.Info().
		Str("session", id).
		Str("remote", session.Request.RemoteAddr).
		Msg("websocket client connected")
}

func (s *Server) handleDisconnect(session *melody.Session) {
	s.metrics.ClientDisconnected()
	log.Info().Str("session", sessionID(session)).Msg("websocket client disconnected")
}

func sessionID(session *melody.Session) string {
	v, ok := session.Get(sessionIDKey)
	if !ok {
		return ""
	}
	id, _ := v.(string)
	return id
}

// handleWSMessage runs one client command. Bad messages are logged and
// dropped; the connection stays open whatever happens on the serial side.
func (s *Server) handleWSMessage(session *melody.Session, msg []byte) {
	// heartbeat
	if bytes.Equal(msg, []byte("ping")) {
		if err := session.Write([]byte("pong")); err != nil {
			log.Error().Err(err).Msg("sending pong")
		}
		return
	}

	var cmd models.ClientCommand
	if err := validation.ValidateAndUnmarshal(msg, &cmd); err != nil {
		log.Debug().Err(err).Str("session", sessionID(session)).Msg("ignoring websocket message")
		return
	}

	if s.bridge == nil {
		log.Debug().Str("type", cmd.Type).Msg("serial disabled, ignoring command")
		return
	}

	var err error
	switch cmd.Type {
	case models.CommandSerialWrite, models.CommandRaw:
		text := cmd.Text()
		if text == "" {
			return
		}
		_, err = s.bridge.SendLine(text, true)
	case models.CommandWASD:
		err = s.bridge.SendWASD(cmd.Key, cmd.Duration())
	}
	if err != nil {
		log.Warn().Err(err).Str("type", cmd.Type).Msg("websocket command failed")
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, models.HealthResponse{Status: "ok"})
}

func (s *Server) handleSerialSend(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBody)

	var req models.SerialSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusUnprocessableEntity)
		return
	}

	resp := models.SerialSendResponse{OK: false, BytesWritten: 0}
	if s.bridge != nil {
		resp = s.bridge.SendSerialLine(req.Text())
	}
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("error encoding response")
	}
}

// privateNetworkAccessMiddleware answers Private Network Access preflights
// so a dashboard served from a public origin can reach the bridge on the
// local network.
func privateNetworkAccessMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions &&
			r.Header.Get("Access-Control-Request-Private-Network") == "true" {
			w.Header().Set("Access-Control-Allow-Private-Network", "true")
		}
		next.ServeHTTP(w, r)
	})
}
