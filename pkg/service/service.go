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


// Package service wires the serial worker, the client API, the broker
// publishers and mDNS discovery into one running bridge.
package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/roverlink/roverlink/pkg/api"
	"github.com/roverlink/roverlink/pkg/api/notifications"
	"github.com/roverlink/roverlink/pkg/bridge"
	"github.com/roverlink/roverlink/pkg/config"
	"github.com/roverlink/roverlink/pkg/helpers"
	"github.com/roverlink/roverlink/pkg/metrics"
	"github.com/roverlink/roverlink/pkg/service/discovery"
	"github.com/roverlink/roverlink/pkg/service/publishers"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var ErrNoConfig = errors.New("config is required")

type Options struct {
	Config *config.Instance
	// Registry receives the bridge metrics. A fresh registry with the Go
	// runtime and process collectors is used when nil.
	Registry    *prometheus.Registry
	PortFactory bridge.PortFactory
	Clock       clockwork.Clock
	// Listener overrides the configured listen address.
	Listener net.Listener
	// WatchConfig reloads the config file when it changes on disk. Only the
	// log level is applied live; everything else needs a restart.
	WatchConfig bool
}

type Service struct {
	cfg        *config.Instance
	worker     *bridge.Worker
	server     *api.Server
	discovery  *discovery.Service
	registry   *prometheus.Registry
	listener   net.Listener
	publishers []*publishers.MQTTPublisher
	watch      bool
}

// New builds every component from the config without starting anything.
func New(opts *Options) (*Service, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, ErrNoConfig
	}

	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	m := metrics.New(reg)

	apiQueue := notifications.NewDispatcher(notifications.DefaultQueueSize, m)
	pubs := publishers.FromConfig(cfg, m)

	sinks := notifications.Fanout{apiQueue}
	for _, p := range pubs {
		sinks = append(sinks, p)
	}

	s := &Service{
		cfg:        cfg,
		registry:   reg,
		listener:   opts.Listener,
		publishers: pubs,
		discovery:  discovery.New(cfg),
		watch:      opts.WatchConfig,
	}

	apiOpts := &api.Options{
		Dispatcher:  apiQueue,
		Metrics:     m,
		CORSOrigins: cfg.AllowedOrigins(),
		AllowedIPs:  cfg.AllowedIPs(),
	}
	if cfg.MetricsEnabled() {
		apiOpts.Gatherer = reg
	}

	if cfg.SerialEnabled() {
		s.worker = bridge.NewWorker(&bridge.Config{
			PortFactory:  opts.PortFactory,
			Clock:        opts.Clock,
			Metrics:      m,
			Commands:     cfg.ControlCommands(),
			Parser:       cfg.ParserOptions(),
			Path:         cfg.SerialPort(),
			Baud:         cfg.SerialBaud(),
			ReadTimeout:  cfg.SerialReadTimeout(),
			Backoff:      cfg.ReconnectBackoff(),
			MaxLineBytes: cfg.MaxLineBytes(),
		}, sinks)
		apiOpts.Bridge = s.worker
	} else {
		log.Info().Msg("serial disabled by configuration, send endpoints will reject lines")
	}

	s.server = api.NewServer(apiOpts)
	return s, nil
}

// Worker returns nil when serial is disabled.
func (s *Service) Worker() *bridge.Worker {
	return s.worker
}

func (s *Service) Handler() http.Handler {
	return s.server.Handler()
}

func (s *Service) Registry() *prometheus.Registry {
	return s.registry
}

// Run starts the bridge and blocks until ctx is cancelled or the API
// server fails. Shutdown stops discovery and then the serial worker.
func (s *Service) Run(ctx context.Context) error {
	log.Info().Msgf("version: %s", config.AppVersion)

	ln := s.listener
	if ln == nil {
		var lc net.ListenConfig
		addr := s.cfg.APIListen()
		var err error
		ln, err = lc.Listen(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
	}
	logReachable(s.cfg.APIHost(), ln.Addr())

	g, gctx := errgroup.WithContext(ctx)

	log.Info().Msg("starting API service")
	g.Go(func() error {
		return s.server.Serve(gctx, ln)
	})

	if len(s.publishers) > 0 {
		log.Info().Int("count", len(s.publishers)).Msg("starting publishers")
	}
	for _, p := range s.publishers {
		g.Go(func() error {
			// a broker outage must not take the bridge down
			if err := p.Run(gctx); err != nil {
				log.Error().Err(err).Msg("mqtt publisher stopped")
			}
			return nil
		})
	}

	if s.watch {
		g.Go(func() error {
			if err := s.cfg.Watch(gctx, s.applyReload); err != nil {
				log.Warn().Err(err).Msg("config watcher stopped")
			}
			return nil
		})
	}

	if s.worker != nil {
		log.Info().
			Str("port", s.cfg.SerialPort()).
			Int("baud", s.cfg.SerialBaud()).
			Msg("starting serial worker")
		s.worker.Start()
	}

	log.Info().Msg("starting mDNS discovery service")
	if err := s.discovery.Start(); err != nil {
		log.Error().Err(err).Msg("mDNS discovery failed to start (continuing without discovery)")
	}

	err := g.Wait()
	log.Info().Msg("service context cancelled, running cleanup")

	s.discovery.Stop()
	if s.worker != nil {
		s.worker.Stop()
	}

	if err != nil {
		return fmt.Errorf("service stopped: %w", err)
	}
	return nil
}

// applyReload picks up settings that can change without a restart.
func (s *Service) applyReload(err error) {
	if err != nil {
		return
	}
	if s.cfg.DebugLogging() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func logReachable(host string, addr net.Addr) {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok || !helpers.IsWildcardHost(host) {
		log.Info().Str("addr", addr.String()).Msg("dashboard endpoint")
		return
	}
	for _, ip := range helpers.GetAllLocalIPs() {
		log.Info().Str("url", "http://"+net.JoinHostPort(ip, strconv.Itoa(tcp.Port))).Msg("dashboard endpoint")
	}
}
