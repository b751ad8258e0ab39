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


package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/roverlink/roverlink/internal/reporting"
	"github.com/roverlink/roverlink/pkg/api/client"
	"github.com/roverlink/roverlink/pkg/cli"
	"github.com/roverlink/roverlink/pkg/config"
	"github.com/roverlink/roverlink/pkg/helpers"
	"github.com/roverlink/roverlink/pkg/service"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := cli.SetupFlags(nil)

	exit, err := flags.Pre(os.Args[1:], os.Stdout)
	if exit || err != nil {
		return err
	}

	dirs, err := helpers.DefaultDirs()
	if err != nil {
		return fmt.Errorf("error resolving directories: %w", err)
	}

	cfg, err := cli.Setup(dirs, config.BaseDefaults, flags, []io.Writer{os.Stderr})
	if err != nil {
		return err
	}
	defer reporting.Close()

	defer func() {
		if err := recover(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Panic: %s\n", err)
			log.Fatal().Msgf("panic: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if exit, err := flags.Post(ctx, client.NewLocal(cfg), os.Stdout); exit {
		return err
	}

	svc, err := service.New(&service.Options{Config: cfg, WatchConfig: true})
	if err != nil {
		log.Error().Err(err).Msg("error creating service")
		return fmt.Errorf("error creating service: %w", err)
	}

	log.Info().
		Str("version", config.AppVersion).
		Str("config", cfg.Path()).
		Msg("rover link starting")

	if err := svc.Run(ctx); err != nil {
		log.Error().Err(err).Msg("service exited with error")
		return err
	}
	log.Info().Msg("rover link stopped")
	return nil
}
