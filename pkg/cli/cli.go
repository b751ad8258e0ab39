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


// Package cli holds the command line flags shared by the rover link
// binaries and the one-shot actions they trigger against a running bridge.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/roverlink/roverlink/internal/reporting"
	"github.com/roverlink/roverlink/pkg/api/client"
	"github.com/roverlink/roverlink/pkg/api/models"
	"github.com/roverlink/roverlink/pkg/config"
	"github.com/roverlink/roverlink/pkg/helpers"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

var (
	ErrFlagValue  = errors.New("invalid flag value")
	ErrSendFailed = errors.New("rover did not accept the line")
)

// BridgeClient is the part of the API client the flag actions use.
type BridgeClient interface {
	SendLine(ctx context.Context, line string) (models.SerialSendResponse, error)
	SendCommand(ctx context.Context, cmd *models.ClientCommand) error
	Stream(ctx context.Context, fn func(client.Message)) error
}

type Flags struct {
	fs        *flag.FlagSet
	Version   *bool
	ListPorts *bool
	Monitor   *bool
	Debug     *bool
	Send      *string
	Drive     *string
	Port      *string
	Baud      *int
	APIPort   *int
	Duration  *int
}

// SetupFlags registers the common flags on fs. A nil fs uses the process
// command line.
func SetupFlags(fs *flag.FlagSet) *Flags {
	if fs == nil {
		fs = flag.CommandLine
	}
	return &Flags{
		fs: fs,
		Version: fs.Bool(
			"version",
			false,
			"print version and exit",
		),
		ListPorts: fs.Bool(
			"ports",
			false,
			"list serial devices that look like a rover and exit",
		),
		Monitor: fs.Bool(
			"monitor",
			false,
			"stream events from a running bridge until interrupted",
		),
		Debug: fs.Bool(
			"debug",
			false,
			"enable debug logging",
		),
		Send: fs.String(
			"send",
			"",
			"send a line to the rover through a running bridge",
		),
		Drive: fs.String(
			"drive",
			"",
			"send a drive key (w, a, s, d or x) through a running bridge",
		),
		Port: fs.String(
			"port",
			"",
			"override the serial port path",
		),
		Baud: fs.Int(
			"baud",
			0,
			"override the serial baud rate",
		),
		APIPort: fs.Int(
			"api-port",
			0,
			"override the API listen port",
		),
		Duration: fs.Int(
			"duration",
			-1,
			"hold time in milliseconds for -drive",
		),
	}
}

func (f *Flags) isFlagPassed(name string) bool {
	found := false
	f.fs.Visit(func(fl *flag.Flag) {
		if fl.Name == name {
			found = true
		}
	})
	return found
}

// Pre parses args and runs the actions that need no config or logging.
// It returns true when the caller should exit.
func (f *Flags) Pre(args []string, out io.Writer) (bool, error) {
	if err := f.fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return true, nil
		}
		return true, fmt.Errorf("failed to parse flags: %w", err)
	}

	switch {
	case *f.Version:
		_, _ = fmt.Fprintf(out, "%s %s\n", config.AppName, config.AppVersion)
		return true, nil
	case *f.ListPorts:
		return true, listPorts(out, helpers.GetSerialDeviceList)
	}
	return false, nil
}

// Apply copies flag overrides into cfg. They last for this process only.
func (f *Flags) Apply(cfg *config.Instance) error {
	if f.isFlagPassed("port") {
		if strings.TrimSpace(*f.Port) == "" {
			return fmt.Errorf("%w: port requires a value", ErrFlagValue)
		}
		cfg.SetSerialPort(*f.Port)
	}
	if f.isFlagPassed("baud") {
		if *f.Baud <= 0 {
			return fmt.Errorf("%w: baud must be positive", ErrFlagValue)
		}
		cfg.SetSerialBaud(*f.Baud)
	}
	if f.isFlagPassed("api-port") {
		if *f.APIPort < 1 || *f.APIPort > 65535 {
			return fmt.Errorf("%w: api-port must be between 1 and 65535", ErrFlagValue)
		}
		cfg.SetAPIPort(*f.APIPort)
	}
	if *f.Debug {
		cfg.SetDebugLogging(true)
	}
	return nil
}

// Post runs the actions that talk to an already running bridge. It returns
// true when one ran and the caller should exit.
func (f *Flags) Post(ctx context.Context, c BridgeClient, out io.Writer) (bool, error) {
	switch {
	case f.isFlagPassed("send"):
		return true, sendLine(ctx, c, *f.Send, out)
	case f.isFlagPassed("drive"):
		var duration *int
		if *f.Duration >= 0 {
			duration = f.Duration
		}
		return true, drive(ctx, c, *f.Drive, duration)
	case *f.Monitor:
		return true, monitor(ctx, c, out)
	}
	return false, nil
}

func listPorts(out io.Writer, list func() ([]helpers.SerialDevice, error)) error {
	devices, err := list()
	if err != nil {
		return fmt.Errorf("failed to list serial devices: %w", err)
	}
	if len(devices) == 0 {
		_, _ = fmt.Fprintln(out, "No serial devices found")
		return nil
	}
	for _, d := range devices {
		line := d.Path
		if d.USB {
			line += fmt.Sprintf("  usb %s:%s", d.VID, d.PID)
		}
		if d.Product != "" {
			line += "  " + d.Product
		}
		_, _ = fmt.Fprintln(out, line)
	}
	return nil
}

func sendLine(ctx context.Context, c BridgeClient, line string, out io.Writer) error {
	if strings.TrimRight(line, "\r\n") == "" {
		return fmt.Errorf("%w: send requires a value", ErrFlagValue)
	}

	ctx, cancel := context.WithTimeout(ctx, config.APIRequestTimeout)
	defer cancel()

	resp, err := c.SendLine(ctx, line)
	if err != nil {
		return fmt.Errorf("error sending line: %w", err)
	}
	if !resp.OK {
		return ErrSendFailed
	}
	_, _ = fmt.Fprintf(out, "sent %d bytes\n", resp.BytesWritten)
	return nil
}

func drive(ctx context.Context, c BridgeClient, key string, durationMs *int) error {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return fmt.Errorf("%w: drive requires a key", ErrFlagValue)
	}

	cmd := &models.ClientCommand{Type: models.CommandWASD, Key: key}
	if durationMs != nil {
		ms := float64(*durationMs)
		cmd.DurationMs = &ms
	}

	ctx, cancel := context.WithTimeout(ctx, config.APIRequestTimeout)
	defer cancel()

	if err := c.SendCommand(ctx, cmd); err != nil {
		return fmt.Errorf("error sending drive command: %w", err)
	}
	return nil
}

func monitor(ctx context.Context, c BridgeClient, out io.Writer) error {
	err := c.Stream(ctx, func(m client.Message) {
		if line := FormatMessage(m); line != "" {
			_, _ = fmt.Fprintln(out, line)
		}
	})
	if err != nil {
		return fmt.Errorf("event stream ended: %w", err)
	}
	return nil
}

// Setup creates the directories, starts logging and loads the config from
// the real filesystem. Flag overrides are applied before the log level is
// chosen so -debug takes effect.
func Setup(
	dirs helpers.Dirs,
	defaults config.Values,
	flags *Flags,
	writers []io.Writer,
) (*config.Instance, error) {
	if err := helpers.EnsureDirectories(dirs); err != nil {
		return nil, fmt.Errorf("error creating directories: %w", err)
	}

	if err := helpers.InitLogging(dirs.Log, writers); err != nil {
		return nil, fmt.Errorf("error initializing logging: %w", err)
	}

	cfg, err := config.NewConfig(afero.NewOsFs(), dirs.Config, defaults)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}

	if flags != nil {
		if err := flags.Apply(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.DebugLogging() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	// opt-in
	if err := reporting.Init(
		cfg.ErrorReporting(),
		cfg.ErrorReportingDSN(),
		cfg.DeviceID(),
		config.AppVersion,
	); err != nil {
		log.Warn().Err(err).Msg("failed to initialize error reporting")
	}

	return cfg, nil
}
