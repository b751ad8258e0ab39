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


package config

import (
	"maps"
	"time"

	"github.com/roverlink/roverlink/pkg/rover"
)

const (
	DefaultSerialPort      = "COM4"
	DefaultSerialBaud      = 115200
	DefaultSerialTimeoutS  = 0.5
	DefaultTelemetryPrefix = rover.DefaultTelemetryPrefix
	DefaultImagePrefix     = rover.DefaultImagePrefix
	DefaultImageMIME       = rover.DefaultImageMIME
)

type Serial struct {
	Enabled           *bool   `toml:"enabled,omitempty"`
	Port              string  `toml:"port" validate:"required"`
	Baud              int     `toml:"baud" validate:"gt=0"`
	TimeoutS          float64 `toml:"timeout_s" validate:"gt=0"`
	ReconnectBackoffS float64 `toml:"reconnect_backoff_s,omitempty" validate:"gte=0"`
	MaxLineBytes      int     `toml:"max_line_bytes,omitempty" validate:"gte=0"`
}

// Rover holds the line markers the firmware uses. The two prefixes must not
// be prefixes of each other or one kind of line would never be seen.
type Rover struct {
	TelemetryPrefix string `toml:"telemetry_prefix" validate:"prefix"`
	ImagePrefix     string `toml:"image_prefix" validate:"prefix,nefield=TelemetryPrefix"`
	ImageMIME       string `toml:"image_mime" validate:"required,mimetype"`
}

// Controls overrides the drive key to command mapping. An empty table keeps
// the built-in WASD mapping.
type Controls struct {
	Commands map[string]string `toml:"commands,omitempty" validate:"dive,keys,required,endkeys,required"`
}

func (c *Instance) SerialEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Serial.Enabled == nil {
		return true
	}
	return *c.vals.Serial.Enabled
}

func (c *Instance) SetSerialEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Serial.Enabled = &enabled
}

func (c *Instance) SerialPort() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Serial.Port
}

func (c *Instance) SetSerialPort(port string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Serial.Port = port
}

func (c *Instance) SerialBaud() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Serial.Baud
}

func (c *Instance) SetSerialBaud(baud int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Serial.Baud = baud
}

func (c *Instance) SerialReadTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return seconds(c.vals.Serial.TimeoutS)
}

// ReconnectBackoff returns zero when unset, leaving the bridge default.
func (c *Instance) ReconnectBackoff() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return seconds(c.vals.Serial.ReconnectBackoffS)
}

func (c *Instance) MaxLineBytes() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Serial.MaxLineBytes
}

func (c *Instance) ParserOptions() rover.Options {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return rover.Options{
		TelemetryPrefix: c.vals.Rover.TelemetryPrefix,
		ImagePrefix:     c.vals.Rover.ImagePrefix,
		ImageMIME:       c.vals.Rover.ImageMIME,
	}
}

// ControlCommands returns a copy of the configured key mapping, nil when
// none is set.
func (c *Instance) ControlCommands() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.vals.Controls.Commands) == 0 {
		return nil
	}
	return maps.Clone(c.vals.Controls.Commands)
}

func seconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
