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


// Package config loads the bridge settings from a TOML file, overlays
// environment overrides and exposes them through a lock-guarded Instance.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/roverlink/roverlink/pkg/api/validation"
	"github.com/roverlink/roverlink/pkg/helpers/syncutil"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const (
	SchemaVersion = 1
	CfgEnv        = "ROVERLINK_CFG"
	EnvPrefix     = "ROVERLINK_"
)

var ErrSchemaMismatch = errors.New("schema version mismatch")

type Values struct {
	Rover          Rover          `toml:"rover"`
	Serial         Serial         `toml:"serial"`
	Controls       Controls       `toml:"controls,omitempty"`
	ErrorReporting ErrorReporting `toml:"error_reporting,omitempty"`
	Service        Service        `toml:"service,omitempty"`
	ConfigSchema   int            `toml:"config_schema"`
	DebugLogging   bool           `toml:"debug_logging"`
}

type ErrorReporting struct {
	DSN     string `toml:"dsn,omitempty" validate:"omitempty,url"`
	Enabled bool   `toml:"enabled"`
}

var BaseDefaults = Values{
	ConfigSchema: SchemaVersion,
	Serial: Serial{
		Port:     DefaultSerialPort,
		Baud:     DefaultSerialBaud,
		TimeoutS: DefaultSerialTimeoutS,
	},
	Rover: Rover{
		TelemetryPrefix: DefaultTelemetryPrefix,
		ImagePrefix:     DefaultImagePrefix,
		ImageMIME:       DefaultImageMIME,
	},
	Service: Service{
		AllowedOrigins: []string{"*"},
	},
}

// LookupEnvFunc matches os.LookupEnv.
type LookupEnvFunc func(key string) (string, bool)

type Instance struct {
	fs        afero.Fs
	lookupEnv LookupEnvFunc
	cfgPath   string
	vals      Values
	defaults  Values
	mu        syncutil.RWMutex
}

// NewConfig opens the config file in configDir, or the path named by
// ROVERLINK_CFG, writing a default file first if none exists.
//
//nolint:gocritic // config struct copied for immutability
func NewConfig(fs afero.Fs, configDir string, defaults Values) (*Instance, error) {
	cfgPath := os.Getenv(CfgEnv)
	log.Debug().Msgf("env config path: %s", cfgPath)

	if cfgPath == "" {
		cfgPath = filepath.Join(configDir, CfgFile)
	}

	cfg := &Instance{
		fs:        fs,
		lookupEnv: os.LookupEnv,
		cfgPath:   cfgPath,
		vals:      defaults,
		defaults:  defaults,
	}

	exists, err := afero.Exists(fs, cfgPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if !exists {
		log.Info().Str("path", cfgPath).Msg("saving new default config to disk")

		if err := fs.MkdirAll(filepath.Dir(cfgPath), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}
		if err := cfg.Save(); err != nil {
			return nil, err
		}
	}

	if err := cfg.Load(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Path returns the config file location.
func (c *Instance) Path() string {
	return c.cfgPath
}

// Load reads the file over the defaults, applies environment overrides and
// validates the result. The current values are kept if any step fails.
func (c *Instance) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfgPath == "" {
		return errors.New("config path not set")
	}

	data, err := afero.ReadFile(c.fs, c.cfgPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// fields missing from the file keep their default values
	newVals := c.defaults
	newVals.Service.AllowedOrigins = append([]string(nil), c.defaults.Service.AllowedOrigins...)
	if err := toml.Unmarshal(data, &newVals); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if newVals.ConfigSchema != SchemaVersion {
		log.Error().Msgf(
			"schema version mismatch: got %d, expecting %d",
			newVals.ConfigSchema,
			SchemaVersion,
		)
		return ErrSchemaMismatch
	}

	if c.lookupEnv != nil {
		applyEnv(&newVals, c.lookupEnv)
	}

	if err := validation.DefaultValidator.Validate(&newVals); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	c.vals = newVals
	return nil
}

func (c *Instance) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfgPath == "" {
		return errors.New("config path not set")
	}

	c.vals.ConfigSchema = SchemaVersion

	if c.vals.Service.DeviceID == "" {
		newID := uuid.New().String()
		c.vals.Service.DeviceID = newID
		log.Info().Msgf("generated new device id: %s", newID)
	}

	data, err := toml.Marshal(&c.vals)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := afero.WriteFile(c.fs, c.cfgPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Instance) DebugLogging() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.DebugLogging
}

func (c *Instance) SetDebugLogging(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.DebugLogging = enabled
	if enabled {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func (c *Instance) ErrorReporting() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.ErrorReporting.Enabled
}

func (c *Instance) ErrorReportingDSN() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.ErrorReporting.DSN
}

// applyEnv overlays ROVERLINK_* variables. Blank or unparsable values are
// ignored so a bad variable never hides a good file value.
func applyEnv(v *Values, lookup LookupEnvFunc) {
	str := func(name string, dst *string) {
		if s, ok := envValue(lookup, name); ok {
			*dst = s
		}
	}

	if s, ok := envValue(lookup, "SERIAL_ENABLED"); ok {
		enabled := parseEnvBool(s)
		v.Serial.Enabled = &enabled
	}
	str("SERIAL_PORT", &v.Serial.Port)
	if s, ok := envValue(lookup, "SERIAL_BAUD"); ok {
		if n, err := strconv.Atoi(s); err == nil {
			v.Serial.Baud = n
		}
	}
	if s, ok := envValue(lookup, "SERIAL_TIMEOUT_S"); ok {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			v.Serial.TimeoutS = f
		}
	}
	str("SERIAL_TELEMETRY_PREFIX", &v.Rover.TelemetryPrefix)
	str("SERIAL_IMAGE_PREFIX", &v.Rover.ImagePrefix)
	str("SERIAL_IMAGE_MIME", &v.Rover.ImageMIME)

	str("API_HOST", &v.Service.APIHost)
	if s, ok := envValue(lookup, "API_PORT"); ok {
		if n, err := strconv.Atoi(s); err == nil {
			v.Service.APIPort = &n
		}
	}
	if s, ok := envValue(lookup, "CORS_ALLOW_ORIGINS"); ok {
		origins := make([]string, 0, strings.Count(s, ",")+1)
		for o := range strings.SplitSeq(s, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		v.Service.AllowedOrigins = origins
	}
}

func envValue(lookup LookupEnvFunc, name string) (string, bool) {
	s, ok := lookup(EnvPrefix + name)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

func parseEnvBool(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}
