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


// Package helpers builds config instances on in-memory filesystems for
// tests in other packages.
package helpers

import (
	"fmt"
	"path/filepath"

	"github.com/roverlink/roverlink/pkg/config"
	"github.com/spf13/afero"
)

// NewTestConfig creates a config with default values, writing the default
// file to fs. A nil fs gets a fresh in-memory filesystem.
func NewTestConfig(fs afero.Fs, configDir string) (*config.Instance, error) {
	if fs == nil {
		fs = afero.NewMemMapFs()
	}
	cfg, err := config.NewConfig(fs, configDir, config.BaseDefaults)
	if err != nil {
		return nil, fmt.Errorf("failed to create test config: %w", err)
	}
	return cfg, nil
}

// NewTestConfigFromTOML writes body as the config file, with the schema
// version line prepended, and loads it.
func NewTestConfigFromTOML(fs afero.Fs, configDir, body string) (*config.Instance, error) {
	if fs == nil {
		fs = afero.NewMemMapFs()
	}

	path := filepath.Join(configDir, config.CfgFile)
	content := fmt.Sprintf("config_schema = %d\n%s", config.SchemaVersion, body)
	if err := fs.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := afero.WriteFile(fs, path, []byte(content), 0o600); err != nil {
		return nil, fmt.Errorf("failed to write config: %w", err)
	}

	return NewTestConfig(fs, configDir)
}
