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


package helpers

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/roverlink/roverlink/pkg/config"
)

// HomeEnv points every directory at one root, handy for portable installs.
const HomeEnv = "ROVERLINK_HOME"

type Dirs struct {
	Config string
	Log    string
}

// DefaultDirs resolves the config and log directories: under ROVERLINK_HOME
// when set, otherwise the XDG config and data directories.
func DefaultDirs() (Dirs, error) {
	if home := os.Getenv(HomeEnv); home != "" {
		return Dirs{
			Config: home,
			Log:    filepath.Join(home, "logs"),
		}, nil
	}

	if xdg.ConfigHome == "" || xdg.DataHome == "" {
		return Dirs{}, errors.New("failed to resolve user directories")
	}

	return Dirs{
		Config: filepath.Join(xdg.ConfigHome, config.AppName),
		Log:    filepath.Join(xdg.DataHome, config.AppName, "logs"),
	}, nil
}

func EnsureDirectories(d Dirs) error {
	if d.Config == "" || d.Log == "" {
		return errors.New("directories not set")
	}
	for _, dir := range []string{d.Config, d.Log} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}
