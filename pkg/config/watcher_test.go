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
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestWatch_ReloadsOnWrite(t *testing.T) {
	t.Setenv(CfgEnv, "")
	dir := t.TempDir()

	cfg, err := NewConfig(afero.NewOsFs(), dir, BaseDefaults)
	require.NoError(t, err)
	cfg.lookupEnv = nil
	require.False(t, cfg.DebugLogging())

	ctx, cancel := context.WithCancel(context.Background())
	var reloads atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- cfg.Watch(ctx, func(error) {
			reloads.Inc()
		})
	}()

	body := "config_schema = 1\ndebug_logging = true\n[serial]\nport = '/dev/ttyUSB3'\n"
	// the watcher may not be registered yet, keep writing until it sees one
	require.Eventually(t, func() bool {
		_ = os.WriteFile(filepath.Join(dir, CfgFile), []byte(body), 0o600)
		return reloads.Load() > 0 && cfg.DebugLogging()
	}, 5*time.Second, 50*time.Millisecond)

	assert.Equal(t, "/dev/ttyUSB3", cfg.SerialPort())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatch_InvalidFileKeepsValues(t *testing.T) {
	t.Setenv(CfgEnv, "")
	dir := t.TempDir()

	cfg, err := NewConfig(afero.NewOsFs(), dir, BaseDefaults)
	require.NoError(t, err)
	cfg.lookupEnv = nil

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var lastErr atomic.Error
	go func() {
		_ = cfg.Watch(ctx, func(err error) {
			if err != nil {
				lastErr.Store(err)
			}
		})
	}()

	require.Eventually(t, func() bool {
		_ = os.WriteFile(filepath.Join(dir, CfgFile), []byte("config_schema = 1\n[serial]\nbaud = -1\n"), 0o600)
		return lastErr.Load() != nil
	}, 5*time.Second, 50*time.Millisecond)

	assert.Equal(t, DefaultSerialBaud, cfg.SerialBaud())
}

func TestWatch_MissingDirectory(t *testing.T) {
	t.Setenv(CfgEnv, "")
	cfg, err := NewConfig(afero.NewMemMapFs(), "/nonexistent/roverlink", BaseDefaults)
	require.NoError(t, err)

	err = cfg.Watch(context.Background(), nil)
	require.Error(t, err)
}
