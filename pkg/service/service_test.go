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


package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/roverlink/roverlink/pkg/bridge"
	"github.com/roverlink/roverlink/pkg/bridge/testutils"
	testhelpers "github.com/roverlink/roverlink/pkg/testing/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

const baseTOML = `
[service.discovery]
enabled = false
`

func portFactory(f *testutils.MockFactory) bridge.PortFactory {
	return func(path string, mode *serial.Mode) (bridge.Port, error) {
		p, err := f.Open(path, mode)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

type running struct {
	err    error
	svc    *Service
	cancel context.CancelFunc
	done   chan struct{}
	base   string
}

func startService(t *testing.T, body string, factory *testutils.MockFactory) *running {
	t.Helper()

	cfg, err := testhelpers.NewTestConfigFromTOML(nil, "/cfg", baseTOML+body)
	require.NoError(t, err)

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)

	opts := &Options{
		Config:   cfg,
		Registry: prometheus.NewRegistry(),
		Listener: ln,
	}
	if factory != nil {
		opts.PortFactory = portFactory(factory)
	}
	svc, err := New(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	r := &running{
		svc:    svc,
		base:   "http://" + ln.Addr().String(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(r.done)
		r.err = svc.Run(ctx)
	}()
	t.Cleanup(func() { _ = r.stop() })

	return r
}

// stop cancels the service and returns what Run returned.
func (r *running) stop() error {
	r.cancel()
	select {
	case <-r.done:
		return r.err
	case <-time.After(5 * time.Second):
		return errors.New("service did not stop")
	}
}

func (r *running) post(t *testing.T, path, body string) map[string]any {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, r.base+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out), string(data))
	return out
}

func TestNew_RequiresConfig(t *testing.T) {
	t.Parallel()

	_, err := New(&Options{})
	require.ErrorIs(t, err, ErrNoConfig)
}

func TestNew_SerialDisabled(t *testing.T) {
	t.Parallel()

	cfg, err := testhelpers.NewTestConfigFromTOML(nil, "/cfg", baseTOML+"[serial]\nenabled = false\nport = \"COM4\"\nbaud = 115200\ntimeout_s = 0.5\n")
	require.NoError(t, err)

	svc, err := New(&Options{Config: cfg, Registry: prometheus.NewRegistry()})
	require.NoError(t, err)
	assert.Nil(t, svc.Worker())
}

func TestRun_EndToEnd(t *testing.T) {
	t.Parallel()

	port := testutils.NewMockPort()
	factory := testutils.NewMockFactory(port)
	r := startService(t, "", factory)

	require.Eventually(t, func() bool {
		return r.svc.Worker().State() == bridge.StateOpen
	}, 2*time.Second, 5*time.Millisecond)

	wsURL := "ws" + strings.TrimPrefix(r.base, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer func() { _ = conn.Close() }()

	// let the server register the session before feeding data
	time.Sleep(50 * time.Millisecond)
	port.Feed("hello rover\n")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev map[string]any
	for ev["type"] != "serial_in" {
		_, msg, readErr := conn.ReadMessage()
		require.NoError(t, readErr)
		ev = nil
		require.NoError(t, json.Unmarshal(msg, &ev))
	}
	assert.Equal(t, "hello rover", ev["line"])

	out := r.post(t, "/api/serial/send", `{"line":"LED:on"}`)
	assert.Equal(t, true, out["ok"])
	assert.InDelta(t, 7, out["bytes_written"], 0)
	assert.Equal(t, "LED:on\n", port.Written())

	require.NoError(t, r.stop())
	assert.True(t, port.IsClosed())
	assert.Equal(t, bridge.StateClosed, r.svc.Worker().State())
}

func TestRun_SerialDisabledRejectsSends(t *testing.T) {
	t.Parallel()

	r := startService(t, "[serial]\nenabled = false\nport = \"COM4\"\nbaud = 115200\ntimeout_s = 0.5\n", nil)

	var out map[string]any
	require.Eventually(t, func() bool {
		resp, err := http.Get(r.base + "/api/health") //nolint:noctx // test helper
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	out = r.post(t, "/api/serial/send", `{"line":"hello"}`)
	assert.Equal(t, false, out["ok"])
	assert.InDelta(t, 0, out["bytes_written"], 0)
}

func TestRun_MetricsExposed(t *testing.T) {
	t.Parallel()

	factory := testutils.NewMockFactory()
	r := startService(t, "", factory)

	require.Eventually(t, func() bool {
		resp, err := http.Get(r.base + "/metrics") //nolint:noctx // test helper
		if err != nil {
			return false
		}
		defer func() { _ = resp.Body.Close() }()
		body, _ := io.ReadAll(resp.Body)
		return strings.Contains(string(body), "roverlink_serial_port_failures_total")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRun_ListenError(t *testing.T) {
	t.Parallel()

	var lc net.ListenConfig
	taken, err := lc.Listen(context.Background(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = taken.Close() }()

	_, portStr, err := net.SplitHostPort(taken.Addr().String())
	require.NoError(t, err)

	cfg, err := testhelpers.NewTestConfigFromTOML(nil, "/cfg",
		baseTOML+"[service]\napi_host = \"127.0.0.1\"\napi_port = "+portStr+"\n")
	require.NoError(t, err)

	svc, err := New(&Options{
		Config:      cfg,
		Registry:    prometheus.NewRegistry(),
		PortFactory: portFactory(testutils.NewMockFactory()),
	})
	require.NoError(t, err)

	err = svc.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}
