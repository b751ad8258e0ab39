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

package api

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/roverlink/roverlink/pkg/api/models"
	"github.com/roverlink/roverlink/pkg/api/notifications"
	"github.com/roverlink/roverlink/pkg/helpers/syncutil"
	"github.com/roverlink/roverlink/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentLine struct {
	text    string
	newline bool
}

type wasdCall struct {
	duration *int
	key      string
}

// fakeBridge records every command the API forwards.
type fakeBridge struct {
	lines  []sentLine
	wasd   []wasdCall
	serial []string
	mu     syncutil.Mutex
}

func (b *fakeBridge) SendLine(text string, appendNewline bool) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, sentLine{text: text, newline: appendNewline})
	return len(text) + 1, nil
}

func (b *fakeBridge) SendWASD(key string, durationMs *int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wasd = append(b.wasd, wasdCall{key: key, duration: durationMs})
	return nil
}

func (b *fakeBridge) SendSerialLine(line string) models.SerialSendResponse {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.serial = append(b.serial, line)
	if line == "" {
		return models.SerialSendResponse{OK: false}
	}
	return models.SerialSendResponse{OK: true, BytesWritten: len(line) + 1}
}

func (b *fakeBridge) sentLines() []sentLine {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]sentLine(nil), b.lines...)
}

func (b *fakeBridge) serialLines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.serial...)
}

func (b *fakeBridge) wasdCalls() []wasdCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]wasdCall(nil), b.wasd...)
}

type testEnv struct {
	server     *Server
	bridge     *fakeBridge
	dispatcher *notifications.Dispatcher
	http       *httptest.Server
}

func newTestEnv(t *testing.T, opts *Options) *testEnv {
	t.Helper()

	reg := prometheus.NewRegistry()
	if opts == nil {
		opts = &Options{}
	}
	env := &testEnv{
		bridge:     &fakeBridge{},
		dispatcher: notifications.NewDispatcher(16, nil),
	}
	if opts.Bridge == nil {
		opts.Bridge = env.bridge
	}
	opts.Dispatcher = env.dispatcher
	opts.Metrics = metrics.New(reg)
	opts.Gatherer = reg

	env.server = NewServer(opts)
	env.http = httptest.NewServer(env.server.Handler())
	t.Cleanup(env.http.Close)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = env.dispatcher.Run(ctx, func(_ models.Event, data []byte) error {
			return env.server.Broadcast(data)
		})
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return env
}

func (e *testEnv) dial(t *testing.T, header http.Header) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (e *testEnv) postSend(t *testing.T, body string) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost,
		e.http.URL+"/api/serial/send", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.http.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestHealth(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	resp, err := env.http.Client().Get(env.http.URL + "/api/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestSerialSend(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     string
		wantLine string
		wantResp string
	}{
		{
			name:     "line",
			body:     `{"line":"LED:on"}`,
			wantLine: "LED:on",
			wantResp: `{"ok":true,"bytes_written":7}`,
		},
		{
			name:     "line preferred over data",
			body:     `{"line":"A","data":"B"}`,
			wantLine: "A",
			wantResp: `{"ok":true,"bytes_written":2}`,
		},
		{
			name:     "data fallback",
			body:     `{"data":"B"}`,
			wantLine: "B",
			wantResp: `{"ok":true,"bytes_written":2}`,
		},
		{
			name:     "empty",
			body:     `{}`,
			wantLine: "",
			wantResp: `{"ok":false,"bytes_written":0}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, nil)

			resp, body := env.postSend(t, tt.body)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.JSONEq(t, tt.wantResp, string(body))
			assert.Equal(t, []string{tt.wantLine}, env.bridge.serialLines())
		})
	}
}

func TestSerialSend_InvalidBody(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	resp, _ := env.postSend(t, `{not json`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Empty(t, env.bridge.serialLines())
}

func TestSerialSend_SerialDisabled(t *testing.T) {
	t.Parallel()

	srv := NewServer(&Options{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/serial/send", strings.NewReader(`{"line":"x"}`))
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":false,"bytes_written":0}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	env.dial(t, nil)

	require.Eventually(t, func() bool {
		return env.server.Sessions() == 1
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := env.http.Client().Get(env.http.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "roverlink_websocket_clients 1")
}

func TestWebSocket_PingPong(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	conn := env.dial(t, nil)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "pong", string(data))
}

func TestWebSocket_ReceivesBroadcasts(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	first := env.dial(t, nil)
	second := env.dial(t, nil)

	require.Eventually(t, func() bool {
		return env.server.Sessions() == 2
	}, 2*time.Second, 10*time.Millisecond)

	env.dispatcher.Broadcast(models.SerialOpened("/dev/ttyUSB0", 115200, time.Unix(10, 0)))

	for _, conn := range []*websocket.Conn{first, second} {
		msg := readJSON(t, conn)
		assert.Equal(t, "serial_status", msg["type"])
		assert.Equal(t, "opened", msg["event"])
		assert.Equal(t, "/dev/ttyUSB0", msg["port"])
		assert.InDelta(t, 115200, msg["baud"], 0)
		assert.InDelta(t, 10, msg["ts"], 0)
	}
}

func TestWebSocket_Commands(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	conn := env.dial(t, nil)

	for _, msg := range []string{
		`not json`,
		`{"type":"dance"}`,
		`{"type":"serial_write"}`,
		`{"type":"wasd"}`,
		`{"type":"serial_write","data":"A","line":"B"}`,
		`{"type":"serial_write","line":"B"}`,
		`{"type":"raw","payload":"PING"}`,
		`{"type":"wasd","key":"W","duration_ms":250}`,
		`{"type":"wasd","key":" "}`,
	} {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
	}

	require.Eventually(t, func() bool {
		return len(env.bridge.wasdCalls()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []sentLine{
		{text: "A", newline: true},
		{text: "B", newline: true},
		{text: "PING", newline: true},
	}, env.bridge.sentLines())

	calls := env.bridge.wasdCalls()
	assert.Equal(t, "W", calls[0].key)
	require.NotNil(t, calls[0].duration)
	assert.Equal(t, 250, *calls[0].duration)
	assert.Equal(t, " ", calls[1].key)
	assert.Nil(t, calls[1].duration)
}

func TestWebSocket_RejectsForeignOrigin(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, &Options{CORSOrigins: []string{"http://dashboard.local"}})

	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"http://evil.example"}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if conn != nil {
		_ = conn.Close()
	}
	require.Error(t, err)
	require.NotNil(t, resp)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	env.dial(t, http.Header{"Origin": []string{"http://dashboard.local"}})
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	srv := NewServer(&Options{CORSOrigins: []string{"http://dashboard.local"}})
	req := httptest.NewRequest(http.MethodOptions, "/api/serial/send", http.NoBody)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Private-Network", "true")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "http://dashboard.local", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Private-Network"))
}

func TestAllowedIPs(t *testing.T) {
	t.Parallel()

	srv := NewServer(&Options{AllowedIPs: []string{"10.0.0.0/8"}})

	for addr, code := range map[string]int{
		"10.1.2.3:5000":    http.StatusOK,
		"192.168.1.2:5000": http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/health", http.NoBody)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, code, rec.Code, addr)
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", "127.0.0.1:0")
	require.NoError(t, err)

	dispatcher := notifications.NewDispatcher(4, nil)
	srv := NewServer(&Options{Dispatcher: dispatcher})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ctx, ln)
	}()

	// the listener is bound before Serve runs, so this never races startup
	resp, err := http.Get("http://" + ln.Addr().String() + "/api/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(ShutdownTimeout):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestPrivateNetworkAccessMiddleware(t *testing.T) {
	t.Parallel()

	handler := privateNetworkAccessMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		method string
		header string
		want   string
	}{
		{method: http.MethodOptions, header: "true", want: "true"},
		{method: http.MethodOptions, header: "", want: ""},
		{method: http.MethodOptions, header: "false", want: ""},
		{method: http.MethodPost, header: "true", want: ""},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, "/api/serial/send", http.NoBody)
		if tt.header != "" {
			req.Header.Set("Access-Control-Request-Private-Network", tt.header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, tt.want, rec.Header().Get("Access-Control-Allow-Private-Network"),
			"%s with header %q", tt.method, tt.header)
	}
}
