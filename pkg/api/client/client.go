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


// Package client talks to a running rover link over its REST and WebSocket
// API. It is used by the command line tools.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/roverlink/roverlink/pkg/api/models"
	"github.com/roverlink/roverlink/pkg/config"
	"github.com/roverlink/roverlink/pkg/helpers"
	"github.com/rs/zerolog/log"
)

var (
	ErrRequestTimeout   = errors.New("request timed out")
	ErrRequestCancelled = errors.New("request cancelled")
	ErrBadStatus        = errors.New("unexpected response status")
)

const (
	HealthPath     = "/api/health"
	SerialSendPath = "/api/serial/send"
	WebSocketPath  = "/ws"
)

// Message is a single event received from the stream. Raw holds the full
// JSON object as sent by the server.
type Message struct {
	Type string
	Raw  json.RawMessage
}

type Client struct {
	http   *http.Client
	dialer *websocket.Dialer
	host   string
}

// New returns a client for the bridge listening on host, a host:port pair.
func New(host string) *Client {
	return &Client{
		host:   host,
		http:   &http.Client{Timeout: config.APIRequestTimeout},
		dialer: &websocket.Dialer{HandshakeTimeout: config.APIRequestTimeout},
	}
}

// NewLocal returns a client for the bridge configured in cfg. A wildcard
// listen address is reached through the loopback interface.
func NewLocal(cfg *config.Instance) *Client {
	host := cfg.APIHost()
	if helpers.IsWildcardHost(host) {
		host = "localhost"
	}
	return New(net.JoinHostPort(host, strconv.Itoa(cfg.APIPort())))
}

func (c *Client) Host() string {
	return c.host
}

func (c *Client) httpURL(path string) string {
	u := url.URL{Scheme: "http", Host: c.host, Path: path}
	return u.String()
}

func (c *Client) wsURL() string {
	u := url.URL{Scheme: "ws", Host: c.host, Path: WebSocketPath}
	return u.String()
}

func wrapCtxErr(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return ErrRequestTimeout
	case errors.Is(ctx.Err(), context.Canceled):
		return ErrRequestCancelled
	default:
		return err
	}
}

// Health reports an error unless the bridge answers its health check.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.httpURL(HealthPath), http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return wrapCtxErr(ctx, fmt.Errorf("health check failed: %w", err))
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Debug().Err(closeErr).Msg("error closing response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s", ErrBadStatus, resp.Status)
	}

	var health models.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("failed to decode health response: %w", err)
	}
	if health.Status != "ok" {
		return fmt.Errorf("%w: status %q", ErrBadStatus, health.Status)
	}
	return nil
}

// SendLine posts line to the REST send endpoint. A response with ok false
// is returned without error; the caller decides how to report it.
func (c *Client) SendLine(ctx context.Context, line string) (models.SerialSendResponse, error) {
	var out models.SerialSendResponse

	body, err := json.Marshal(models.SerialSendRequest{Line: &line})
	if err != nil {
		return out, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.httpURL(SerialSendPath), bytes.NewReader(body),
	)
	if err != nil {
		return out, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return out, wrapCtxErr(ctx, fmt.Errorf("send failed: %w", err))
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Debug().Err(closeErr).Msg("error closing response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return out, fmt.Errorf("%w: %s: %s", ErrBadStatus, resp.Status, bytes.TrimSpace(msg))
	}

	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("failed to decode send response: %w", err)
	}
	return out, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.wsURL(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, wrapCtxErr(ctx, fmt.Errorf("websocket dial failed: %w", err))
	}
	return conn, nil
}

func closeConn(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	if err := conn.Close(); err != nil {
		log.Debug().Err(err).Msg("error closing websocket")
	}
}

// SendCommand opens a WebSocket session, writes cmd and closes the session.
// The server does not acknowledge commands.
func (c *Client) SendCommand(ctx context.Context, cmd *models.ClientCommand) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer closeConn(conn)

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	if err := conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("failed to write command: %w", err)
	}
	return nil
}

// Stream delivers every event received on a WebSocket session to fn until
// ctx is done or the server closes the connection. A cancelled context is
// a clean exit and returns nil.
func (c *Client) Stream(ctx context.Context, fn func(Message)) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = conn.Close()
	}()

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			closeConn(conn)
		case <-stopped:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("websocket read failed: %w", err)
		}

		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			log.Debug().Err(err).Msg("ignoring undecodable event")
			continue
		}
		fn(Message{Type: head.Type, Raw: data})
	}
}
