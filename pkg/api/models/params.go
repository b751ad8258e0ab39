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

package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	CommandSerialWrite = "serial_write"
	CommandWASD        = "wasd"
	CommandRaw         = "raw"
)

// ClientCommand is an inbound WebSocket message. Which fields are used
// depends on Type.
type ClientCommand struct {
	DurationMs *float64 `json:"duration_ms,omitempty" validate:"omitempty,gte=0"`
	Type       string   `json:"type" validate:"required,oneof=serial_write wasd raw"`
	Data       string   `json:"data,omitempty"`
	Line       string   `json:"line,omitempty"`
	Key        string   `json:"key,omitempty" validate:"required_if=Type wasd"`
	Payload    string   `json:"payload,omitempty"`
}

// UnmarshalJSON accepts the loose typing browser clients send: a numeric or
// boolean key is used as its text form and duration_ms may be a numeric
// string.
func (c *ClientCommand) UnmarshalJSON(data []byte) error {
	type plain ClientCommand
	var shadow struct {
		*plain
		Key        json.RawMessage `json:"key,omitempty"`
		DurationMs json.RawMessage `json:"duration_ms,omitempty"`
	}
	*c = ClientCommand{}
	shadow.plain = (*plain)(c)
	if err := json.Unmarshal(data, &shadow); err != nil {
		return err //nolint:wrapcheck // callers map decode errors themselves
	}

	key, err := looseText(shadow.Key)
	if err != nil {
		return fmt.Errorf("key: %w", err)
	}
	c.Key = key

	ms, err := looseNumber(shadow.DurationMs)
	if err != nil {
		return fmt.Errorf("duration_ms: %w", err)
	}
	c.DurationMs = ms
	return nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func looseText(raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(x), nil
	default:
		return "", fmt.Errorf("unsupported value %s", raw)
	}
}

func looseNumber(raw json.RawMessage) (*float64, error) {
	if isNull(raw) {
		return nil, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return &f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("unsupported value %s", raw)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", s, err)
	}
	return &f, nil
}

// Text returns the line to write for serial_write and raw commands. For
// serial_write, data takes priority over line.
func (c *ClientCommand) Text() string {
	switch c.Type {
	case CommandSerialWrite:
		if c.Data != "" {
			return c.Data
		}
		return c.Line
	case CommandRaw:
		return c.Payload
	default:
		return ""
	}
}

// Duration returns the optional WASD hold time truncated to whole
// milliseconds.
func (c *ClientCommand) Duration() *int {
	if c.DurationMs == nil {
		return nil
	}
	ms := int(*c.DurationMs)
	return &ms
}

// SerialSendRequest is the body of POST /api/serial/send. Older clients send
// data instead of line.
type SerialSendRequest struct {
	Line *string `json:"line,omitempty"`
	Data *string `json:"data,omitempty"`
}

// Text prefers line over data.
func (r *SerialSendRequest) Text() string {
	if r.Line != nil && *r.Line != "" {
		return *r.Line
	}
	if r.Data != nil {
		return *r.Data
	}
	return ""
}
