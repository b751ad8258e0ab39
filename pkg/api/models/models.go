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

// Package models holds the JSON shapes exchanged with WebSocket and REST
// clients. Field names are fixed for compatibility with the rover dashboard.
package models

import (
	"time"

	"github.com/roverlink/roverlink/pkg/rover"
)

const (
	EventTelemetry    = "telemetry"
	EventImage        = "image"
	EventSerialIn     = "serial_in"
	EventSerialOut    = "serial_out"
	EventSerialStatus = "serial_status"
)

const (
	StatusOpened       = "opened"
	StatusDisconnected = "disconnected"
)

// ImageFrameMarker is echoed to the console after a line was decoded as an
// image, so the monitor shows something readable next to the base64 dump.
const ImageFrameMarker = "<image_frame_base64>"

// Event is anything that can be broadcast to connected clients.
type Event interface {
	EventType() string
}

type TelemetryEvent struct {
	Data *rover.TelemetryRecord `json:"data"`
	Type string                 `json:"type"`
}

func (TelemetryEvent) EventType() string { return EventTelemetry }

type ImageEvent struct {
	Data *rover.ImageRecord `json:"data"`
	Type string             `json:"type"`
}

func (ImageEvent) EventType() string { return EventImage }

// ConsoleEvent is a serial monitor entry: a received line, an echoed sent
// line or a port status change.
type ConsoleEvent struct {
	Type  string  `json:"type"`
	Line  string  `json:"line,omitempty"`
	Event string  `json:"event,omitempty"`
	Port  string  `json:"port,omitempty"`
	Baud  int     `json:"baud,omitempty"`
	TS    float64 `json:"ts"`
}

func (e ConsoleEvent) EventType() string { return e.Type }

func NewTelemetryEvent(tm *rover.TelemetryRecord) TelemetryEvent {
	return TelemetryEvent{Type: EventTelemetry, Data: tm}
}

func NewImageEvent(img *rover.ImageRecord) ImageEvent {
	return ImageEvent{Type: EventImage, Data: img}
}

func SerialIn(line string, ts time.Time) ConsoleEvent {
	return ConsoleEvent{Type: EventSerialIn, Line: line, TS: rover.EpochSeconds(ts)}
}

func SerialOut(line string, ts time.Time) ConsoleEvent {
	return ConsoleEvent{Type: EventSerialOut, Line: line, TS: rover.EpochSeconds(ts)}
}

func SerialOpened(port string, baud int, ts time.Time) ConsoleEvent {
	return ConsoleEvent{
		Type:  EventSerialStatus,
		Event: StatusOpened,
		Port:  port,
		Baud:  baud,
		TS:    rover.EpochSeconds(ts),
	}
}

func SerialDisconnected(ts time.Time) ConsoleEvent {
	return ConsoleEvent{Type: EventSerialStatus, Event: StatusDisconnected, TS: rover.EpochSeconds(ts)}
}
