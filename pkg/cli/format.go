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


package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roverlink/roverlink/pkg/api/client"
	"github.com/roverlink/roverlink/pkg/api/models"
	"github.com/roverlink/roverlink/pkg/rover"
)

// FormatMessage renders a streamed event as one line of monitor output.
// Unknown event types are printed as their raw JSON.
func FormatMessage(m client.Message) string {
	switch m.Type {
	case models.EventSerialIn, models.EventSerialOut, models.EventSerialStatus:
		var ev models.ConsoleEvent
		if err := json.Unmarshal(m.Raw, &ev); err != nil {
			return string(m.Raw)
		}
		return formatConsole(&ev)
	case models.EventTelemetry:
		var ev struct {
			Data *rover.TelemetryRecord `json:"data"`
		}
		if err := json.Unmarshal(m.Raw, &ev); err != nil || ev.Data == nil {
			return string(m.Raw)
		}
		return formatTelemetry(ev.Data)
	case models.EventImage:
		var ev struct {
			Data *rover.ImageRecord `json:"data"`
		}
		if err := json.Unmarshal(m.Raw, &ev); err != nil || ev.Data == nil {
			return string(m.Raw)
		}
		return fmt.Sprintf("[image] %d bytes", ev.Data.RawLen)
	default:
		return string(m.Raw)
	}
}

func formatConsole(ev *models.ConsoleEvent) string {
	switch ev.Type {
	case models.EventSerialIn:
		return "< " + ev.Line
	case models.EventSerialOut:
		return "> " + ev.Line
	default:
		if ev.Event == models.StatusOpened {
			return fmt.Sprintf("* opened %s @ %d", ev.Port, ev.Baud)
		}
		return "* " + ev.Event
	}
}

func formatTelemetry(tm *rover.TelemetryRecord) string {
	var b strings.Builder
	b.WriteString("[telemetry]")
	if tm.RSSI != nil {
		fmt.Fprintf(&b, " rssi=%d", *tm.RSSI)
	}
	fmt.Fprintf(&b, " temp1=%s dist=%s/%s/%s",
		reading(tm.Temp1), reading(tm.Dist1), reading(tm.Dist2), reading(tm.Dist3))
	if tm.ActionBits != nil {
		fmt.Fprintf(&b, " action=%s", *tm.ActionBits)
	}
	if tm.ObstacleBits != nil {
		fmt.Fprintf(&b, " obstacle=%s", *tm.ObstacleBits)
	}
	return b.String()
}

func reading(r rover.Reading) string {
	if r.IsNaN() {
		return "-"
	}
	return fmt.Sprintf("%.1f", r.Float64())
}
