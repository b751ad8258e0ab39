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
	"fmt"
	"runtime"
	"slices"
	"strings"

	"go.bug.st/serial/enumerator"
)

// SerialDevice is a port that could plausibly be the rover's radio link.
type SerialDevice struct {
	Path    string
	VID     string
	PID     string
	Product string
	USB     bool
}

var devicePrefixes = map[string][]string{
	"linux":   {"/dev/ttyUSB", "/dev/ttyACM"},
	"darwin":  {"/dev/tty.usbserial", "/dev/tty.usbmodem", "/dev/cu.usbserial", "/dev/cu.usbmodem"},
	"windows": {"COM"},
}

// isCandidatePort filters out the built-in and virtual ports every system
// exposes. Unknown platforms keep everything.
func isCandidatePort(goos, path string) bool {
	prefixes, ok := devicePrefixes[goos]
	if !ok {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// GetSerialDeviceList lists serial ports with USB details where the
// platform provides them, sorted by path.
func GetSerialDeviceList() ([]SerialDevice, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to get serial ports list: %w", err)
	}
	return filterDevices(runtime.GOOS, ports), nil
}

func filterDevices(goos string, ports []*enumerator.PortDetails) []SerialDevice {
	devices := make([]SerialDevice, 0, len(ports))
	for _, p := range ports {
		if p == nil || !isCandidatePort(goos, p.Name) {
			continue
		}
		devices = append(devices, SerialDevice{
			Path:    p.Name,
			USB:     p.IsUSB,
			VID:     strings.ToLower(p.VID),
			PID:     strings.ToLower(p.PID),
			Product: p.Product,
		})
	}
	slices.SortFunc(devices, func(a, b SerialDevice) int {
		return strings.Compare(a.Path, b.Path)
	})
	return devices
}
