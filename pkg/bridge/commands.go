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

package bridge

import (
	"strconv"
	"strings"
)

// DefaultCommands maps the dashboard's drive keys to firmware commands.
var DefaultCommands = map[string]string{
	"w": "CMD:w",
	"a": "CMD:a",
	"s": "CMD:s",
	"d": "CMD:d",
	" ": "CMD:stop",
}

// CommandMapper turns single control keys into command lines. It is
// immutable after construction.
type CommandMapper struct {
	cmds map[string]string
}

// NewCommandMapper uses overrides in place of DefaultCommands when it is
// non-empty. Keys are matched case-insensitively.
func NewCommandMapper(overrides map[string]string) *CommandMapper {
	src := DefaultCommands
	if len(overrides) > 0 {
		src = overrides
	}

	cmds := make(map[string]string, len(src))
	for k, v := range src {
		cmds[strings.ToLower(k)] = v
	}
	return &CommandMapper{cmds: cmds}
}

// Line returns the command line for key, with ",<ms>" appended when
// durationMs is set. ok is false for empty or unknown keys.
func (m *CommandMapper) Line(key string, durationMs *int) (string, bool) {
	if key == "" {
		return "", false
	}
	cmd, ok := m.cmds[strings.ToLower(key)]
	if !ok || cmd == "" {
		return "", false
	}
	if durationMs != nil {
		cmd += "," + strconv.Itoa(*durationMs)
	}
	return cmd, true
}

// Keys returns the mapped keys.
func (m *CommandMapper) Keys() []string {
	keys := make([]string, 0, len(m.cmds))
	for k := range m.cmds {
		keys = append(keys, k)
	}
	return keys
}
