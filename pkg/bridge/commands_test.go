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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandMapper_Line(t *testing.T) {
	t.Parallel()

	ms := 300
	zero := 0

	tests := []struct {
		duration *int
		name     string
		key      string
		want     string
		wantOK   bool
	}{
		{name: "forward", key: "w", want: "CMD:w", wantOK: true},
		{name: "upper case key", key: "D", want: "CMD:d", wantOK: true},
		{name: "space stops", key: " ", want: "CMD:stop", wantOK: true},
		{name: "with duration", key: "a", duration: &ms, want: "CMD:a,300", wantOK: true},
		{name: "zero duration", key: "s", duration: &zero, want: "CMD:s,0", wantOK: true},
		{name: "unknown key", key: "q"},
		{name: "empty key", key: ""},
	}

	m := NewCommandMapper(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := m.Line(tt.key, tt.duration)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCommandMapper_Overrides(t *testing.T) {
	t.Parallel()

	m := NewCommandMapper(map[string]string{"W": "FWD", "x": ""})

	got, ok := m.Line("w", nil)
	assert.True(t, ok)
	assert.Equal(t, "FWD", got)

	// overrides replace the defaults entirely
	_, ok = m.Line("a", nil)
	assert.False(t, ok)

	_, ok = m.Line("x", nil)
	assert.False(t, ok)

	assert.ElementsMatch(t, []string{"w", "x"}, m.Keys())
}

func TestCommandMapper_DefaultsUntouched(t *testing.T) {
	t.Parallel()

	_ = NewCommandMapper(map[string]string{"w": "FWD"})
	assert.Equal(t, "CMD:w", DefaultCommands["w"])
	assert.ElementsMatch(t, []string{"w", "a", "s", "d", " "}, NewCommandMapper(nil).Keys())
}
