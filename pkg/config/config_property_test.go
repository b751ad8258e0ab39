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
	"strconv"
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"
)

// TestPropertyParseEnvBoolCaseInsensitive verifies truthy words match in any case.
func TestPropertyParseEnvBoolCaseInsensitive(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		word := rapid.SampledFrom([]string{"1", "true", "t", "yes", "y", "on"}).Draw(t, "word")
		upper := rapid.Bool().Draw(t, "upper")
		if upper {
			word = strings.ToUpper(word)
		}
		if !parseEnvBool(word) {
			t.Fatalf("%q should parse as true", word)
		}
	})
}

// TestPropertySecondsNeverNegative verifies durations from config are never negative.
func TestPropertySecondsNeverNegative(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.Float64Range(-1e6, 1e6).Draw(t, "seconds")
		d := seconds(s)
		if d < 0 {
			t.Fatalf("seconds(%v) = %v", s, d)
		}
		if s <= 0 && d != 0 {
			t.Fatalf("non-positive %v should give zero, got %v", s, d)
		}
		if s >= 1 && d < time.Second {
			t.Fatalf("seconds(%v) = %v, want at least 1s", s, d)
		}
	})
}

// TestPropertyEnvBaudRoundTrip verifies any integer baud in the env is applied.
func TestPropertyEnvBaudRoundTrip(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		baud := rapid.IntRange(1, 4_000_000).Draw(t, "baud")
		v := BaseDefaults
		applyEnv(&v, envMap(map[string]string{"ROVERLINK_SERIAL_BAUD": strconv.Itoa(baud)}))
		if v.Serial.Baud != baud {
			t.Fatalf("expected baud %d, got %d", baud, v.Serial.Baud)
		}
	})
}
