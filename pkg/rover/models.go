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

package rover

import (
	"encoding/json"
	"math"
	"time"
)

// Reading is a sensor value parsed from a telemetry line. Tokens that are not
// valid numbers become NaN instead of failing the whole record, so a Reading
// must be checked with IsNaN before use.
type Reading float64

// NaN returns a Reading that is not a number.
func NaN() Reading {
	return Reading(math.NaN())
}

func (r Reading) IsNaN() bool {
	return math.IsNaN(float64(r))
}

func (r Reading) Float64() float64 {
	return float64(r)
}

// MarshalJSON encodes non-finite readings as null, JSON has no NaN literal.
func (r Reading) MarshalJSON() ([]byte, error) {
	f := float64(r)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	//nolint:wrapcheck // plain float encoding
	return json.Marshal(f)
}

// UnmarshalJSON reverses MarshalJSON, null decodes to NaN.
func (r *Reading) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = NaN()
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		//nolint:wrapcheck // plain float decoding
		return err
	}
	*r = Reading(f)
	return nil
}

// TelemetryRecord is one decoded rover telemetry line. Field order and JSON
// names match the firmware's CSV layout.
type TelemetryRecord struct {
	RSSI         *int    `json:"rssi"`
	AvgRSSI      *int    `json:"avg_rssi"`
	ActionCode   *int    `json:"action_code"`
	ObstacleCode *int    `json:"obstacle_code"`
	ActionBits   *string `json:"action_bits"`
	ObstacleBits *string `json:"obstacle_bits"`
	Raw          string  `json:"raw"`
	Timestamp    float64 `json:"timestamp"`
	Temp1        Reading `json:"temp1"`
	Hum1         Reading `json:"hum1"`
	Temp2        Reading `json:"temp2"`
	Hum2         Reading `json:"hum2"`
	VEsp         Reading `json:"v_esp"`
	IEsp         Reading `json:"i_esp"`
	PEsp         Reading `json:"p_esp"`
	VM1          Reading `json:"v_m1"`
	IM1          Reading `json:"i_m1"`
	PM1          Reading `json:"p_m1"`
	VM2          Reading `json:"v_m2"`
	IM2          Reading `json:"i_m2"`
	PM2          Reading `json:"p_m2"`
	AccX         Reading `json:"acc_x"`
	AccY         Reading `json:"acc_y"`
	AccZ         Reading `json:"acc_z"`
	GyroX        Reading `json:"gyro_x"`
	GyroY        Reading `json:"gyro_y"`
	GyroZ        Reading `json:"gyro_z"`
	Dist1        Reading `json:"dist1"`
	Dist2        Reading `json:"dist2"`
	Dist3        Reading `json:"dist3"`
}

// ImageRecord is a base64 camera frame ready to be used as an <img> source.
type ImageRecord struct {
	DataURL   string  `json:"data_url"`
	Timestamp float64 `json:"timestamp"`
	RawLen    int     `json:"raw_len"`
}

// EpochSeconds converts t to fractional seconds since the Unix epoch, the
// timestamp format used on the wire.
func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
