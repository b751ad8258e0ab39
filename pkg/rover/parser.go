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

// Package rover classifies raw serial lines sent by the rover firmware into
// telemetry records, image frames or unclassified text.
package rover

import (
	"encoding/base64"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// TelemetryFields is the number of numeric CSV fields every telemetry
	// line must carry.
	TelemetryFields = 24

	DefaultTelemetryPrefix = "RECV_ROVER_"
	DefaultImagePrefix     = "IMG_ROVER_"
	DefaultImageMIME       = "image/jpeg"
)

// Kind is the classification of a single line.
type Kind int

const (
	KindUnclassified Kind = iota
	KindTelemetry
	KindImage
)

func (k Kind) String() string {
	switch k {
	case KindTelemetry:
		return "telemetry"
	case KindImage:
		return "image"
	default:
		return "unclassified"
	}
}

// Options holds the line markers configured for the rover link. Prefixes are
// expected to be disjoint, the parser does not check it.
type Options struct {
	TelemetryPrefix string
	ImagePrefix     string
	ImageMIME       string
}

// DefaultOptions returns the prefixes used by the stock rover firmware.
func DefaultOptions() Options {
	return Options{
		TelemetryPrefix: DefaultTelemetryPrefix,
		ImagePrefix:     DefaultImagePrefix,
		ImageMIME:       DefaultImageMIME,
	}
}

// Result is the outcome of Classify. At most one of Telemetry and Image is
// set, matching Kind.
type Result struct {
	Telemetry *TelemetryRecord
	Image     *ImageRecord
	Kind      Kind
}

// Classify tries the telemetry prefix first, then the image prefix. A line
// whose prefix matches but whose payload is malformed is Unclassified.
func Classify(line string, opts Options, now time.Time) Result {
	if tm := ParseTelemetry(line, opts.TelemetryPrefix, now); tm != nil {
		return Result{Kind: KindTelemetry, Telemetry: tm}
	}
	if img := ParseImage(line, opts.ImagePrefix, opts.ImageMIME, now); img != nil {
		return Result{Kind: KindImage, Image: img}
	}
	return Result{Kind: KindUnclassified}
}

// ParseTelemetry decodes a telemetry line. It returns nil when the prefix
// does not match or fewer than TelemetryFields tokens are present. Numeric
// tokens that fail to parse become NaN. When at least two tokens follow the
// numeric block, the last two are the action and obstacle bit strings.
func ParseTelemetry(line, prefix string, now time.Time) *TelemetryRecord {
	if !strings.HasPrefix(line, prefix) {
		return nil
	}

	payload := strings.TrimSpace(line[len(prefix):])
	parts := make([]string, 0, TelemetryFields+2)
	for _, p := range strings.Split(payload, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			parts = append(parts, p)
		}
	}

	if len(parts) < TelemetryFields {
		return nil
	}

	v := make([]Reading, TelemetryFields)
	for i := range TelemetryFields {
		v[i] = parseReading(parts[i])
	}

	tm := &TelemetryRecord{
		Timestamp: EpochSeconds(now),
		RSSI:      truncInt(v[0]),
		AvgRSSI:   truncInt(v[1]),
		Temp1:     v[2],
		Hum1:      v[3],
		Temp2:     v[4],
		Hum2:      v[5],
		VEsp:      v[6],
		IEsp:      v[7],
		PEsp:      v[8],
		VM1:       v[9],
		IM1:       v[10],
		PM1:       v[11],
		VM2:       v[12],
		IM2:       v[13],
		PM2:       v[14],
		AccX:      v[15],
		AccY:      v[16],
		AccZ:      v[17],
		GyroX:     v[18],
		GyroY:     v[19],
		GyroZ:     v[20],
		Dist1:     v[21],
		Dist2:     v[22],
		Dist3:     v[23],
		Raw:       strings.TrimSpace(line),
	}

	extra := parts[TelemetryFields:]
	if len(extra) >= 2 {
		action := extra[len(extra)-2]
		obstacle := extra[len(extra)-1]
		tm.ActionBits = &action
		tm.ObstacleBits = &obstacle
		if code, ok := BitsCode(action); ok {
			tm.ActionCode = &code
		}
		if code, ok := BitsCode(obstacle); ok {
			tm.ObstacleCode = &code
		}
	}

	return tm
}

// ParseImage decodes an image line. It returns nil when the prefix does not
// match or the payload is not valid standard base64. Embedded line breaks
// are rejected even though the decoder would skip them.
func ParseImage(line, prefix, mime string, now time.Time) *ImageRecord {
	if !strings.HasPrefix(line, prefix) {
		return nil
	}

	b64 := strings.TrimSpace(line[len(prefix):])
	if strings.ContainsAny(b64, "\r\n") {
		return nil
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil
	}

	return &ImageRecord{
		Timestamp: EpochSeconds(now),
		DataURL:   "data:" + mime + ";base64," + b64,
		RawLen:    len(raw),
	}
}

// Is3BitBinary reports whether s is exactly three characters of '0' or '1'.
func Is3BitBinary(s string) bool {
	if len(s) != 3 {
		return false
	}
	for i := range len(s) {
		if s[i] != '0' && s[i] != '1' {
			return false
		}
	}
	return true
}

// BitsCode converts a 3-bit binary string to its value, e.g. "100" is 4.
func BitsCode(s string) (int, bool) {
	if !Is3BitBinary(s) {
		return 0, false
	}
	code, err := strconv.ParseUint(s, 2, 8)
	if err != nil {
		return 0, false
	}
	return int(code), true
}

func parseReading(s string) Reading {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return NaN()
	}
	return Reading(f)
}

// truncInt truncates toward zero. Non-finite or out of range values have no
// integer form and return nil.
func truncInt(r Reading) *int {
	f := float64(r)
	if math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 || f <= math.MinInt64 {
		return nil
	}
	i := int(f)
	return &i
}
