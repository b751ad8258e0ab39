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


package notifications

import (
	"github.com/roverlink/roverlink/pkg/api/models"
)

// Broadcaster accepts events without blocking.
type Broadcaster interface {
	Broadcast(ev models.Event)
}

// Fanout hands every event to each of its members in order. Nil members
// are skipped.
type Fanout []Broadcaster

func (f Fanout) Broadcast(ev models.Event) {
	for _, b := range f {
		if b != nil {
			b.Broadcast(ev)
		}
	}
}
