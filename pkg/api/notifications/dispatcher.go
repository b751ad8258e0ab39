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

// Package notifications hands events from the serial worker to the
// WebSocket broadcaster. Producers never block: when the queue is full the
// event is dropped and counted.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roverlink/roverlink/pkg/api/models"
	"github.com/roverlink/roverlink/pkg/metrics"
	"github.com/rs/zerolog/log"
)

const DefaultQueueSize = 256

// Dispatcher is a bounded queue between the serial read loop and the
// broadcaster goroutine.
type Dispatcher struct {
	queue   chan models.Event
	metrics *metrics.Metrics
}

func NewDispatcher(size int, m *metrics.Metrics) *Dispatcher {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Dispatcher{
		queue:   make(chan models.Event, size),
		metrics: m,
	}
}

// Broadcast queues ev for delivery. It is safe for concurrent use and
// returns immediately.
func (d *Dispatcher) Broadcast(ev models.Event) {
	select {
	case d.queue <- ev:
	default:
		d.metrics.EventDropped()
		log.Debug().Str("type", ev.EventType()).Msg("event queue full, dropping event")
	}
}

// DeliverFunc receives each event with its encoded form.
type DeliverFunc func(ev models.Event, data []byte) error

// Run marshals queued events and passes them to deliver until ctx is done.
// Delivery errors are logged and do not stop the loop.
func (d *Dispatcher) Run(ctx context.Context, deliver DeliverFunc) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-d.queue:
			data, err := Marshal(ev)
			if err != nil {
				log.Error().Err(err).Str("type", ev.EventType()).Msg("error marshalling event")
				continue
			}
			if err := deliver(ev, data); err != nil {
				log.Error().Err(err).Str("type", ev.EventType()).Msg("error broadcasting event")
			}
		}
	}
}

// Len returns the number of queued events.
func (d *Dispatcher) Len() int {
	return len(d.queue)
}

// Marshal encodes an event in its wire form.
func Marshal(ev models.Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", ev.EventType(), err)
	}
	return data, nil
}
