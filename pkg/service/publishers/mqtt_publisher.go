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


// Package publishers forwards bridge events to external message brokers.
package publishers

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/roverlink/roverlink/pkg/api/models"
	"github.com/roverlink/roverlink/pkg/api/notifications"
	"github.com/roverlink/roverlink/pkg/config"
	"github.com/roverlink/roverlink/pkg/metrics"
	"github.com/rs/zerolog/log"
)

const (
	connectTimeout    = 10 * time.Second
	disconnectQuiesce = 250
	publishTimeout    = 5 * time.Second
)

// ClientFactory builds the broker client, replaced in tests.
type ClientFactory func(opts *mqtt.ClientOptions) mqtt.Client

// MQTTPublisher publishes bridge events to <topic>/<event type>. Events are
// queued so a slow broker never holds up the serial read loop.
type MQTTPublisher struct {
	client    mqtt.Client
	newClient ClientFactory
	queue     *notifications.Dispatcher
	broker    string
	topic     string
	filter    []string
}

// NewMQTTPublisher creates a publisher for the given broker and base topic.
// An empty filter publishes every event type.
func NewMQTTPublisher(broker, topic string, filter []string, m *metrics.Metrics) *MQTTPublisher {
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	return &MQTTPublisher{
		newClient: mqtt.NewClient,
		queue:     notifications.NewDispatcher(notifications.DefaultQueueSize, m),
		broker:    broker,
		topic:     strings.TrimRight(topic, "/"),
		filter:    filter,
	}
}

// FromConfig builds a publisher for every enabled entry.
func FromConfig(cfg *config.Instance, m *metrics.Metrics) []*MQTTPublisher {
	var pubs []*MQTTPublisher
	for _, pc := range cfg.MQTTPublishers() {
		if !pc.IsEnabled() {
			continue
		}
		pubs = append(pubs, NewMQTTPublisher(pc.Broker, pc.Topic, pc.Filter, m))
	}
	return pubs
}

// Broadcast queues ev if it passes the filter.
func (p *MQTTPublisher) Broadcast(ev models.Event) {
	if !p.matchesFilter(ev.EventType()) {
		return
	}
	p.queue.Broadcast(ev)
}

// Run connects to the broker and publishes queued events until ctx is
// done. The client keeps reconnecting on its own after a lost connection.
func (p *MQTTPublisher) Run(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(p.broker)
	opts.SetClientID(config.AppName + "-publisher-" + uuid.New().String()[:8])
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(connectTimeout)

	opts.OnConnect = func(_ mqtt.Client) {
		log.Info().Msgf("mqtt publisher: connected to %s", p.broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("mqtt publisher: connection lost")
	}

	p.client = p.newClient(opts)
	defer p.disconnect()

	token := p.client.Connect()
	select {
	case <-ctx.Done():
		return nil
	case <-token.Done():
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	log.Info().Msgf("mqtt publisher: publishing to %s (topic: %s)", p.broker, p.topic)

	return p.queue.Run(ctx, p.publish)
}

func (p *MQTTPublisher) disconnect() {
	if p.client != nil && p.client.IsConnected() {
		log.Debug().Msg("mqtt publisher: disconnecting")
		p.client.Disconnect(disconnectQuiesce)
	}
}

func (p *MQTTPublisher) publish(ev models.Event, payload []byte) error {
	topic := p.topic + "/" + ev.EventType()
	token := p.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timed out publishing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	log.Debug().Msgf("mqtt publisher: published %s event", ev.EventType())
	return nil
}

func (p *MQTTPublisher) matchesFilter(eventType string) bool {
	if len(p.filter) == 0 {
		return true
	}
	return slices.Contains(p.filter, eventType)
}
