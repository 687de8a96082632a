/*
 * Copyright 2025 IoTMan Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package ingest

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/iotman/webui/pkg/logger"
	"github.com/iotman/webui/pkg/models"
)

// NATSSource consumes telemetry updates published by devices (or
// gateways) on a NATS subject and feeds them into the ingest queue. The
// NATS connection itself is the trust boundary here; per-message token
// checks belong to the HTTP path.
type NATSSource struct {
	conn *nats.Conn
	sub  *nats.Subscription

	service *Service
	logger  logger.Logger
}

// StartNATSSource connects to NATS and subscribes to the telemetry
// subject. Messages may carry a single update object or an array of them.
func StartNATSSource(cfg models.NATSConfig, service *Service, log logger.Logger) (*NATSSource, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name("iotman-webui"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}

	source := &NATSSource{
		conn:    conn,
		service: service,
		logger:  log,
	}

	sub, err := conn.Subscribe(cfg.Subject, source.handle)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", cfg.Subject, err)
	}

	source.sub = sub

	log.Info().
		Str("url", cfg.URL).
		Str("subject", cfg.Subject).
		Msg("NATS telemetry source started")

	return source, nil
}

func (n *NATSSource) handle(msg *nats.Msg) {
	updates, err := decodeUpdates(msg.Data)
	if err != nil {
		n.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("Malformed telemetry message dropped")
		return
	}

	for _, update := range updates {
		// Backpressure drops are already counted and logged by Submit.
		_ = n.service.Submit(update)
	}
}

// Close drains the subscription and closes the connection.
func (n *NATSSource) Close() {
	if n.sub != nil {
		if err := n.sub.Unsubscribe(); err != nil {
			n.logger.Warn().Err(err).Msg("Error unsubscribing NATS telemetry source")
		}
	}

	n.conn.Close()

	n.logger.Info().Msg("NATS telemetry source stopped")
}

// decodeUpdates accepts either a single update object or a JSON array.
func decodeUpdates(data []byte) ([]models.AttributeUpdate, error) {
	if len(data) > 0 && data[0] == '[' {
		var batch []models.AttributeUpdate
		if err := json.Unmarshal(data, &batch); err != nil {
			return nil, fmt.Errorf("failed to decode telemetry batch: %w", err)
		}

		return batch, nil
	}

	var single models.AttributeUpdate
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, fmt.Errorf("failed to decode telemetry update: %w", err)
	}

	return []models.AttributeUpdate{single}, nil
}
