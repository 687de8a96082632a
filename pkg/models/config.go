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

package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iotman/webui/pkg/logger"
)

var errInvalidDuration = errors.New("invalid duration")

// Duration wraps time.Duration so JSON configs can use either "30s" strings
// or raw nanosecond numbers.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		// parse numeric as nanoseconds
		*d = Duration(time.Duration(value))
		return nil
	case string:
		dur, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}

		*d = Duration(dur)

		return nil
	default:
		return errInvalidDuration
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// CORSConfig controls allowed origins for the dashboard API and WebSocket.
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins,omitempty"`
	AllowCredentials bool     `json:"allow_credentials,omitempty"`
}

// IngestConfig sizes the bounded telemetry queue and its worker pool.
type IngestConfig struct {
	QueueSize int `json:"queue_size"`
	Workers   int `json:"workers"`
}

// BrokerConfig sizes the per-session outbound event buffer.
type BrokerConfig struct {
	SessionBuffer int `json:"session_buffer"`
}

// SweepConfig controls the connectivity sweep that marks silent devices
// stale and then offline.
type SweepConfig struct {
	Interval     Duration `json:"interval"`
	StaleAfter   Duration `json:"stale_after"`
	OfflineAfter Duration `json:"offline_after"`
}

// NATSConfig configures the optional NATS telemetry source.
type NATSConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
	Subject string `json:"subject"`
}

// WebUIConfig is the top-level configuration for the dashboard backend.
type WebUIConfig struct {
	ListenAddr  string         `json:"listen_addr"`
	APIKey      string         `json:"api_key,omitempty"`
	IngestToken string         `json:"ingest_token,omitempty"`
	CORS        CORSConfig     `json:"cors,omitempty"`
	Ingest      IngestConfig   `json:"ingest,omitempty"`
	Broker      BrokerConfig   `json:"broker,omitempty"`
	Sweep       SweepConfig    `json:"sweep,omitempty"`
	NATS        NATSConfig     `json:"nats,omitempty"`
	Logging     *logger.Config `json:"logging,omitempty"`
}

// ErrorResponse is the JSON body returned for API errors.
type ErrorResponse struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}
