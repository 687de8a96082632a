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

// Package config loads the dashboard backend configuration from a JSON file
// with environment variable overrides.
package config

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/iotman/webui/pkg/logger"
	"github.com/iotman/webui/pkg/models"
)

const envPrefix = "IOTMAN_"

const (
	defaultListenAddr    = ":8080"
	defaultQueueSize     = 1024
	defaultWorkers       = 4
	defaultSessionBuffer = 256
	defaultSweepInterval = 10 * time.Second
	defaultStaleAfter    = 30 * time.Second
	defaultOfflineAfter  = 2 * time.Minute
	defaultNATSSubject   = "iotman.telemetry.>"
)

var errInvalidListenAddr = errors.New("listen_addr must not be empty")

// ConfigLoader loads configuration from a source into dst.
type ConfigLoader interface {
	Load(ctx context.Context, path string, dst interface{}) error
}

// Load reads the config file at path (if it exists), applies environment
// overrides, and fills defaults. A missing file is not an error: containers
// frequently configure the process with environment variables alone.
func Load(ctx context.Context, path string, log logger.Logger) (*models.WebUIConfig, error) {
	cfg := &models.WebUIConfig{}

	if path != "" {
		loader := &FileConfigLoader{logger: log}

		err := loader.Load(ctx, path, cfg)

		switch {
		case errors.Is(err, os.ErrNotExist):
			log.Warn().Str("path", path).Msg("Config file not found, using defaults and environment")
		case err != nil:
			return nil, err
		}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *models.WebUIConfig) {
	if v := os.Getenv(envPrefix + "LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}

	if v := os.Getenv(envPrefix + "API_KEY"); v != "" {
		cfg.APIKey = v
	}

	if v := os.Getenv(envPrefix + "INGEST_TOKEN"); v != "" {
		cfg.IngestToken = v
	}

	if v := os.Getenv(envPrefix + "NATS_URL"); v != "" {
		cfg.NATS.URL = v
		cfg.NATS.Enabled = true
	}

	if v := os.Getenv(envPrefix + "LOG_LEVEL"); v != "" {
		if cfg.Logging == nil {
			cfg.Logging = &logger.Config{}
		}

		cfg.Logging.Level = v
	}
}

func applyDefaults(cfg *models.WebUIConfig) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}

	if cfg.Ingest.QueueSize <= 0 {
		cfg.Ingest.QueueSize = defaultQueueSize
	}

	if cfg.Ingest.Workers <= 0 {
		cfg.Ingest.Workers = defaultWorkers
	}

	if cfg.Broker.SessionBuffer <= 0 {
		cfg.Broker.SessionBuffer = defaultSessionBuffer
	}

	if cfg.Sweep.Interval <= 0 {
		cfg.Sweep.Interval = models.Duration(defaultSweepInterval)
	}

	if cfg.Sweep.StaleAfter <= 0 {
		cfg.Sweep.StaleAfter = models.Duration(defaultStaleAfter)
	}

	if cfg.Sweep.OfflineAfter <= 0 {
		cfg.Sweep.OfflineAfter = models.Duration(defaultOfflineAfter)
	}

	if cfg.NATS.Subject == "" {
		cfg.NATS.Subject = defaultNATSSubject
	}

	if cfg.Logging == nil {
		cfg.Logging = logger.DefaultConfig()
	}
}

func validate(cfg *models.WebUIConfig) error {
	if cfg.ListenAddr == "" {
		return errInvalidListenAddr
	}

	return nil
}
