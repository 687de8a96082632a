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

// Package app wires the live-state pipeline together: registry, ingest
// workers, subscription broker, connectivity sweeper, and the HTTP/WS
// server.
package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/iotman/webui/pkg/api"
	"github.com/iotman/webui/pkg/broker"
	"github.com/iotman/webui/pkg/config"
	"github.com/iotman/webui/pkg/ingest"
	"github.com/iotman/webui/pkg/logger"
	"github.com/iotman/webui/pkg/registry"
)

const shutdownTimeout = 10 * time.Second

// Options contains runtime configuration derived from CLI flags.
type Options struct {
	ConfigPath string
}

// Run boots the webui service and blocks until the context is canceled
// or a termination signal arrives. The only fatal startup condition is
// failing to bind the listen address; everything downstream degrades
// instead of exiting.
func Run(ctx context.Context, opts Options) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bootLogger, err := logger.NewComponent("webui", logger.DefaultConfig())
	if err != nil {
		return err
	}

	cfg, err := config.Load(ctx, opts.ConfigPath, bootLogger)
	if err != nil {
		return err
	}

	mainLogger, err := logger.NewComponent("webui", cfg.Logging)
	if err != nil {
		return err
	}

	registryLogger, err := logger.NewComponent("registry", cfg.Logging)
	if err != nil {
		return err
	}

	reg := registry.NewDeviceRegistry(registryLogger)

	brokerLogger, err := logger.NewComponent("broker", cfg.Logging)
	if err != nil {
		return err
	}

	b := broker.NewSubscriptionBroker(cfg.Broker.SessionBuffer, brokerLogger)
	reg.SetListener(b)

	ingestLogger, err := logger.NewComponent("ingest", cfg.Logging)
	if err != nil {
		return err
	}

	svc := ingest.NewService(reg, cfg.Ingest, cfg.IngestToken, ingestLogger)
	svc.Start(ctx)

	if cfg.NATS.Enabled {
		source, natsErr := ingest.StartNATSSource(cfg.NATS, svc, ingestLogger)
		if natsErr != nil {
			mainLogger.Error().Err(natsErr).Msg("NATS source unavailable, continuing with HTTP ingest only")
		} else {
			defer source.Close()
		}
	}

	go reg.StartSweeper(ctx, registry.SweepConfig{
		Interval:     time.Duration(cfg.Sweep.Interval),
		StaleAfter:   time.Duration(cfg.Sweep.StaleAfter),
		OfflineAfter: time.Duration(cfg.Sweep.OfflineAfter),
	})

	apiLogger, err := logger.NewComponent("api", cfg.Logging)
	if err != nil {
		return err
	}

	server := api.NewAPIServer(cfg.CORS,
		api.WithLogger(apiLogger),
		api.WithDeviceRegistry(reg),
		api.WithIngestService(svc),
		api.WithSubscriptionBroker(b),
		api.WithAPIKey(cfg.APIKey),
	)

	errCh := make(chan error, 1)

	go func() {
		errCh <- server.Start(cfg.ListenAddr)
	}()

	select {
	case err = <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		mainLogger.Info().Msg("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		mainLogger.Error().Err(err).Msg("Error shutting down API server")
	}

	svc.Wait()

	return nil
}
