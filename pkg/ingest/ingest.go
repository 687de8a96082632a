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

// Package ingest accepts inbound device telemetry, authenticates its
// source, and feeds it to the registry through a bounded queue. When the
// queue is full, new messages are dropped with a backpressure signal
// rather than blocking the transport.
package ingest

import (
	"context"
	"crypto/subtle"
	"errors"
	"sync"

	"github.com/iotman/webui/pkg/logger"
	"github.com/iotman/webui/pkg/metrics"
	"github.com/iotman/webui/pkg/models"
	"github.com/iotman/webui/pkg/registry"
)

// Applier is the registry surface ingest needs.
type Applier interface {
	ApplyUpdate(update models.AttributeUpdate) (bool, error)
}

// Service owns the bounded telemetry queue and its worker pool.
type Service struct {
	applier Applier
	queue   chan models.AttributeUpdate
	workers int
	token   string

	logger logger.Logger
	wg     sync.WaitGroup
}

// NewService creates an ingest service. token is the shared credential
// telemetry sources must present; an empty token disables source
// authentication (trusted transport).
func NewService(applier Applier, cfg models.IngestConfig, token string, log logger.Logger) *Service {
	return &Service{
		applier: applier,
		queue:   make(chan models.AttributeUpdate, cfg.QueueSize),
		workers: cfg.Workers,
		token:   token,
		logger:  log,
	}
}

// Start launches the worker pool. Workers exit when ctx is canceled; Wait
// blocks until they have drained.
func (s *Service) Start(ctx context.Context) {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)

		go func() {
			defer s.wg.Done()
			s.run(ctx)
		}()
	}

	s.logger.Info().
		Int("workers", s.workers).
		Int("queue_size", cap(s.queue)).
		Msg("Telemetry ingest started")
}

// Wait blocks until all workers have exited.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Authenticate verifies a telemetry source credential. A configured empty
// token means authentication is delegated to the transport layer.
func (s *Service) Authenticate(source, token string) error {
	if s.token == "" {
		return nil
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) != 1 {
		metrics.UpdatesRejected.WithLabelValues(metrics.ReasonSource).Inc()

		s.logger.Warn().Str("source", source).Msg("Telemetry source rejected")

		return &RejectedSourceError{Source: source}
	}

	return nil
}

// Submit enqueues one update without blocking. A full queue drops the
// update and returns ErrBackpressure; the caller decides how to surface
// the degraded-mode signal to the sender.
func (s *Service) Submit(update models.AttributeUpdate) error {
	select {
	case s.queue <- update:
		return nil
	default:
		metrics.UpdatesRejected.WithLabelValues(metrics.ReasonBackpressure).Inc()

		s.logger.Warn().
			Str("device_id", update.DeviceID).
			Str("field", update.Field).
			Msg("Telemetry dropped under backpressure")

		return ErrBackpressure
	}
}

// QueueDepth reports how many updates are waiting. Used by the status
// endpoint.
func (s *Service) QueueDepth() int {
	return len(s.queue)
}

func (s *Service) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case update := <-s.queue:
			s.apply(update)
		}
	}
}

// apply forwards one update to the registry and classifies the outcome.
// No failure here may escape the worker; every rejection is reported and
// the loop continues.
func (s *Service) apply(update models.AttributeUpdate) {
	applied, err := s.applier.ApplyUpdate(update)

	var verr *registry.ValidationError

	switch {
	case errors.As(err, &verr):
		metrics.UpdatesRejected.WithLabelValues(metrics.ReasonValidation).Inc()

		s.logger.Warn().
			Str("device_id", verr.DeviceID).
			Str("field", verr.Field).
			Str("reason", verr.Reason).
			Msg("Telemetry update failed validation")
	case err != nil:
		// Not part of the taxonomy; report and keep the worker alive.
		s.logger.Error().Err(err).
			Str("device_id", update.DeviceID).
			Msg("Telemetry update failed")
	case !applied:
		metrics.UpdatesRejected.WithLabelValues(metrics.ReasonStale).Inc()

		s.logger.Debug().
			Str("device_id", update.DeviceID).
			Str("field", update.Field).
			Int64("timestamp", update.Timestamp).
			Msg("Telemetry update lost last-writer-wins")
	default:
		metrics.UpdatesAccepted.Inc()
	}
}
