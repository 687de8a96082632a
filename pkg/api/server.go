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

// Package api provides the HTTP API server for the IoTMan dashboard
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iotman/webui/pkg/broker"
	imHTTP "github.com/iotman/webui/pkg/http"
	"github.com/iotman/webui/pkg/ingest"
	"github.com/iotman/webui/pkg/logger"
	"github.com/iotman/webui/pkg/models"
	"github.com/iotman/webui/pkg/registry"
)

const (
	defaultReadTimeout  = 10 * time.Second
	defaultWriteTimeout = 30 * time.Second
	defaultIdleTimeout  = 60 * time.Second
)

// APIServer serves the dashboard REST API and the WebSocket UI channel.
type APIServer struct {
	router     *mux.Router
	corsConfig models.CORSConfig
	apiKey     string

	registry *registry.DeviceRegistry
	ingest   *ingest.Service
	broker   *broker.SubscriptionBroker

	logger    logger.Logger
	startedAt time.Time

	httpServer *http.Server
}

// NewAPIServer creates a new API server instance with the given configuration
func NewAPIServer(config models.CORSConfig, options ...func(server *APIServer)) *APIServer {
	s := &APIServer{
		router:     mux.NewRouter(),
		corsConfig: config,
		logger:     logger.NewTestLogger(),
		startedAt:  time.Now(),
	}

	for _, o := range options {
		o(s)
	}

	s.setupRoutes()

	return s
}

// WithLogger sets the logger for the API server
func WithLogger(log logger.Logger) func(*APIServer) {
	return func(server *APIServer) {
		server.logger = log
	}
}

// WithDeviceRegistry attaches the authoritative device registry
func WithDeviceRegistry(reg *registry.DeviceRegistry) func(*APIServer) {
	return func(server *APIServer) {
		server.registry = reg
	}
}

// WithIngestService attaches the telemetry ingest service
func WithIngestService(svc *ingest.Service) func(*APIServer) {
	return func(server *APIServer) {
		server.ingest = svc
	}
}

// WithSubscriptionBroker attaches the UI session broker
func WithSubscriptionBroker(b *broker.SubscriptionBroker) func(*APIServer) {
	return func(server *APIServer) {
		server.broker = b
	}
}

// WithAPIKey protects dashboard routes with a shared API key
func WithAPIKey(key string) func(*APIServer) {
	return func(server *APIServer) {
		server.apiKey = key
	}
}

func (s *APIServer) setupRoutes() {
	s.router.Use(func(next http.Handler) http.Handler {
		return imHTTP.CommonMiddleware(next, s.corsConfig, s.logger)
	})

	// Telemetry inbound and metrics are outside the dashboard API key:
	// devices authenticate with the ingest token, scrapers are internal.
	s.router.HandleFunc("/api/telemetry", s.handleTelemetry).Methods(http.MethodPost, http.MethodOptions)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	protected := s.router.PathPrefix("/api").Subrouter()
	protected.Use(imHTTP.APIKeyMiddleware(s.apiKey, s.logger))

	protected.HandleFunc("/devices", s.handleListDevices).Methods(http.MethodGet, http.MethodOptions)
	protected.HandleFunc("/devices", s.handleRegisterDevice).Methods(http.MethodPost)
	protected.HandleFunc("/devices/{id}", s.handleGetDevice).Methods(http.MethodGet, http.MethodOptions)
	protected.HandleFunc("/devices/{id}", s.handleDeregisterDevice).Methods(http.MethodDelete)
	protected.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet, http.MethodOptions)

	// WebSocket authentication happens after the upgrade, inside the
	// stream handler, so the handshake is never broken by a 401 body.
	s.router.HandleFunc("/api/stream", s.handleStream).Methods(http.MethodGet)
}

// Router exposes the handler for tests and embedding.
func (s *APIServer) Router() http.Handler {
	return s.router
}

// Start binds the listen address and serves until Shutdown. Failure to
// bind is the one fatal startup condition and is returned to the caller.
func (s *APIServer) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}

	s.logger.Info().Str("addr", addr).Msg("API server listening")

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *APIServer) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	return s.httpServer.Shutdown(ctx)
}

// writeJSONResponse writes a JSON response to the HTTP writer
func (s *APIServer) writeJSONResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("Error encoding response")
	}
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errResponse := models.ErrorResponse{
		Message: message,
		Status:  statusCode,
	}

	if err := json.NewEncoder(w).Encode(errResponse); err != nil {
		http.Error(w, "Failed to encode error response", http.StatusInternalServerError)
	}
}
