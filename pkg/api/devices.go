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

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/iotman/webui/pkg/models"
	"github.com/iotman/webui/pkg/registry"
)

// registerDeviceRequest preregisters a device with declared capabilities.
type registerDeviceRequest struct {
	DeviceID     string                   `json:"device_id"`
	Capabilities []models.CapabilityField `json:"capabilities"`
}

// statusResponse is the fleet summary shown on the dashboard home page.
type statusResponse struct {
	UptimeSeconds  int64                            `json:"uptime_seconds"`
	Devices        map[models.ConnectivityStatus]int `json:"devices"`
	TotalDevices   int                              `json:"total_devices"`
	ActiveSessions int                              `json:"active_sessions"`
	IngestBacklog  int                              `json:"ingest_backlog"`
}

func (s *APIServer) handleListDevices(w http.ResponseWriter, r *http.Request) {
	filter := registry.Filter{}

	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = models.ConnectivityStatus(status)
	}

	devices := s.registry.List(filter)

	s.writeJSONResponse(w, http.StatusOK, devices)
}

func (s *APIServer) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]

	device, err := s.registry.Get(deviceID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeError(w, "Device not found", http.StatusNotFound)
			return
		}

		writeError(w, "Internal server error", http.StatusInternalServerError)

		return
	}

	s.writeJSONResponse(w, http.StatusOK, device)
}

func (s *APIServer) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.registry.PreRegister(req.DeviceID, req.Capabilities); err != nil {
		var verr *registry.ValidationError
		if errors.As(err, &verr) {
			writeError(w, verr.Error(), http.StatusBadRequest)
			return
		}

		writeError(w, err.Error(), http.StatusConflict)

		return
	}

	device, err := s.registry.Get(req.DeviceID)
	if err != nil {
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.writeJSONResponse(w, http.StatusCreated, device)
}

func (s *APIServer) handleDeregisterDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]

	if err := s.registry.Deregister(deviceID); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeError(w, "Device not found", http.StatusNotFound)
			return
		}

		writeError(w, "Internal server error", http.StatusInternalServerError)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *APIServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	counts := s.registry.Counts()

	total := 0
	for _, n := range counts {
		total += n
	}

	s.writeJSONResponse(w, http.StatusOK, statusResponse{
		UptimeSeconds:  int64(time.Since(s.startedAt).Seconds()),
		Devices:        counts,
		TotalDevices:   total,
		ActiveSessions: s.broker.SessionCount(),
		IngestBacklog:  s.ingest.QueueDepth(),
	})
}
