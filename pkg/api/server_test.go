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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iotman/webui/pkg/broker"
	"github.com/iotman/webui/pkg/ingest"
	"github.com/iotman/webui/pkg/logger"
	"github.com/iotman/webui/pkg/models"
	"github.com/iotman/webui/pkg/registry"
)

type testEnv struct {
	server   *APIServer
	registry *registry.DeviceRegistry
	broker   *broker.SubscriptionBroker
	ingest   *ingest.Service
}

func newTestEnv(t *testing.T, options ...func(*APIServer)) *testEnv {
	t.Helper()

	log := logger.NewTestLogger()

	reg := registry.NewDeviceRegistry(log)
	b := broker.NewSubscriptionBroker(64, log)
	reg.SetListener(b)

	svc := ingest.NewService(reg, models.IngestConfig{QueueSize: 64, Workers: 2}, "", log)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	svc.Start(ctx)

	allOptions := append([]func(*APIServer){
		WithLogger(log),
		WithDeviceRegistry(reg),
		WithIngestService(svc),
		WithSubscriptionBroker(b),
	}, options...)

	server := NewAPIServer(models.CORSConfig{}, allOptions...)

	return &testEnv{server: server, registry: reg, broker: b, ingest: svc}
}

func (e *testEnv) request(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)

	return rec
}

func TestTelemetryEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPost, "/api/telemetry", models.AttributeUpdate{
		DeviceID: "dev1", Field: "temp", Value: 21.5, Timestamp: 100,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp telemetryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Accepted)
	assert.Zero(t, resp.Dropped)

	require.Eventually(t, func() bool {
		device, err := env.registry.Get("dev1")
		return err == nil && device.Attributes["temp"].Value == 21.5
	}, time.Second, 5*time.Millisecond)
}

func TestTelemetryBatch(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPost, "/api/telemetry", []models.AttributeUpdate{
		{DeviceID: "a", Field: "temp", Value: 1.0, Timestamp: 1},
		{DeviceID: "b", Field: "temp", Value: 2.0, Timestamp: 1},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		return len(env.registry.List(registry.Filter{})) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestTelemetryMalformedBody(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/telemetry", bytes.NewReader([]byte(`{broken`)))
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTelemetryRejectedSource(t *testing.T) {
	log := logger.NewTestLogger()
	reg := registry.NewDeviceRegistry(log)
	svc := ingest.NewService(reg, models.IngestConfig{QueueSize: 8, Workers: 1}, "token123", log)
	b := broker.NewSubscriptionBroker(8, log)

	server := NewAPIServer(models.CORSConfig{},
		WithLogger(log), WithDeviceRegistry(reg), WithIngestService(svc), WithSubscriptionBroker(b))

	body, _ := json.Marshal(models.AttributeUpdate{DeviceID: "dev1", Field: "f", Value: 1.0, Timestamp: 1})

	req := httptest.NewRequest(http.MethodPost, "/api/telemetry", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/telemetry", bytes.NewReader(body))
	req.Header.Set("X-Ingest-Token", "token123")
	rec = httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	// The rejected update never touched the registry.
	_, err := reg.Get("dev1")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestDeviceLifecycleEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPost, "/api/devices", registerDeviceRequest{
		DeviceID: "sensor-1",
		Capabilities: []models.CapabilityField{
			{Name: "temp", Type: models.FieldTypeNumber},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Duplicate registration conflicts.
	rec = env.request(t, http.MethodPost, "/api/devices", registerDeviceRequest{DeviceID: "sensor-1"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.request(t, http.MethodGet, "/api/devices/sensor-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var device models.Device
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &device))
	assert.Equal(t, models.StatusOffline, device.Status)
	assert.True(t, device.Preregistered)

	rec = env.request(t, http.MethodGet, "/api/devices", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var devices []models.Device
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &devices))
	require.Len(t, devices, 1)

	rec = env.request(t, http.MethodDelete, "/api/devices/sensor-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.request(t, http.MethodGet, "/api/devices/sensor-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.request(t, http.MethodDelete, "/api/devices/sensor-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListDevicesStatusFilter(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.registry.PreRegister("offline-1", nil))

	_, err := env.registry.ApplyUpdate(models.AttributeUpdate{
		DeviceID: "online-1", Field: "f", Value: 1.0, Timestamp: 1,
	})
	require.NoError(t, err)

	rec := env.request(t, http.MethodGet, "/api/devices?status=online", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var devices []models.Device
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &devices))
	require.Len(t, devices, 1)
	assert.Equal(t, "online-1", devices[0].DeviceID)
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t)

	_, _ = env.registry.ApplyUpdate(models.AttributeUpdate{
		DeviceID: "dev1", Field: "f", Value: 1.0, Timestamp: 1,
	})

	rec := env.request(t, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.TotalDevices)
	assert.Equal(t, 1, resp.Devices[models.StatusOnline])
	assert.Zero(t, resp.ActiveSessions)
}

func TestAPIKeyProtection(t *testing.T) {
	env := newTestEnv(t, WithAPIKey("k3y"))

	rec := env.request(t, http.MethodGet, "/api/devices", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/devices", nil)
	req.Header.Set("X-API-Key", "k3y")
	rec2 := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusOK, rec2.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "iotman_")
}
