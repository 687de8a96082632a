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
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iotman/webui/pkg/logger"
	"github.com/iotman/webui/pkg/models"
	"github.com/iotman/webui/pkg/registry"
)

type recordingApplier struct {
	mu      sync.Mutex
	applied []models.AttributeUpdate
	ch      chan models.AttributeUpdate
	err     error
	result  bool
}

func newRecordingApplier() *recordingApplier {
	return &recordingApplier{ch: make(chan models.AttributeUpdate, 64), result: true}
}

func (a *recordingApplier) ApplyUpdate(update models.AttributeUpdate) (bool, error) {
	a.mu.Lock()
	a.applied = append(a.applied, update)
	a.mu.Unlock()

	a.ch <- update

	return a.result, a.err
}

func (a *recordingApplier) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.applied)
}

func TestSubmitAndApply(t *testing.T) {
	applier := newRecordingApplier()
	svc := NewService(applier, models.IngestConfig{QueueSize: 16, Workers: 2}, "", logger.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc.Start(ctx)

	update := models.AttributeUpdate{DeviceID: "dev1", Field: "temp", Value: 21.5, Timestamp: 100}
	require.NoError(t, svc.Submit(update))

	select {
	case got := <-applier.ch:
		assert.Equal(t, update, got)
	case <-time.After(time.Second):
		t.Fatal("update never reached the registry")
	}
}

func TestSubmitBackpressure(t *testing.T) {
	applier := newRecordingApplier()

	// No workers started: the queue only fills.
	svc := NewService(applier, models.IngestConfig{QueueSize: 1, Workers: 1}, "", logger.NewTestLogger())

	require.NoError(t, svc.Submit(models.AttributeUpdate{DeviceID: "dev1", Field: "a", Value: 1.0, Timestamp: 1}))

	err := svc.Submit(models.AttributeUpdate{DeviceID: "dev1", Field: "b", Value: 2.0, Timestamp: 1})
	require.ErrorIs(t, err, ErrBackpressure)

	assert.Equal(t, 1, svc.QueueDepth())
	assert.Zero(t, applier.count(), "dropped update must not reach the registry")
}

func TestAuthenticate(t *testing.T) {
	svc := NewService(newRecordingApplier(), models.IngestConfig{QueueSize: 1, Workers: 1}, "secret", logger.NewTestLogger())

	require.NoError(t, svc.Authenticate("gateway-1", "secret"))

	err := svc.Authenticate("gateway-1", "wrong")
	require.Error(t, err)

	var rejected *RejectedSourceError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "gateway-1", rejected.Source)
}

func TestAuthenticateDisabled(t *testing.T) {
	svc := NewService(newRecordingApplier(), models.IngestConfig{QueueSize: 1, Workers: 1}, "", logger.NewTestLogger())

	assert.NoError(t, svc.Authenticate("anyone", "anything"))
}

func TestValidationFailureDoesNotKillWorker(t *testing.T) {
	reg := registry.NewDeviceRegistry(logger.NewTestLogger())
	svc := NewService(reg, models.IngestConfig{QueueSize: 16, Workers: 1}, "", logger.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc.Start(ctx)

	// Malformed update (no timestamp) followed by a valid one; the worker
	// must survive the first and apply the second.
	require.NoError(t, svc.Submit(models.AttributeUpdate{DeviceID: "dev1", Field: "temp", Value: 1.0}))
	require.NoError(t, svc.Submit(models.AttributeUpdate{DeviceID: "dev1", Field: "temp", Value: 2.0, Timestamp: 5}))

	require.Eventually(t, func() bool {
		device, err := reg.Get("dev1")
		return err == nil && device.Attributes["temp"].Value == 2.0
	}, time.Second, 5*time.Millisecond)
}

func TestWorkersStopOnCancel(t *testing.T) {
	applier := newRecordingApplier()
	svc := NewService(applier, models.IngestConfig{QueueSize: 4, Workers: 2}, "", logger.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)

	cancel()

	done := make(chan struct{})
	go func() {
		svc.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("workers did not stop on cancel")
	}
}

func TestDecodeUpdates(t *testing.T) {
	single, err := decodeUpdates([]byte(`{"device_id":"dev1","field":"temp","value":21.5,"timestamp":100}`))
	require.NoError(t, err)
	require.Len(t, single, 1)
	assert.Equal(t, "dev1", single[0].DeviceID)

	batch, err := decodeUpdates([]byte(`[{"device_id":"a","field":"f","value":1,"timestamp":1},{"device_id":"b","field":"f","value":2,"timestamp":2}]`))
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "b", batch[1].DeviceID)

	_, err = decodeUpdates([]byte(`{not json`))
	require.Error(t, err)

	_, err = decodeUpdates([]byte(`[{"device_id":`))
	require.Error(t, err)
}
