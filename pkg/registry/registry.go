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

// Package registry holds the authoritative in-memory state of the device
// fleet. All mutations flow through ApplyUpdate, which enforces
// last-writer-wins by source timestamp and serializes updates per device
// while letting distinct devices proceed concurrently.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/iotman/webui/pkg/logger"
	"github.com/iotman/webui/pkg/models"
)

// ErrNotFound is returned when a queried device is not in the registry.
var ErrNotFound = errors.New("device not found")

var (
	errAlreadyRegistered = errors.New("device already registered")
)

// ValidationError describes an update rejected against the device's
// declared capability set or basic message shape.
type ValidationError struct {
	DeviceID string
	Field    string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid update for device %q field %q: %s", e.DeviceID, e.Field, e.Reason)
}

// ChangeListener receives change events after a mutation is applied.
// Events for one device are delivered in apply order; the listener is
// invoked while the device's own lock is held, so it must not block and
// must not call back into the registry for the same device.
type ChangeListener interface {
	OnChange(ev models.ChangeEvent)
}

// deviceEntry is the single logical owner of one device record. Its mutex
// serializes updates to the device; the registry map lock is only held for
// lookup and membership changes.
type deviceEntry struct {
	mu sync.Mutex

	device   models.Device
	declared map[string]models.FieldType // non-nil when preregistered with capabilities
	inferred map[string]models.FieldType // learned from first accepted value per field
}

// DeviceRegistry is the single source of truth for device state.
type DeviceRegistry struct {
	mu      sync.RWMutex
	devices map[string]*deviceEntry

	listenerMu sync.RWMutex
	listener   ChangeListener

	logger logger.Logger
	now    func() time.Time
}

// NewDeviceRegistry creates a new, authoritative device registry.
func NewDeviceRegistry(log logger.Logger) *DeviceRegistry {
	return &DeviceRegistry{
		devices: make(map[string]*deviceEntry),
		logger:  log,
		now:     time.Now,
	}
}

// SetListener installs the change listener. Must be called before telemetry
// starts flowing; there is exactly one listener (the subscription broker).
func (r *DeviceRegistry) SetListener(l ChangeListener) {
	r.listenerMu.Lock()
	defer r.listenerMu.Unlock()

	r.listener = l
}

func (r *DeviceRegistry) emit(ev models.ChangeEvent) {
	r.listenerMu.RLock()
	l := r.listener
	r.listenerMu.RUnlock()

	if l != nil {
		l.OnChange(ev)
	}
}

// ApplyUpdate validates and applies one telemetry update. It returns
// applied=false without error when the update loses last-writer-wins: the
// incoming source timestamp is older than, or equal to, the timestamp of
// the value already held (ties go to the first arrival). A ValidationError
// is returned for unknown fields, type mismatches, or malformed messages;
// registry state is unchanged in every rejection case.
func (r *DeviceRegistry) ApplyUpdate(update models.AttributeUpdate) (bool, error) {
	if update.DeviceID == "" {
		return false, &ValidationError{Field: update.Field, Reason: "missing device id"}
	}

	if update.Field == "" {
		return false, &ValidationError{DeviceID: update.DeviceID, Reason: "missing field name"}
	}

	if update.Timestamp <= 0 {
		return false, &ValidationError{DeviceID: update.DeviceID, Field: update.Field, Reason: "missing source timestamp"}
	}

	valueType, ok := typeOfValue(update.Value)
	if !ok {
		return false, &ValidationError{
			DeviceID: update.DeviceID,
			Field:    update.Field,
			Reason:   fmt.Sprintf("unsupported value type %T", update.Value),
		}
	}

	entry := r.getOrCreateEntry(update.DeviceID)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err := entry.checkField(update.DeviceID, update.Field, valueType); err != nil {
		return false, err
	}

	if existing, ok := entry.device.Attributes[update.Field]; ok && update.Timestamp <= existing.Timestamp {
		return false, nil
	}

	entry.device.Attributes[update.Field] = models.AttributeValue{
		Value:     update.Value,
		Timestamp: update.Timestamp,
	}
	if entry.declared == nil {
		entry.inferred[update.Field] = valueType
	}

	now := r.now()
	entry.device.LastUpdate = now

	prevStatus := entry.device.Status
	entry.device.Status = models.StatusOnline

	r.emit(models.ChangeEvent{
		Kind:      models.ChangeAttribute,
		DeviceID:  update.DeviceID,
		Field:     update.Field,
		Value:     update.Value,
		Timestamp: update.Timestamp,
	})

	if prevStatus != models.StatusOnline {
		r.emit(models.ChangeEvent{
			Kind:     models.ChangeStatus,
			DeviceID: update.DeviceID,
			Status:   models.StatusOnline,
		})
	}

	return true, nil
}

// getOrCreateEntry returns the entry for deviceID, creating it on first
// telemetry contact. Message-shape and value-type checks run before this
// point, so a rejected message never leaves a phantom device behind.
func (r *DeviceRegistry) getOrCreateEntry(deviceID string) *deviceEntry {
	r.mu.RLock()
	entry, ok := r.devices[deviceID]
	r.mu.RUnlock()

	if ok {
		return entry
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.devices[deviceID]; ok {
		return entry
	}

	entry = &deviceEntry{
		device: models.Device{
			DeviceID:   deviceID,
			Attributes: make(map[string]models.AttributeValue),
			Status:     models.StatusOnline,
			FirstSeen:  r.now(),
		},
		inferred: make(map[string]models.FieldType),
	}
	r.devices[deviceID] = entry

	r.logger.Info().Str("device_id", deviceID).Msg("Device created on first telemetry contact")

	return entry
}

// checkField validates a field name and value type against the device's
// declared capability set, or against types inferred from earlier accepted
// values when the device was never preregistered. Caller holds entry.mu.
func (e *deviceEntry) checkField(deviceID, field string, valueType models.FieldType) error {
	if e.declared != nil {
		declared, ok := e.declared[field]
		if !ok {
			return &ValidationError{DeviceID: deviceID, Field: field, Reason: "field not in declared capability set"}
		}

		if declared != valueType {
			return &ValidationError{
				DeviceID: deviceID,
				Field:    field,
				Reason:   fmt.Sprintf("declared type %s, got %s", declared, valueType),
			}
		}

		return nil
	}

	if inferred, ok := e.inferred[field]; ok && inferred != valueType {
		return &ValidationError{
			DeviceID: deviceID,
			Field:    field,
			Reason:   fmt.Sprintf("previously reported %s, got %s", inferred, valueType),
		}
	}

	return nil
}

// typeOfValue maps a decoded JSON value onto a capability field type.
func typeOfValue(v interface{}) (models.FieldType, bool) {
	switch v.(type) {
	case float64, float32, int, int32, int64:
		return models.FieldTypeNumber, true
	case string:
		return models.FieldTypeString, true
	case bool:
		return models.FieldTypeBool, true
	default:
		return "", false
	}
}
