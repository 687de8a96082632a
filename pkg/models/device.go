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
	"time"
)

// FieldType is the declared type of a device capability field.
type FieldType string

const (
	FieldTypeNumber FieldType = "number"
	FieldTypeString FieldType = "string"
	FieldTypeBool   FieldType = "bool"
)

// CapabilityField describes one named, typed attribute a device may report.
type CapabilityField struct {
	Name string    `json:"name"`
	Type FieldType `json:"type"`
}

// ConnectivityStatus tracks how recently a device has reported telemetry.
type ConnectivityStatus string

const (
	StatusOnline  ConnectivityStatus = "online"
	StatusStale   ConnectivityStatus = "stale"
	StatusOffline ConnectivityStatus = "offline"
)

// AttributeValue is the current value of one device field together with the
// source timestamp it was accepted at. Timestamps are unix milliseconds as
// reported by the device.
type AttributeValue struct {
	Value     interface{} `json:"value"`
	Timestamp int64       `json:"timestamp"`
}

// Device represents a managed IoT endpoint and its last-known state.
type Device struct {
	DeviceID     string                    `json:"device_id"`
	Capabilities []CapabilityField         `json:"capabilities,omitempty"`
	Attributes   map[string]AttributeValue `json:"attributes"`
	Status       ConnectivityStatus        `json:"status"`
	FirstSeen    time.Time                 `json:"first_seen"`
	LastUpdate   time.Time                 `json:"last_update"`
	Preregistered bool                     `json:"preregistered,omitempty"`
}
