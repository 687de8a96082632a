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

// Package viewsync maintains each UI session's materialized view of its
// subscribed scope and turns registry change events into the minimal
// patches the browser needs. Given a quiescent registry, every streaming
// view converges to the registry state for its scope.
package viewsync

import (
	"errors"
	"fmt"
	"sync"

	"github.com/iotman/webui/pkg/models"
)

// SessionState is the lifecycle state of one UI session's view.
type SessionState string

const (
	StateConnecting   SessionState = "connecting"
	StateSubscribed   SessionState = "subscribed"
	StateStreaming    SessionState = "streaming"
	StateDisconnected SessionState = "disconnected"
)

var errDisconnected = errors.New("session is disconnected")

// InvalidTransitionError reports a session lifecycle violation.
type InvalidTransitionError struct {
	From SessionState
	To   SessionState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid session transition %s -> %s", e.From, e.To)
}

// Snapshotter is the registry surface the synchronizer needs.
type Snapshotter interface {
	SnapshotScope(scope models.CompiledScope) models.Snapshot
}

// Delta is one change distilled against a session's view.
type Delta struct {
	Kind     models.ChangeKind
	DeviceID string
	Patch    *models.Patch             // set when Kind is ChangeAttribute
	Status   models.ConnectivityStatus // set when Kind is ChangeStatus
}

// View is a per-session materialized snapshot of the subscribed scope.
// Render and Apply are called from the session's writer goroutine;
// Disconnect may be called from any goroutine.
type View struct {
	SessionID string

	store Snapshotter
	scope models.CompiledScope

	mu    sync.Mutex
	state SessionState

	// seen tracks, per device and field, the source timestamp of the last
	// value shown to the session. Patches at or below it are duplicates of
	// snapshot state and are suppressed.
	seen     map[string]map[string]int64
	statuses map[string]models.ConnectivityStatus
}

// NewView creates a view in the Connecting state.
func NewView(sessionID string, scope models.CompiledScope, store Snapshotter) *View {
	return &View{
		SessionID: sessionID,
		store:     store,
		scope:     scope,
		state:     StateConnecting,
		seen:      make(map[string]map[string]int64),
		statuses:  make(map[string]models.ConnectivityStatus),
	}
}

// State returns the current lifecycle state.
func (v *View) State() SessionState {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.state
}

// MarkSubscribed moves Connecting -> Subscribed, after the broker
// subscription has been established.
func (v *View) MarkSubscribed() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state == StateDisconnected {
		return errDisconnected
	}

	if v.state != StateConnecting {
		return &InvalidTransitionError{From: v.state, To: StateSubscribed}
	}

	v.state = StateSubscribed

	return nil
}

// Render materializes the full snapshot for the session's scope and moves
// the view into Streaming. It is also the recovery path after a forced
// resync: the previous view state is discarded wholesale.
func (v *View) Render() (models.Snapshot, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch v.state {
	case StateSubscribed, StateStreaming:
	case StateDisconnected:
		return models.Snapshot{}, errDisconnected
	default:
		return models.Snapshot{}, &InvalidTransitionError{From: v.state, To: StateStreaming}
	}

	snapshot := v.store.SnapshotScope(v.scope)

	v.seen = make(map[string]map[string]int64, len(snapshot.Devices))
	v.statuses = make(map[string]models.ConnectivityStatus, len(snapshot.Devices))

	for deviceID, dev := range snapshot.Devices {
		fields := make(map[string]int64, len(dev.Attributes))
		for field, attr := range dev.Attributes {
			fields[field] = attr.Timestamp
		}

		v.seen[deviceID] = fields
		v.statuses[deviceID] = dev.Status
	}

	v.state = StateStreaming

	return snapshot, nil
}

// Apply distills a change event against the view. The returned bool is
// false when the event is a duplicate of state the session has already
// been shown, or the view is not streaming. For a single device, deltas
// come out in the same order the updates were applied to the registry.
func (v *View) Apply(ev models.ChangeEvent) (Delta, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state != StateStreaming {
		return Delta{}, false
	}

	switch ev.Kind {
	case models.ChangeAttribute:
		fields, ok := v.seen[ev.DeviceID]
		if !ok {
			fields = make(map[string]int64)
			v.seen[ev.DeviceID] = fields
		}

		if last, ok := fields[ev.Field]; ok && ev.Timestamp <= last {
			return Delta{}, false
		}

		fields[ev.Field] = ev.Timestamp

		return Delta{
			Kind:     models.ChangeAttribute,
			DeviceID: ev.DeviceID,
			Patch: &models.Patch{
				DeviceID: ev.DeviceID,
				Field:    ev.Field,
				Value:    ev.Value,
			},
		}, true

	case models.ChangeStatus:
		if current, ok := v.statuses[ev.DeviceID]; ok && current == ev.Status {
			return Delta{}, false
		}

		v.statuses[ev.DeviceID] = ev.Status

		return Delta{
			Kind:     models.ChangeStatus,
			DeviceID: ev.DeviceID,
			Status:   ev.Status,
		}, true

	case models.ChangeRemoved:
		delete(v.seen, ev.DeviceID)
		delete(v.statuses, ev.DeviceID)

		return Delta{
			Kind:     models.ChangeRemoved,
			DeviceID: ev.DeviceID,
		}, true

	default:
		return Delta{}, false
	}
}

// Disconnect makes the view terminal. It is reachable from every state
// and idempotent; no transition leads out of it.
func (v *View) Disconnect() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.state = StateDisconnected
}
