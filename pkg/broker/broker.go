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

// Package broker tracks which UI sessions are interested in which devices
// and fans registry change events out to them. Delivery to each session
// goes through a bounded per-session buffer, so one slow session never
// stalls the registry or any other session.
package broker

import (
	"errors"
	"sync"

	"github.com/iotman/webui/pkg/logger"
	"github.com/iotman/webui/pkg/metrics"
	"github.com/iotman/webui/pkg/models"
)

// ErrDuplicateSession is returned when a session ID is already subscribed.
var ErrDuplicateSession = errors.New("session already subscribed")

// SubscriptionBroker fans out change notifications to subscribed sessions.
type SubscriptionBroker struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	bufferSize int
	logger     logger.Logger
}

// NewSubscriptionBroker creates a broker whose sessions buffer up to
// bufferSize pending events each.
func NewSubscriptionBroker(bufferSize int, log logger.Logger) *SubscriptionBroker {
	return &SubscriptionBroker{
		sessions:   make(map[string]*Session),
		bufferSize: bufferSize,
		logger:     log,
	}
}

// Subscribe registers a session for the given scope. The session is
// eligible for delivery from the moment this call returns, and never
// before: the session's buffer exists prior to its insertion into the
// session table, so there is no window where a matching change can be
// observed by the broker but lost to the session.
func (b *SubscriptionBroker) Subscribe(sessionID string, scope models.Scope) (*Session, error) {
	session := newSession(sessionID, scope.Compile(), b.bufferSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.sessions[sessionID]; ok {
		return nil, ErrDuplicateSession
	}

	b.sessions[sessionID] = session
	metrics.ActiveSessions.Set(float64(len(b.sessions)))

	b.logger.Info().
		Str("session_id", sessionID).
		Int("scope_devices", len(scope.Devices)).
		Int("scope_fields", len(scope.Fields)).
		Msg("Session subscribed")

	return session, nil
}

// Unsubscribe removes a session and cancels its pending deliveries. After
// this call returns the session receives nothing further.
func (b *SubscriptionBroker) Unsubscribe(sessionID string) {
	b.mu.Lock()
	session, ok := b.sessions[sessionID]
	if ok {
		delete(b.sessions, sessionID)
	}
	metrics.ActiveSessions.Set(float64(len(b.sessions)))
	b.mu.Unlock()

	if !ok {
		return
	}

	session.close()

	b.logger.Info().Str("session_id", sessionID).Msg("Session unsubscribed")
}

// OnChange implements registry.ChangeListener. Each change event is
// enqueued at most once per session whose scope intersects it. Enqueueing
// never blocks; a full session buffer collapses into a forced resnapshot.
func (b *SubscriptionBroker) OnChange(ev models.ChangeEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, session := range b.sessions {
		if session.scope.Matches(ev) {
			session.publish(ev)
		}
	}
}

// SessionCount reports the number of currently subscribed sessions.
func (b *SubscriptionBroker) SessionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.sessions)
}
