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
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/iotman/webui/pkg/metrics"
	"github.com/iotman/webui/pkg/models"
	"github.com/iotman/webui/pkg/viewsync"
)

const (
	subscribeTimeout  = 30 * time.Second
	keepaliveInterval = 30 * time.Second
	clientReadWindow  = 60 * time.Second
)

// StreamMessage represents a message sent over the WebSocket
type StreamMessage struct {
	Type      string                    `json:"type"` // "snapshot", "patch", "status", "removed", "error"
	Snapshot  *models.Snapshot          `json:"snapshot,omitempty"`
	Patch     *models.Patch             `json:"patch,omitempty"`
	DeviceID  string                    `json:"device_id,omitempty"`
	Status    models.ConnectivityStatus `json:"status,omitempty"`
	Error     string                    `json:"error,omitempty"`
	Timestamp time.Time                 `json:"timestamp"`
}

// handleStream handles the persistent per-session WebSocket over which
// the UI receives its initial snapshot and incremental patches.
func (s *APIServer) handleStream(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return s.checkWebSocketOrigin(r)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("remote_addr", r.RemoteAddr).
			Str("origin", r.Header.Get("Origin")).
			Msg("Failed to upgrade to WebSocket")

		return
	}

	defer func() {
		s.logger.Debug().
			Str("remote_addr", r.RemoteAddr).
			Msg("Closing WebSocket connection")
		conn.Close()
	}()

	// Authentication runs after the upgrade so the handshake is never
	// broken by an HTTP error body.
	if !s.authenticateWebSocketConnection(r) {
		_ = sendErrorMessage(conn, "Authentication required")
		return
	}

	sessionID := uuid.New().String()

	s.logger.Info().
		Str("session_id", sessionID).
		Str("remote_addr", r.RemoteAddr).
		Msg("UI session connected")

	scope, err := readSubscribeRequest(conn)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("session_id", sessionID).
			Msg("Session closed before subscribing")

		return
	}

	view := viewsync.NewView(sessionID, scope.Compile(), s.registry)

	session, err := s.broker.Subscribe(sessionID, scope)
	if err != nil {
		_ = sendErrorMessage(conn, "Subscription failed")
		return
	}

	defer func() {
		s.broker.Unsubscribe(sessionID)
		view.Disconnect()

		s.logger.Info().
			Str("session_id", sessionID).
			Msg("UI session disconnected")
	}()

	if err := view.MarkSubscribed(); err != nil {
		_ = sendErrorMessage(conn, "Subscription failed")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reader goroutine: detects client disconnects and close frames.
	go s.handleClientMessages(ctx, conn, sessionID, cancel)

	if err := s.sendSnapshot(conn, view); err != nil {
		s.logger.Warn().
			Err(err).
			Str("session_id", sessionID).
			Msg("Failed to send initial snapshot")

		return
	}

	s.streamSession(ctx, conn, session.Events(), session.Resync(), view, sessionID)
}

// streamSession pumps broker events through the view and onto the wire
// until the session ends.
func (s *APIServer) streamSession(
	ctx context.Context,
	conn *websocket.Conn,
	events <-chan models.ChangeEvent,
	resync <-chan struct{},
	view *viewsync.View,
	sessionID string,
) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-resync:
			// The session fell behind and its backlog was collapsed;
			// recover with a fresh full snapshot.
			s.logger.Info().
				Str("session_id", sessionID).
				Msg("Session resnapshot after overflow")

			if err := s.sendSnapshot(conn, view); err != nil {
				return
			}

		case ev, ok := <-events:
			if !ok {
				return
			}

			delta, ok := view.Apply(ev)
			if !ok {
				continue
			}

			if err := sendDeltaMessage(conn, delta); err != nil {
				s.logger.Warn().
					Err(err).
					Str("session_id", sessionID).
					Msg("Failed to send patch, closing session")

				return
			}

			metrics.PatchesSent.Inc()

		case <-ticker.C:
			if err := sendPingMessage(conn); err != nil {
				s.logger.Debug().
					Err(err).
					Str("session_id", sessionID).
					Msg("Keepalive failed, closing session")

				return
			}
		}
	}
}

// handleClientMessages reads messages from the client (for disconnect
// detection). Pongs to our keepalive pings extend the read deadline, so
// an idle but healthy browser session stays up.
func (s *APIServer) handleClientMessages(ctx context.Context, conn *websocket.Conn, sessionID string, cancel context.CancelFunc) {
	_ = conn.SetReadDeadline(time.Now().Add(clientReadWindow))

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(clientReadWindow))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			messageType, _, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Warn().
						Err(err).
						Str("session_id", sessionID).
						Msg("WebSocket closed unexpectedly")
				}

				cancel()

				return
			}

			if messageType == websocket.CloseMessage {
				cancel()
				return
			}
		}
	}
}

// readSubscribeRequest reads the session's initial scope declaration.
func readSubscribeRequest(conn *websocket.Conn) (models.Scope, error) {
	var scope models.Scope

	if err := conn.SetReadDeadline(time.Now().Add(subscribeTimeout)); err != nil {
		return scope, err
	}

	if err := conn.ReadJSON(&scope); err != nil {
		return scope, err
	}

	return scope, conn.SetReadDeadline(time.Time{})
}

func (s *APIServer) sendSnapshot(conn *websocket.Conn, view *viewsync.View) error {
	snapshot, err := view.Render()
	if err != nil {
		return err
	}

	return conn.WriteJSON(StreamMessage{
		Type:      "snapshot",
		Snapshot:  &snapshot,
		Timestamp: time.Now(),
	})
}

func sendDeltaMessage(conn *websocket.Conn, delta viewsync.Delta) error {
	msg := StreamMessage{Timestamp: time.Now()}

	switch delta.Kind {
	case models.ChangeAttribute:
		msg.Type = "patch"
		msg.Patch = delta.Patch
	case models.ChangeStatus:
		msg.Type = "status"
		msg.DeviceID = delta.DeviceID
		msg.Status = delta.Status
	case models.ChangeRemoved:
		msg.Type = "removed"
		msg.DeviceID = delta.DeviceID
	default:
		return nil
	}

	return conn.WriteJSON(msg)
}

func sendErrorMessage(conn *websocket.Conn, errMsg string) error {
	return conn.WriteJSON(StreamMessage{
		Type:      "error",
		Error:     errMsg,
		Timestamp: time.Now(),
	})
}

func sendPingMessage(conn *websocket.Conn) error {
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

// authenticateWebSocketConnection validates the dashboard API key without
// interfering with the WebSocket handshake. Browsers cannot set headers
// on WebSocket connects, so cookies and the query string are accepted.
func (s *APIServer) authenticateWebSocketConnection(r *http.Request) bool {
	if s.apiKey == "" {
		return true
	}

	apiKey := r.Header.Get("X-API-Key")

	if apiKey == "" {
		if cookie, err := r.Cookie("api_key"); err == nil {
			apiKey = cookie.Value
		}
	}

	if apiKey == "" {
		apiKey = r.URL.Query().Get("api_key")
	}

	if apiKey == s.apiKey {
		return true
	}

	s.logger.Warn().
		Str("remote_addr", r.RemoteAddr).
		Msg("WebSocket authentication failed")

	return false
}

// checkWebSocketOrigin validates WebSocket origin against CORS configuration
func (s *APIServer) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	// No Origin header means a non-browser client; allow it.
	if origin == "" {
		return true
	}

	if len(s.corsConfig.AllowedOrigins) == 0 {
		return true
	}

	for _, allowedOrigin := range s.corsConfig.AllowedOrigins {
		if allowedOrigin == origin || allowedOrigin == "*" {
			return true
		}
	}

	s.logger.Warn().
		Str("origin", origin).
		Msg("WebSocket origin not allowed")

	return false
}
