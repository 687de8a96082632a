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
	"io"
	"net/http"

	"github.com/iotman/webui/pkg/ingest"
	"github.com/iotman/webui/pkg/models"
)

const maxTelemetryBody = 1 << 20 // 1MiB

// telemetryResponse reports what happened to a submitted batch.
type telemetryResponse struct {
	Accepted int `json:"accepted"`
	Dropped  int `json:"dropped"`
}

// handleTelemetry is the HTTP inbound telemetry channel. The body is one
// update object or an array of them. Sources authenticate with the
// X-Ingest-Token header. Rejections are reported to the sender but never
// affect registry state.
func (s *APIServer) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if err := s.ingest.Authenticate(r.RemoteAddr, r.Header.Get("X-Ingest-Token")); err != nil {
		var rejected *ingest.RejectedSourceError
		if errors.As(err, &rejected) {
			writeError(w, "Invalid ingest token", http.StatusUnauthorized)
			return
		}

		writeError(w, "Internal server error", http.StatusInternalServerError)

		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxTelemetryBody))
	if err != nil {
		writeError(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	updates, err := decodeTelemetryBody(body)
	if err != nil {
		writeError(w, "Invalid telemetry payload", http.StatusBadRequest)
		return
	}

	resp := telemetryResponse{}

	for _, update := range updates {
		if err := s.ingest.Submit(update); err != nil {
			resp.Dropped++
		} else {
			resp.Accepted++
		}
	}

	// Partial or total drops surface as 503 so well-behaved senders back
	// off; whatever was queued stays queued.
	status := http.StatusAccepted
	if resp.Dropped > 0 {
		status = http.StatusServiceUnavailable
	}

	s.writeJSONResponse(w, status, resp)
}

func decodeTelemetryBody(body []byte) ([]models.AttributeUpdate, error) {
	trimmed := bytesTrimLeft(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var batch []models.AttributeUpdate
		if err := json.Unmarshal(body, &batch); err != nil {
			return nil, err
		}

		return batch, nil
	}

	var single models.AttributeUpdate
	if err := json.Unmarshal(body, &single); err != nil {
		return nil, err
	}

	return []models.AttributeUpdate{single}, nil
}

func bytesTrimLeft(b []byte) []byte {
	for len(b) > 0 {
		switch b[0] {
		case ' ', '\t', '\n', '\r':
			b = b[1:]
		default:
			return b
		}
	}

	return b
}
