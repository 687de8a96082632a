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

// Command simulator feeds a running webui instance with randomized fleet
// telemetry, either over NATS or the HTTP ingest endpoint. It exists for
// demos and load testing; the generated devices look like a mixed fleet
// of thermostats, meters, and trackers.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/iotman/webui/pkg/models"
)

const (
	defaultDeviceCount = 25
	defaultInterval    = 2 * time.Second
	publishTimeout     = 5 * time.Second

	// Fraction of devices (in percent) that go quiet each tick, so the
	// stale/offline sweep has something to do.
	quietPercent = 10
)

type simDevice struct {
	id       string
	temp     float64
	battery  float64
	firmware string
	quiet    bool
}

type publisher interface {
	publish(ctx context.Context, updates []models.AttributeUpdate) error
	close()
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	deviceCount := flag.Int("devices", defaultDeviceCount, "Number of simulated devices")
	interval := flag.Duration("interval", defaultInterval, "Delay between telemetry rounds")
	natsURL := flag.String("nats", "", "NATS server URL (publish over NATS instead of HTTP)")
	subject := flag.String("subject", "iotman.telemetry.sim", "NATS subject to publish on")
	target := flag.String("target", "http://localhost:8080", "webui base URL for HTTP ingest")
	token := flag.String("token", "", "Ingest token sent as X-Ingest-Token")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		pub publisher
		err error
	)

	if *natsURL != "" {
		pub, err = newNATSPublisher(*natsURL, *subject)
	} else {
		pub = newHTTPPublisher(*target, *token)
	}

	if err != nil {
		return err
	}
	defer pub.close()

	fleet := buildFleet(*deviceCount)

	log.Printf("Simulating %d devices every %s", len(fleet), *interval)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			updates := nextRound(fleet)
			if err := pub.publish(ctx, updates); err != nil {
				log.Printf("Publish failed: %v", err)
			}
		}
	}
}

var deviceKinds = []string{"thermostat", "meter", "tracker", "valve"}

func buildFleet(n int) []*simDevice {
	fleet := make([]*simDevice, 0, n)

	for i := 0; i < n; i++ {
		kind := deviceKinds[i%len(deviceKinds)]
		fleet = append(fleet, &simDevice{
			id:       fmt.Sprintf("%s-%s", kind, uuid.New().String()[:8]),
			temp:     15 + rand.Float64()*10,
			battery:  50 + rand.Float64()*50,
			firmware: fmt.Sprintf("v1.%d.%d", rand.Intn(5), rand.Intn(20)),
		})
	}

	return fleet
}

// nextRound advances every device's state by one tick and returns the
// resulting updates. Quiet devices emit nothing until they wake up.
func nextRound(fleet []*simDevice) []models.AttributeUpdate {
	now := time.Now().UnixMilli()
	updates := make([]models.AttributeUpdate, 0, len(fleet)*3)

	for _, d := range fleet {
		if rand.Intn(100) < quietPercent {
			d.quiet = !d.quiet
		}

		if d.quiet {
			continue
		}

		d.temp += rand.Float64()*2 - 1
		d.battery -= rand.Float64() * 0.5

		if d.battery < 1 {
			d.battery = 100
		}

		updates = append(updates,
			models.AttributeUpdate{DeviceID: d.id, Field: "temp", Value: round1(d.temp), Timestamp: now},
			models.AttributeUpdate{DeviceID: d.id, Field: "battery", Value: round1(d.battery), Timestamp: now},
			models.AttributeUpdate{DeviceID: d.id, Field: "firmware", Value: d.firmware, Timestamp: now},
		)
	}

	return updates
}

func round1(v float64) float64 {
	return float64(int(v*10)) / 10
}

type natsPublisher struct {
	conn    *nats.Conn
	subject string
}

func newNATSPublisher(url, subject string) (*natsPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("iotman-simulator"))
	if err != nil {
		return nil, err
	}

	return &natsPublisher{conn: conn, subject: subject}, nil
}

func (p *natsPublisher) publish(_ context.Context, updates []models.AttributeUpdate) error {
	data, err := json.Marshal(updates)
	if err != nil {
		return err
	}

	return p.conn.Publish(p.subject, data)
}

func (p *natsPublisher) close() {
	p.conn.Close()
}

type httpPublisher struct {
	client *http.Client
	url    string
	token  string
}

func newHTTPPublisher(base, token string) *httpPublisher {
	return &httpPublisher{
		client: &http.Client{Timeout: publishTimeout},
		url:    base + "/api/telemetry",
		token:  token,
	}
}

func (p *httpPublisher) publish(ctx context.Context, updates []models.AttributeUpdate) error {
	data, err := json.Marshal(updates)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(data))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	if p.token != "" {
		req.Header.Set("X-Ingest-Token", p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("ingest returned %s", resp.Status)
	}

	return nil
}

func (p *httpPublisher) close() {}
