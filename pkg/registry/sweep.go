package registry

import (
	"context"
	"time"

	"github.com/iotman/webui/pkg/metrics"
	"github.com/iotman/webui/pkg/models"
)

// SweepConfig controls the connectivity sweep thresholds.
type SweepConfig struct {
	Interval     time.Duration
	StaleAfter   time.Duration
	OfflineAfter time.Duration
}

// StartSweeper runs the background sweep that downgrades silent devices to
// stale and then offline. Each transition is emitted as a change event so
// it propagates to subscribers like any other update. Returns when ctx is
// canceled.
func (r *DeviceRegistry) StartSweeper(ctx context.Context, cfg SweepConfig) {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	r.logger.Info().
		Dur("interval", cfg.Interval).
		Dur("stale_after", cfg.StaleAfter).
		Dur("offline_after", cfg.OfflineAfter).
		Msg("Connectivity sweeper started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("Connectivity sweeper stopped")
			return
		case <-ticker.C:
			r.SweepOnce(cfg)
		}
	}
}

// SweepOnce performs a single sweep pass. Exposed for tests.
func (r *DeviceRegistry) SweepOnce(cfg SweepConfig) {
	now := r.now()

	for _, entry := range r.collectEntries() {
		entry.mu.Lock()

		// Preregistered devices that never reported have no last-update
		// time; they stay offline until first contact.
		if entry.device.LastUpdate.IsZero() {
			entry.mu.Unlock()
			continue
		}

		silence := now.Sub(entry.device.LastUpdate)

		var next models.ConnectivityStatus

		switch {
		case silence >= cfg.OfflineAfter:
			next = models.StatusOffline
		case silence >= cfg.StaleAfter:
			next = models.StatusStale
		default:
			entry.mu.Unlock()
			continue
		}

		if next == entry.device.Status || rank(next) < rank(entry.device.Status) {
			entry.mu.Unlock()
			continue
		}

		deviceID := entry.device.DeviceID
		entry.device.Status = next

		r.emit(models.ChangeEvent{
			Kind:     models.ChangeStatus,
			DeviceID: deviceID,
			Status:   next,
		})

		entry.mu.Unlock()

		r.logger.Debug().
			Str("device_id", deviceID).
			Str("status", string(next)).
			Dur("silence", silence).
			Msg("Device connectivity downgraded")
	}

	r.publishCounts()
}

// rank orders statuses so the sweep only ever downgrades; reporting
// devices are brought back online by ApplyUpdate alone.
func rank(s models.ConnectivityStatus) int {
	switch s {
	case models.StatusOnline:
		return 0
	case models.StatusStale:
		return 1
	case models.StatusOffline:
		return 2
	default:
		return -1
	}
}

func (r *DeviceRegistry) publishCounts() {
	counts := r.Counts()

	for _, status := range []models.ConnectivityStatus{models.StatusOnline, models.StatusStale, models.StatusOffline} {
		metrics.DevicesByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
