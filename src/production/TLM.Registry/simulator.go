package registry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	tlmmodels "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Models"
	normalizer "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Normalizer"
)

// Public demo brokers carry no real sensor traffic, so devices pointed
// at one get a synthetic feed. Simulated readings travel the exact same
// ingest path as broker messages and are indistinguishable downstream.
const simulatorTopicSuffix = "sim"

func (r *Registry) runSimulator(ctx context.Context, device tlmmodels.Device, done chan struct{}) {
	defer close(done)

	slog := r.logger.WithDevice(device.ID, device.Name)
	slog.Info("Starting simulated telemetry feed")

	ticker := time.NewTicker(r.cfg.SimulatorInterval)
	defer ticker.Stop()

	topic := fmt.Sprintf("%s/%s/%s", r.cfg.TopicPrefix, device.Name, simulatorTopicSuffix)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Simulated telemetry feed stopped")
			return
		case <-ticker.C:
		}

		if !r.IsActive(device.ID) {
			slog.Debug("Simulator tick for inactive device, stopping")
			return
		}

		// The device may have been deleted mid-run; stop instead of
		// writing orphaned readings.
		if current, err := r.deviceRepo.GetDevice(ctx, device.ID); err != nil || current == nil {
			slog.Debug("Simulator device no longer exists, stopping")
			return
		}

		payload := fmt.Sprintf(`{"temperature": %.1f, "humidity": %.1f, "pressure": %.1f}`,
			randomInRange(20, 35),
			randomInRange(40, 80),
			randomInRange(980, 1050),
		)

		canonical := normalizer.Normalize(payload)
		if _, err := r.ingest(ctx, device, topic, payload, canonical); err != nil {
			slog.ErrorWithError(err, "Failed to persist simulated reading")
		}
	}
}

func randomInRange(lo, hi float64) float64 {
	return math.Round((lo+rand.Float64()*(hi-lo))*10) / 10
}
