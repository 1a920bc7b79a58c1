package registry

import (
	"context"
	"time"

	logger "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Logger"
	tlmmodels "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Models"
	interfaces "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Repository/Interfaces"
)

// Sweeper demotes devices that stop sending telemetry. It only ever
// marks devices offline; nothing in the system marks a device online
// except an explicit connect.
type Sweeper struct {
	registry   *Registry
	deviceRepo interfaces.DeviceRepository
	events     EventPublisher
	logger     *logger.Logger

	interval time.Duration
	timeout  time.Duration
	loc      *time.Location
	now      func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper builds a sweeper over the registry's last-seen table.
func NewSweeper(reg *Registry, deviceRepo interfaces.DeviceRepository, events EventPublisher, log *logger.Logger) *Sweeper {
	return &Sweeper{
		registry:   reg,
		deviceRepo: deviceRepo,
		events:     events,
		logger:     log.WithComponent("sweeper"),
		interval:   reg.cfg.SweeperInterval,
		timeout:    reg.cfg.OfflineTimeout,
		loc:        reg.loc,
		now:        reg.now,
	}
}

// Start launches the periodic sweep until Stop is called.
func (s *Sweeper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.WithField("interval", s.interval.String()).Info("Staleness sweeper started")
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Staleness sweeper stopped")
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

// Stop halts the sweep loop and waits for the current pass to finish.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// sweep walks a snapshot of the last-seen table and marks every stale
// device offline. The entry is dropped afterwards, so each staleness
// transition produces exactly one event even though sweeps repeat.
func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := s.now().UTC().Add(-s.timeout)

	for deviceID, seen := range s.registry.LastSeenSnapshot() {
		if !seen.Before(cutoff) {
			continue
		}

		device, err := s.deviceRepo.GetDevice(ctx, deviceID)
		if err != nil {
			s.logger.ErrorWithError(err, "Failed to load stale device")
			continue
		}
		if device == nil {
			s.registry.Forget(deviceID)
			continue
		}

		last := seen
		if err := s.deviceRepo.SetConnectionState(ctx, deviceID, tlmmodels.StatusOffline, false, &last); err != nil {
			// Retry on the next pass; the last-seen entry stays.
			s.logger.ErrorWithError(err, "Failed to mark stale device offline")
			continue
		}

		s.registry.Forget(deviceID)

		s.events.PublishDeviceStatus(tlmmodels.DeviceStatus{
			DeviceID:   deviceID,
			DeviceName: device.Name,
			Status:     tlmmodels.StatusOffline,
			LastSeen:   seen.In(s.loc).Format(time.RFC3339),
		})

		s.logger.WithDevice(deviceID, device.Name).Warn("Device went stale, marked offline")
	}
}
