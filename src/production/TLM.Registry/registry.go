// Package registry owns the single live broker connection. At most one
// device may hold the wire at any instant; every transition runs under
// one exclusive lock so concurrent HTTP handlers, broker callbacks and
// background timers cannot break that invariant.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	config "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Config"
	logger "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Logger"
	tlmmodels "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Models"
	normalizer "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Normalizer"
	interfaces "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Repository/Interfaces"
)

var (
	// ErrAlreadyActive is returned when another device holds the
	// connection. The caller must stop that device explicitly; the
	// registry never preempts.
	ErrAlreadyActive = errors.New("another device holds the broker connection")

	// ErrUnreachable is returned when the pre-flight probe to the
	// broker host fails.
	ErrUnreachable = errors.New("broker unreachable")

	// ErrMissingHost is returned for devices with no broker host
	// configured.
	ErrMissingHost = errors.New("device has no broker host configured")

	// ErrSuperseded is returned when a reset raced the handshake and
	// won.
	ErrSuperseded = errors.New("connection superseded during handshake")
)

// EventPublisher receives the dashboard events the registry emits.
// Implemented by the broadcaster hub.
type EventPublisher interface {
	PublishReading(tlmmodels.ReadingUpdate)
	PublishDeviceStatus(tlmmodels.DeviceStatus)
	PublishSummary(tlmmodels.ConnectivitySummary)
}

// activeSession is the in-memory connection state. It is never
// persisted: after a crash no device can be considered connected, which
// is why ResetAll runs at boot.
type activeSession struct {
	deviceID   int64
	deviceName string
	session    Session
	simCancel  context.CancelFunc
	simDone    chan struct{}
}

// Registry serializes all connection transitions and tracks last-seen
// timestamps for the sweeper.
type Registry struct {
	mu       sync.Mutex
	active   *activeSession
	lastSeen map[int64]time.Time
	manual   map[int64]struct{}

	cfg         config.TelemetryConfig
	deviceRepo  interfaces.DeviceRepository
	readingRepo interfaces.ReadingRepository
	events      EventPublisher
	logger      *logger.Logger

	sessions SessionFactory
	probe    ProbeFunc
	loc      *time.Location
	now      func() time.Time
}

// NewRegistry constructs a registry wired to the given collaborators.
// The paho session factory and TCP probe are the defaults; tests swap
// them out.
func NewRegistry(cfg config.TelemetryConfig, deviceRepo interfaces.DeviceRepository, readingRepo interfaces.ReadingRepository, events EventPublisher, log *logger.Logger) *Registry {
	loc, err := time.LoadLocation(cfg.DisplayTimezone)
	if err != nil {
		loc = time.UTC
	}

	return &Registry{
		lastSeen:    make(map[int64]time.Time),
		manual:      make(map[int64]struct{}),
		cfg:         cfg,
		deviceRepo:  deviceRepo,
		readingRepo: readingRepo,
		events:      events,
		logger:      log.WithComponent("registry"),
		sessions:    NewPahoSessionFactory(cfg, log),
		probe:       ProbeBroker,
		loc:         loc,
		now:         time.Now,
	}
}

// Connect makes device the single active device. Fails with
// ErrAlreadyActive when another device holds the connection, with
// ErrUnreachable when the pre-flight probe times out, and with the
// broker's error when the handshake is rejected.
func (r *Registry) Connect(ctx context.Context, device tlmmodels.Device) error {
	if device.Host == "" {
		return ErrMissingHost
	}

	r.mu.Lock()
	if r.active != nil {
		holder := r.active.deviceID
		r.mu.Unlock()
		if holder == device.ID {
			return nil
		}
		return ErrAlreadyActive
	}
	// Reserve the slot before any network work so that a concurrent
	// Connect observes AlreadyActive instead of racing the handshake.
	r.active = &activeSession{deviceID: device.ID, deviceName: device.Name}
	delete(r.manual, device.ID)
	r.mu.Unlock()

	if err := r.probe(device.Host, device.Port, r.cfg.ProbeTimeout); err != nil {
		r.clearPending(device.ID)
		return fmt.Errorf("%w: %s:%d: %v", ErrUnreachable, device.Host, device.Port, err)
	}

	sess, err := r.sessions(device, r.messageHandler(device))
	if err != nil {
		r.clearPending(device.ID)
		return fmt.Errorf("failed to open broker session for %s: %w", device.Name, err)
	}

	now := r.now().UTC()

	r.mu.Lock()
	if r.active == nil || r.active.deviceID != device.ID {
		r.mu.Unlock()
		sess.Close()
		return ErrSuperseded
	}
	r.active.session = sess
	r.lastSeen[device.ID] = now
	if r.isDemoBroker(device.Host) {
		simCtx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		r.active.simCancel = cancel
		r.active.simDone = done
		go r.runSimulator(simCtx, device, done)
	}
	r.mu.Unlock()

	if err := r.deviceRepo.SetConnectionState(ctx, device.ID, tlmmodels.StatusOnline, true, &now); err != nil {
		r.logger.ErrorWithError(err, "Failed to persist online state for "+device.Name)
	}

	r.events.PublishDeviceStatus(tlmmodels.DeviceStatus{
		DeviceID:   device.ID,
		DeviceName: device.Name,
		Status:     tlmmodels.StatusOnline,
		LastSeen:   now.In(r.loc).Format(time.RFC3339),
	})
	r.publishSummary(ctx)

	r.logger.WithDevice(device.ID, device.Name).Info("Device connected")
	return nil
}

// Disconnect releases the connection if device holds it and marks the
// device offline. Idempotent: disconnecting an inactive or already
// offline device succeeds without emitting duplicate events.
func (r *Registry) Disconnect(ctx context.Context, device tlmmodels.Device, manual bool) error {
	r.mu.Lock()
	var sess Session
	var simCancel context.CancelFunc
	var simDone chan struct{}
	wasActive := false
	if r.active != nil && r.active.deviceID == device.ID {
		wasActive = true
		sess = r.active.session
		simCancel = r.active.simCancel
		simDone = r.active.simDone
		r.active = nil
	}
	if manual {
		r.manual[device.ID] = struct{}{}
	}
	delete(r.lastSeen, device.ID)
	r.mu.Unlock()

	if simCancel != nil {
		simCancel()
		<-simDone
	}
	if sess != nil {
		sess.Close()
	}

	if !wasActive && device.Status == tlmmodels.StatusOffline && !device.IsConnected {
		return nil
	}

	if err := r.deviceRepo.SetConnectionState(ctx, device.ID, tlmmodels.StatusOffline, false, nil); err != nil {
		r.logger.ErrorWithError(err, "Failed to persist offline state for "+device.Name)
	}

	r.events.PublishDeviceStatus(tlmmodels.DeviceStatus{
		DeviceID:   device.ID,
		DeviceName: device.Name,
		Status:     tlmmodels.StatusOffline,
		LastSeen:   r.formatTime(device.LastSeen),
	})
	r.publishSummary(ctx)

	r.logger.WithDevice(device.ID, device.Name).Info("Device disconnected")
	return nil
}

// ResetAll forces every device offline and clears the session slot.
// Run once at boot: the broker handle is not persisted, so nothing can
// legitimately be connected across a restart.
func (r *Registry) ResetAll(ctx context.Context) error {
	r.mu.Lock()
	active := r.active
	r.active = nil
	r.lastSeen = make(map[int64]time.Time)
	r.manual = make(map[int64]struct{})
	r.mu.Unlock()

	if active != nil {
		if active.simCancel != nil {
			active.simCancel()
			<-active.simDone
		}
		if active.session != nil {
			active.session.Close()
		}
	}

	if err := r.deviceRepo.MarkAllOffline(ctx); err != nil {
		return fmt.Errorf("failed to mark devices offline: %w", err)
	}

	r.publishSummary(ctx)
	r.logger.Info("Connection state reset, all devices offline")
	return nil
}

// ActiveDeviceID reports which device currently owns the connection.
func (r *Registry) ActiveDeviceID() (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return 0, false
	}
	return r.active.deviceID, true
}

// IsActive reports whether the given device owns the connection.
func (r *Registry) IsActive(deviceID int64) bool {
	id, ok := r.ActiveDeviceID()
	return ok && id == deviceID
}

// IsManuallyDisconnected reports whether the device was last stopped by
// an explicit user action.
func (r *Registry) IsManuallyDisconnected(deviceID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.manual[deviceID]
	return ok
}

// Touch records message arrival time for the staleness sweeper.
func (r *Registry) Touch(deviceID int64) {
	r.mu.Lock()
	r.lastSeen[deviceID] = r.now().UTC()
	r.mu.Unlock()
}

// Forget drops the last-seen entry so the sweeper emits exactly one
// offline event per staleness transition.
func (r *Registry) Forget(deviceID int64) {
	r.mu.Lock()
	delete(r.lastSeen, deviceID)
	r.mu.Unlock()
}

// LastSeenSnapshot copies the last-seen table for the sweeper.
func (r *Registry) LastSeenSnapshot() map[int64]time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := make(map[int64]time.Time, len(r.lastSeen))
	for id, ts := range r.lastSeen {
		snapshot[id] = ts
	}
	return snapshot
}

// messageHandler builds the broker callback for one device. Decode runs
// without the lock; the active check happens after decode and before
// the write so a stale session cannot corrupt state after a takeover.
func (r *Registry) messageHandler(device tlmmodels.Device) MessageHandler {
	return func(topic string, payload []byte) {
		text := string(payload)
		canonical := normalizer.Normalize(text)

		if !r.IsActive(device.ID) {
			r.logger.WithDevice(device.ID, device.Name).Debug("Dropping message for inactive device")
			return
		}

		if _, err := r.ingest(context.Background(), device, topic, text, canonical); err != nil {
			r.logger.ErrorWithError(err, "Failed to persist reading for "+device.Name)
		}
	}
}

// ingest is the single write path for real and simulated readings: one
// transactional append, then fan-out. A failed append drops the reading
// entirely, never a partial record.
func (r *Registry) ingest(ctx context.Context, device tlmmodels.Device, topic, raw string, c normalizer.Canonical) (*tlmmodels.Reading, error) {
	ts := r.now().UTC()

	reading, err := r.readingRepo.AppendReading(ctx, interfaces.AppendParams{
		DeviceID:    device.ID,
		Topic:       topic,
		Payload:     raw,
		Temperature: c.Temperature,
		Humidity:    c.Humidity,
		Pressure:    c.Pressure,
		Timestamp:   ts,
	})
	if err != nil {
		return nil, err
	}

	r.Touch(device.ID)

	r.events.PublishReading(tlmmodels.ReadingUpdate{
		DeviceID:    device.ID,
		DeviceName:  device.Name,
		Temperature: c.Temperature,
		Humidity:    c.Humidity,
		Pressure:    c.Pressure,
		Status:      tlmmodels.StatusOnline,
		Timestamp:   ts.In(r.loc).Format(time.RFC3339),
	})
	r.publishSummary(ctx)

	return reading, nil
}

func (r *Registry) publishSummary(ctx context.Context) {
	online, err := r.deviceRepo.CountByStatus(ctx, tlmmodels.StatusOnline)
	if err != nil {
		r.logger.ErrorWithError(err, "Failed to count online devices")
		return
	}
	total, err := r.deviceRepo.CountDevices(ctx)
	if err != nil {
		r.logger.ErrorWithError(err, "Failed to count devices")
		return
	}

	status := tlmmodels.StatusOffline
	if online > 0 {
		status = tlmmodels.StatusOnline
	}

	r.events.PublishSummary(tlmmodels.ConnectivitySummary{
		DevicesOnline: online,
		DevicesTotal:  total,
		Status:        status,
		Timestamp:     r.now().In(r.loc).Format(time.RFC3339),
	})
}

func (r *Registry) clearPending(deviceID int64) {
	r.mu.Lock()
	if r.active != nil && r.active.deviceID == deviceID && r.active.session == nil {
		r.active = nil
	}
	r.mu.Unlock()
}

func (r *Registry) isDemoBroker(host string) bool {
	lowered := strings.ToLower(host)
	for _, demo := range r.cfg.DemoBrokerHosts {
		if demo != "" && strings.Contains(lowered, strings.ToLower(demo)) {
			return true
		}
	}
	return false
}

func (r *Registry) formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.In(r.loc).Format(time.RFC3339)
}
