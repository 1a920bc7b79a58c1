package interfaces

import (
	"context"
	"time"

	tlmmodels "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Models"
)

// DeviceRepository exposes the device records the registry reads and
// the runtime fields it owns. Device creation and configuration edits
// belong to the external device-management layer.
type DeviceRepository interface {
	GetDevice(ctx context.Context, id int64) (*tlmmodels.Device, error)
	GetDeviceByName(ctx context.Context, name string) (*tlmmodels.Device, error)
	ListDevices(ctx context.Context) ([]tlmmodels.Device, error)

	CountDevices(ctx context.Context) (int, error)
	CountByStatus(ctx context.Context, status string) (int, error)

	// SetConnectionState updates the runtime fields. A nil lastSeen
	// leaves the stored last_seen untouched.
	SetConnectionState(ctx context.Context, id int64, status string, connected bool, lastSeen *time.Time) error

	// MarkAllOffline forces every device offline; used at boot so no
	// device appears connected across a restart.
	MarkAllOffline(ctx context.Context) error

	// DeleteDevice removes a device and cascades to its readings.
	DeleteDevice(ctx context.Context, id int64) error
}
