package interfaces

import (
	"context"
	"time"

	tlmmodels "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Models"
)

// AppendParams carries one canonical reading into the store.
type AppendParams struct {
	DeviceID    int64
	Topic       string
	Payload     string
	Temperature float64
	Humidity    float64
	Pressure    float64
	Timestamp   time.Time
}

// ReadingRepository persists canonical readings. AppendReading is a
// single unit of work: the live row, the archive row (when enabled)
// and the device's last_seen/status/is_connected fields commit or roll
// back together — a reader never observes a partial write.
type ReadingRepository interface {
	AppendReading(ctx context.Context, params AppendParams) (*tlmmodels.Reading, error)

	// GetLatestReading returns the newest reading for a device, or
	// nil when the device has none.
	GetLatestReading(ctx context.Context, deviceID int64) (*tlmmodels.Reading, error)

	// GetLatestAny returns the newest reading across all devices not
	// older than since, or nil.
	GetLatestAny(ctx context.Context, since time.Time) (*tlmmodels.Reading, error)

	// GetHistorySince returns archive entries newer than since,
	// newest first.
	GetHistorySince(ctx context.Context, since time.Time) ([]tlmmodels.HistoryEntry, error)
}
