package tlmmodels

import "time"

// Reading is an immutable persisted telemetry record. The raw payload
// text is kept verbatim for audit; the numeric fields are the
// normalized canonical values and are never null (missing fields are
// stored as 0.0).
type Reading struct {
	ID          int64     `json:"id" db:"id"`
	DeviceID    int64     `json:"device_id" db:"device_id"`
	Topic       string    `json:"topic" db:"topic"`
	Payload     string    `json:"payload" db:"payload"`
	Temperature float64   `json:"temperature" db:"temperature"`
	Humidity    float64   `json:"humidity" db:"humidity"`
	Pressure    float64   `json:"pressure" db:"pressure"`
	Timestamp   time.Time `json:"timestamp" db:"timestamp"`
}

// HistoryEntry is the archive copy of a reading's numeric fields,
// written in the same transaction as the live row when archiving is
// enabled.
type HistoryEntry struct {
	ID          int64     `json:"id" db:"id"`
	DeviceID    int64     `json:"device_id" db:"device_id"`
	Temperature float64   `json:"temperature" db:"temperature"`
	Humidity    float64   `json:"humidity" db:"humidity"`
	Pressure    float64   `json:"pressure" db:"pressure"`
	Timestamp   time.Time `json:"timestamp" db:"timestamp"`
}
