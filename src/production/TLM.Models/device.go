package tlmmodels

import "time"

// Device status values. The registry only ever writes these two; there
// is no intermediate "connecting" state visible to readers.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Device is a remote telemetry source. Configuration fields are owned
// by the device-management layer; Status, IsConnected and LastSeen are
// derived runtime state owned by the connection registry.
type Device struct {
	ID              int64      `json:"id" db:"id"`
	Name            string     `json:"name" db:"name"`
	Protocol        string     `json:"protocol" db:"protocol"`
	Host            string     `json:"host" db:"host"`
	Port            int        `json:"port" db:"port"`
	ClientID        string     `json:"client_id" db:"client_id"`
	Username        string     `json:"username" db:"username"`
	Password        string     `json:"-" db:"password"`
	MQTTVersion     string     `json:"mqtt_version" db:"mqtt_version"`
	KeepAlive       int        `json:"keep_alive" db:"keep_alive"`
	AutoReconnect   bool       `json:"auto_reconnect" db:"auto_reconnect"`
	ReconnectPeriod int        `json:"reconnect_period" db:"reconnect_period"`
	EnableTLS       bool       `json:"enable_tls" db:"enable_tls"`
	Status          string     `json:"status" db:"status"`
	IsConnected     bool       `json:"is_connected" db:"is_connected"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
	LastSeen        *time.Time `json:"last_seen" db:"last_seen"`
}
