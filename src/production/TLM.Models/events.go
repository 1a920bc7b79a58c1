package tlmmodels

// Dashboard event names pushed over the websocket hub.
const (
	EventReadingUpdate       = "reading_update"
	EventDeviceStatus        = "device_status"
	EventConnectivitySummary = "connectivity_summary"
)

// ReadingUpdate is emitted for every persisted reading, real or
// simulated.
type ReadingUpdate struct {
	DeviceID    int64   `json:"device_id"`
	DeviceName  string  `json:"device_name"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Pressure    float64 `json:"pressure"`
	Status      string  `json:"status"`
	Timestamp   string  `json:"timestamp"`
}

// DeviceStatus is emitted on every online/offline transition.
type DeviceStatus struct {
	DeviceID   int64  `json:"device_id"`
	DeviceName string `json:"device_name"`
	Status     string `json:"status"`
	LastSeen   string `json:"last_seen"`
}

// ConnectivitySummary feeds the dashboard's header indicator.
type ConnectivitySummary struct {
	DevicesOnline int    `json:"devices_online"`
	DevicesTotal  int    `json:"devices_total"`
	Status        string `json:"status"`
	Timestamp     string `json:"timestamp"`
}
