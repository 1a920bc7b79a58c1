package broadcaster

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	config "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Config"
	logger "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Logger"
	tlmmodels "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Models"
)

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()

	log := logger.NewLogger(&config.LoggingConfig{Level: "error", Format: "json"})
	hub := NewHub(log)
	go hub.Run()

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		hub.Attach(conn)
	}))

	t.Cleanup(func() {
		hub.Close()
		server.Close()
	})

	return hub, server
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForSubscribers(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber count never reached %d (got %d)", want, hub.SubscriberCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn.ReadMessage()
	require.NoError(t, err)

	var env envelope
	require.NoError(t, json.Unmarshal(message, &env))
	return env
}

func TestHubFansOutReadingUpdates(t *testing.T) {
	hub, server := newTestHub(t)
	first := dial(t, server)
	second := dial(t, server)
	waitForSubscribers(t, hub, 2)

	hub.PublishReading(tlmmodels.ReadingUpdate{
		DeviceID:    7,
		DeviceName:  "Device-001",
		Temperature: 24.5,
		Humidity:    55,
		Pressure:    1008,
		Status:      tlmmodels.StatusOnline,
		Timestamp:   "2026-01-02T03:04:05Z",
	})

	for _, conn := range []*websocket.Conn{first, second} {
		env := readEnvelope(t, conn)
		assert.Equal(t, tlmmodels.EventReadingUpdate, env.Event)

		data, err := json.Marshal(env.Data)
		require.NoError(t, err)
		var update tlmmodels.ReadingUpdate
		require.NoError(t, json.Unmarshal(data, &update))
		assert.Equal(t, int64(7), update.DeviceID)
		assert.Equal(t, 24.5, update.Temperature)
		assert.Equal(t, tlmmodels.StatusOnline, update.Status)
	}
}

func TestHubPublishesStatusAndSummaryEvents(t *testing.T) {
	hub, server := newTestHub(t)
	conn := dial(t, server)
	waitForSubscribers(t, hub, 1)

	hub.PublishDeviceStatus(tlmmodels.DeviceStatus{DeviceID: 3, DeviceName: "Device-003", Status: tlmmodels.StatusOffline})
	hub.PublishSummary(tlmmodels.ConnectivitySummary{DevicesOnline: 0, DevicesTotal: 2, Status: tlmmodels.StatusOffline})

	env := readEnvelope(t, conn)
	assert.Equal(t, tlmmodels.EventDeviceStatus, env.Event)

	env = readEnvelope(t, conn)
	assert.Equal(t, tlmmodels.EventConnectivitySummary, env.Event)
}

func TestHubDetachesClosedSubscribers(t *testing.T) {
	hub, server := newTestHub(t)
	conn := dial(t, server)
	waitForSubscribers(t, hub, 1)

	conn.Close()
	waitForSubscribers(t, hub, 0)

	// publishing with no subscribers must not block or panic
	hub.PublishSummary(tlmmodels.ConnectivitySummary{DevicesTotal: 1, Status: tlmmodels.StatusOffline})
}
