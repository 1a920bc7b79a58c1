package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Config"
	logger "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Logger"
	tlmmodels "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Models"
	registry "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Registry"
)

type fakeDeviceRepo struct {
	devices map[int64]*tlmmodels.Device
	deleted []int64
}

func (f *fakeDeviceRepo) GetDevice(_ context.Context, id int64) (*tlmmodels.Device, error) {
	d, ok := f.devices[id]
	if !ok {
		return nil, nil
	}
	copied := *d
	return &copied, nil
}

func (f *fakeDeviceRepo) GetDeviceByName(_ context.Context, name string) (*tlmmodels.Device, error) {
	for _, d := range f.devices {
		if d.Name == name {
			copied := *d
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeDeviceRepo) ListDevices(_ context.Context) ([]tlmmodels.Device, error) {
	out := make([]tlmmodels.Device, 0, len(f.devices))
	for _, d := range f.devices {
		out = append(out, *d)
	}
	return out, nil
}

func (f *fakeDeviceRepo) CountDevices(_ context.Context) (int, error) {
	return len(f.devices), nil
}

func (f *fakeDeviceRepo) CountByStatus(_ context.Context, status string) (int, error) {
	n := 0
	for _, d := range f.devices {
		if d.Status == status {
			n++
		}
	}
	return n, nil
}

func (f *fakeDeviceRepo) SetConnectionState(_ context.Context, id int64, status string, connected bool, lastSeen *time.Time) error {
	if d, ok := f.devices[id]; ok {
		d.Status = status
		d.IsConnected = connected
		if lastSeen != nil {
			seen := *lastSeen
			d.LastSeen = &seen
		}
	}
	return nil
}

func (f *fakeDeviceRepo) MarkAllOffline(_ context.Context) error { return nil }

func (f *fakeDeviceRepo) DeleteDevice(_ context.Context, id int64) error {
	delete(f.devices, id)
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeConnectionManager struct {
	connectErr  error
	activeID    int64
	hasActive   bool
	disconnects []int64
	forgotten   []int64
}

func (f *fakeConnectionManager) Connect(_ context.Context, device tlmmodels.Device) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.activeID = device.ID
	f.hasActive = true
	return nil
}

func (f *fakeConnectionManager) Disconnect(_ context.Context, device tlmmodels.Device, _ bool) error {
	f.disconnects = append(f.disconnects, device.ID)
	if f.hasActive && f.activeID == device.ID {
		f.hasActive = false
	}
	return nil
}

func (f *fakeConnectionManager) IsActive(deviceID int64) bool {
	return f.hasActive && f.activeID == deviceID
}

func (f *fakeConnectionManager) ActiveDeviceID() (int64, bool) {
	return f.activeID, f.hasActive
}

func (f *fakeConnectionManager) Forget(deviceID int64) {
	f.forgotten = append(f.forgotten, deviceID)
}

func newTestRouter(repo *fakeDeviceRepo, manager *fakeConnectionManager) *gin.Engine {
	gin.SetMode(gin.TestMode)
	log := logger.NewLogger(&config.LoggingConfig{Level: "error", Format: "json", Output: "stderr"})

	router := gin.New()
	NewDeviceController(repo, manager, log, time.UTC).RegisterRoutes(router)
	return router
}

func perform(router *gin.Engine, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	router.ServeHTTP(rec, req)
	return rec
}

func TestConnectDeviceSuccess(t *testing.T) {
	repo := &fakeDeviceRepo{devices: map[int64]*tlmmodels.Device{
		1: {ID: 1, Name: "line-a", Host: "broker.internal", Port: 1883},
	}}
	manager := &fakeConnectionManager{}
	router := newTestRouter(repo, manager)

	rec := perform(router, http.MethodPost, "/api/devices/1/connect")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, manager.IsActive(1))
}

func TestConnectDeviceConflict(t *testing.T) {
	repo := &fakeDeviceRepo{devices: map[int64]*tlmmodels.Device{
		2: {ID: 2, Name: "line-b", Host: "broker.internal", Port: 1883},
	}}
	manager := &fakeConnectionManager{connectErr: registry.ErrAlreadyActive}
	router := newTestRouter(repo, manager)

	rec := perform(router, http.MethodPost, "/api/devices/2/connect")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestConnectDeviceUnreachable(t *testing.T) {
	repo := &fakeDeviceRepo{devices: map[int64]*tlmmodels.Device{
		1: {ID: 1, Name: "line-a", Host: "broker.internal", Port: 1883},
	}}
	manager := &fakeConnectionManager{connectErr: registry.ErrUnreachable}
	router := newTestRouter(repo, manager)

	rec := perform(router, http.MethodPost, "/api/devices/1/connect")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestConnectUnknownDevice(t *testing.T) {
	router := newTestRouter(&fakeDeviceRepo{devices: map[int64]*tlmmodels.Device{}}, &fakeConnectionManager{})

	rec := perform(router, http.MethodPost, "/api/devices/42/connect")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = perform(router, http.MethodPost, "/api/devices/not-a-number/connect")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDisconnectDevice(t *testing.T) {
	repo := &fakeDeviceRepo{devices: map[int64]*tlmmodels.Device{
		1: {ID: 1, Name: "line-a", Host: "broker.internal", Port: 1883},
	}}
	manager := &fakeConnectionManager{activeID: 1, hasActive: true}
	router := newTestRouter(repo, manager)

	rec := perform(router, http.MethodPost, "/api/devices/1/disconnect")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{1}, manager.disconnects)
}

func TestDeleteActiveDeviceTearsDownFirst(t *testing.T) {
	repo := &fakeDeviceRepo{devices: map[int64]*tlmmodels.Device{
		1: {ID: 1, Name: "line-a", Host: "broker.internal", Port: 1883},
	}}
	manager := &fakeConnectionManager{activeID: 1, hasActive: true}
	router := newTestRouter(repo, manager)

	rec := perform(router, http.MethodDelete, "/api/devices/1")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{1}, manager.disconnects, "active device must be released before deletion")
	assert.Equal(t, []int64{1}, repo.deleted)
	assert.Contains(t, manager.forgotten, int64(1))
}

func TestConnectionStatusSnapshot(t *testing.T) {
	seen := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	repo := &fakeDeviceRepo{devices: map[int64]*tlmmodels.Device{
		1: {ID: 1, Name: "line-a", Status: tlmmodels.StatusOnline, IsConnected: true, LastSeen: &seen},
		2: {ID: 2, Name: "line-b", Status: tlmmodels.StatusOffline},
	}}
	manager := &fakeConnectionManager{activeID: 1, hasActive: true}
	router := newTestRouter(repo, manager)

	rec := perform(router, http.MethodGet, "/api/devices/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Devices []map[string]interface{} `json:"devices"`
		Summary struct {
			DevicesOnline int    `json:"devices_online"`
			DevicesTotal  int    `json:"devices_total"`
			Status        string `json:"status"`
		} `json:"summary"`
		ActiveDeviceID int64 `json:"active_device_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	assert.Len(t, body.Devices, 2)
	assert.Equal(t, 1, body.Summary.DevicesOnline)
	assert.Equal(t, 2, body.Summary.DevicesTotal)
	assert.Equal(t, tlmmodels.StatusOnline, body.Summary.Status)
	assert.Equal(t, int64(1), body.ActiveDeviceID)
}
