package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tlmmodels "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Models"
)

func newTestSweeper(h *testHarness) *Sweeper {
	return NewSweeper(h.registry, h.devices, h.events, testLogger())
}

func TestSweepMarksStaleDeviceOffline(t *testing.T) {
	a := sensorDevice(1, "line-a")
	a.Status = tlmmodels.StatusOnline
	a.IsConnected = true
	h := newTestHarness(a)
	sweeper := newTestSweeper(h)

	stale := time.Now().UTC().Add(-5 * time.Minute)
	h.registry.mu.Lock()
	h.registry.lastSeen[a.ID] = stale
	h.registry.mu.Unlock()

	sweeper.sweep(context.Background())

	states := h.devices.states()
	require.Len(t, states, 1)
	assert.Equal(t, tlmmodels.StatusOffline, states[0].status)
	assert.False(t, states[0].connected)
	require.NotNil(t, states[0].lastSeen)
	assert.True(t, states[0].lastSeen.Equal(stale), "last_seen must keep the final message time")

	statuses := h.events.statusEvents()
	require.Len(t, statuses, 1)
	assert.Equal(t, tlmmodels.StatusOffline, statuses[0].Status)
	assert.Equal(t, a.ID, statuses[0].DeviceID)
}

func TestSweepEmitsExactlyOneEventPerTransition(t *testing.T) {
	a := sensorDevice(1, "line-a")
	h := newTestHarness(a)
	sweeper := newTestSweeper(h)

	h.registry.mu.Lock()
	h.registry.lastSeen[a.ID] = time.Now().UTC().Add(-5 * time.Minute)
	h.registry.mu.Unlock()

	ctx := context.Background()
	sweeper.sweep(ctx)
	sweeper.sweep(ctx)
	sweeper.sweep(ctx)

	assert.Len(t, h.events.statusEvents(), 1, "repeat sweeps must not re-announce the same transition")
	assert.Len(t, h.devices.states(), 1)
}

func TestSweepLeavesFreshDevicesAlone(t *testing.T) {
	a := sensorDevice(1, "line-a")
	h := newTestHarness(a)
	sweeper := newTestSweeper(h)

	h.registry.Touch(a.ID)
	sweeper.sweep(context.Background())

	assert.Empty(t, h.events.statusEvents())
	assert.Empty(t, h.devices.states())
	assert.Contains(t, h.registry.LastSeenSnapshot(), a.ID)
}

func TestSweepForgetsDeletedDevices(t *testing.T) {
	h := newTestHarness()
	sweeper := newTestSweeper(h)

	h.registry.mu.Lock()
	h.registry.lastSeen[99] = time.Now().UTC().Add(-5 * time.Minute)
	h.registry.mu.Unlock()

	sweeper.sweep(context.Background())

	assert.Empty(t, h.events.statusEvents())
	assert.NotContains(t, h.registry.LastSeenSnapshot(), int64(99))
}

func TestSweepRetriesAfterStoreFailure(t *testing.T) {
	a := sensorDevice(1, "line-a")
	h := newTestHarness(a)
	sweeper := newTestSweeper(h)
	ctx := context.Background()

	h.registry.mu.Lock()
	h.registry.lastSeen[a.ID] = time.Now().UTC().Add(-5 * time.Minute)
	h.registry.mu.Unlock()

	h.devices.mu.Lock()
	h.devices.stateErr = assert.AnError
	h.devices.mu.Unlock()

	sweeper.sweep(ctx)
	assert.Empty(t, h.events.statusEvents(), "failed persist must not announce the transition")
	assert.Contains(t, h.registry.LastSeenSnapshot(), a.ID, "entry stays so the next pass retries")

	h.devices.mu.Lock()
	h.devices.stateErr = nil
	h.devices.mu.Unlock()

	sweeper.sweep(ctx)
	assert.Len(t, h.events.statusEvents(), 1)
	assert.NotContains(t, h.registry.LastSeenSnapshot(), a.ID)
}

func TestSweeperStartStop(t *testing.T) {
	a := sensorDevice(1, "line-a")
	h := newTestHarness(a)
	sweeper := newTestSweeper(h)

	h.registry.mu.Lock()
	h.registry.lastSeen[a.ID] = time.Now().UTC().Add(-5 * time.Minute)
	h.registry.mu.Unlock()

	sweeper.Start()
	require.Eventually(t, func() bool {
		return len(h.events.statusEvents()) == 1
	}, time.Second, 5*time.Millisecond)
	sweeper.Stop()
}
