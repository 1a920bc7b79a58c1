package controllers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	logger "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Logger"
	tlmmodels "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Models"
	registry "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Registry"
	interfaces "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Repository/Interfaces"
)

// ConnectionManager is the slice of the registry the HTTP surface
// needs. Satisfied by *registry.Registry.
type ConnectionManager interface {
	Connect(ctx context.Context, device tlmmodels.Device) error
	Disconnect(ctx context.Context, device tlmmodels.Device, manual bool) error
	IsActive(deviceID int64) bool
	ActiveDeviceID() (int64, bool)
	Forget(deviceID int64)
}

// DeviceController handles device connection requests
type DeviceController struct {
	deviceRepo interfaces.DeviceRepository
	registry   ConnectionManager
	logger     *logger.Logger
	loc        *time.Location
}

// NewDeviceController creates a new device controller
func NewDeviceController(deviceRepo interfaces.DeviceRepository, reg ConnectionManager, log *logger.Logger, loc *time.Location) *DeviceController {
	return &DeviceController{
		deviceRepo: deviceRepo,
		registry:   reg,
		logger:     log,
		loc:        loc,
	}
}

// RegisterRoutes registers the device routes with Gin
func (c *DeviceController) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.GET("/devices", c.ListDevices)
	api.GET("/devices/status", c.GetConnectionStatus)
	api.POST("/devices/:id/connect", c.ConnectDevice)
	api.POST("/devices/:id/disconnect", c.DisconnectDevice)
	api.DELETE("/devices/:id", c.DeleteDevice)
}

func (c *DeviceController) ListDevices(ctx *gin.Context) {
	devices, err := c.deviceRepo.ListDevices(ctx)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"devices": devices,
		"count":   len(devices),
	})
}

// GetConnectionStatus returns a point-in-time snapshot of every device
// plus the aggregate connectivity summary.
func (c *DeviceController) GetConnectionStatus(ctx *gin.Context) {
	devices, err := c.deviceRepo.ListDevices(ctx)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	online := 0
	statuses := make([]gin.H, 0, len(devices))
	for _, d := range devices {
		if d.Status == tlmmodels.StatusOnline {
			online++
		}
		lastSeen := ""
		if d.LastSeen != nil {
			lastSeen = d.LastSeen.In(c.loc).Format(time.RFC3339)
		}
		statuses = append(statuses, gin.H{
			"device_id":    d.ID,
			"device_name":  d.Name,
			"status":       d.Status,
			"is_connected": d.IsConnected,
			"last_seen":    lastSeen,
		})
	}

	overall := tlmmodels.StatusOffline
	if online > 0 {
		overall = tlmmodels.StatusOnline
	}

	response := gin.H{
		"devices": statuses,
		"summary": gin.H{
			"devices_online": online,
			"devices_total":  len(devices),
			"status":         overall,
		},
	}
	if activeID, ok := c.registry.ActiveDeviceID(); ok {
		response["active_device_id"] = activeID
	}

	ctx.JSON(http.StatusOK, response)
}

func (c *DeviceController) ConnectDevice(ctx *gin.Context) {
	device, ok := c.lookupDevice(ctx)
	if !ok {
		return
	}

	if err := c.registry.Connect(ctx, *device); err != nil {
		switch {
		case errors.Is(err, registry.ErrAlreadyActive):
			ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, registry.ErrMissingHost):
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			// Unreachable broker or a rejected handshake
			ctx.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		}
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"status":      "connected",
		"device_id":   device.ID,
		"device_name": device.Name,
	})
}

func (c *DeviceController) DisconnectDevice(ctx *gin.Context) {
	device, ok := c.lookupDevice(ctx)
	if !ok {
		return
	}

	if err := c.registry.Disconnect(ctx, *device, true); err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"status":      "disconnected",
		"device_id":   device.ID,
		"device_name": device.Name,
	})
}

// DeleteDevice tears down the connection if the device holds it, then
// removes the device and all its readings.
func (c *DeviceController) DeleteDevice(ctx *gin.Context) {
	device, ok := c.lookupDevice(ctx)
	if !ok {
		return
	}

	if c.registry.IsActive(device.ID) {
		if err := c.registry.Disconnect(ctx, *device, true); err != nil {
			c.logger.ErrorWithError(err, "Failed to release connection before delete")
		}
	}
	c.registry.Forget(device.ID)

	if err := c.deviceRepo.DeleteDevice(ctx, device.ID); err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"deleted":     true,
		"device_id":   device.ID,
		"device_name": device.Name,
	})
}

func (c *DeviceController) lookupDevice(ctx *gin.Context) (*tlmmodels.Device, bool) {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid device id"})
		return nil, false
	}

	device, err := c.deviceRepo.GetDevice(ctx, id)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	if device == nil {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
		return nil, false
	}

	return device, true
}
