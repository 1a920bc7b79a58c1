package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"gitlab.com/francauto/fa.telemetry_server/src/production/TLM.ApiService/health"
	logger "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Logger"
)

// HealthController handles health requests
type HealthController struct {
	checker *health.HealthChecker
	logger  *logger.Logger
}

// NewHealthController creates a new health controller
func NewHealthController(checker *health.HealthChecker, log *logger.Logger) *HealthController {
	return &HealthController{checker: checker, logger: log}
}

// RegisterRoutes registers the health routes with Gin
func (c *HealthController) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", c.Health)
	router.GET("/health/live", c.HealthLive)
}

func (c *HealthController) HealthLive(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

func (c *HealthController) Health(ctx *gin.Context) {
	status := c.checker.GetHealthStatus(ctx)

	code := http.StatusOK
	if status["status"] != "ok" {
		code = http.StatusServiceUnavailable
	}
	ctx.JSON(code, status)
}
