package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	broadcaster "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Broadcaster"
	logger "gitlab.com/francauto/fa.telemetry_server/src/production/TLM.Logger"
)

// StreamController upgrades dashboard clients onto the broadcast hub
type StreamController struct {
	hub      *broadcaster.Hub
	logger   *logger.Logger
	upgrader websocket.Upgrader
}

// NewStreamController creates a new stream controller. Origin checks are
// delegated to the CORS middleware in front of the router.
func NewStreamController(hub *broadcaster.Hub, log *logger.Logger) *StreamController {
	return &StreamController{
		hub:    hub,
		logger: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// RegisterRoutes registers the stream routes with Gin
func (c *StreamController) RegisterRoutes(router *gin.Engine) {
	router.GET("/api/ws", c.Subscribe)
}

func (c *StreamController) Subscribe(ctx *gin.Context) {
	conn, err := c.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		c.logger.ErrorWithError(err, "Failed to upgrade websocket connection")
		return
	}

	c.hub.Attach(conn)
}
