package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"pixbridge/pkg/registry"

	"github.com/gin-gonic/gin"
)

// deviceChannelHandler upgrades a kiosk connection and registers it. A second
// connection for the same device replaces the first.
func (s *Server) deviceChannelHandler(c *gin.Context) {
	deviceID := c.Query("device_id")
	if deviceID == "" {
		deviceID = c.Query("deviceId")
	}
	if deviceID == "" {
		respondError(c, http.StatusBadRequest, "device_id is required")
		return
	}
	if s.opts.DeviceToken != "" &&
		subtle.ConstantTimeCompare([]byte(c.Query("token")), []byte(s.opts.DeviceToken)) != 1 {
		slog.Warn("Rejected device with invalid token", "component", "API",
			"device_id", deviceID, "client_ip", c.ClientIP())
		respondError(c, http.StatusUnauthorized, "invalid device token")
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "component", "API", "device_id", deviceID, "error", err)
		return
	}

	ch := registry.NewWSChannel(conn, s.opts.SendBuffer)
	s.devices.Register(deviceID, ch)
	ch.Start(func() { s.devices.Touch(deviceID, ch) })
}
