package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"pixbridge/pkg/database"
	"pixbridge/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

// broadcastTarget addresses every connected device in a command.
const broadcastTarget = "*"

// MuteRequest silences one event type. Without a duration the default mute
// applies; Indefinite mutes until an explicit unmute.
type MuteRequest struct {
	EventType  string `json:"event_type" binding:"required"`
	DurationMs int64  `json:"duration_ms" binding:"min=0"`
	Indefinite bool   `json:"indefinite"`
}

// UnmuteRequest clears one mute, or all of them when EventType is empty.
type UnmuteRequest struct {
	EventType string `json:"event_type"`
}

// CommandRequest pushes an admin command to a kiosk.
type CommandRequest struct {
	EventType string         `json:"event_type" binding:"required,oneof=reset_credit force_payment set_device_id"`
	Payload   map[string]any `json:"payload"`
}

// bindOptionalJSON binds a JSON body, treating an empty body as zero values.
func bindOptionalJSON(c *gin.Context, obj any) error {
	err := c.ShouldBindBodyWith(obj, binding.JSON)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Server) listDevicesHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"devices": s.admin.ListConnected()})
}

func (s *Server) muteHandler(c *gin.Context) {
	var req MuteRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	duration := time.Duration(req.DurationMs) * time.Millisecond
	if req.Indefinite {
		duration = -1
	}
	until, err := s.admin.Mute(c.Param("id"), models.EventType(req.EventType), duration)
	if err != nil {
		respondAdminError(c, err)
		return
	}

	resp := gin.H{
		"device_id":  c.Param("id"),
		"event_type": req.EventType,
		"indefinite": req.Indefinite,
	}
	if !req.Indefinite {
		resp["until"] = until
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) unmuteHandler(c *gin.Context) {
	var req UnmuteRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	if req.EventType == "" {
		req.EventType = c.Query("event_type")
	}
	if err := s.admin.Unmute(c.Param("id"), models.EventType(req.EventType)); err != nil {
		respondAdminError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"device_id": c.Param("id"), "event_type": req.EventType, "unmuted": true})
}

func (s *Server) blockHandler(c *gin.Context) {
	if err := s.admin.Block(c.Param("id")); err != nil {
		respondAdminError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"device_id": c.Param("id"), "blacklisted": true})
}

func (s *Server) unblockHandler(c *gin.Context) {
	if err := s.admin.Unblock(c.Param("id")); err != nil {
		respondAdminError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"device_id": c.Param("id"), "blacklisted": false})
}

func (s *Server) disconnectHandler(c *gin.Context) {
	disconnected, err := s.admin.Disconnect(c.Param("id"))
	if err != nil {
		respondAdminError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"device_id": c.Param("id"), "disconnected": disconnected})
}

func (s *Server) commandHandler(c *gin.Context) {
	var req CommandRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	target := c.Param("id")
	if target == broadcastTarget {
		target = ""
	}
	result, err := s.admin.Command(target, models.EventType(req.EventType), req.Payload)
	if err != nil {
		respondAdminError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"device_id":  target,
		"event_type": req.EventType,
		"delivered":  result.Delivered,
	})
}

func (s *Server) policyHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.admin.Policy(c.Param("id")))
}

func (s *Server) listEventsHandler(c *gin.Context) {
	if s.events == nil {
		respondError(c, http.StatusNotFound, "event journal is disabled")
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(c, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, 1000)
	}

	q := database.Query{OrderBy: "received_at desc", Limit: limit, Where: map[string]any{}}
	if deviceID := c.Query("device_id"); deviceID != "" {
		q.Where["device_id"] = deviceID
	}
	if outcome := c.Query("outcome"); outcome != "" {
		q.Where["outcome"] = outcome
	}

	records, err := s.events.Find(c.Request.Context(), q)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	total, err := s.events.Count(c.Request.Context(), q.Where)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": records, "count": len(records), "total": total})
}
