package api

import (
	"log/slog"
	"net/http"
	"time"

	"pixbridge/pkg/admin"
	"pixbridge/pkg/database"
	"pixbridge/pkg/models"
	"pixbridge/pkg/registry"
	"pixbridge/pkg/router"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Pipeline runs one envelope through dedup, policy and delivery.
type Pipeline interface {
	Ingest(env models.Envelope) router.Outcome
}

// Options configures the HTTP surfaces.
type Options struct {
	DeviceToken string
	SendBuffer  int
}

// Server owns the gin engine and its dependencies.
type Server struct {
	pipeline  Pipeline
	devices   *registry.Registry
	admin     *admin.Service
	auth      *AdminAuth
	events    database.Repository[database.EventRecord]
	opts      Options
	upgrader  websocket.Upgrader
	startedAt time.Time
}

// NewServer wires the HTTP layer. events may be nil when the journal is off.
func NewServer(
	pipeline Pipeline,
	devices *registry.Registry,
	adminService *admin.Service,
	auth *AdminAuth,
	events database.Repository[database.EventRecord],
	opts Options,
) *Server {
	return &Server{
		pipeline: pipeline,
		devices:  devices,
		admin:    adminService,
		auth:     auth,
		events:   events,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Kiosks are not browsers; the device token is the access control.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		startedAt: time.Now(),
	}
}

// Handler builds the gin engine with every route registered.
func (s *Server) Handler() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), RequestLogger(), SecurityHeaders())

	// Booth ingress (unauthenticated, always 200)
	engine.GET("/", s.ingestHandler)
	engine.GET("/event", s.ingestHandler)
	engine.POST("/event", s.ingestHandler)
	engine.GET("/api/v1/events", s.ingestHandler)
	engine.POST("/api/v1/events", s.ingestHandler)

	// Device channel
	engine.GET("/ws", s.deviceChannelHandler)

	engine.GET("/health", s.healthHandler)

	engine.POST("/admin/login", s.auth.LoginHandler)
	adminGroup := engine.Group("/admin")
	adminGroup.Use(s.auth.Middleware())
	{
		adminGroup.GET("/devices", s.listDevicesHandler)
		adminGroup.POST("/devices/:id/mute", s.muteHandler)
		adminGroup.POST("/devices/:id/unmute", s.unmuteHandler)
		adminGroup.POST("/devices/:id/block", s.blockHandler)
		adminGroup.POST("/devices/:id/unblock", s.unblockHandler)
		adminGroup.POST("/devices/:id/disconnect", s.disconnectHandler)
		adminGroup.POST("/devices/:id/command", s.commandHandler)
		adminGroup.GET("/devices/:id/policy", s.policyHandler)
		adminGroup.GET("/events", s.listEventsHandler)
	}
	return engine
}

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":            "ok",
		"connected_devices": s.devices.Len(),
		"journal_enabled":   s.events != nil,
		"uptime_seconds":    int64(time.Since(s.startedAt).Seconds()),
	})
}

// RequestLogger emits one structured record per request. Query strings are
// left out because they may carry the admin secret.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("HTTP request", "component", "API",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP())
	}
}

func logRequestWarning(c *gin.Context, msg string, err error) {
	slog.Warn(msg, "component", "API", "path", c.Request.URL.Path, "error", err)
}
