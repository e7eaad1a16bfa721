package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pixbridge/pkg/admin"
	"pixbridge/pkg/api"
	"pixbridge/pkg/config"
	"pixbridge/pkg/database"
	"pixbridge/pkg/dedup"
	"pixbridge/pkg/health"
	"pixbridge/pkg/policy"
	"pixbridge/pkg/registry"
	"pixbridge/pkg/router"

	"github.com/gin-gonic/gin"
)

func main() {
	// ══════════════════════════════════════════════════════════════
	// CONFIGURATION
	// ══════════════════════════════════════════════════════════════
	conf, err := config.LoadConfig(".")
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// ══════════════════════════════════════════════════════════════
	// STRUCTURED LOGGING
	// ══════════════════════════════════════════════════════════════
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(conf.LogLevel)}))
	slog.SetDefault(logger)
	gin.SetMode(gin.ReleaseMode)

	slog.Info("Config loaded",
		"address", conf.ServerAddress,
		"dedup_ttl", conf.DedupTTL().String(),
		"heartbeat", conf.HeartbeatInterval().String(),
		"journal_enabled", conf.JournalEnabled,
		"admin_secret_set", conf.AdminSecret != "")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ══════════════════════════════════════════════════════════════
	// INGRESS PIPELINE
	// ══════════════════════════════════════════════════════════════
	deduplicator := dedup.NewDeduplicator(conf.DedupTTL(), nil)
	gate := policy.NewGate(conf.Cooldowns())
	devices := registry.NewRegistry(nil)
	failureChan := make(chan registry.DeliveryFailure, conf.DeviceSendBuffer)
	devices.ReportFailures(failureChan)
	healthMonitor := health.NewHealthMonitor(failureChan, devices, conf.FailureWindow(), conf.FailureThreshold)

	// ══════════════════════════════════════════════════════════════
	// EVENT JOURNAL (optional)
	// ══════════════════════════════════════════════════════════════
	var (
		recorder router.Recorder
		events   database.Repository[database.EventRecord]
		journal  *database.Journal
	)
	if conf.JournalEnabled {
		db, err := database.Connect(conf)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		sqlDB, err := db.DB()
		if err != nil {
			slog.Error("Failed to get database handle", "error", err)
			os.Exit(1)
		}
		journal = database.NewJournal(database.NewCopySink(sqlDB), conf.JournalQueueSize, conf.JournalBatchSize, nil)
		recorder = journal
		events = database.NewGormRepository[database.EventRecord](db)
	}

	pipeline := router.NewRouter(deduplicator, gate, devices, recorder, nil)
	adminService := admin.NewService(gate, devices, conf.DefaultMute(), nil)

	// ══════════════════════════════════════════════════════════════
	// START SERVICES
	// ══════════════════════════════════════════════════════════════
	go deduplicator.Run(ctx, conf.DedupSweep())
	go devices.Run(ctx, conf.HeartbeatInterval())
	go healthMonitor.Run(ctx)
	journalDone := make(chan struct{})
	if journal != nil {
		go func() {
			defer close(journalDone)
			journal.Run(ctx)
		}()
	} else {
		close(journalDone)
	}

	// ══════════════════════════════════════════════════════════════
	// HTTP SERVER
	// ══════════════════════════════════════════════════════════════
	server := api.NewServer(pipeline, devices, adminService, api.NewAdminAuth(conf), events, api.Options{
		DeviceToken: conf.DeviceToken,
		SendBuffer:  conf.DeviceSendBuffer,
	})
	httpServer := &http.Server{
		Addr:              conf.ServerAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if conf.TLSCertFile != "" && conf.TLSKeyFile != "" {
			slog.Info("Starting HTTPS server", "address", conf.ServerAddress)
			serveErr <- httpServer.ListenAndServeTLS(conf.TLSCertFile, conf.TLSKeyFile)
			return
		}
		slog.Info("Starting HTTP server", "address", conf.ServerAddress)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		slog.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown incomplete", "error", err)
	}
	stop()
	<-journalDone
	slog.Info("Server stopped")
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
