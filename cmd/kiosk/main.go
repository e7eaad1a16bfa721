package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"pixbridge/pkg/action"
	"pixbridge/pkg/config"
	"pixbridge/pkg/credit"
	"pixbridge/pkg/kiosk"
	"pixbridge/pkg/store"
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
	level := slog.LevelInfo
	if conf.KioskVerbose {
		level = slog.LevelDebug
	}
	var out io.Writer = os.Stdout
	if conf.KioskLogFile != "" {
		logFile, err := os.OpenFile(conf.KioskLogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			slog.Error("Failed to open log file", "path", conf.KioskLogFile, "error", err)
			os.Exit(1)
		}
		defer logFile.Close()
		out = io.MultiWriter(os.Stdout, logFile)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ══════════════════════════════════════════════════════════════
	// DEVICE IDENTITY AND STATE
	// ══════════════════════════════════════════════════════════════
	if err := os.MkdirAll(conf.StateDir, 0o755); err != nil {
		slog.Error("Failed to create state directory", "path", conf.StateDir, "error", err)
		os.Exit(1)
	}
	identity, err := kiosk.LoadIdentity(filepath.Join(conf.StateDir, "device-id.txt"), conf.DeviceID)
	if err != nil {
		slog.Error("Failed to load device identity", "error", err)
		os.Exit(1)
	}
	repo := store.NewFileRepository(filepath.Join(conf.StateDir, "state.json"))

	// ══════════════════════════════════════════════════════════════
	// LOCK ACTIONS
	// ══════════════════════════════════════════════════════════════
	var locker action.LockRequester = action.NopLocker{}
	var commandLocker *action.CommandLocker
	if conf.LockCommand != "" || conf.UnlockCommand != "" {
		commandLocker = action.NewCommandLocker(conf.LockCommand, conf.UnlockCommand, conf.ActionTimeout())
		commandLocker.Start(ctx)
		locker = commandLocker
	}

	// ══════════════════════════════════════════════════════════════
	// CREDIT GUARD
	// ══════════════════════════════════════════════════════════════
	guard := credit.NewGuard(repo, locker, credit.Options{
		TTL:           conf.CreditTTL(),
		WatchdogDelay: conf.WatchdogDelay(),
	})
	defer guard.Close()
	guard.Recover()

	slog.Info("Kiosk agent starting",
		"device_id", identity.ID(),
		"server", conf.BridgeServerURL,
		"state_file", repo.Path(),
		"lock_actions", commandLocker != nil)

	// ══════════════════════════════════════════════════════════════
	// DEVICE CHANNEL
	// ══════════════════════════════════════════════════════════════
	client := kiosk.NewClient(kiosk.Options{
		ServerURL:      conf.BridgeServerURL,
		Token:          conf.DeviceToken,
		ReconnectDelay: conf.ReconnectDelay(),
	}, identity, guard)

	if err := client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Kiosk agent stopped", "error", err)
	}
	if commandLocker != nil {
		commandLocker.Wait()
	}
	slog.Info("Kiosk agent stopped")
}
