// Package action dispatches the kiosk payment-lock side effects.
package action

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"runtime"
	"sync"
	"time"
)

// LockRequester is the capability the credit guard uses to lock and unlock
// the booth. Calls are fire-and-forget and safe to repeat.
type LockRequester interface {
	EnterPaymentLock()
	ExitPaymentLock()
}

// Kind names one of the two side effects.
type Kind string

const (
	Lock   Kind = "lock"
	Unlock Kind = "unlock"
)

// job is one queued side effect.
type job struct {
	kind    Kind
	command string
}

// CommandLocker runs configured shell commands on a single worker so lock
// and unlock execute in request order. Failures are logged and not retried.
type CommandLocker struct {
	lockCommand   string
	unlockCommand string
	timeout       time.Duration

	jobChan chan job
	wg      sync.WaitGroup
}

// NewCommandLocker creates a locker. An empty command disables that side.
func NewCommandLocker(lockCommand, unlockCommand string, timeout time.Duration) *CommandLocker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CommandLocker{
		lockCommand:   lockCommand,
		unlockCommand: unlockCommand,
		timeout:       timeout,
		jobChan:       make(chan job, 16),
	}
}

// Start launches the worker. It stops when ctx is cancelled.
func (l *CommandLocker) Start(ctx context.Context) {
	l.wg.Add(1)
	go l.worker(ctx)
}

// Wait blocks until the worker has stopped.
func (l *CommandLocker) Wait() {
	l.wg.Wait()
}

// EnterPaymentLock queues the lock command.
func (l *CommandLocker) EnterPaymentLock() {
	l.submit(Lock, l.lockCommand)
}

// ExitPaymentLock queues the unlock command.
func (l *CommandLocker) ExitPaymentLock() {
	l.submit(Unlock, l.unlockCommand)
}

func (l *CommandLocker) submit(kind Kind, command string) {
	if command == "" {
		slog.Info("No command configured, skipping", "component", "Action", "action", kind)
		return
	}
	select {
	case l.jobChan <- job{kind: kind, command: command}:
	default:
		slog.Warn("Action queue full, dropping request", "component", "Action", "action", kind)
	}
}

func (l *CommandLocker) worker(ctx context.Context) {
	defer l.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-l.jobChan:
			l.execute(ctx, j)
		}
	}
}

func (l *CommandLocker) execute(ctx context.Context, j job) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	cmd := shellCommand(ctx, j.command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		slog.Error("Action command failed", "component", "Action", "action", j.kind,
			"error", err, "stderr", stderr.String())
		return
	}
	slog.Info("Action command finished", "component", "Action", "action", j.kind,
		"duration", time.Since(start).String(), "stdout_bytes", stdout.Len())
}

func shellCommand(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", command)
	}
	return exec.CommandContext(ctx, "sh", "-c", command)
}

// NopLocker only logs; used when the kiosk runs without lock integration.
type NopLocker struct{}

func (NopLocker) EnterPaymentLock() {
	slog.Info("Payment lock requested", "component", "Action", "action", Lock)
}

func (NopLocker) ExitPaymentLock() {
	slog.Info("Payment unlock requested", "component", "Action", "action", Unlock)
}
