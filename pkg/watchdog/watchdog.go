// Package watchdog checks that a freshly started capture process is still
// running once a grace period has passed.
package watchdog

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultDelay is the grace period before the process is checked.
const DefaultDelay = 5 * time.Second

// LivenessChecker reports whether a process is running.
type LivenessChecker interface {
	Alive(pid int) bool
}

// LivenessFunc adapts a function to LivenessChecker.
type LivenessFunc func(pid int) bool

func (f LivenessFunc) Alive(pid int) bool { return f(pid) }

// ExpireFunc receives the liveness result when the timer fires.
type ExpireFunc func(pid int, alive bool)

// Watchdog is a single-shot timer. Arming it again replaces the pending check.
type Watchdog struct {
	mu         sync.Mutex
	clock      clockwork.Clock
	delay      time.Duration
	liveness   LivenessChecker
	onExpire   ExpireFunc
	timer      clockwork.Timer
	generation uint64
}

// New creates a watchdog. onExpire runs on its own goroutine.
func New(delay time.Duration, liveness LivenessChecker, clock clockwork.Clock, onExpire ExpireFunc) *Watchdog {
	if delay <= 0 {
		delay = DefaultDelay
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if liveness == nil {
		liveness = SystemLiveness{}
	}
	return &Watchdog{
		clock:    clock,
		delay:    delay,
		liveness: liveness,
		onExpire: onExpire,
	}
}

// Arm schedules a liveness check of pid after the grace period.
func (w *Watchdog) Arm(pid int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.generation++
	gen := w.generation
	w.timer = w.clock.AfterFunc(w.delay, func() { w.fire(gen, pid) })
	slog.Info("Watchdog armed", "component", "Watchdog", "pid", pid, "delay", w.delay.String())
}

// Stop cancels the pending check, if any.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.generation++
}

// Pending reports whether a check is scheduled.
func (w *Watchdog) Pending() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.timer != nil
}

func (w *Watchdog) fire(gen uint64, pid int) {
	w.mu.Lock()
	if gen != w.generation {
		w.mu.Unlock()
		return
	}
	w.timer = nil
	w.mu.Unlock()

	alive := pid > 0 && w.liveness.Alive(pid)
	slog.Info("Watchdog expired", "component", "Watchdog", "pid", pid, "alive", alive)
	if w.onExpire != nil {
		w.onExpire(pid, alive)
	}
}
