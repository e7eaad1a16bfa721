// Package credit implements the kiosk credit guard: it turns the inbound
// event stream into grants, carry-overs and exactly-once consumption of the
// single payment credit, and drives the payment lock.
package credit

import (
	"log/slog"
	"sync"
	"time"

	"pixbridge/pkg/action"
	"pixbridge/pkg/models"
	"pixbridge/pkg/session"
	"pixbridge/pkg/store"
	"pixbridge/pkg/watchdog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// DefaultTTL is how long an unused credit stays valid.
const DefaultTTL = 30 * time.Minute

// Options tunes a Guard. Zero values select the defaults.
type Options struct {
	TTL           time.Duration
	WatchdogDelay time.Duration
	Liveness      watchdog.LivenessChecker
	Clock         clockwork.Clock
	NewSessionID  func() string
}

// Guard serializes every state mutation behind one mutex, shared by the
// message handler and the watchdog callback. Each mutation is persisted
// before the lock is released.
type Guard struct {
	mu           sync.Mutex
	repo         store.Repository
	locker       action.LockRequester
	clock        clockwork.Clock
	ttl          time.Duration
	watchdog     *watchdog.Watchdog
	newSessionID func() string
}

// NewGuard creates a guard over repo.
func NewGuard(repo store.Repository, locker action.LockRequester, opts Options) *Guard {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.NewSessionID == nil {
		opts.NewSessionID = func() string { return "sess_" + uuid.NewString() }
	}
	if locker == nil {
		locker = action.NopLocker{}
	}
	g := &Guard{
		repo:         repo,
		locker:       locker,
		clock:        opts.Clock,
		ttl:          opts.TTL,
		newSessionID: opts.NewSessionID,
	}
	g.watchdog = watchdog.New(opts.WatchdogDelay, opts.Liveness, opts.Clock, g.onWatchdog)
	return g
}

// Recover eliminates an orphan credit left by a previous run. It must be
// called before the first Handle.
func (g *Guard) Recover() models.DeviceState {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := store.LoadOrDefault(g.repo)
	if g.cleanupOrphan(&st, "startup") {
		g.save(&st)
	}
	slog.Info("Credit state recovered", "component", "CreditGuard",
		"active_session", st.ActiveSessionID(), "credit_available", st.Credit.Available,
		"credit_consumed", st.Credit.Consumed)
	return st
}

// State returns the persisted document.
func (g *Guard) State() models.DeviceState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return store.LoadOrDefault(g.repo)
}

// Close cancels a pending watchdog check.
func (g *Guard) Close() {
	g.watchdog.Stop()
}

// Handle applies one inbound envelope.
func (g *Guard) Handle(env models.Envelope) {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := store.LoadOrDefault(g.repo)
	logger := slog.With("component", "CreditGuard", "event_type", env.EventType, "event_id", env.EventID)

	switch env.EventType {
	case models.EventSessionStart:
		g.startSession(&st, env, logger)
	case models.EventPaymentComplete:
		g.grant(&st, logger)
	case models.EventDSLRStarted:
		g.captureStarted(&st, env, logger)
	case models.EventResetCredit:
		st.Credit = models.Credit{}
		st.ActiveSession = nil
		g.save(&st)
		logger.Info("Credit and session reset by admin")
	case models.EventForcePayment:
		st.Credit.PendingSession = false
		g.save(&st)
		logger.Info("Payment forced by admin")
		g.locker.EnterPaymentLock()
	case models.EventCountdownStart, models.EventCountdown, models.EventCaptureStart,
		models.EventFileDownload, models.EventProcessingStart, models.EventSharingScreen,
		models.EventPrinting, models.EventFileUpload, models.EventSessionEnd:
		g.advance(&st, env.EventType, logger)
	case models.EventSetDeviceID:
		// Identity changes belong to the channel client.
	default:
		logger.Warn("Ignoring unknown event")
	}
}

func (g *Guard) startSession(st *models.DeviceState, env models.Envelope, logger *slog.Logger) {
	now := g.clock.Now()
	id := env.PayloadString("session_id")
	if id == "" {
		id = g.newSessionID()
	}
	if st.ActiveSession.Active() && st.ActiveSession.SessionID != id {
		logger.Info("Discarding previous session", "session_id", st.ActiveSession.SessionID)
	}
	st.ActiveSession = session.Start(id, now)
	logger = logger.With("session_id", id)

	g.cleanupOrphan(st, "new_session")
	if st.Credit.Usable() && st.Credit.ExpiredAt(now, g.ttl) {
		logger.Info("Credit expired", "granted_at", st.Credit.GrantedAt)
		st.Credit = models.Credit{}
	}

	if st.Credit.Usable() {
		st.Credit.SessionID = id
		st.Credit.PendingSession = true
		g.save(st)
		logger.Info("Carrying credit into session")
		return
	}

	g.save(st)
	logger.Info("No credit, locking for payment")
	g.locker.EnterPaymentLock()
}

func (g *Guard) grant(st *models.DeviceState, logger *slog.Logger) {
	id := st.ActiveSessionID()
	st.Credit = models.Credit{
		Available:      true,
		SessionID:      id,
		GrantedAt:      g.clock.Now(),
		PendingSession: id != "",
	}
	g.save(st)
	logger.Info("Credit granted", "session_id", id, "bound", id != "")
	g.locker.ExitPaymentLock()
}

func (g *Guard) advance(st *models.DeviceState, eventType models.EventType, logger *slog.Logger) {
	sess := st.ActiveSession
	if sess == nil {
		logger.Debug("No session, ignoring lifecycle event")
		return
	}
	logger = logger.With("session_id", sess.SessionID)

	tr := session.Apply(sess, eventType)
	if !tr.Advanced {
		logger.Warn("Invalid session sequence", "fsm_state", sess.State)
		g.save(st)
		return
	}

	c := &st.Credit
	if sess.Progressed && c.PendingSession && c.Usable() && c.SessionID == sess.SessionID {
		consume(c)
		logger.Info("Credit consumed", "fsm_state", sess.State)
	}

	if tr.Ended {
		switch {
		case c.Usable() && c.SessionID == sess.SessionID && c.PendingSession && !sess.Progressed:
			c.PendingSession = false
			c.SessionID = ""
			logger.Info("Session ended before capture, credit preserved")
		case c.Usable() && c.SessionID == sess.SessionID && sess.Progressed:
			*c = models.Credit{}
			logger.Info("Session ended with unconsumed credit, clearing")
		default:
			logger.Info("Session ended")
		}
	}
	g.save(st)
}

func (g *Guard) captureStarted(st *models.DeviceState, env models.Envelope, logger *slog.Logger) {
	pid, ok := env.PayloadInt("pid")
	if !ok || pid <= 0 {
		logger.Warn("dslr_started without a valid pid")
		return
	}
	st.DSLR = models.CaptureProcess{PID: pid, StartedAt: g.clock.Now()}
	g.save(st)
	g.watchdog.Arm(pid)
}

func (g *Guard) onWatchdog(pid int, alive bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := store.LoadOrDefault(g.repo)
	logger := slog.With("component", "CreditGuard", "pid", pid)
	if st.DSLR.PID != pid {
		logger.Info("Watchdog result for a superseded process", "current_pid", st.DSLR.PID)
		return
	}

	if alive {
		if st.Credit.Usable() {
			consume(&st.Credit)
			if st.ActiveSession.Active() {
				st.ActiveSession.Progressed = true
			}
			g.save(&st)
			logger.Info("Credit consumed, capture process stable")
		}
		return
	}

	st.Credit = models.Credit{}
	st.DSLR = models.CaptureProcess{}
	g.save(&st)
	logger.Warn("Capture process died during startup, credit reset")
	g.locker.EnterPaymentLock()
}

// cleanupOrphan resets a usable credit bound to a session other than the
// active one.
func (g *Guard) cleanupOrphan(st *models.DeviceState, reason string) bool {
	c := st.Credit
	if !c.Usable() || c.SessionID == "" || c.SessionID == st.ActiveSessionID() {
		return false
	}
	slog.Warn("Orphan credit reset", "component", "CreditGuard", "reason", reason,
		"credit_session", c.SessionID, "active_session", st.ActiveSessionID())
	st.Credit = models.Credit{}
	return true
}

func (g *Guard) save(st *models.DeviceState) {
	st.UpdatedAt = g.clock.Now()
	if err := g.repo.Save(*st); err != nil {
		slog.Error("Failed to persist state", "component", "CreditGuard", "error", err)
	}
}

func consume(c *models.Credit) {
	c.Consumed = true
	c.Available = false
	c.PendingSession = false
}
