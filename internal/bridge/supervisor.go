package bridge

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/remote"
	"gorm.io/gorm"
)

// Default session tunables. All of them are overridable via SupervisorOpts
// so tests can run with millisecond timers.
const (
	// DefaultReconnectDelay is the fixed delay before each reconnect attempt.
	DefaultReconnectDelay = 5 * time.Second
	// DefaultMaxReconnectAttempts caps automatic reconnection before the
	// session parks in DISCONNECTED and waits for operator action.
	DefaultMaxReconnectAttempts = 10
	// DefaultPairingTTL is the lifetime of an issued pairing code.
	DefaultPairingTTL = 120 * time.Second
	// DefaultPairingDedupWindow suppresses re-issues of an identical
	// pairing code value within this window.
	DefaultPairingDedupWindow = 15 * time.Second
)

// PairingCode is a pairing artifact surfaced to the operator UI.
type PairingCode struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Supervisor owns the remote-session state machine for one tenant. All
// state transitions run under one mutex; remote lifecycle events are pumped
// through a single dispatch function so concurrent events cannot interleave
// into inconsistent state.
type Supervisor struct {
	tenantID string
	client   remote.Client
	creds    remote.CredentialStore
	db       *gorm.DB
	notifier *Notifier
	out      io.Writer

	reconnectDelay time.Duration
	maxAttempts    int
	pairingTTL     time.Duration
	dedupWindow    time.Duration

	// Hooks, all optional. Invoked without the state lock held.
	onReady       func()
	onMessage     func(remote.Message)
	onPairingCode func(PairingCode)

	mu           sync.Mutex
	state        string
	closing      bool // suppresses auto-reconnect during deliberate teardown
	reconnecting bool // at most one in-flight reconnection attempt
	attempts     int
	showPairing  bool
	lastCode     string
	lastCodeAt   time.Time

	pairTimer      *time.Timer
	reconnectTimer *time.Timer

	pumpOnce sync.Once
	pumpDone chan struct{}
}

// SupervisorOpts holds parameters for creating a Supervisor.
type SupervisorOpts struct {
	TenantID string
	Client   remote.Client
	Creds    remote.CredentialStore
	DB       *gorm.DB  // connection state persistence; optional
	Notifier *Notifier // rate-limited operator notices; optional
	Out      io.Writer // defaults to os.Stdout

	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	PairingTTL           time.Duration
	PairingDedupWindow   time.Duration

	OnReady       func()
	OnMessage     func(remote.Message)
	OnPairingCode func(PairingCode)
}

// NewSupervisor creates a Supervisor in the UNINITIALIZED state.
func NewSupervisor(opts SupervisorOpts) (*Supervisor, error) {
	if opts.TenantID == "" {
		return nil, fmt.Errorf("bridge: supervisor: tenant id is required")
	}
	if opts.Client == nil {
		return nil, fmt.Errorf("bridge: supervisor: remote client is required")
	}
	if opts.Creds == nil {
		return nil, fmt.Errorf("bridge: supervisor: credential store is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	s := &Supervisor{
		tenantID:       opts.TenantID,
		client:         opts.Client,
		creds:          opts.Creds,
		db:             opts.DB,
		notifier:       opts.Notifier,
		out:            out,
		reconnectDelay: opts.ReconnectDelay,
		maxAttempts:    opts.MaxReconnectAttempts,
		pairingTTL:     opts.PairingTTL,
		dedupWindow:    opts.PairingDedupWindow,
		onReady:        opts.OnReady,
		onMessage:      opts.OnMessage,
		onPairingCode:  opts.OnPairingCode,
		state:          models.StateUninitialized,
		pumpDone:       make(chan struct{}),
	}
	if s.reconnectDelay <= 0 {
		s.reconnectDelay = DefaultReconnectDelay
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = DefaultMaxReconnectAttempts
	}
	if s.pairingTTL <= 0 {
		s.pairingTTL = DefaultPairingTTL
	}
	if s.dedupWindow <= 0 {
		s.dedupWindow = DefaultPairingDedupWindow
	}
	return s, nil
}

// Run pumps remote lifecycle events into the state machine. It blocks until
// the client's event channel closes or ctx is cancelled, so callers run it
// on its own goroutine. Safe to call once per Supervisor.
func (s *Supervisor) Run(ctx context.Context) {
	s.pumpOnce.Do(func() {
		defer close(s.pumpDone)
		events := s.client.Events()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				s.handleEvent(ctx, ev)
			}
		}
	})
}

// Initialize starts the session. With stored credentials it attempts a
// silent reconnect (AUTHENTICATING); without them it requests a pairing
// code (AWAITING_PAIRING). showPairingUI controls whether pairing codes are
// surfaced through the OnPairingCode hook.
func (s *Supervisor) Initialize(ctx context.Context, showPairingUI bool) error {
	creds, err := s.creds.Load(s.tenantID)
	if err != nil {
		return fmt.Errorf("bridge: initialize %s: %w", s.tenantID, err)
	}

	s.mu.Lock()
	if s.state == models.StateConnected {
		s.mu.Unlock()
		return nil
	}
	s.closing = false
	s.attempts = 0
	s.showPairing = showPairingUI
	if creds != nil {
		s.setStateLocked(models.StateAuthenticating)
	} else {
		s.setStateLocked(models.StateAwaitingPair)
	}
	s.mu.Unlock()

	if err := s.client.Connect(ctx, creds); err != nil {
		return s.handleConnectError(ctx, err)
	}
	return nil
}

// Disconnect tears the session down. With logout the remote session is
// invalidated and stored credentials are erased (state LOGGED_OUT); without
// it the session can be resumed later (state DISCONNECTED). Calling it when
// already disconnected is a no-op success.
func (s *Supervisor) Disconnect(ctx context.Context, logout bool) error {
	s.mu.Lock()
	idle := s.state == models.StateDisconnected || s.state == models.StateLoggedOut ||
		s.state == models.StateUninitialized
	// DISCONNECTED with a reconnect pending is not idle: the operator's
	// disconnect must still cancel the timer and suppress the retry.
	if !logout && idle && !s.reconnecting && s.reconnectTimer == nil {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	s.reconnecting = false
	s.cancelTimersLocked()
	if logout {
		s.setStateLocked(models.StateLoggedOut)
	} else {
		s.setStateLocked(models.StateDisconnected)
	}
	s.mu.Unlock()

	if err := s.client.Disconnect(ctx, logout); err != nil {
		log.Printf("bridge: %s: disconnect: %v", s.tenantID, err)
	}
	if logout {
		if err := s.creds.Clear(s.tenantID); err != nil {
			return fmt.Errorf("bridge: logout %s: %w", s.tenantID, err)
		}
	}
	return nil
}

// Reconnect is the manual recovery path out of LOGGED_OUT or a parked
// DISCONNECTED state. It wipes stored credentials first, so a fresh pairing
// code is always required.
func (s *Supervisor) Reconnect(ctx context.Context) error {
	if err := s.creds.Clear(s.tenantID); err != nil {
		return fmt.Errorf("bridge: reconnect %s: %w", s.tenantID, err)
	}

	s.mu.Lock()
	s.closing = false
	s.reconnecting = false
	s.attempts = 0
	s.showPairing = true
	s.cancelTimersLocked()
	s.setStateLocked(models.StateAwaitingPair)
	s.mu.Unlock()

	if err := s.client.Connect(ctx, nil); err != nil {
		return s.handleConnectError(ctx, err)
	}
	return nil
}

// IsReady reports whether the session is CONNECTED.
func (s *Supervisor) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == models.StateConnected
}

// State returns the current session state.
func (s *Supervisor) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempts returns the current reconnect attempt counter.
func (s *Supervisor) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Stop cancels timers and marks the supervisor as closing. Used during
// teardown; safe to call at any point, including mid-reconnect.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.closing = true
	s.reconnecting = false
	s.cancelTimersLocked()
	s.mu.Unlock()
}

// handleEvent is the single dispatch point for remote lifecycle events.
func (s *Supervisor) handleEvent(ctx context.Context, ev remote.Event) {
	switch ev.Type {
	case remote.EventPairingCode:
		s.handlePairingCode(ev.Code)
	case remote.EventAuthenticated:
		s.handleAuthenticated()
	case remote.EventReady:
		s.handleReady()
	case remote.EventClosed:
		s.handleClosed(ctx, ev.Reason)
	case remote.EventAuthFailure:
		s.handleAuthFailure(ctx, ev.Err)
	case remote.EventMessage:
		if ev.Message != nil && s.onMessage != nil {
			s.onMessage(*ev.Message)
		}
	default:
		log.Printf("bridge: %s: unknown remote event %q", s.tenantID, ev.Type)
	}
}

// handlePairingCode applies the duplicate-suppression window, arms the
// expiry timer, and surfaces the code to the UI hook.
func (s *Supervisor) handlePairingCode(value string) {
	now := time.Now()

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	if value == s.lastCode && now.Sub(s.lastCodeAt) < s.dedupWindow {
		s.mu.Unlock()
		return
	}
	s.lastCode = value
	s.lastCodeAt = now
	s.setStateLocked(models.StateAwaitingPair)

	if s.pairTimer != nil {
		s.pairTimer.Stop()
	}
	s.pairTimer = time.AfterFunc(s.pairingTTL, func() { s.pairingExpired(value) })

	show := s.showPairing
	hook := s.onPairingCode
	ttl := s.pairingTTL
	s.mu.Unlock()

	fmt.Fprintf(s.out, "bridge: %s: pairing code issued (expires in %s)\n", s.tenantID, ttl)
	if show && hook != nil {
		hook(PairingCode{Value: value, IssuedAt: now, ExpiresAt: now.Add(ttl)})
	}
}

// pairingExpired runs when a pairing code's TTL elapses without being
// consumed. The remote client issues a replacement code on its own; we only
// forget the stale value so the replacement is not dedup-suppressed.
func (s *Supervisor) pairingExpired(value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastCode != value || s.state != models.StateAwaitingPair {
		return
	}
	s.lastCode = ""
	log.Printf("bridge: %s: pairing code expired", s.tenantID)
}

// handleAuthenticated marks the pairing code as consumed.
func (s *Supervisor) handleAuthenticated() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing || s.state != models.StateAwaitingPair {
		return
	}
	if s.pairTimer != nil {
		s.pairTimer.Stop()
		s.pairTimer = nil
	}
	s.setStateLocked(models.StateAuthenticating)
}

// handleReady transitions to CONNECTED and resets the reconnect machinery.
func (s *Supervisor) handleReady() {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(models.StateConnected)
	s.attempts = 0
	s.reconnecting = false
	s.cancelTimersLocked()
	hook := s.onReady
	s.mu.Unlock()

	fmt.Fprintf(s.out, "bridge: %s: session ready\n", s.tenantID)
	if hook != nil {
		hook()
	}
}

// handleClosed reacts to a server-initiated close. A logout reason parks the
// session in LOGGED_OUT with credentials wiped; anything else schedules an
// automatic reconnect unless the close was deliberate.
func (s *Supervisor) handleClosed(ctx context.Context, reason string) {
	s.mu.Lock()
	if s.pairTimer != nil {
		s.pairTimer.Stop()
		s.pairTimer = nil
	}

	if reason == remote.CloseReasonLogout {
		s.reconnecting = false
		s.cancelTimersLocked()
		s.setStateLocked(models.StateLoggedOut)
		s.mu.Unlock()

		if err := s.creds.Clear(s.tenantID); err != nil {
			log.Printf("bridge: %s: clear credentials after logout: %v", s.tenantID, err)
		}
		log.Printf("bridge: %s: session logged out by remote device", s.tenantID)
		return
	}

	if s.closing {
		// A trailing close after logout must not demote LOGGED_OUT.
		if s.state != models.StateLoggedOut {
			s.setStateLocked(models.StateDisconnected)
		}
		s.mu.Unlock()
		return
	}

	if s.reconnecting {
		// A reconnect attempt's connection dropped again; stay in
		// RECONNECTING and let the retry timer drive the next attempt.
		s.setStateLocked(models.StateReconnecting)
		s.scheduleRetryLocked(ctx)
		s.mu.Unlock()
		return
	}

	s.setStateLocked(models.StateDisconnected)
	s.reconnecting = true
	s.reconnectTimer = time.AfterFunc(s.reconnectDelay, func() { s.attemptReconnect(ctx) })
	s.mu.Unlock()

	log.Printf("bridge: %s: session closed (%s), reconnecting in %s", s.tenantID, reason, s.reconnectDelay)
	if s.notifier != nil {
		s.notifier.Disconnected(ctx, s.tenantID, reason)
	}
}

// handleAuthFailure wipes credentials and restarts the pairing flow. Auth
// failures never re-enter the reconnect-with-same-credentials path.
func (s *Supervisor) handleAuthFailure(ctx context.Context, cause error) {
	s.mu.Lock()
	s.reconnecting = false
	s.cancelTimersLocked()
	closing := s.closing
	if !closing {
		s.setStateLocked(models.StateAwaitingPair)
	}
	s.mu.Unlock()

	log.Printf("bridge: %s: authentication failure: %v", s.tenantID, cause)
	if err := s.creds.Clear(s.tenantID); err != nil {
		log.Printf("bridge: %s: clear credentials after auth failure: %v", s.tenantID, err)
	}
	if s.notifier != nil {
		s.notifier.AuthFailure(ctx, s.tenantID, cause)
	}
	if closing {
		return
	}
	// Request a fresh pairing code.
	if err := s.client.Connect(ctx, nil); err != nil {
		log.Printf("bridge: %s: request new pairing code: %v", s.tenantID, err)
	}
}

// handleConnectError routes a synchronous Connect failure into the same
// policy as the event-driven paths.
func (s *Supervisor) handleConnectError(ctx context.Context, err error) error {
	switch remote.Classify(err) {
	case remote.ClassAuth:
		s.handleAuthFailure(ctx, err)
		return nil
	default:
		s.mu.Lock()
		s.setStateLocked(models.StateDisconnected)
		if !s.closing && !s.reconnecting {
			s.reconnecting = true
			s.reconnectTimer = time.AfterFunc(s.reconnectDelay, func() { s.attemptReconnect(ctx) })
		}
		s.mu.Unlock()
		return fmt.Errorf("bridge: %s: connect: %w", s.tenantID, err)
	}
}

// attemptReconnect performs one reconnection attempt. The reconnecting flag
// guarantees at most one in-flight attempt per supervisor.
func (s *Supervisor) attemptReconnect(ctx context.Context) {
	s.mu.Lock()
	if s.closing || !s.reconnecting {
		s.mu.Unlock()
		return
	}
	s.attempts++
	if s.attempts > s.maxAttempts {
		s.reconnecting = false
		s.setStateLocked(models.StateDisconnected)
		s.mu.Unlock()
		log.Printf("bridge: %s: reconnect attempts exhausted (%d); manual reconnect required",
			s.tenantID, s.maxAttempts)
		return
	}
	attempt := s.attempts
	s.setStateLocked(models.StateReconnecting)
	s.mu.Unlock()

	creds, err := s.creds.Load(s.tenantID)
	if err != nil || creds == nil {
		// No usable credentials: reconnecting with backoff cannot help.
		log.Printf("bridge: %s: no stored credentials for reconnect; pairing required", s.tenantID)
		s.mu.Lock()
		s.reconnecting = false
		s.setStateLocked(models.StateAwaitingPair)
		s.mu.Unlock()
		if cerr := s.client.Connect(ctx, nil); cerr != nil {
			log.Printf("bridge: %s: request pairing code: %v", s.tenantID, cerr)
		}
		return
	}

	log.Printf("bridge: %s: reconnect attempt %d/%d", s.tenantID, attempt, s.maxAttempts)
	if err := s.client.Connect(ctx, creds); err != nil {
		if remote.Classify(err) == remote.ClassAuth {
			s.handleAuthFailure(ctx, err)
			return
		}
		s.mu.Lock()
		s.scheduleRetryLocked(ctx)
		s.mu.Unlock()
	}
	// On success the ready event completes the transition to CONNECTED.
}

// scheduleRetryLocked arms the next reconnect attempt. Caller holds mu and
// has verified the reconnecting flag.
func (s *Supervisor) scheduleRetryLocked(ctx context.Context) {
	if s.closing || !s.reconnecting {
		return
	}
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
	}
	s.reconnectTimer = time.AfterFunc(s.reconnectDelay, func() { s.attemptReconnect(ctx) })
}

// cancelTimersLocked stops pending pairing and reconnect timers so nothing
// fires into a torn-down state machine. Caller holds mu.
func (s *Supervisor) cancelTimersLocked() {
	if s.pairTimer != nil {
		s.pairTimer.Stop()
		s.pairTimer = nil
	}
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
}

// setStateLocked records a state transition and persists it. Caller holds mu.
func (s *Supervisor) setStateLocked(state string) {
	if s.state == state {
		return
	}
	s.state = state
	if s.db != nil {
		if err := s.db.Model(&models.Tenant{}).
			Where("tenant_id = ?", s.tenantID).
			Update("connection_state", state).Error; err != nil {
			log.Printf("bridge: %s: persist state %s: %v", s.tenantID, state, err)
		}
	}
}
