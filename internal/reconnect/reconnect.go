// Package reconnect implements exponential-backoff-with-jitter retry
// scheduling for the client demo binary's auto-redial loop: when a
// clientconn connection drops without having been explicitly cancelled by
// the user, the binary schedules a fresh dial through a Reconnector rather
// than giving up.
//
// Scheduling is driven off the same clock.Clock seam the connection FSMs
// use, rather than raw time.AfterFunc, so the backoff sequence can be
// driven deterministically in tests with a clock.Fake instead of real
// sleeps.
package reconnect

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/dungeon-vr/netcore/internal/clock"
)

// Config contains configuration for reconnection behavior.
type Config struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxAttempts  int // 0 means unlimited
	Jitter       float64
}

// DefaultConfig returns sensible defaults for reconnection.
func DefaultConfig() Config {
	return Config{
		InitialDelay: 1 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  0,   // Unlimited
		Jitter:       0.2, // 20% jitter makes timing patterns less distinguishable
	}
}

// reconnectState tracks the state of reconnection attempts for one key.
type reconnectState struct {
	attempts  int
	nextDelay time.Duration
	timer     clock.Timer
	cancel    chan struct{} // closed to abandon the goroutine waiting on timer
}

// Reconnector handles automatic reconnection with exponential backoff.
// It is keyed by an arbitrary string identifying the server being
// redialed, so a single Reconnector can supervise more than one
// connection attempt loop.
type Reconnector struct {
	cfg      Config
	clk      clock.Clock
	callback func(key string) error

	mu     sync.Mutex
	states map[string]*reconnectState
	closed bool
	paused bool
}

// NewReconnector creates a new reconnector. callback is invoked on its own
// goroutine for each attempt and should perform the dial/handshake,
// returning nil on success. clk supplies the timers that drive backoff;
// production callers pass clock.Real{}, tests pass a clock.Fake and
// advance it to trigger attempts.
func NewReconnector(clk clock.Clock, cfg Config, callback func(key string) error) *Reconnector {
	return &Reconnector{
		cfg:      cfg,
		clk:      clk,
		callback: callback,
		states:   make(map[string]*reconnectState),
	}
}

// Schedule schedules a reconnection attempt for the given key.
func (r *Reconnector) Schedule(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.paused {
		return
	}

	state, exists := r.states[key]
	if !exists {
		state = &reconnectState{
			nextDelay: r.cfg.InitialDelay,
		}
		r.states[key] = state
	}

	r.stopWaiterLocked(state)

	if r.cfg.MaxAttempts > 0 && state.attempts >= r.cfg.MaxAttempts {
		delete(r.states, key)
		return
	}

	r.armLocked(key, state)
}

// armLocked starts a new timer for state and a goroutine to wait on it.
// Callers must hold r.mu.
func (r *Reconnector) armLocked(key string, state *reconnectState) {
	delay := r.addJitter(state.nextDelay)
	cancel := make(chan struct{})
	state.cancel = cancel
	state.timer = r.clk.NewTimer(delay)
	go r.waitAndAttempt(key, state.timer, cancel)
}

// stopWaiterLocked stops state's timer and releases any goroutine blocked
// waiting on it. Callers must hold r.mu.
func (r *Reconnector) stopWaiterLocked(state *reconnectState) {
	if state.timer != nil {
		state.timer.Stop()
		state.timer = nil
	}
	if state.cancel != nil {
		close(state.cancel)
		state.cancel = nil
	}
}

func (r *Reconnector) waitAndAttempt(key string, t clock.Timer, cancel <-chan struct{}) {
	select {
	case <-t.C():
		r.attemptReconnect(key)
	case <-cancel:
	}
}

func (r *Reconnector) attemptReconnect(key string) {
	r.mu.Lock()
	state, exists := r.states[key]
	if !exists || r.closed {
		r.mu.Unlock()
		return
	}

	state.attempts++

	nextDelay := time.Duration(float64(state.nextDelay) * r.cfg.Multiplier)
	if nextDelay > r.cfg.MaxDelay {
		nextDelay = r.cfg.MaxDelay
	}
	state.nextDelay = nextDelay
	r.mu.Unlock()

	err := r.callback(key)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	state, exists = r.states[key]
	if !exists {
		// Cancelled or reset while the callback was running.
		return
	}

	if err != nil {
		if r.cfg.MaxAttempts == 0 || state.attempts < r.cfg.MaxAttempts {
			r.armLocked(key, state)
		} else {
			delete(r.states, key)
		}
	} else {
		delete(r.states, key)
	}
}

func (r *Reconnector) addJitter(d time.Duration) time.Duration {
	if r.cfg.Jitter <= 0 {
		return d
	}
	jitterRange := float64(d) * r.cfg.Jitter
	jitter := (rand.Float64() - 0.5) * 2 * jitterRange

	result := time.Duration(float64(d) + jitter)
	if result < 0 {
		result = d
	}
	return result
}

// Cancel cancels any pending reconnection for the given key.
func (r *Reconnector) Cancel(key string) {
	r.clearState(key)
}

// Reset resets the reconnection state for a key. It is an alias for
// Cancel: the next Schedule call starts backoff over from InitialDelay.
func (r *Reconnector) Reset(key string) {
	r.clearState(key)
}

func (r *Reconnector) clearState(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if state, exists := r.states[key]; exists {
		r.stopWaiterLocked(state)
		delete(r.states, key)
	}
}

// GetAttempts returns the number of reconnection attempts made for a key.
func (r *Reconnector) GetAttempts(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if state, exists := r.states[key]; exists {
		return state.attempts
	}
	return 0
}

// IsPending returns true if a reconnection is pending for the key.
func (r *Reconnector) IsPending(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, exists := r.states[key]
	return exists
}

// Stop stops all reconnection attempts permanently.
func (r *Reconnector) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true

	for key, state := range r.states {
		r.stopWaiterLocked(state)
		delete(r.states, key)
	}
}

// Pause temporarily stops all reconnection attempts without clearing
// state. Pending timers are stopped but attempt counts are preserved for
// Resume.
func (r *Reconnector) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.paused || r.closed {
		return
	}
	r.paused = true

	for _, state := range r.states {
		r.stopWaiterLocked(state)
	}
}

// Resume resumes reconnection attempts after Pause. It does not
// automatically reschedule; call Schedule for the keys that need it.
func (r *Reconnector) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = false
}

// IsPaused returns true if the reconnector is paused.
func (r *Reconnector) IsPaused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

// BackoffCalculator computes backoff delays without the scheduling
// machinery, for callers (and tests) that want the pure function.
type BackoffCalculator struct {
	cfg Config
}

// NewBackoffCalculator creates a new backoff calculator.
func NewBackoffCalculator(cfg Config) *BackoffCalculator {
	return &BackoffCalculator{cfg: cfg}
}

// CalculateDelay calculates the delay for the given attempt number
// (0-indexed), ignoring jitter.
func (b *BackoffCalculator) CalculateDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return b.cfg.InitialDelay
	}

	delay := float64(b.cfg.InitialDelay) * math.Pow(b.cfg.Multiplier, float64(attempt))
	if delay > float64(b.cfg.MaxDelay) {
		delay = float64(b.cfg.MaxDelay)
	}
	return time.Duration(delay)
}
