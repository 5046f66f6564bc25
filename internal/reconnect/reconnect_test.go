package reconnect

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/dungeon-vr/netcore/internal/clock"
)

// waitSettled gives the reconnector's background goroutine a brief real
// moment to finish mutating state after a clk.Advance fires a timer, the
// same synchronization idiom the FSM test suites use around a fake clock.
func waitSettled() {
	time.Sleep(5 * time.Millisecond)
}

func TestReconnectorSchedulesAndSucceeds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialDelay = 10 * time.Millisecond
	cfg.Jitter = 0

	clk := clock.NewFake()
	var attempts atomic.Int32
	done := make(chan struct{}, 1)
	r := NewReconnector(clk, cfg, func(key string) error {
		attempts.Add(1)
		done <- struct{}{}
		return nil
	})

	r.Schedule("server-1")
	clk.Advance(cfg.InitialDelay)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("callback never ran")
	}
	waitSettled()

	if attempts.Load() != 1 {
		t.Fatalf("attempts = %d, want 1", attempts.Load())
	}
	if r.IsPending("server-1") {
		t.Fatalf("expected state cleared after a successful attempt")
	}
}

func TestReconnectorRetriesOnFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialDelay = 10 * time.Millisecond
	cfg.Multiplier = 2
	cfg.Jitter = 0

	clk := clock.NewFake()
	var attempts atomic.Int32
	attemptCh := make(chan int32, 2)
	r := NewReconnector(clk, cfg, func(key string) error {
		n := attempts.Add(1)
		attemptCh <- n
		if n >= 2 {
			return nil
		}
		return errTransient
	})

	r.Schedule("server-1")
	clk.Advance(cfg.InitialDelay)

	select {
	case n := <-attemptCh:
		if n != 1 {
			t.Fatalf("first signaled attempt = %d, want 1", n)
		}
	case <-time.After(time.Second):
		t.Fatalf("first attempt never ran")
	}
	waitSettled()

	// The first attempt failed, so nextDelay doubled to 20ms before the
	// retry timer was armed.
	clk.Advance(cfg.InitialDelay * time.Duration(cfg.Multiplier))

	select {
	case n := <-attemptCh:
		if n != 2 {
			t.Fatalf("second signaled attempt = %d, want 2", n)
		}
	case <-time.After(time.Second):
		t.Fatalf("second attempt never ran")
	}
	waitSettled()

	if attempts.Load() != 2 {
		t.Fatalf("attempts = %d, want 2", attempts.Load())
	}
	if r.IsPending("server-1") {
		t.Fatalf("expected state cleared after a successful attempt")
	}
}

func TestReconnectorRespectsMaxAttempts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialDelay = 10 * time.Millisecond
	cfg.Multiplier = 1 // keep the delay constant so Advance amounts stay simple
	cfg.Jitter = 0
	cfg.MaxAttempts = 2

	clk := clock.NewFake()
	var attempts atomic.Int32
	attemptCh := make(chan int32, cfg.MaxAttempts)
	r := NewReconnector(clk, cfg, func(key string) error {
		attemptCh <- attempts.Add(1)
		return errTransient
	})

	r.Schedule("server-1")

	for i := 0; i < cfg.MaxAttempts; i++ {
		clk.Advance(cfg.InitialDelay)
		select {
		case <-attemptCh:
		case <-time.After(time.Second):
			t.Fatalf("attempt %d never ran", i+1)
		}
		waitSettled()
	}

	if attempts.Load() != int32(cfg.MaxAttempts) {
		t.Fatalf("attempts = %d, want %d", attempts.Load(), cfg.MaxAttempts)
	}
	if r.IsPending("server-1") {
		t.Fatalf("expected state cleared once MaxAttempts was reached")
	}
}

func TestReconnectorCancel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialDelay = time.Hour

	clk := clock.NewFake()
	r := NewReconnector(clk, cfg, func(key string) error { return nil })
	r.Schedule("server-1")
	if !r.IsPending("server-1") {
		t.Fatalf("expected a pending reconnection")
	}
	r.Cancel("server-1")
	if r.IsPending("server-1") {
		t.Fatalf("expected Cancel to clear pending state")
	}

	// Advancing past the original deadline must not resurrect the
	// cancelled attempt.
	clk.Advance(2 * cfg.InitialDelay)
	waitSettled()
	if r.IsPending("server-1") {
		t.Fatalf("cancelled reconnection fired after Cancel")
	}
}

func TestBackoffCalculatorGrowsAndCaps(t *testing.T) {
	cfg := Config{InitialDelay: 1 * time.Second, MaxDelay: 10 * time.Second, Multiplier: 2}
	b := NewBackoffCalculator(cfg)

	if d := b.CalculateDelay(0); d != 1*time.Second {
		t.Fatalf("CalculateDelay(0) = %v, want 1s", d)
	}
	if d := b.CalculateDelay(1); d != 2*time.Second {
		t.Fatalf("CalculateDelay(1) = %v, want 2s", d)
	}
	if d := b.CalculateDelay(10); d != 10*time.Second {
		t.Fatalf("CalculateDelay(10) = %v, want capped at 10s", d)
	}
}

var errTransient = &transientError{}

type transientError struct{}

func (*transientError) Error() string { return "transient failure" }
