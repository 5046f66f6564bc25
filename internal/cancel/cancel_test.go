package cancel

import "testing"

func TestTokenNotCancelledInitially(t *testing.T) {
	tok := New()
	if tok.IsCancelled() {
		t.Fatalf("fresh token reports cancelled")
	}
	select {
	case <-tok.Cancelled():
		t.Fatalf("fresh token's channel is already closed")
	default:
	}
}

func TestCancelClosesChannel(t *testing.T) {
	tok := New()
	tok.Cancel()
	if !tok.IsCancelled() {
		t.Fatalf("IsCancelled false after Cancel")
	}
	select {
	case <-tok.Cancelled():
	default:
		t.Fatalf("Cancelled channel not closed after Cancel")
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	tok := New()
	tok.Cancel()
	tok.Cancel() // must not panic on double-close
	if !tok.IsCancelled() {
		t.Fatalf("IsCancelled false after double Cancel")
	}
}

func TestGuardCloseCancelsToken(t *testing.T) {
	g := NewGuard()
	if err := g.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !g.IsCancelled() {
		t.Fatalf("token not cancelled after Guard.Close")
	}
	if err := g.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestTokenSharesStateAcrossCopies(t *testing.T) {
	tok := New()
	copyOfTok := tok
	copyOfTok.Cancel()
	if !tok.IsCancelled() {
		t.Fatalf("cancelling a copy did not cancel the original")
	}
}
