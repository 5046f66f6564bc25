// Package clientconn implements the client side of the secure connection
// layer: a single event-loop goroutine per connection, walking
// Connecting -> Responding -> Connected -> (Disconnected, terminal).
//
// Grounded on the donor's internal/peer.Connection/Manager for the overall
// shape (a goroutine owning all mutable state, a Ready/Done-style
// lifecycle, request/event channels) but the concurrency discipline itself
// -- one task, a priority-ordered select, no locks -- follows the Rust
// source's dungeon-vr-connection-client, which the donor's goroutine-per-
// peer-plus-mutex design does not match.
package clientconn

import (
	"io"
	"log/slog"
	"time"

	"github.com/dungeon-vr/netcore/internal/cancel"
	"github.com/dungeon-vr/netcore/internal/clock"
	"github.com/dungeon-vr/netcore/internal/cryptocore"
	"github.com/dungeon-vr/netcore/internal/netsocket"
	"github.com/dungeon-vr/netcore/internal/recovery"
	"github.com/dungeon-vr/netcore/internal/wire"
)

const (
	// SendInterval is how often an unacknowledged handshake packet is
	// retransmitted while Connecting or Responding.
	SendInterval = 250 * time.Millisecond
	// KeepaliveInterval is how often a Connected client probes liveness
	// in the absence of other outbound traffic.
	KeepaliveInterval = 1 * time.Second
	// ServerTimeout is how long a client waits for any authenticated
	// inbound packet before giving up on the server.
	ServerTimeout = 5 * time.Second
)

// EventKind discriminates the Event union emitted to the upper layer.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventGameData
	EventDropped
)

// Event is one observable occurrence on a client connection's event
// stream. The stream is totally ordered and always ends with an
// EventDropped event.
type Event struct {
	Kind     EventKind
	GameData []byte
}

// Request is an upper-layer-initiated action. The zero value requests
// nothing; SendGameData is non-nil exactly when this is a send request.
type Request struct {
	SendGameData []byte
}

type stateKind int

const (
	stateConnecting stateKind = iota
	stateResponding
	stateConnected
)

type client struct {
	sock   netsocket.ConnectedSocket
	clk    clock.Clock
	logger *slog.Logger
	gameID uint64

	guard cancel.Guard
	reqCh chan Request
	evCh  chan Event

	state stateKind

	// Connecting
	privateKey cryptocore.PrivateKey
	publicKey  cryptocore.PublicKey

	// Responding and Connected
	sharedSecret cryptocore.SharedSecret
	token        wire.ChallengeToken // Responding only

	sendIntervalTimer clock.Timer // Connecting, Responding
	keepaliveTimer    clock.Timer // Connected
	serverTimeout     clock.Timer // live throughout
}

// Spawn starts a client connection's event loop against sock and returns a
// cancellation guard, a bounded request channel, and a bounded event
// channel. Closing the guard (or letting it go out of scope via a
// deferred Close) cancels the connection.
func Spawn(sock netsocket.ConnectedSocket, gameID uint64, clk clock.Clock, logger *slog.Logger) (cancel.Guard, chan<- Request, <-chan Event) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	c := &client{
		sock:   sock,
		clk:    clk,
		logger: logger,
		gameID: gameID,
		guard:  cancel.NewGuard(),
		reqCh:  make(chan Request, 256),
		evCh:   make(chan Event, 256),
	}

	privateKey, err := cryptocore.GeneratePrivateKey()
	if err != nil {
		// Key generation only fails if the OS CSPRNG is broken, a
		// condition no caller can recover from sensibly.
		panic(err)
	}
	c.privateKey = privateKey
	c.publicKey = privateKey.Public()
	c.state = stateConnecting
	c.sendIntervalTimer = clk.NewTimer(0) // fire immediately: send the first ConnectInit right away.
	c.serverTimeout = clk.NewTimer(ServerTimeout)

	go c.run()

	return c.guard, c.reqCh, c.evCh
}

func (c *client) run() {
	defer recovery.RecoverWithLog(c.logger, "clientconn")
	defer close(c.evCh)

	recvCh := netsocket.PumpRecv(c.sock, wire.SafeRecvBufferSize)

	for {
		stateTimerC := c.stateTimerChan()

		// Non-blocking priority pass: cancellation > request > socket
		// recv > server timeout > state timer. Go's select has no
		// built-in bias, so ties at a single instant are broken by
		// checking higher-priority channels first, non-blocking, before
		// falling back to a single blocking select over everything.
		select {
		case <-c.guard.Cancelled():
			c.onCancel()
			return
		default:
		}
		select {
		case req := <-c.reqCh:
			if c.onRequest(req) {
				return
			}
			continue
		default:
		}
		select {
		case res, ok := <-recvCh:
			if !ok {
				recvCh = nil
			} else if c.onRecv(res) {
				return
			}
			continue
		default:
		}
		select {
		case <-c.serverTimeout.C():
			c.onServerTimeout()
			return
		default:
		}
		select {
		case <-stateTimerC:
			c.onStateTimer()
			continue
		default:
		}

		select {
		case <-c.guard.Cancelled():
			c.onCancel()
			return
		case req := <-c.reqCh:
			if c.onRequest(req) {
				return
			}
		case res, ok := <-recvCh:
			if !ok {
				recvCh = nil
			} else if c.onRecv(res) {
				return
			}
		case <-c.serverTimeout.C():
			c.onServerTimeout()
			return
		case <-stateTimerC:
			c.onStateTimer()
		}
	}
}

func (c *client) stateTimerChan() <-chan time.Time {
	switch c.state {
	case stateConnecting, stateResponding:
		return c.sendIntervalTimer.C()
	case stateConnected:
		return c.keepaliveTimer.C()
	default:
		return nil
	}
}

func (c *client) onStateTimer() {
	switch c.state {
	case stateConnecting:
		c.sendConnectInit()
		c.sendIntervalTimer.Reset(SendInterval)
	case stateResponding:
		c.sendConnectResponse()
		c.sendIntervalTimer.Reset(SendInterval)
	case stateConnected:
		c.sendKeepalive()
		c.keepaliveTimer.Reset(KeepaliveInterval)
	}
}

func (c *client) onRequest(req Request) (dropped bool) {
	if req.SendGameData == nil {
		return false
	}
	if c.state != stateConnected {
		return false
	}
	sealedPayload, err := wire.SealGameData(req.SendGameData, c.sharedSecret)
	if err != nil {
		c.logger.Error("seal game data", "error", err)
		return false
	}
	c.send(wire.Packet{Tag: wire.TagGameData, GameData: wire.GameData{SealedPayload: sealedPayload}})
	c.keepaliveTimer.Reset(KeepaliveInterval)
	return false
}

func (c *client) onRecv(res netsocket.RecvResult) (dropped bool) {
	if res.Err != nil {
		c.logger.Warn("client socket recv error", "error", res.Err)
		return false
	}
	p, err := wire.Decode(res.Data)
	if err != nil {
		c.logger.Debug("dropped malformed datagram", "error", err)
		return false
	}

	switch p.Tag {
	case wire.TagDisconnect:
		if c.state == stateConnecting {
			return false // no secret yet; cannot be authenticated.
		}
		if _, err := wire.OpenEmpty(p.Disconnect.SealedPayload, c.sharedSecret); err != nil {
			c.logger.Debug("dropped disconnect with bad signature", "error", err)
			return false
		}
		c.emit(Event{Kind: EventDisconnected})
		c.shutdown()
		return true

	case wire.TagConnectChallenge:
		if c.state != stateConnecting {
			return false
		}
		return c.onConnectChallenge(p.ConnectChallenge)

	case wire.TagKeepalive:
		if c.state == stateConnecting {
			return false // no secret yet.
		}
		if _, err := wire.OpenEmpty(p.Keepalive.SealedPayload, c.sharedSecret); err != nil {
			c.logger.Debug("dropped keepalive with bad signature", "error", err)
			return false
		}
		c.onAuthenticated(nil, false)
		return false

	case wire.TagGameData:
		if c.state == stateConnecting {
			return false // no secret yet.
		}
		data, err := wire.OpenGameData(p.GameData.SealedPayload, c.sharedSecret)
		if err != nil {
			c.logger.Debug("dropped game data with bad signature", "error", err)
			return false
		}
		c.onAuthenticated(data, true)
		return false

	default:
		// ConnectInit and ConnectResponse are never legal inbound
		// packets for the client.
		return false
	}
}

func (c *client) onConnectChallenge(pkt wire.ConnectChallenge) (dropped bool) {
	secret, err := c.privateKey.Exchange(pkt.ServerPublicKey)
	if err != nil {
		c.logger.Debug("non-contributory key exchange", "error", err)
		return false
	}
	token, err := wire.OpenChallengeToken(pkt.SealedPayload, secret)
	if err != nil {
		c.logger.Debug("dropped challenge with bad signature", "error", err)
		return false
	}

	c.privateKey.Zero()
	c.sharedSecret = secret
	c.token = token
	c.state = stateResponding
	c.sendIntervalTimer.Reset(0) // send the first ConnectResponse right away.
	c.serverTimeout.Reset(ServerTimeout)
	return false
}

// onAuthenticated handles a Keepalive or GameData packet that has already
// been AEAD-verified under the connection's shared secret. It covers the
// Responding->Connected promotion and the steady-state Connected refresh.
func (c *client) onAuthenticated(data []byte, isGameData bool) {
	switch c.state {
	case stateResponding:
		c.token = wire.ChallengeToken{}
		c.state = stateConnected
		c.keepaliveTimer = c.clk.NewTimer(KeepaliveInterval)
		c.serverTimeout.Reset(ServerTimeout)
		c.emit(Event{Kind: EventConnected})
		if isGameData {
			c.emit(Event{Kind: EventGameData, GameData: data})
		}
	case stateConnected:
		c.serverTimeout.Reset(ServerTimeout)
		if isGameData {
			c.emit(Event{Kind: EventGameData, GameData: data})
		}
	}
}

func (c *client) onServerTimeout() {
	c.emit(Event{Kind: EventDisconnected})
	c.shutdown()
}

// onCancel runs when the upper layer's guard is cancelled. The loop never
// revisits this function after the connection has already reached a
// terminal state (the loop returns as soon as it does), so reaching here
// always means "not already disconnected": emit Disconnected, then clean
// up and emit the final Dropped.
func (c *client) onCancel() {
	c.emit(Event{Kind: EventDisconnected})
	c.shutdown()
}

func (c *client) shutdown() {
	c.stopTimer(c.sendIntervalTimer)
	c.stopTimer(c.keepaliveTimer)
	c.stopTimer(c.serverTimeout)
	c.privateKey.Zero()
	var zero cryptocore.SharedSecret
	c.sharedSecret = zero
	c.sock.Close()
	c.emit(Event{Kind: EventDropped})
}

func (c *client) stopTimer(t clock.Timer) {
	if t != nil {
		t.Stop()
	}
}

func (c *client) emit(ev Event) {
	select {
	case c.evCh <- ev:
	default:
		// Full event channel: drop. The event is non-essential state
		// that will be superseded, per the bounded-channel policy.
	}
}

func (c *client) send(p wire.Packet) {
	if err := c.sock.Send(wire.Encode(p)); err != nil {
		// Socket send failures are ignored; the timeout mechanism is
		// the sole fault detector.
		c.logger.Debug("send failed (ignored)", "error", err)
	}
}

func (c *client) sendConnectInit() {
	c.send(wire.Packet{
		Tag: wire.TagConnectInit,
		ConnectInit: wire.ConnectInit{
			GameID:          c.gameID,
			ClientPublicKey: c.publicKey,
		},
	})
}

func (c *client) sendConnectResponse() {
	sealedPayload, err := wire.SealChallengeToken(c.token, c.sharedSecret)
	if err != nil {
		c.logger.Error("seal challenge token", "error", err)
		return
	}
	c.send(wire.Packet{Tag: wire.TagConnectResponse, ConnectResponse: wire.ConnectResponse{SealedPayload: sealedPayload}})
}

func (c *client) sendKeepalive() {
	sealedPayload, err := wire.SealEmpty(c.sharedSecret)
	if err != nil {
		c.logger.Error("seal keepalive", "error", err)
		return
	}
	c.send(wire.Packet{Tag: wire.TagKeepalive, Keepalive: wire.Keepalive{SealedPayload: sealedPayload}})
}
