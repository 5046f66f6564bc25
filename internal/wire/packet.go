// Package wire defines the UDP wire protocol: the tagged union of packet
// kinds, their plaintext/sealed payload layouts, and the game ID and
// challenge token constants used to validate a handshake. Every datagram
// is exactly one packet; the outer decoder rejects any datagram with bytes
// left over after the packet body is consumed.
package wire

import (
	"github.com/dungeon-vr/netcore/internal/cryptocore"
	"github.com/dungeon-vr/netcore/internal/sealed"
	"github.com/dungeon-vr/netcore/internal/streamcodec"
)

// Tag identifies a packet kind. It is the single leading byte of every
// datagram.
type Tag byte

const (
	TagDisconnect       Tag = 0
	TagConnectInit       Tag = 1
	TagConnectChallenge Tag = 2
	TagConnectResponse  Tag = 3
	TagKeepalive        Tag = 4
	TagGameData         Tag = 5
)

// Empty is the plaintext payload of Keepalive and Disconnect: zero bytes.
type Empty struct{}

func encodeEmpty(Empty, *streamcodec.Writer) {}

func decodeEmpty(_ *streamcodec.Reader) (Empty, error) {
	return Empty{}, nil
}

func encodeChallengeToken(t ChallengeToken, w *streamcodec.Writer) {
	w.PutBytes(t[:])
}

func decodeChallengeToken(r *streamcodec.Reader) (ChallengeToken, error) {
	var t ChallengeToken
	if err := r.FixedArray(t[:]); err != nil {
		return ChallengeToken{}, err
	}
	return t, nil
}

func encodeGameData(b []byte, w *streamcodec.Writer) {
	w.PutBytes(b)
}

func decodeGameData(r *streamcodec.Reader) ([]byte, error) {
	return r.RestAsUnframedByteVec(), nil
}

// SealChallengeToken seals a ChallengeToken under secret.
func SealChallengeToken(t ChallengeToken, secret cryptocore.SharedSecret) (sealed.Sealed[ChallengeToken], error) {
	return sealed.Seal(t, encodeChallengeToken, secret)
}

// OpenChallengeToken opens a sealed ChallengeToken under secret.
func OpenChallengeToken(s sealed.Sealed[ChallengeToken], secret cryptocore.SharedSecret) (ChallengeToken, error) {
	return sealed.Open(s, decodeChallengeToken, secret)
}

// SealEmpty seals the empty payload under secret, used for Keepalive and
// Disconnect packets.
func SealEmpty(secret cryptocore.SharedSecret) (sealed.Sealed[Empty], error) {
	return sealed.Seal(Empty{}, encodeEmpty, secret)
}

// OpenEmpty opens a sealed empty payload under secret.
func OpenEmpty(s sealed.Sealed[Empty], secret cryptocore.SharedSecret) (Empty, error) {
	return sealed.Open(s, decodeEmpty, secret)
}

// SealGameData seals an opaque payload under secret.
func SealGameData(data []byte, secret cryptocore.SharedSecret) (sealed.Sealed[[]byte], error) {
	return sealed.Seal(data, encodeGameData, secret)
}

// OpenGameData opens a sealed opaque payload under secret.
func OpenGameData(s sealed.Sealed[[]byte], secret cryptocore.SharedSecret) ([]byte, error) {
	return sealed.Open(s, decodeGameData, secret)
}

// ConnectInit is the client's plaintext handshake opener.
type ConnectInit struct {
	GameID          uint64
	ClientPublicKey cryptocore.PublicKey
}

// ConnectChallenge is the server's response to a valid ConnectInit.
type ConnectChallenge struct {
	ServerPublicKey cryptocore.PublicKey
	SealedPayload   sealed.Sealed[ChallengeToken]
}

// ConnectResponse echoes the challenge token back under AEAD, proving
// possession of the derived shared secret.
type ConnectResponse struct {
	SealedPayload sealed.Sealed[ChallengeToken]
}

// Disconnect is an authenticated request to tear down a connection.
type Disconnect struct {
	SealedPayload sealed.Sealed[Empty]
}

// Keepalive is an authenticated liveness probe with no payload.
type Keepalive struct {
	SealedPayload sealed.Sealed[Empty]
}

// GameData carries an opaque, upper-layer-defined payload.
type GameData struct {
	SealedPayload sealed.Sealed[[]byte]
}

// Packet is the tagged union of the six packet kinds. Exactly one of the
// typed fields is meaningful, selected by Tag.
type Packet struct {
	Tag Tag

	ConnectInit      ConnectInit
	ConnectChallenge ConnectChallenge
	ConnectResponse  ConnectResponse
	Disconnect       Disconnect
	Keepalive        Keepalive
	GameData         GameData
}

// Encode returns the wire form of p: a single tag byte followed by the
// body for p.Tag.
func Encode(p Packet) []byte {
	w := streamcodec.NewWriter()
	w.PutUint8(byte(p.Tag))

	switch p.Tag {
	case TagDisconnect:
		p.Disconnect.SealedPayload.WriteTo(w)
	case TagConnectInit:
		w.PutUint64(p.ConnectInit.GameID)
		w.PutBytes(p.ConnectInit.ClientPublicKey[:])
	case TagConnectChallenge:
		w.PutBytes(p.ConnectChallenge.ServerPublicKey[:])
		p.ConnectChallenge.SealedPayload.WriteTo(w)
	case TagConnectResponse:
		p.ConnectResponse.SealedPayload.WriteTo(w)
	case TagKeepalive:
		p.Keepalive.SealedPayload.WriteTo(w)
	case TagGameData:
		p.GameData.SealedPayload.WriteTo(w)
	}
	return w.Bytes()
}

// Decode parses a single packet from a datagram. It rejects unknown tags,
// short bodies, and any bytes left over once the body for the packet's
// tag has been fully consumed.
func Decode(datagram []byte) (Packet, error) {
	r := streamcodec.NewReader(datagram)

	tagByte, err := r.Uint8()
	if err != nil {
		return Packet{}, err
	}
	tag := Tag(tagByte)

	var p Packet
	p.Tag = tag

	switch tag {
	case TagDisconnect:
		s, err := sealed.ReadFrom[Empty](r)
		if err != nil {
			return Packet{}, err
		}
		p.Disconnect = Disconnect{SealedPayload: s}

	case TagConnectInit:
		gameID, err := r.Uint64()
		if err != nil {
			return Packet{}, err
		}
		var pub cryptocore.PublicKey
		if err := r.FixedArray(pub[:]); err != nil {
			return Packet{}, err
		}
		p.ConnectInit = ConnectInit{GameID: gameID, ClientPublicKey: pub}

	case TagConnectChallenge:
		var pub cryptocore.PublicKey
		if err := r.FixedArray(pub[:]); err != nil {
			return Packet{}, err
		}
		s, err := sealed.ReadFrom[ChallengeToken](r)
		if err != nil {
			return Packet{}, err
		}
		p.ConnectChallenge = ConnectChallenge{ServerPublicKey: pub, SealedPayload: s}

	case TagConnectResponse:
		s, err := sealed.ReadFrom[ChallengeToken](r)
		if err != nil {
			return Packet{}, err
		}
		p.ConnectResponse = ConnectResponse{SealedPayload: s}

	case TagKeepalive:
		s, err := sealed.ReadFrom[Empty](r)
		if err != nil {
			return Packet{}, err
		}
		p.Keepalive = Keepalive{SealedPayload: s}

	case TagGameData:
		s, err := sealed.ReadFrom[[]byte](r)
		if err != nil {
			return Packet{}, err
		}
		p.GameData = GameData{SealedPayload: s}

	default:
		return Packet{}, &streamcodec.InvalidPacketTypeError{Tag: tagByte}
	}

	// Every kind whose body ends in a sealed payload (all but ConnectInit)
	// has no trailing bytes by construction, since Sealed's ReadFrom
	// always drains the cursor. ConnectInit is the only kind with a length
	// fixed independent of the datagram size, so it is the only one that
	// can have genuine trailing bytes.
	if !r.AtEnd() {
		return Packet{}, ErrTrailingData
	}
	return p, nil
}
