package wire

// GameID is a fixed 64-bit constant identifying this protocol, and the
// value the default server and client configurations carry. The server
// compares each ConnectInit against the game ID passed to serverconn.Spawn,
// not against this constant, and drops any ConnectInit bearing a different
// value; a configuration or caller that passes another ID changes which
// value is accepted.
const GameID uint64 = 0x44756e67656f6e21 // "Dungeon!" in ASCII, as an 8-byte constant.

// SafeRecvBufferSize is large enough to hold any IPv4 or IPv6 UDP payload.
const SafeRecvBufferSize = 65527

// ChallengeTokenSize is the size in bytes of a ChallengeToken.
const ChallengeTokenSize = 256

// ChallengeToken is 256 opaque random bytes generated fresh by the server
// per new connection attempt and echoed back by the client under AEAD to
// prove possession of the shared secret and reachability at the claimed
// address.
type ChallengeToken [ChallengeTokenSize]byte
