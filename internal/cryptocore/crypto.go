// Package cryptocore provides the connection layer's cryptographic
// primitives: X25519 key exchange with an explicit contributory check, and
// XChaCha20-Poly1305 authenticated encryption with random 192-bit nonces.
//
// This mirrors the donor's own internal/crypto (X25519 generation and
// ECDH, including its all-zero-key and all-zero-result rejection) but
// drops the HKDF session-key derivation and counter-based nonce scheme:
// the shared secret here is used directly as the AEAD key, and nonces are
// random and wide enough (192 bits, via chacha20poly1305.NewX) to need no
// counter, per spec.
package cryptocore

import (
	"crypto/rand"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

const (
	// KeySize is the size in bytes of an X25519 key and a SharedSecret.
	KeySize = 32

	// NonceSize is the size in bytes of a Nonce, matching
	// chacha20poly1305.NewX's 192-bit nonce.
	NonceSize = 24

	// TagSize is the size in bytes of the Poly1305 authentication tag
	// appended to every ciphertext.
	TagSize = 16
)

// ErrNonContributory is returned by Exchange when either the peer's public
// key or the resulting shared point is the all-zero low-order point. A
// connection must never proceed with a degenerate secret.
var ErrNonContributory = errors.New("cryptocore: non-contributory key exchange")

// ErrDecrypt is the single, deliberately uninformative error returned for
// every AEAD decryption failure: bad key, bad tag, truncated ciphertext.
// Callers must not distinguish these cases.
var ErrDecrypt = errors.New("cryptocore: decryption failed")

// PublicKey is a 32-byte X25519 public key. It round-trips as 32 raw
// bytes with no internal structure.
type PublicKey [KeySize]byte

// IsZero reports whether k is the all-zero key.
func (k PublicKey) IsZero() bool {
	return k == PublicKey{}
}

// PrivateKey is an X25519 secret scalar. The zero value is not a valid key;
// use GeneratePrivateKey.
type PrivateKey [KeySize]byte

// SharedSecret is the 32-byte symmetric key resulting from a contributory
// X25519 exchange. It is used directly as an XChaCha20-Poly1305 key for
// both directions of a connection.
type SharedSecret [KeySize]byte

// Nonce is a 24-byte value freshly generated from a CSPRNG for every sealed
// packet. It must never repeat under a given key; XChaCha20's 192-bit
// nonce space makes random generation safe without a counter.
type Nonce [NonceSize]byte

// GenerateNonce returns a fresh random Nonce.
func GenerateNonce() (Nonce, error) {
	var n Nonce
	if _, err := io.ReadFull(rand.Reader, n[:]); err != nil {
		return Nonce{}, err
	}
	return n, nil
}

// GeneratePrivateKey generates a fresh X25519 private key from a CSPRNG,
// clamped per the X25519 specification.
func GeneratePrivateKey() (PrivateKey, error) {
	var priv PrivateKey
	if _, err := io.ReadFull(rand.Reader, priv[:]); err != nil {
		return PrivateKey{}, err
	}
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64
	return priv, nil
}

// Public derives the public key corresponding to priv.
func (priv PrivateKey) Public() PublicKey {
	var pub PublicKey
	curve25519.ScalarBaseMult((*[32]byte)(&pub), (*[32]byte)(&priv))
	return pub
}

// Exchange performs the X25519 Diffie-Hellman computation between priv and
// peerPublic, returning ErrNonContributory if either the peer's key or the
// resulting point is the all-zero low-order point.
func (priv PrivateKey) Exchange(peerPublic PublicKey) (SharedSecret, error) {
	if peerPublic.IsZero() {
		return SharedSecret{}, ErrNonContributory
	}
	var secret SharedSecret
	curve25519.ScalarMult((*[32]byte)(&secret), (*[32]byte)(&priv), (*[32]byte)(&peerPublic))
	if secret == (SharedSecret{}) {
		return SharedSecret{}, ErrNonContributory
	}
	return secret, nil
}

// Zero overwrites priv with zeros. Call this as soon as a private key's
// shared secret has been computed; private keys never leave the
// connection that generated them.
func (priv *PrivateKey) Zero() {
	for i := range priv {
		priv[i] = 0
	}
}

// Encrypt seals plaintext under secret with a fresh random nonce, returning
// the nonce and the ciphertext (which includes the appended Poly1305 tag).
// Encryption always succeeds for valid inputs.
func Encrypt(secret SharedSecret, plaintext []byte) (Nonce, []byte, error) {
	nonce, err := GenerateNonce()
	if err != nil {
		return Nonce{}, nil, err
	}
	ciphertext, err := EncryptWithNonce(secret, nonce, plaintext)
	if err != nil {
		return Nonce{}, nil, err
	}
	return nonce, ciphertext, nil
}

// EncryptWithNonce seals plaintext under secret using the given nonce. It
// exists for callers (and tests) that supply their own nonce; production
// code should prefer Encrypt, which generates one randomly per call.
func EncryptWithNonce(secret SharedSecret, nonce Nonce, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(secret[:])
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce[:], plaintext, nil), nil
}

// Decrypt opens ciphertext that was sealed under secret with nonce. Any
// failure — wrong key, corrupted ciphertext, truncated input — collapses
// to the single opaque ErrDecrypt; the caller must not leak which.
func Decrypt(secret SharedSecret, nonce Nonce, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(secret[:])
	if err != nil {
		return nil, ErrDecrypt
	}
	plaintext, err := aead.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}
