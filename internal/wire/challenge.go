package wire

import (
	"crypto/rand"
	"io"
)

// GenerateChallengeToken returns a fresh 256-byte random ChallengeToken.
func GenerateChallengeToken() (ChallengeToken, error) {
	var t ChallengeToken
	if _, err := io.ReadFull(rand.Reader, t[:]); err != nil {
		return ChallengeToken{}, err
	}
	return t, nil
}
