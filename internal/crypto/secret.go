package crypto

import (
	"crypto/sha256"

	"golang.org/x/crypto/pbkdf2"
)

const (
	secretIterations = 100000
	secretLength     = 32
)

// DeriveSharedSecret derives the symmetric pairing secret from the pairing
// code and the two device IDs. Both devices hold all three inputs after a
// successful code exchange, so both derive the identical secret without an
// extra round trip. The salt orders the device IDs lexicographically so the
// derivation is symmetric in its arguments.
//
// TODO: replace with an ECDH agreement bound to the pairing code so the
// secret stops being a pure function of the (short) code.
func DeriveSharedSecret(code, deviceID, peerDeviceID string) []byte {
	lo, hi := deviceID, peerDeviceID
	if lo > hi {
		lo, hi = hi, lo
	}
	salt := []byte("semblance-pairing-v1:" + lo + ":" + hi)
	return pbkdf2.Key([]byte(code), salt, secretIterations, secretLength, sha256.New)
}
