package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
)

// ErrDecrypt is returned when authenticated decryption fails, either from a
// wrong secret or a modified ciphertext. The underlying cause is not
// distinguished to callers.
var ErrDecrypt = errors.New("decryption failed")

// AESGCM is the production Provider: AES-256-GCM for confidentiality and
// HMAC-SHA256 for the detached integrity tag. Shared secrets of any length
// are hashed down to a 256-bit cipher key.
type AESGCM struct{}

// NewAESGCM returns the production crypto provider.
func NewAESGCM() *AESGCM {
	return &AESGCM{}
}

// Encrypt encrypts plaintext under sharedSecret with a fresh random nonce.
func (a *AESGCM) Encrypt(plaintext, sharedSecret []byte) ([]byte, []byte, error) {
	gcm, err := newGCM(sharedSecret)
	if err != nil {
		return nil, nil, err
	}

	iv := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}

	return gcm.Seal(nil, iv, plaintext, nil), iv, nil
}

// Decrypt decrypts ciphertext with the given IV. A wrong secret or altered
// ciphertext yields ErrDecrypt.
func (a *AESGCM) Decrypt(ciphertext, iv, sharedSecret []byte) ([]byte, error) {
	gcm, err := newGCM(sharedSecret)
	if err != nil {
		return nil, err
	}
	if len(iv) != gcm.NonceSize() {
		return nil, ErrDecrypt
	}

	plaintext, err := gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// HMAC computes an HMAC-SHA256 tag over data under key.
func (a *AESGCM) HMAC(data, key []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// HMACEqual compares two tags in constant time.
func HMACEqual(a, b []byte) bool {
	return hmac.Equal(a, b)
}

func newGCM(sharedSecret []byte) (cipher.AEAD, error) {
	key := sha256.Sum256(sharedSecret)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}
