// Package crypto defines the authenticated-encryption contract the sync
// engine depends on, plus the production AES-GCM/HMAC-SHA256 implementation
// and the shared-secret derivation used at pairing time.
package crypto

// Provider is the injected symmetric-crypto collaborator. Implementations
// must fail decryption on a wrong secret and produce deterministic HMAC
// tags (same input, same tag).
type Provider interface {
	// Encrypt encrypts plaintext under the shared secret, returning the
	// ciphertext and the IV/nonce used.
	Encrypt(plaintext, sharedSecret []byte) (ciphertext, iv []byte, err error)

	// Decrypt reverses Encrypt. It returns an error when the secret is
	// wrong or the ciphertext has been modified.
	Decrypt(ciphertext, iv, sharedSecret []byte) ([]byte, error)

	// HMAC computes an integrity tag over data under key.
	HMAC(data, key []byte) []byte
}
