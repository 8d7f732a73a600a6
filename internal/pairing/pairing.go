// Package pairing implements the time-boxed numeric code handshake that
// establishes trust between two devices. Codes travel out of band (QR or
// manual entry); requests expire five minutes after creation and are never
// reused once they reach a terminal status.
package pairing

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/semblance-app/syncd/internal/types"
)

const (
	codeMin  = 100000
	codeSpan = 900000
)

// GenerateCode returns a 6-digit pairing code in [100000, 999999] drawn
// from the platform CSPRNG. Codes are not derivable from request metadata.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpan))
	if err != nil {
		return "", fmt.Errorf("generate pairing code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+codeMin), nil
}

// NewRequest creates a pending pairing request from the given initiator.
func NewRequest(fromDeviceID, fromDeviceName string) (*types.PairingRequest, error) {
	code, err := GenerateCode()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &types.PairingRequest{
		ID:             ulid.Make().String(),
		FromDeviceID:   fromDeviceID,
		FromDeviceName: fromDeviceName,
		Code:           code,
		CreatedAt:      now,
		ExpiresAt:      now.Add(types.PairingCodeTTL),
		Status:         types.PairingPending,
	}, nil
}

// ValidateCode reports whether code matches the request. It is true only
// while the request is pending, unexpired, and the code is an exact string
// match; no normalization is applied. Side-effect free.
func ValidateCode(req *types.PairingRequest, code string) bool {
	if req == nil {
		return false
	}
	if req.Status != types.PairingPending {
		return false
	}
	if time.Now().After(req.ExpiresAt) {
		return false
	}
	return req.Code == code
}

// Expired reports whether the request's expiry has passed, independent of
// its status.
func Expired(req *types.PairingRequest) bool {
	if req == nil {
		return true
	}
	return time.Now().After(req.ExpiresAt)
}
