// Package transport moves encrypted sync payloads between paired devices on
// the local network. Only types.EncryptedSyncPayload ever crosses this
// boundary; a manifest never appears in plaintext on the wire.
package transport

import (
	"context"
	"errors"

	"github.com/semblance-app/syncd/internal/types"
)

// ErrUnreachable is returned by Send when the peer's address is unknown or
// the connection fails. Transport failures are expected steady-state
// conditions (peer asleep, roamed off the network), never fatal.
var ErrUnreachable = errors.New("device unreachable")

// Handler processes an inbound encrypted payload and returns the encrypted
// response to hand back to the sender, or nil when the payload cannot be
// served (unknown sender, integrity failure).
type Handler func(payload *types.EncryptedSyncPayload) *types.EncryptedSyncPayload

// Provider is the injected transport collaborator.
type Provider interface {
	// Send delivers a payload to the device and returns the peer's
	// encrypted response. Unreachable peers yield ErrUnreachable.
	Send(ctx context.Context, deviceID string, payload *types.EncryptedSyncPayload) (*types.EncryptedSyncPayload, error)

	// OnReceive registers the handler for inbound payloads.
	OnReceive(handler Handler)

	// Reachable reports whether the transport can currently address the
	// device.
	Reachable(deviceID string) bool
}
