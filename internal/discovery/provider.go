// Package discovery tracks devices on the local network and drives the
// pairing handshake. Advertising and scanning are delegated to an injected
// Provider; a manager with no provider is a valid configuration in which
// Start and Stop are no-ops.
package discovery

import (
	"context"

	"github.com/semblance-app/syncd/internal/types"
)

// FoundFunc is invoked when a peer appears on the local network.
type FoundFunc func(device types.DeviceIdentity)

// LostFunc is invoked when a previously found peer disappears.
type LostFunc func(deviceID string)

// Provider is the platform discovery collaborator (mDNS/Bonjour/NSD).
// Callbacks are delivered asynchronously; implementations must confine
// themselves to the local network.
type Provider interface {
	// Advertise announces the given identity under types.ServiceType.
	Advertise(ctx context.Context, identity types.DeviceIdentity) error

	// StopAdvertising withdraws the announcement. Safe to call when not
	// advertising.
	StopAdvertising()

	// StartDiscovery begins scanning, reporting peers through the callbacks.
	StartDiscovery(ctx context.Context, onFound FoundFunc, onLost LostFunc) error

	// StopDiscovery stops scanning. Safe to call when not scanning.
	StopDiscovery()
}
