package discovery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/semblance-app/syncd/internal/crypto"
	"github.com/semblance-app/syncd/internal/pairing"
	"github.com/semblance-app/syncd/internal/types"
)

var (
	// ErrNotDiscovered is returned when pairing is initiated against a
	// device that is not currently visible on the network.
	ErrNotDiscovered = errors.New("device not discovered")

	// ErrUnknownRequest is returned when a pairing request ID is not held
	// by this manager.
	ErrUnknownRequest = errors.New("unknown pairing request")

	// ErrInvalidCode is returned when a pairing code fails validation
	// (wrong code, expired request, or non-pending status).
	ErrInvalidCode = errors.New("invalid pairing code")
)

// PairedFunc is notified when a pairing completes, so the sync engine can
// register the new peer's secret.
type PairedFunc func(device *types.PairedDevice)

// UnpairedFunc is notified when a device is unpaired.
type UnpairedFunc func(deviceID string)

// OnlineFunc is notified when a paired device becomes visible, carrying its
// current address, so the transport can route to it.
type OnlineFunc func(device types.PairedDevice)

// OfflineFunc is notified when a paired device disappears from the network.
type OfflineFunc func(deviceID string)

// Manager owns the discovered and paired device sets and the active pairing
// requests. All mutable state is guarded by a single mutex because provider
// callbacks arrive on their own goroutines.
type Manager struct {
	mu         sync.Mutex
	this       types.DeviceIdentity
	provider   Provider
	discovered map[string]types.DeviceIdentity
	paired     map[string]*types.PairedDevice
	requests   map[string]*types.PairingRequest
	started    bool

	onPaired   PairedFunc
	onUnpaired UnpairedFunc
	onOnline   OnlineFunc
	onOffline  OfflineFunc
}

// NewManager creates a discovery manager for the given local identity.
// provider may be nil; in that configuration Start and Stop do nothing and
// no devices are ever discovered.
func NewManager(this types.DeviceIdentity, provider Provider) *Manager {
	return &Manager{
		this:       this,
		provider:   provider,
		discovered: make(map[string]types.DeviceIdentity),
		paired:     make(map[string]*types.PairedDevice),
		requests:   make(map[string]*types.PairingRequest),
	}
}

// OnPaired registers a callback invoked after every successful pairing.
func (m *Manager) OnPaired(fn PairedFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onPaired = fn
}

// OnUnpaired registers a callback invoked after every unpair.
func (m *Manager) OnUnpaired(fn UnpairedFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUnpaired = fn
}

// OnPeerOnline registers a callback invoked when a paired device comes
// online or refreshes its address.
func (m *Manager) OnPeerOnline(fn OnlineFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOnline = fn
}

// OnPeerOffline registers a callback invoked when a paired device goes
// offline.
func (m *Manager) OnPeerOffline(fn OfflineFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOffline = fn
}

// Identity returns the local device identity.
func (m *Manager) Identity() types.DeviceIdentity {
	return m.this
}

// Start advertises this device and begins scanning. Idempotent; a no-op
// when no provider is injected.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.provider == nil || m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	provider := m.provider
	m.mu.Unlock()

	if err := provider.Advertise(ctx, m.this); err != nil {
		m.mu.Lock()
		m.started = false
		m.mu.Unlock()
		return err
	}
	if err := provider.StartDiscovery(ctx, m.handleFound, m.handleLost); err != nil {
		provider.StopAdvertising()
		m.mu.Lock()
		m.started = false
		m.mu.Unlock()
		return err
	}

	slog.Info("discovery started",
		"component", "discovery",
		"device_id", m.this.DeviceID,
		"service", types.ServiceType,
	)
	return nil
}

// Stop stops advertising and scanning. Safe without a provider and safe to
// call twice.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.provider == nil || !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	provider := m.provider
	m.mu.Unlock()

	provider.StopAdvertising()
	provider.StopDiscovery()
	slog.Info("discovery stopped", "component", "discovery", "device_id", m.this.DeviceID)
}

// handleFound records a discovered peer. The local device never discovers
// itself. A found device that is already paired comes back online.
func (m *Manager) handleFound(device types.DeviceIdentity) {
	if device.DeviceID == m.this.DeviceID {
		return
	}

	m.mu.Lock()
	m.discovered[device.DeviceID] = device

	var online *types.PairedDevice
	if p, ok := m.paired[device.DeviceID]; ok {
		p.IsOnline = true
		p.LastSeen = time.Now().UTC()
		p.IPAddress = device.IPAddress
		p.SyncPort = device.SyncPort
		copied := *p
		online = &copied
	}
	onOnline := m.onOnline
	m.mu.Unlock()

	if online != nil && onOnline != nil {
		onOnline(*online)
	}

	slog.Debug("device found",
		"component", "discovery",
		"device_id", device.DeviceID,
		"device_name", device.DeviceName,
		"device_type", device.DeviceType,
	)
}

// handleLost removes a peer from the discovered set. A paired record is
// only marked offline, never deleted by a loss event.
func (m *Manager) handleLost(deviceID string) {
	m.mu.Lock()
	delete(m.discovered, deviceID)

	wasPaired := false
	if p, ok := m.paired[deviceID]; ok {
		p.IsOnline = false
		wasPaired = true
	}
	onOffline := m.onOffline
	m.mu.Unlock()

	if wasPaired && onOffline != nil {
		onOffline(deviceID)
	}

	slog.Debug("device lost", "component", "discovery", "device_id", deviceID)
}

// DiscoveredDevices returns currently visible devices, excluding any that
// are already paired: a paired device never appears as discoverable.
func (m *Manager) DiscoveredDevices() []types.DeviceIdentity {
	m.mu.Lock()
	defer m.mu.Unlock()

	devices := make([]types.DeviceIdentity, 0, len(m.discovered))
	for id, d := range m.discovered {
		if _, ok := m.paired[id]; ok {
			continue
		}
		devices = append(devices, d)
	}
	return devices
}

// PairedDevices returns copies of all paired device records.
func (m *Manager) PairedDevices() []types.PairedDevice {
	m.mu.Lock()
	defer m.mu.Unlock()

	devices := make([]types.PairedDevice, 0, len(m.paired))
	for _, p := range m.paired {
		devices = append(devices, *p)
	}
	return devices
}

// PairedDevice returns the paired record for deviceID, if any.
func (m *Manager) PairedDevice(deviceID string) (types.PairedDevice, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.paired[deviceID]
	if !ok {
		return types.PairedDevice{}, false
	}
	return *p, true
}

// LoadPairedDevices seeds the paired set from the durable store at startup.
// Loaded devices start offline until discovery sees them again.
func (m *Manager) LoadPairedDevices(devices []types.PairedDevice) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range devices {
		d.IsOnline = false
		record := d
		m.paired[d.DeviceID] = &record
	}
}

// InitiatePairing creates a pairing request toward a currently discovered
// device. Fails with ErrNotDiscovered otherwise.
func (m *Manager) InitiatePairing(targetDeviceID string) (*types.PairingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.discovered[targetDeviceID]; !ok {
		return nil, ErrNotDiscovered
	}

	req, err := pairing.NewRequest(m.this.DeviceID, m.this.DeviceName)
	if err != nil {
		return nil, err
	}
	m.requests[req.ID] = req

	slog.Info("pairing initiated",
		"component", "discovery",
		"request_id", req.ID,
		"target_device_id", targetDeviceID,
	)
	return req, nil
}

// AcceptPairing validates the code for an active request and, on success,
// marks the request accepted and records the remote device as paired with a
// freshly derived shared secret. A failed validation mutates nothing except
// marking an expired request expired.
func (m *Manager) AcceptPairing(requestID, code string, remote types.DeviceIdentity) (*types.PairedDevice, error) {
	m.mu.Lock()

	req, ok := m.requests[requestID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrUnknownRequest
	}
	if !pairing.ValidateCode(req, code) {
		if req.Status == types.PairingPending && pairing.Expired(req) {
			req.Status = types.PairingExpired
		}
		m.mu.Unlock()
		slog.Warn("pairing code rejected",
			"component", "discovery",
			"request_id", requestID,
			"remote_device_id", remote.DeviceID,
		)
		return nil, ErrInvalidCode
	}

	req.Status = types.PairingAccepted
	now := time.Now().UTC()
	paired := &types.PairedDevice{
		DeviceIdentity: remote,
		PairedAt:       now,
		LastSeen:       now,
		IsOnline:       true,
		SharedSecret:   crypto.DeriveSharedSecret(code, m.this.DeviceID, remote.DeviceID),
	}
	m.paired[remote.DeviceID] = paired
	delete(m.requests, requestID)

	onPaired := m.onPaired
	record := *paired
	m.mu.Unlock()

	slog.Info("pairing accepted",
		"component", "discovery",
		"request_id", requestID,
		"remote_device_id", remote.DeviceID,
		"remote_device_type", remote.DeviceType,
	)
	if onPaired != nil {
		onPaired(&record)
	}
	return &record, nil
}

// RejectPairing marks a pending request rejected. Unknown request IDs are
// ignored.
func (m *Manager) RejectPairing(requestID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if req, ok := m.requests[requestID]; ok && req.Status == types.PairingPending {
		req.Status = types.PairingRejected
		delete(m.requests, requestID)
	}
}

// Request returns the active pairing request with the given ID, if any.
func (m *Manager) Request(requestID string) (types.PairingRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[requestID]
	if !ok {
		return types.PairingRequest{}, false
	}
	return *req, true
}

// Unpair removes the paired record for deviceID. Absent records are not an
// error.
func (m *Manager) Unpair(deviceID string) {
	m.mu.Lock()
	_, existed := m.paired[deviceID]
	delete(m.paired, deviceID)
	onUnpaired := m.onUnpaired
	m.mu.Unlock()

	if existed {
		slog.Info("device unpaired", "component", "discovery", "device_id", deviceID)
		if onUnpaired != nil {
			onUnpaired(deviceID)
		}
	}
}
