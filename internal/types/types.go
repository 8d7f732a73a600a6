package types

import (
	"encoding/json"
	"time"
)

// Protocol constants shared by discovery, pairing and sync.
const (
	// ProtocolVersion is the sync wire protocol version. Both peers must
	// advertise the same version before a manifest exchange is attempted.
	ProtocolVersion = 1

	// ServiceType is the mDNS service type advertised on the local network.
	ServiceType = "_semblance._tcp.local."

	// PairingCodeTTL is how long a pairing code stays valid after creation.
	PairingCodeTTL = 5 * time.Minute

	// DefaultSyncInterval is the default period between scheduled sync rounds.
	DefaultSyncInterval = 60 * time.Second

	// MaxInitialSyncAge bounds the first-contact delta: when no prior sync
	// with a peer exists, only items updated within this window are sent.
	MaxInitialSyncAge = 7 * 24 * time.Hour
)

// DeviceType classifies a device as the desktop or mobile instance.
type DeviceType string

const (
	DeviceTypeDesktop DeviceType = "desktop"
	DeviceTypeMobile  DeviceType = "mobile"
)

// ItemType is the sync category of an item. Conflict rules are per-category.
type ItemType string

const (
	ItemTypePreference       ItemType = "preference"
	ItemTypeActionTrail      ItemType = "action_trail"
	ItemTypeStyleProfile     ItemType = "style_profile"
	ItemTypeReminder         ItemType = "reminder"
	ItemTypeCapture          ItemType = "capture"
	ItemTypeDeviceCapability ItemType = "device_capability"
)

// DeviceIdentity describes a device on the local network.
// DeviceID is generated once, persisted, and never changes; it is the join
// key across discovery, pairing and sync.
type DeviceIdentity struct {
	DeviceID        string     `json:"deviceId"`
	DeviceName      string     `json:"deviceName"`
	DeviceType      DeviceType `json:"deviceType"`
	Platform        string     `json:"platform"`
	ProtocolVersion int        `json:"protocolVersion"`
	SyncPort        int        `json:"syncPort"`
	IPAddress       string     `json:"ipAddress,omitempty"`
}

// PairedDevice is a durable record of a completed pairing.
// The shared secret is derived at pairing time and held symmetrically on
// both devices; it never crosses the wire.
type PairedDevice struct {
	DeviceIdentity
	PairedAt     time.Time `json:"pairedAt"`
	LastSeen     time.Time `json:"lastSeen"`
	IsOnline     bool      `json:"isOnline"`
	SharedSecret []byte    `json:"sharedSecret"`
}

// PairingStatus is the lifecycle state of a pairing request.
// Transitions are forward-only: pending -> accepted | rejected | expired.
type PairingStatus string

const (
	PairingPending  PairingStatus = "pending"
	PairingAccepted PairingStatus = "accepted"
	PairingRejected PairingStatus = "rejected"
	PairingExpired  PairingStatus = "expired"
)

// PairingRequest is the short-lived record backing one pairing attempt.
// The code travels out of band (QR or manual entry); the request itself
// is discarded once it reaches a terminal status.
type PairingRequest struct {
	ID             string        `json:"id"`
	FromDeviceID   string        `json:"fromDeviceId"`
	FromDeviceName string        `json:"fromDeviceName"`
	Code           string        `json:"code"`
	CreatedAt      time.Time     `json:"createdAt"`
	ExpiresAt      time.Time     `json:"expiresAt"`
	Status         PairingStatus `json:"status"`
}

// SyncItem is one synchronizable unit of user data. Identity is the ID
// alone; a store holds at most one item per ID and upsert replaces in
// place. UpdatedAt is the only versioning signal.
type SyncItem struct {
	ID             string          `json:"id"`
	Type           ItemType        `json:"type"`
	Data           json.RawMessage `json:"data"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	SourceDeviceID string          `json:"sourceDeviceId"`
}

// SyncManifest is the delta a device sends to one peer. When LastSyncAt is
// nil (first contact) it carries every item updated within MaxInitialSyncAge;
// otherwise only items strictly newer than LastSyncAt.
type SyncManifest struct {
	DeviceID        string     `json:"deviceId"`
	DeviceName      string     `json:"deviceName"`
	LastSyncAt      *time.Time `json:"lastSyncAt"`
	Items           []SyncItem `json:"items"`
	ProtocolVersion int        `json:"protocolVersion"`
}

// Resolution says which side of a conflict won.
type Resolution string

const (
	ResolutionLocalWins  Resolution = "local_wins"
	ResolutionRemoteWins Resolution = "remote_wins"
	ResolutionMerged     Resolution = "merged"
)

// Winner identifies the copy accepted into the store.
type Winner string

const (
	WinnerLocal  Winner = "local"
	WinnerRemote Winner = "remote"
)

// SyncConflict records one resolved collision between a local and a remote
// copy of the same item. Reason is human-readable, for logs and tests.
type SyncConflict struct {
	ItemID     string     `json:"itemId"`
	Type       ItemType   `json:"type"`
	Resolution Resolution `json:"resolution"`
	Reason     string     `json:"reason"`
	Winner     Winner     `json:"winner"`
}

// SyncResult is the outcome of applying one remote manifest.
type SyncResult struct {
	Accepted  int            `json:"accepted"`
	Rejected  int            `json:"rejected"`
	Conflicts []SyncConflict `json:"conflicts"`
	SyncedAt  time.Time      `json:"syncedAt"`
}

// EncryptedSyncPayload is the only representation of a manifest that ever
// crosses the transport boundary. The HMAC covers the ciphertext and is
// verified before any decryption is attempted.
type EncryptedSyncPayload struct {
	Ciphertext     []byte `json:"ciphertext"`
	IV             []byte `json:"iv"`
	HMAC           []byte `json:"hmac"`
	SenderDeviceID string `json:"senderDeviceId"`
}

// MarshalJSON ensures a nil item slice in SyncManifest marshals as [] not null.
func (m SyncManifest) MarshalJSON() ([]byte, error) {
	if m.Items == nil {
		m.Items = []SyncItem{}
	}
	type Alias SyncManifest
	return json.Marshal(Alias(m))
}

// MarshalJSON ensures a nil conflict slice in SyncResult marshals as [] not null.
func (r SyncResult) MarshalJSON() ([]byte, error) {
	if r.Conflicts == nil {
		r.Conflicts = []SyncConflict{}
	}
	type Alias SyncResult
	return json.Marshal(Alias(r))
}
