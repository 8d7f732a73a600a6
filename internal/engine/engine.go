// Package engine owns the local sync item store and runs the encrypted
// manifest exchange with paired devices: it builds delta manifests, merges
// remote manifests through the conflict rules, and drives the injected
// crypto and transport providers.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/semblance-app/syncd/internal/conflict"
	"github.com/semblance-app/syncd/internal/crypto"
	"github.com/semblance-app/syncd/internal/transport"
	"github.com/semblance-app/syncd/internal/types"
)

// Store is the delegated persistence boundary. The engine's in-memory maps
// stay authoritative; writes through the store are best effort and a
// failure never fails the sync round.
type Store interface {
	SaveItem(ctx context.Context, item types.SyncItem) error
	SaveLastSync(ctx context.Context, deviceID string, t time.Time) error
	DeleteLastSync(ctx context.Context, deviceID string) error
}

// Config wires an Engine. Crypto, Transport and Store are optional; every
// operation that needs a missing collaborator fails with its sentinel
// error instead of dereferencing nil.
type Config struct {
	DeviceID   string
	DeviceName string
	DeviceType types.DeviceType
	Crypto     crypto.Provider
	Transport  transport.Provider
	Store      Store

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Engine holds all per-device sync state. Provider callbacks and the
// periodic scheduler touch it from their own goroutines, so a single mutex
// guards the maps.
type Engine struct {
	mu         sync.Mutex
	deviceID   string
	deviceName string
	deviceType types.DeviceType

	items     map[string]types.SyncItem
	lastSync  map[string]time.Time
	secrets   map[string][]byte
	peerTypes map[string]types.DeviceType

	crypto    crypto.Provider
	transport transport.Provider
	store     Store
	now       func() time.Time
}

// New creates a sync engine from cfg.
func New(cfg Config) *Engine {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		deviceID:   cfg.DeviceID,
		deviceName: cfg.DeviceName,
		deviceType: cfg.DeviceType,
		items:      make(map[string]types.SyncItem),
		lastSync:   make(map[string]time.Time),
		secrets:    make(map[string][]byte),
		peerTypes:  make(map[string]types.DeviceType),
		crypto:     cfg.Crypto,
		transport:  cfg.Transport,
		store:      cfg.Store,
		now:        now,
	}
}

// UpsertItem overwrites the item with the same ID unconditionally. No merge
// happens here; merging only applies to remote manifests.
func (e *Engine) UpsertItem(item types.SyncItem) {
	e.mu.Lock()
	e.items[item.ID] = item
	store := e.store
	e.mu.Unlock()

	if store != nil {
		if err := store.SaveItem(context.Background(), item); err != nil {
			slog.Warn("item persist failed",
				"component", "engine",
				"item_id", item.ID,
				"error", err,
			)
		}
	}
}

// Item returns the local copy of an item, if present.
func (e *Engine) Item(id string) (types.SyncItem, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	item, ok := e.items[id]
	return item, ok
}

// LoadItems seeds the in-memory store from persistence at startup.
func (e *Engine) LoadItems(items []types.SyncItem) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, item := range items {
		e.items[item.ID] = item
	}
}

// LoadLastSyncTimes seeds the per-peer sync horizon from persistence.
func (e *Engine) LoadLastSyncTimes(times map[string]time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, t := range times {
		e.lastSync[id] = t
	}
}

// ChangedSince is the formal definition of a delta. With a nil horizon it
// returns items updated within MaxInitialSyncAge; otherwise items strictly
// newer than the horizon. Results are ordered by UpdatedAt.
func (e *Engine) ChangedSince(since *time.Time) []types.SyncItem {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-types.MaxInitialSyncAge)
	if since != nil {
		cutoff = *since
	}

	changed := make([]types.SyncItem, 0)
	for _, item := range e.items {
		if item.UpdatedAt.After(cutoff) {
			changed = append(changed, item)
		}
	}
	sort.Slice(changed, func(i, j int) bool {
		return changed[i].UpdatedAt.Before(changed[j].UpdatedAt)
	})
	return changed
}

// LastSyncTime returns the sync horizon for a peer, nil on first contact.
func (e *Engine) LastSyncTime(deviceID string) *time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.lastSync[deviceID]
	if !ok {
		return nil
	}
	return &t
}

// BuildManifest builds the delta manifest for one target peer.
func (e *Engine) BuildManifest(targetDeviceID string) types.SyncManifest {
	since := e.LastSyncTime(targetDeviceID)
	return types.SyncManifest{
		DeviceID:        e.deviceID,
		DeviceName:      e.deviceName,
		LastSyncAt:      since,
		Items:           e.ChangedSince(since),
		ProtocolVersion: types.ProtocolVersion,
	}
}

// ApplyManifest merges a remote manifest into the local store. New IDs are
// accepted unconditionally; colliding IDs go through the conflict rules and
// only a remote win overwrites the local copy. Successful contact advances
// the peer's sync horizon even when the manifest is empty.
func (e *Engine) ApplyManifest(manifest types.SyncManifest, remoteType types.DeviceType) types.SyncResult {
	e.mu.Lock()

	result := types.SyncResult{Conflicts: []types.SyncConflict{}}
	var persist []types.SyncItem

	for _, remote := range manifest.Items {
		local, exists := e.items[remote.ID]
		if !exists {
			e.items[remote.ID] = remote
			persist = append(persist, remote)
			result.Accepted++
			continue
		}

		c := conflict.Resolve(local, remote, e.deviceType, remoteType)
		result.Conflicts = append(result.Conflicts, c)
		if c.Winner == types.WinnerRemote {
			e.items[remote.ID] = remote
			persist = append(persist, remote)
			result.Accepted++
		} else {
			result.Rejected++
		}
	}

	syncedAt := e.now().UTC()
	e.lastSync[manifest.DeviceID] = syncedAt
	result.SyncedAt = syncedAt
	store := e.store
	e.mu.Unlock()

	if store != nil {
		ctx := context.Background()
		for _, item := range persist {
			if err := store.SaveItem(ctx, item); err != nil {
				slog.Warn("item persist failed", "component", "engine", "item_id", item.ID, "error", err)
			}
		}
		if err := store.SaveLastSync(ctx, manifest.DeviceID, syncedAt); err != nil {
			slog.Warn("last-sync persist failed", "component", "engine", "device_id", manifest.DeviceID, "error", err)
		}
	}

	slog.Info("manifest applied",
		"component", "engine",
		"action", "apply_manifest",
		"remote_device_id", manifest.DeviceID,
		"items", len(manifest.Items),
		"accepted", result.Accepted,
		"rejected", result.Rejected,
		"conflicts", len(result.Conflicts),
	)
	return result
}

// RegisterPairedDevice records the shared secret and role for a peer.
func (e *Engine) RegisterPairedDevice(deviceID string, secret []byte, deviceType types.DeviceType) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.secrets[deviceID] = secret
	e.peerTypes[deviceID] = deviceType
}

// RemovePairedDevice forgets a peer's secret and sync horizon, so a future
// re-pair starts from a fresh first-contact sync (bounded by the 7-day
// window).
func (e *Engine) RemovePairedDevice(deviceID string) {
	e.mu.Lock()
	delete(e.secrets, deviceID)
	delete(e.peerTypes, deviceID)
	delete(e.lastSync, deviceID)
	store := e.store
	e.mu.Unlock()

	if store != nil {
		if err := store.DeleteLastSync(context.Background(), deviceID); err != nil {
			slog.Warn("last-sync delete failed", "component", "engine", "device_id", deviceID, "error", err)
		}
	}
}

// EncryptManifest serializes and encrypts a manifest for the target peer
// and tags the ciphertext with an HMAC under the same shared secret.
func (e *Engine) EncryptManifest(manifest types.SyncManifest, targetDeviceID string) (*types.EncryptedSyncPayload, error) {
	e.mu.Lock()
	provider := e.crypto
	secret, ok := e.secrets[targetDeviceID]
	e.mu.Unlock()

	if provider == nil {
		return nil, ErrNoCrypto
	}
	if !ok {
		return nil, ErrNotPaired
	}

	plaintext, err := json.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	ciphertext, iv, err := provider.Encrypt(plaintext, secret)
	if err != nil {
		return nil, fmt.Errorf("encrypt manifest: %w", err)
	}

	return &types.EncryptedSyncPayload{
		Ciphertext:     ciphertext,
		IV:             iv,
		HMAC:           provider.HMAC(ciphertext, secret),
		SenderDeviceID: e.deviceID,
	}, nil
}

// DecryptPayload verifies and decrypts an inbound payload. The HMAC over
// the ciphertext is checked first; on mismatch the payload is discarded
// without attempting decryption.
func (e *Engine) DecryptPayload(payload *types.EncryptedSyncPayload) (*types.SyncManifest, error) {
	e.mu.Lock()
	provider := e.crypto
	secret, ok := e.secrets[payload.SenderDeviceID]
	e.mu.Unlock()

	if provider == nil {
		return nil, ErrNoCrypto
	}
	if !ok {
		return nil, ErrNotPaired
	}

	expected := provider.HMAC(payload.Ciphertext, secret)
	if !crypto.HMACEqual(expected, payload.HMAC) {
		slog.Warn("payload integrity check failed",
			"component", "engine",
			"action", "decrypt_payload",
			"sender_device_id", payload.SenderDeviceID,
		)
		return nil, ErrIntegrity
	}

	plaintext, err := provider.Decrypt(payload.Ciphertext, payload.IV, secret)
	if err != nil {
		return nil, fmt.Errorf("decrypt payload: %w", err)
	}

	var manifest types.SyncManifest
	if err := json.Unmarshal(plaintext, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &manifest, nil
}

// SyncWithDevice runs one full round with a peer: build, encrypt, send,
// decrypt the reply, merge. Any missing precondition or transport failure
// surfaces as an error and leaves local state untouched.
func (e *Engine) SyncWithDevice(ctx context.Context, targetDeviceID string) (*types.SyncResult, error) {
	e.mu.Lock()
	tr := e.transport
	provider := e.crypto
	_, paired := e.secrets[targetDeviceID]
	remoteType := e.peerTypes[targetDeviceID]
	e.mu.Unlock()

	if tr == nil {
		return nil, ErrNoTransport
	}
	if provider == nil {
		return nil, ErrNoCrypto
	}
	if !paired {
		return nil, ErrNotPaired
	}
	if !tr.Reachable(targetDeviceID) {
		return nil, ErrUnreachable
	}

	manifest := e.BuildManifest(targetDeviceID)
	payload, err := e.EncryptManifest(manifest, targetDeviceID)
	if err != nil {
		return nil, err
	}

	reply, err := tr.Send(ctx, targetDeviceID, payload)
	if err != nil {
		return nil, err
	}
	if reply == nil {
		return nil, ErrEmptyReply
	}

	remoteManifest, err := e.DecryptPayload(reply)
	if err != nil {
		return nil, err
	}

	result := e.ApplyManifest(*remoteManifest, remoteType)
	return &result, nil
}

// Respond serves one inbound exchange: decrypt and merge the sender's
// manifest, then answer with our own delta for that sender, encrypted. A
// nil return means the payload could not be served; the caller reveals
// nothing further to the sender.
func (e *Engine) Respond(payload *types.EncryptedSyncPayload) *types.EncryptedSyncPayload {
	manifest, err := e.DecryptPayload(payload)
	if err != nil {
		slog.Warn("inbound exchange rejected",
			"component", "engine",
			"action", "respond",
			"sender_device_id", payload.SenderDeviceID,
			"error", err,
		)
		return nil
	}

	e.mu.Lock()
	remoteType := e.peerTypes[payload.SenderDeviceID]
	e.mu.Unlock()

	// Build the response before merging so the reply carries our state
	// relative to the previous horizon, mirroring what the initiator
	// computed against.
	response := e.BuildManifest(payload.SenderDeviceID)
	e.ApplyManifest(*manifest, remoteType)

	reply, err := e.EncryptManifest(response, payload.SenderDeviceID)
	if err != nil {
		slog.Warn("exchange reply encryption failed",
			"component", "engine",
			"sender_device_id", payload.SenderDeviceID,
			"error", err,
		)
		return nil
	}
	return reply
}
