package types

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oklog/ulid/v2"
)

// NewIdentity creates a fresh device identity with a generated device ID.
func NewIdentity(name string, deviceType DeviceType, platform string, syncPort int) DeviceIdentity {
	return DeviceIdentity{
		DeviceID:        ulid.Make().String(),
		DeviceName:      name,
		DeviceType:      deviceType,
		Platform:        platform,
		ProtocolVersion: ProtocolVersion,
		SyncPort:        syncPort,
	}
}

// LoadOrCreateIdentity loads the persisted device identity from path, or
// creates and persists a new one when none exists. The device ID from a
// loaded identity is kept verbatim; name, type, platform and port are
// refreshed from the arguments so configuration changes take effect without
// minting a new device ID.
func LoadOrCreateIdentity(path, name string, deviceType DeviceType, platform string, syncPort int) (DeviceIdentity, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		var id DeviceIdentity
		if err := json.Unmarshal(data, &id); err != nil {
			return DeviceIdentity{}, fmt.Errorf("parsing identity file %s: %w", path, err)
		}
		if id.DeviceID == "" {
			return DeviceIdentity{}, fmt.Errorf("identity file %s has no device id", path)
		}
		id.DeviceName = name
		id.DeviceType = deviceType
		id.Platform = platform
		id.SyncPort = syncPort
		id.ProtocolVersion = ProtocolVersion
		return id, nil
	}
	if !os.IsNotExist(err) {
		return DeviceIdentity{}, fmt.Errorf("reading identity file %s: %w", path, err)
	}

	id := NewIdentity(name, deviceType, platform, syncPort)
	if err := saveIdentity(path, id); err != nil {
		return DeviceIdentity{}, err
	}
	return id, nil
}

func saveIdentity(path string, id DeviceIdentity) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create identity directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return fmt.Errorf("encode identity: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write identity file: %w", err)
	}
	return nil
}
