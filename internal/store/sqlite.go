// Package store persists sync items, paired devices and per-peer sync
// horizons in a local SQLite database. The engine's in-memory state is
// authoritative at runtime; the store exists so a daemon restart resumes
// with the same devices and delta horizons.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/semblance-app/syncd/internal/types"
	_ "modernc.org/sqlite"
)

// SQLiteStore represents the SQLite-backed sync database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore instance.
// It initializes the database with WAL mode, applies pragmas, and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// enablePragmas sets SQLite pragmas for optimal performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveItem inserts or replaces a sync item.
func (s *SQLiteStore) SaveItem(ctx context.Context, item types.SyncItem) error {
	data := item.Data
	if data == nil {
		data = json.RawMessage("null")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_items (id, item_type, data, updated_at, source_device_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			item_type = excluded.item_type,
			data = excluded.data,
			updated_at = excluded.updated_at,
			source_device_id = excluded.source_device_id
	`, item.ID, string(item.Type), string(data), item.UpdatedAt.UTC().Format(time.RFC3339Nano), item.SourceDeviceID)
	if err != nil {
		return fmt.Errorf("save item: %w", err)
	}
	return nil
}

// GetItem retrieves a sync item by ID.
func (s *SQLiteStore) GetItem(ctx context.Context, id string) (*types.SyncItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, item_type, data, updated_at, source_device_id
		FROM sync_items
		WHERE id = ?
	`, id)

	item, err := scanSyncItem(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan row: %w", err)
	}
	return item, nil
}

// ListItems returns all sync items ordered by update time.
func (s *SQLiteStore) ListItems(ctx context.Context) ([]types.SyncItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_type, data, updated_at, source_device_id
		FROM sync_items
		ORDER BY updated_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []types.SyncItem
	for rows.Next() {
		item, err := scanSyncItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return items, nil
}

func scanSyncItem(scanner interface{ Scan(...any) error }) (*types.SyncItem, error) {
	var item types.SyncItem
	var itemType, data, updatedAt string

	if err := scanner.Scan(&item.ID, &itemType, &data, &updatedAt, &item.SourceDeviceID); err != nil {
		return nil, err
	}

	item.Type = types.ItemType(itemType)
	item.Data = json.RawMessage(data)
	t, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	item.UpdatedAt = t
	return &item, nil
}

// SavePairedDevice inserts or replaces a paired device record. Runtime
// fields (online state, current IP) are not persisted.
func (s *SQLiteStore) SavePairedDevice(ctx context.Context, device types.PairedDevice) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO paired_devices (device_id, device_name, device_type, platform, sync_port, shared_secret, paired_at, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			device_name = excluded.device_name,
			device_type = excluded.device_type,
			platform = excluded.platform,
			sync_port = excluded.sync_port,
			shared_secret = excluded.shared_secret,
			last_seen = excluded.last_seen
	`, device.DeviceID, device.DeviceName, string(device.DeviceType), device.Platform,
		device.SyncPort, device.SharedSecret,
		device.PairedAt.UTC().Format(time.RFC3339Nano),
		device.LastSeen.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save paired device: %w", err)
	}
	return nil
}

// ListPairedDevices returns all persisted pairings. Devices come back
// offline; presence is re-established by discovery.
func (s *SQLiteStore) ListPairedDevices(ctx context.Context) ([]types.PairedDevice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT device_id, device_name, device_type, platform, sync_port, shared_secret, paired_at, last_seen
		FROM paired_devices
		ORDER BY paired_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query paired devices: %w", err)
	}
	defer rows.Close()

	var devices []types.PairedDevice
	for rows.Next() {
		var d types.PairedDevice
		var deviceType, pairedAt, lastSeen string

		if err := rows.Scan(&d.DeviceID, &d.DeviceName, &deviceType, &d.Platform,
			&d.SyncPort, &d.SharedSecret, &pairedAt, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		d.DeviceType = types.DeviceType(deviceType)
		d.ProtocolVersion = types.ProtocolVersion
		d.IsOnline = false
		if t, err := time.Parse(time.RFC3339Nano, pairedAt); err == nil {
			d.PairedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, lastSeen); err == nil {
			d.LastSeen = t
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return devices, nil
}

// DeletePairedDevice removes a pairing. Deleting an unknown device is not
// an error.
func (s *SQLiteStore) DeletePairedDevice(ctx context.Context, deviceID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM paired_devices WHERE device_id = ?`, deviceID); err != nil {
		return fmt.Errorf("delete paired device: %w", err)
	}
	return nil
}

// SaveLastSync records the sync horizon for a peer.
func (s *SQLiteStore) SaveLastSync(ctx context.Context, deviceID string, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (device_id, last_sync_at)
		VALUES (?, ?)
		ON CONFLICT(device_id) DO UPDATE SET last_sync_at = excluded.last_sync_at
	`, deviceID, t.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save last sync: %w", err)
	}
	return nil
}

// GetLastSync returns the persisted sync horizon for a peer, or ErrNotFound
// when the peer has never completed a sync.
func (s *SQLiteStore) GetLastSync(ctx context.Context, deviceID string) (time.Time, error) {
	var lastSyncAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT last_sync_at FROM sync_state WHERE device_id = ?
	`, deviceID).Scan(&lastSyncAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, fmt.Errorf("query last sync: %w", err)
	}

	t, err := time.Parse(time.RFC3339Nano, lastSyncAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse last_sync_at: %w", err)
	}
	return t, nil
}

// ListLastSyncTimes returns every persisted sync horizon keyed by device ID.
func (s *SQLiteStore) ListLastSyncTimes(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT device_id, last_sync_at FROM sync_state`)
	if err != nil {
		return nil, fmt.Errorf("query sync state: %w", err)
	}
	defer rows.Close()

	times := make(map[string]time.Time)
	for rows.Next() {
		var deviceID, lastSyncAt string
		if err := rows.Scan(&deviceID, &lastSyncAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, lastSyncAt)
		if err != nil {
			return nil, fmt.Errorf("parse last_sync_at: %w", err)
		}
		times[deviceID] = t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return times, nil
}

// DeleteLastSync forgets a peer's sync horizon, typically on unpair.
func (s *SQLiteStore) DeleteLastSync(ctx context.Context, deviceID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_state WHERE device_id = ?`, deviceID); err != nil {
		return fmt.Errorf("delete last sync: %w", err)
	}
	return nil
}
