package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/semblance-app/syncd/internal/types"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "syncd.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_ItemRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	updated := time.Date(2026, 3, 1, 12, 0, 0, 123456000, time.UTC)
	item := types.SyncItem{
		ID:             "pref-theme",
		Type:           types.ItemTypePreference,
		Data:           json.RawMessage(`{"theme":"dark"}`),
		UpdatedAt:      updated,
		SourceDeviceID: "desktop-1",
	}

	if err := s.SaveItem(ctx, item); err != nil {
		t.Fatalf("SaveItem() error = %v", err)
	}

	got, err := s.GetItem(ctx, "pref-theme")
	if err != nil {
		t.Fatalf("GetItem() error = %v", err)
	}
	if got.Type != types.ItemTypePreference || string(got.Data) != `{"theme":"dark"}` {
		t.Errorf("loaded item = %+v", got)
	}
	if !got.UpdatedAt.Equal(updated) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, updated)
	}
	if got.SourceDeviceID != "desktop-1" {
		t.Errorf("SourceDeviceID = %q", got.SourceDeviceID)
	}
}

func TestSQLiteStore_SaveItemIsUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	item := types.SyncItem{
		ID:             "pref-theme",
		Type:           types.ItemTypePreference,
		Data:           json.RawMessage(`{"theme":"light"}`),
		UpdatedAt:      now,
		SourceDeviceID: "desktop-1",
	}
	if err := s.SaveItem(ctx, item); err != nil {
		t.Fatalf("SaveItem() error = %v", err)
	}

	item.Data = json.RawMessage(`{"theme":"dark"}`)
	item.UpdatedAt = now.Add(time.Minute)
	item.SourceDeviceID = "mobile-1"
	if err := s.SaveItem(ctx, item); err != nil {
		t.Fatalf("SaveItem() second write error = %v", err)
	}

	items, err := s.ListItems(ctx)
	if err != nil {
		t.Fatalf("ListItems() error = %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("ListItems() returned %d items, want 1", len(items))
	}
	if string(items[0].Data) != `{"theme":"dark"}` || items[0].SourceDeviceID != "mobile-1" {
		t.Errorf("upserted item = %+v", items[0])
	}
}

func TestSQLiteStore_GetItemNotFound(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.GetItem(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetItem() error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_ListItemsOrderedByUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	offsets := map[string]time.Duration{"a": time.Minute, "b": 2 * time.Minute, "c": 3 * time.Minute}
	for _, id := range []string{"c", "a", "b"} {
		item := types.SyncItem{
			ID:             id,
			Type:           types.ItemTypeCapture,
			Data:           json.RawMessage(`{}`),
			UpdatedAt:      now.Add(offsets[id]),
			SourceDeviceID: "desktop-1",
		}
		if err := s.SaveItem(ctx, item); err != nil {
			t.Fatalf("SaveItem(%s) error = %v", id, err)
		}
	}

	items, err := s.ListItems(ctx)
	if err != nil {
		t.Fatalf("ListItems() error = %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("ListItems() returned %d items", len(items))
	}
	if items[0].ID != "a" || items[1].ID != "b" || items[2].ID != "c" {
		t.Errorf("order = %s %s %s, want a b c", items[0].ID, items[1].ID, items[2].ID)
	}
}

func TestSQLiteStore_PairedDeviceRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	device := types.PairedDevice{
		DeviceIdentity: types.DeviceIdentity{
			DeviceID:   "mobile-1",
			DeviceName: "Phone",
			DeviceType: types.DeviceTypeMobile,
			Platform:   "android",
			SyncPort:   7463,
		},
		PairedAt:     time.Now().UTC().Add(-time.Hour),
		LastSeen:     time.Now().UTC(),
		IsOnline:     true,
		SharedSecret: []byte("derived-secret"),
	}
	if err := s.SavePairedDevice(ctx, device); err != nil {
		t.Fatalf("SavePairedDevice() error = %v", err)
	}

	devices, err := s.ListPairedDevices(ctx)
	if err != nil {
		t.Fatalf("ListPairedDevices() error = %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("ListPairedDevices() returned %d devices", len(devices))
	}

	got := devices[0]
	if got.DeviceID != "mobile-1" || got.DeviceName != "Phone" || got.DeviceType != types.DeviceTypeMobile {
		t.Errorf("loaded device = %+v", got)
	}
	if got.Platform != "android" || got.SyncPort != 7463 {
		t.Errorf("loaded identity fields = %+v", got.DeviceIdentity)
	}
	if string(got.SharedSecret) != "derived-secret" {
		t.Errorf("shared secret = %q", got.SharedSecret)
	}
	// Presence is runtime state; a freshly loaded device is offline until
	// discovery sees it again.
	if got.IsOnline {
		t.Error("loaded device reported online")
	}
}

func TestSQLiteStore_DeletePairedDevice(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	device := types.PairedDevice{
		DeviceIdentity: types.DeviceIdentity{DeviceID: "mobile-1", DeviceName: "Phone", DeviceType: types.DeviceTypeMobile},
		PairedAt:       time.Now().UTC(),
		LastSeen:       time.Now().UTC(),
		SharedSecret:   []byte("secret"),
	}
	if err := s.SavePairedDevice(ctx, device); err != nil {
		t.Fatalf("SavePairedDevice() error = %v", err)
	}

	if err := s.DeletePairedDevice(ctx, "mobile-1"); err != nil {
		t.Fatalf("DeletePairedDevice() error = %v", err)
	}
	devices, err := s.ListPairedDevices(ctx)
	if err != nil {
		t.Fatalf("ListPairedDevices() error = %v", err)
	}
	if len(devices) != 0 {
		t.Errorf("device survived delete: %+v", devices)
	}

	// Deleting an unknown device is a no-op.
	if err := s.DeletePairedDevice(ctx, "mobile-1"); err != nil {
		t.Errorf("second DeletePairedDevice() error = %v", err)
	}
}

func TestSQLiteStore_LastSyncLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetLastSync(ctx, "mobile-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetLastSync() before save error = %v, want ErrNotFound", err)
	}

	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := s.SaveLastSync(ctx, "mobile-1", first); err != nil {
		t.Fatalf("SaveLastSync() error = %v", err)
	}

	got, err := s.GetLastSync(ctx, "mobile-1")
	if err != nil {
		t.Fatalf("GetLastSync() error = %v", err)
	}
	if !got.Equal(first) {
		t.Errorf("GetLastSync() = %v, want %v", got, first)
	}

	second := first.Add(time.Minute)
	if err := s.SaveLastSync(ctx, "mobile-1", second); err != nil {
		t.Fatalf("SaveLastSync() update error = %v", err)
	}
	if err := s.SaveLastSync(ctx, "desktop-2", first); err != nil {
		t.Fatalf("SaveLastSync() second device error = %v", err)
	}

	times, err := s.ListLastSyncTimes(ctx)
	if err != nil {
		t.Fatalf("ListLastSyncTimes() error = %v", err)
	}
	if len(times) != 2 {
		t.Fatalf("ListLastSyncTimes() returned %d entries", len(times))
	}
	if !times["mobile-1"].Equal(second) {
		t.Errorf("mobile-1 horizon = %v, want %v", times["mobile-1"], second)
	}

	if err := s.DeleteLastSync(ctx, "mobile-1"); err != nil {
		t.Fatalf("DeleteLastSync() error = %v", err)
	}
	if _, err := s.GetLastSync(ctx, "mobile-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetLastSync() after delete error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "syncd.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	item := types.SyncItem{
		ID:             "capture-1",
		Type:           types.ItemTypeCapture,
		Data:           json.RawMessage(`{"note":"persisted"}`),
		UpdatedAt:      time.Now().UTC(),
		SourceDeviceID: "desktop-1",
	}
	if err := s.SaveItem(ctx, item); err != nil {
		t.Fatalf("SaveItem() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	got, err := reopened.GetItem(ctx, "capture-1")
	if err != nil {
		t.Fatalf("GetItem() after reopen error = %v", err)
	}
	if string(got.Data) != `{"note":"persisted"}` {
		t.Errorf("reloaded item = %+v", got)
	}
}
