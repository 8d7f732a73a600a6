package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/semblance-app/syncd/internal/config"
	"github.com/semblance-app/syncd/internal/crypto"
	"github.com/semblance-app/syncd/internal/discovery"
	"github.com/semblance-app/syncd/internal/engine"
	"github.com/semblance-app/syncd/internal/store"
	"github.com/semblance-app/syncd/internal/transport"
	"github.com/semblance-app/syncd/internal/types"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "syncd",
	Short: "Semblance sync daemon",
	Long:  "Discovers, pairs with, and synchronizes Semblance devices on the local network.",
	RunE:  run,
}

func init() {
	rootCmd.AddCommand(identityCmd)
	rootCmd.AddCommand(devicesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	initLogger(cfg.Log)
	slog.Info("configuration loaded", "device_type", cfg.Device.Type, "sync_port", cfg.Sync.Port)

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	slog.Info("store initialized", "path", cfg.Database.Path)

	identity, err := types.LoadOrCreateIdentity(
		cfg.Device.IdentityPath,
		cfg.Device.Name,
		types.DeviceType(cfg.Device.Type),
		cfg.Device.Platform,
		cfg.Sync.Port,
	)
	if err != nil {
		db.Close()
		return err
	}
	slog.Info("identity ready", "device_id", identity.DeviceID, "device_name", identity.DeviceName)

	httpTransport := transport.NewHTTPTransport(cfg.Sync.Port)

	eng := engine.New(engine.Config{
		DeviceID:   identity.DeviceID,
		DeviceName: identity.DeviceName,
		DeviceType: identity.DeviceType,
		Crypto:     crypto.NewAESGCM(),
		Transport:  httpTransport,
		Store:      db,
	})

	var provider discovery.Provider
	if cfg.Discovery.Enabled {
		provider = discovery.NewMDNSProvider()
	}
	manager := discovery.NewManager(identity, provider)

	wireCallbacks(manager, eng, httpTransport, db)
	httpTransport.OnReceive(eng.Respond)

	if err := loadPersistedState(ctx, db, eng, manager); err != nil {
		db.Close()
		return err
	}

	if err := httpTransport.Start(); err != nil {
		db.Close()
		return err
	}
	slog.Info("sync server listening", "port", cfg.Sync.Port)

	if err := manager.Start(ctx); err != nil {
		// Sync still works against known addresses without discovery.
		slog.Warn("discovery unavailable", "error", err)
	}

	coordinator := engine.NewCoordinator(eng, manager, time.Duration(cfg.Sync.Interval))
	coordinator.Start(ctx)

	<-ctx.Done()
	slog.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Sync.ShutdownTimeout))
	defer shutdownCancel()

	coordinator.Stop()
	manager.Stop()
	if err := httpTransport.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	if err := db.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// wireCallbacks connects discovery events to the engine, the transport's
// routing table, and the persistence layer.
func wireCallbacks(manager *discovery.Manager, eng *engine.Engine, tr *transport.HTTPTransport, db *store.SQLiteStore) {
	manager.OnPaired(func(device *types.PairedDevice) {
		eng.RegisterPairedDevice(device.DeviceID, device.SharedSecret, device.DeviceType)
		if device.IPAddress != "" {
			tr.SetDeviceAddress(device.DeviceID, device.IPAddress, device.SyncPort)
		}
		if err := db.SavePairedDevice(context.Background(), *device); err != nil {
			slog.Warn("paired device persist failed", "device_id", device.DeviceID, "error", err)
		}
	})

	manager.OnUnpaired(func(deviceID string) {
		eng.RemovePairedDevice(deviceID)
		tr.RemoveDeviceAddress(deviceID)
		if err := db.DeletePairedDevice(context.Background(), deviceID); err != nil {
			slog.Warn("paired device delete failed", "device_id", deviceID, "error", err)
		}
	})

	manager.OnPeerOnline(func(device types.PairedDevice) {
		if device.IPAddress != "" {
			tr.SetDeviceAddress(device.DeviceID, device.IPAddress, device.SyncPort)
		}
	})

	manager.OnPeerOffline(func(deviceID string) {
		tr.RemoveDeviceAddress(deviceID)
	})
}

// loadPersistedState seeds the engine and discovery manager from the store
// so a restart resumes with the same pairings and delta horizons.
func loadPersistedState(ctx context.Context, db *store.SQLiteStore, eng *engine.Engine, manager *discovery.Manager) error {
	items, err := db.ListItems(ctx)
	if err != nil {
		return err
	}
	eng.LoadItems(items)

	devices, err := db.ListPairedDevices(ctx)
	if err != nil {
		return err
	}
	manager.LoadPairedDevices(devices)
	for _, d := range devices {
		eng.RegisterPairedDevice(d.DeviceID, d.SharedSecret, d.DeviceType)
	}

	times, err := db.ListLastSyncTimes(ctx)
	if err != nil {
		return err
	}
	eng.LoadLastSyncTimes(times)

	slog.Info("state restored",
		"items", len(items),
		"paired_devices", len(devices),
		"sync_horizons", len(times),
	)
	return nil
}

func initLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
