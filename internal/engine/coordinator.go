package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/semblance-app/syncd/internal/types"
)

// PeerLister supplies the current set of paired devices each tick.
// Implemented by discovery.Manager.
type PeerLister interface {
	PairedDevices() []types.PairedDevice
}

// Coordinator schedules periodic sync rounds across all paired devices.
// A failure for one device is absorbed and does not affect the others or
// cancel the schedule; the next tick is the retry mechanism.
type Coordinator struct {
	engine   *Engine
	peers    PeerLister
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCoordinator creates a periodic sync coordinator. A non-positive
// interval falls back to types.DefaultSyncInterval.
func NewCoordinator(engine *Engine, peers PeerLister, interval time.Duration) *Coordinator {
	if interval <= 0 {
		interval = types.DefaultSyncInterval
	}
	return &Coordinator{engine: engine, peers: peers, interval: interval}
}

// Start launches the periodic loop. Idempotent while running.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(runCtx, c.done)

	slog.Info("periodic sync started",
		"component", "engine",
		"worker", "sync-coordinator",
		"interval", c.interval.String(),
	)
}

// Stop halts the loop and waits for an in-flight tick to finish.
// Idempotent; safe to call before Start.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	slog.Info("periodic sync stopped", "component", "engine", "worker", "sync-coordinator")
}

func (c *Coordinator) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.syncAll(ctx)
		}
	}
}

// syncAll attempts one round with every reachable paired device,
// continuing on individual failures.
func (c *Coordinator) syncAll(ctx context.Context) {
	var attempted, succeeded int
	for _, device := range c.peers.PairedDevices() {
		if ctx.Err() != nil {
			return
		}

		attempted++
		result, err := c.engine.SyncWithDevice(ctx, device.DeviceID)
		if err != nil {
			// Unreachable and unpaired peers are routine; everything
			// else is worth a warning. Either way the schedule survives.
			if errors.Is(err, ErrUnreachable) || errors.Is(err, ErrNotPaired) {
				slog.Debug("sync skipped",
					"component", "engine",
					"worker", "sync-coordinator",
					"device_id", device.DeviceID,
					"reason", err.Error(),
				)
			} else {
				slog.Warn("sync round failed",
					"component", "engine",
					"worker", "sync-coordinator",
					"device_id", device.DeviceID,
					"error", err,
				)
			}
			continue
		}

		succeeded++
		slog.Info("sync round completed",
			"component", "engine",
			"worker", "sync-coordinator",
			"device_id", device.DeviceID,
			"accepted", result.Accepted,
			"rejected", result.Rejected,
			"conflicts", len(result.Conflicts),
		)
	}

	if attempted > 0 {
		slog.Debug("sync tick completed",
			"component", "engine",
			"worker", "sync-coordinator",
			"devices_attempted", attempted,
			"devices_succeeded", succeeded,
		)
	}
}
