package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/semblance-app/syncd/internal/types"
)

const (
	mdnsService = "_semblance._tcp"
	mdnsDomain  = "local."

	// defaultBrowseInterval is how often the resolver re-browses the
	// network. A peer missing from staleAfter worth of browse cycles is
	// reported lost.
	defaultBrowseInterval = 15 * time.Second
	staleCycles           = 3
)

// MDNSProvider implements Provider over mDNS using zeroconf. Peers are
// advertised under types.ServiceType with the identity fields carried as
// TXT records. mDNS gives no reliable goodbye packets on abrupt shutdown,
// so loss is detected by absence: a peer not seen for several browse
// cycles is reported lost.
type MDNSProvider struct {
	mu             sync.Mutex
	browseInterval time.Duration
	server         *zeroconf.Server
	cancelBrowse   context.CancelFunc
}

// NewMDNSProvider returns an mDNS-backed discovery provider.
func NewMDNSProvider() *MDNSProvider {
	return &MDNSProvider{browseInterval: defaultBrowseInterval}
}

// Advertise registers this device's mDNS service with identity TXT records.
func (p *MDNSProvider) Advertise(ctx context.Context, identity types.DeviceIdentity) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.server != nil {
		return nil
	}

	txt := []string{
		"deviceId=" + identity.DeviceID,
		"deviceName=" + identity.DeviceName,
		"deviceType=" + string(identity.DeviceType),
		"platform=" + identity.Platform,
		"protocolVersion=" + strconv.Itoa(identity.ProtocolVersion),
	}

	server, err := zeroconf.Register(identity.DeviceID, mdnsService, mdnsDomain, identity.SyncPort, txt, nil)
	if err != nil {
		return fmt.Errorf("register mdns service: %w", err)
	}
	p.server = server
	return nil
}

// StopAdvertising withdraws the mDNS registration.
func (p *MDNSProvider) StopAdvertising() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.server != nil {
		p.server.Shutdown()
		p.server = nil
	}
}

// StartDiscovery begins periodic browse cycles, reporting peers as found
// and expiring peers that stop answering.
func (p *MDNSProvider) StartDiscovery(ctx context.Context, onFound FoundFunc, onLost LostFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancelBrowse != nil {
		return nil
	}

	browseCtx, cancel := context.WithCancel(ctx)
	p.cancelBrowse = cancel
	go p.browseLoop(browseCtx, onFound, onLost)
	return nil
}

// StopDiscovery stops the browse loop.
func (p *MDNSProvider) StopDiscovery() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancelBrowse != nil {
		p.cancelBrowse()
		p.cancelBrowse = nil
	}
}

func (p *MDNSProvider) browseLoop(ctx context.Context, onFound FoundFunc, onLost LostFunc) {
	lastSeen := make(map[string]time.Time)
	staleAfter := time.Duration(staleCycles) * p.browseInterval

	for {
		p.browseOnce(ctx, onFound, lastSeen)
		if ctx.Err() != nil {
			return
		}

		// Expire peers that missed too many consecutive cycles.
		now := time.Now()
		for deviceID, seen := range lastSeen {
			if now.Sub(seen) > staleAfter {
				delete(lastSeen, deviceID)
				onLost(deviceID)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.browseInterval):
		}
	}
}

// browseOnce runs a single bounded browse cycle and reports every answering
// peer through onFound.
func (p *MDNSProvider) browseOnce(ctx context.Context, onFound FoundFunc, lastSeen map[string]time.Time) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		slog.Warn("mdns resolver unavailable", "component", "discovery", "error", err)
		return
	}

	cycleCtx, cancel := context.WithTimeout(ctx, p.browseInterval)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(cycleCtx, mdnsService, mdnsDomain, entries); err != nil {
		slog.Warn("mdns browse failed", "component", "discovery", "error", err)
		return
	}

	// The resolver closes entries when the cycle context ends.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range entries {
			identity, ok := identityFromEntry(entry)
			if !ok {
				continue
			}
			lastSeen[identity.DeviceID] = time.Now()
			onFound(identity)
		}
	}()

	<-cycleCtx.Done()
	<-done
}

// identityFromEntry reconstructs a DeviceIdentity from a service entry's
// TXT records. Entries without a deviceId record are ignored.
func identityFromEntry(entry *zeroconf.ServiceEntry) (types.DeviceIdentity, bool) {
	identity := types.DeviceIdentity{SyncPort: entry.Port}
	for _, record := range entry.Text {
		key, value, ok := strings.Cut(record, "=")
		if !ok {
			continue
		}
		switch key {
		case "deviceId":
			identity.DeviceID = value
		case "deviceName":
			identity.DeviceName = value
		case "deviceType":
			identity.DeviceType = types.DeviceType(value)
		case "platform":
			identity.Platform = value
		case "protocolVersion":
			if v, err := strconv.Atoi(value); err == nil {
				identity.ProtocolVersion = v
			}
		}
	}
	if len(entry.AddrIPv4) > 0 {
		identity.IPAddress = entry.AddrIPv4[0].String()
	}
	return identity, identity.DeviceID != ""
}
