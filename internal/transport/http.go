package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/semblance-app/syncd/internal/types"
)

const exchangePath = "/v1/sync/exchange"

// HTTPTransport implements Provider over plain HTTP on the local network.
// Confidentiality and integrity come entirely from the encrypted payloads;
// the transport itself only routes bytes. Peer addresses are learned from
// discovery events.
type HTTPTransport struct {
	mu      sync.RWMutex
	addrs   map[string]string // deviceID -> host:port
	handler Handler

	client *http.Client
	server *http.Server
	port   int
}

// NewHTTPTransport creates a transport that will serve on the given port.
func NewHTTPTransport(port int) *HTTPTransport {
	return &HTTPTransport{
		addrs: make(map[string]string),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		port: port,
	}
}

// Router builds the receive-side routes.
func (t *HTTPTransport) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Post(exchangePath, t.handleExchange)
	r.Get("/v1/sync/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}

// Start begins serving inbound sync exchanges. It returns once the listener
// is bound; the serve loop runs until Shutdown.
func (t *HTTPTransport) Start() error {
	t.mu.Lock()
	if t.server != nil {
		t.mu.Unlock()
		return nil
	}
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", t.port),
		Handler:      t.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	t.server = srv
	t.mu.Unlock()

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		t.mu.Lock()
		t.server = nil
		t.mu.Unlock()
		return fmt.Errorf("bind sync port: %w", err)
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("sync transport serve failed", "component", "transport", "error", err)
		}
	}()

	slog.Info("sync transport listening", "component", "transport", "port", t.port)
	return nil
}

// Shutdown stops the receive side gracefully.
func (t *HTTPTransport) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	srv := t.server
	t.server = nil
	t.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// OnReceive registers the inbound payload handler.
func (t *HTTPTransport) OnReceive(handler Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
}

// SetDeviceAddress records where a device can be reached. Fed from
// discovery found events.
func (t *HTTPTransport) SetDeviceAddress(deviceID, host string, port int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addrs[deviceID] = net.JoinHostPort(host, strconv.Itoa(port))
}

// RemoveDeviceAddress forgets a device's address. Fed from discovery lost
// events.
func (t *HTTPTransport) RemoveDeviceAddress(deviceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.addrs, deviceID)
}

// Reachable reports whether an address is known for the device.
func (t *HTTPTransport) Reachable(deviceID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.addrs[deviceID]
	return ok
}

// Send POSTs the payload to the peer's exchange endpoint and decodes the
// encrypted response. Connection failures map to ErrUnreachable.
func (t *HTTPTransport) Send(ctx context.Context, deviceID string, payload *types.EncryptedSyncPayload) (*types.EncryptedSyncPayload, error) {
	t.mu.RLock()
	addr, ok := t.addrs[deviceID]
	t.mu.RUnlock()
	if !ok {
		return nil, ErrUnreachable
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	url := "http://" + addr + exchangePath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: peer returned %d", ErrUnreachable, resp.StatusCode)
	}

	var reply types.EncryptedSyncPayload
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &reply, nil
}

// handleExchange serves one inbound encrypted exchange. Payloads the
// handler cannot serve (unknown sender, failed integrity check) get a 403
// with no body; nothing about the failure is leaked to the caller.
func (t *HTTPTransport) handleExchange(w http.ResponseWriter, r *http.Request) {
	var payload types.EncryptedSyncPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	t.mu.RLock()
	handler := t.handler
	t.mu.RUnlock()
	if handler == nil {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}

	reply := handler(&payload)
	if reply == nil {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(reply); err != nil {
		slog.Error("encode exchange reply failed", "component", "transport", "error", err)
	}
}

// loggingMiddleware logs sync HTTP requests.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		slog.Debug("request",
			"component", "transport",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
