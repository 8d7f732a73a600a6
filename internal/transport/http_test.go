package transport

import (
	"context"
	"errors"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/semblance-app/syncd/internal/types"
)

func payloadFrom(sender string) *types.EncryptedSyncPayload {
	return &types.EncryptedSyncPayload{
		Ciphertext:     []byte("ciphertext"),
		IV:             []byte("nonce"),
		HMAC:           []byte("tag"),
		SenderDeviceID: sender,
	}
}

// serve spins up the receive side on an httptest server and registers the
// peer under the given device ID on a second transport used for sending.
func serve(t *testing.T, handler Handler) (*HTTPTransport, string) {
	t.Helper()

	receiver := NewHTTPTransport(0)
	receiver.OnReceive(handler)
	srv := httptest.NewServer(receiver.Router())
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse test server url: %v", err)
	}

	sender := NewHTTPTransport(0)
	port, _ := strconv.Atoi(u.Port())
	sender.SetDeviceAddress("dev-peer", u.Hostname(), port)
	return sender, "dev-peer"
}

func TestHTTPTransport_Exchange(t *testing.T) {
	sender, peer := serve(t, func(p *types.EncryptedSyncPayload) *types.EncryptedSyncPayload {
		if p.SenderDeviceID != "dev-local" {
			t.Errorf("handler saw sender %q", p.SenderDeviceID)
		}
		return payloadFrom("dev-peer")
	})

	reply, err := sender.Send(context.Background(), peer, payloadFrom("dev-local"))
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if reply.SenderDeviceID != "dev-peer" {
		t.Errorf("reply sender = %q", reply.SenderDeviceID)
	}
	if string(reply.Ciphertext) != "ciphertext" {
		t.Errorf("reply ciphertext = %q", reply.Ciphertext)
	}
}

func TestHTTPTransport_HandlerRejection(t *testing.T) {
	sender, peer := serve(t, func(p *types.EncryptedSyncPayload) *types.EncryptedSyncPayload {
		return nil // unknown sender or integrity failure
	})

	if _, err := sender.Send(context.Background(), peer, payloadFrom("dev-local")); err == nil {
		t.Error("rejected exchange should surface an error")
	}
}

func TestHTTPTransport_UnknownDeviceUnreachable(t *testing.T) {
	tr := NewHTTPTransport(0)

	if tr.Reachable("dev-nowhere") {
		t.Error("unknown device reported reachable")
	}
	if _, err := tr.Send(context.Background(), "dev-nowhere", payloadFrom("dev-local")); !errors.Is(err, ErrUnreachable) {
		t.Errorf("Send() error = %v, want ErrUnreachable", err)
	}
}

func TestHTTPTransport_AddressLifecycle(t *testing.T) {
	tr := NewHTTPTransport(0)

	tr.SetDeviceAddress("dev-phone", "192.168.1.20", 7463)
	if !tr.Reachable("dev-phone") {
		t.Error("registered device not reachable")
	}

	tr.RemoveDeviceAddress("dev-phone")
	if tr.Reachable("dev-phone") {
		t.Error("removed device still reachable")
	}
}

func TestHTTPTransport_ConnectionRefusedUnreachable(t *testing.T) {
	tr := NewHTTPTransport(0)
	// Reserved port with nothing listening.
	tr.SetDeviceAddress("dev-phone", "127.0.0.1", 1)

	if _, err := tr.Send(context.Background(), "dev-phone", payloadFrom("dev-local")); !errors.Is(err, ErrUnreachable) {
		t.Errorf("Send() error = %v, want ErrUnreachable", err)
	}
}
