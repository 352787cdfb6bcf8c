package connection

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/cryptoview/gateway/internal/credentials"
	"github.com/cryptoview/gateway/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func okProbe(context.Context, credentials.Credential) error { return nil }

func TestConnectTransitions(t *testing.T) {
	store := credentials.NewStore()
	mgr := NewManager(store, okProbe, testLogger())

	var seen []domain.VenueStatus
	mgr.AddStatusListener(func(s domain.VenueStatus) {
		seen = append(seen, s)
	})

	cred := credentials.Credential{Venue: "binance", APIKey: "k", SecretKey: "s"}
	if err := mgr.Connect(context.Background(), cred); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	if !mgr.IsConnected() {
		t.Fatal("expected connected state")
	}
	if len(seen) != 2 || seen[0] != domain.VenueConnecting || seen[1] != domain.VenueConnected {
		t.Errorf("expected CONNECTING,CONNECTED transitions, got %v", seen)
	}
	if _, ok := store.Get("binance"); !ok {
		t.Error("credential should be in the store while connected")
	}
}

func TestConnectIdempotentSameCredential(t *testing.T) {
	store := credentials.NewStore()
	mgr := NewManager(store, okProbe, testLogger())

	cred := credentials.Credential{Venue: "binance", APIKey: "k", SecretKey: "s"}
	if err := mgr.Connect(context.Background(), cred); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	transitions := 0
	mgr.AddStatusListener(func(domain.VenueStatus) { transitions++ })

	if err := mgr.Connect(context.Background(), cred); err != nil {
		t.Fatalf("repeat connect failed: %v", err)
	}
	if transitions != 0 {
		t.Errorf("repeat connect with same credential must be a no-op, saw %d transitions", transitions)
	}
}

func TestConnectReplacesSession(t *testing.T) {
	store := credentials.NewStore()
	mgr := NewManager(store, okProbe, testLogger())

	ctx := context.Background()
	a := credentials.Credential{Venue: "binance", APIKey: "a", SecretKey: "a"}
	b := credentials.Credential{Venue: "binance", APIKey: "b", SecretKey: "b"}

	if err := mgr.Connect(ctx, a); err != nil {
		t.Fatalf("connect a: %v", err)
	}

	var seen []domain.VenueStatus
	mgr.AddStatusListener(func(s domain.VenueStatus) { seen = append(seen, s) })

	if err := mgr.Connect(ctx, b); err != nil {
		t.Fatalf("connect b: %v", err)
	}

	want := []domain.VenueStatus{domain.VenueDisconnected, domain.VenueConnecting, domain.VenueConnected}
	if len(seen) != len(want) {
		t.Fatalf("expected %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, seen)
		}
	}

	got, _ := store.Get("binance")
	if got.APIKey != "b" {
		t.Errorf("expected replacement credential in store, got %q", got.APIKey)
	}
}

func TestConnectProbeFailure(t *testing.T) {
	store := credentials.NewStore()
	probeErr := errors.New("bad signature")
	mgr := NewManager(store, func(context.Context, credentials.Credential) error {
		return probeErr
	}, testLogger())

	cred := credentials.Credential{Venue: "binance", APIKey: "k", SecretKey: "s"}
	err := mgr.Connect(context.Background(), cred)
	if !errors.Is(err, probeErr) {
		t.Fatalf("expected probe error, got %v", err)
	}
	if mgr.Status() != domain.VenueError {
		t.Errorf("expected ERROR status, got %s", mgr.Status())
	}
	if _, ok := store.Get("binance"); ok {
		t.Error("credential must not remain in store after failed connect")
	}
}

func TestConnectPendingRejected(t *testing.T) {
	store := credentials.NewStore()
	release := make(chan struct{})
	started := make(chan struct{})
	mgr := NewManager(store, func(context.Context, credentials.Credential) error {
		close(started)
		<-release
		return nil
	}, testLogger())

	cred := credentials.Credential{Venue: "binance", APIKey: "k", SecretKey: "s"}
	done := make(chan error, 1)
	go func() { done <- mgr.Connect(context.Background(), cred) }()
	<-started

	if err := mgr.Connect(context.Background(), cred); !errors.Is(err, domain.ErrConnectPending) {
		t.Errorf("expected ErrConnectPending while a connect is in flight, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first connect failed: %v", err)
	}
}

func TestListenerPanicDoesNotStopOthers(t *testing.T) {
	store := credentials.NewStore()
	mgr := NewManager(store, okProbe, testLogger())

	mgr.AddStatusListener(func(domain.VenueStatus) { panic("listener bug") })
	calls := 0
	mgr.AddStatusListener(func(domain.VenueStatus) { calls++ })

	cred := credentials.Credential{Venue: "binance", APIKey: "k", SecretKey: "s"}
	if err := mgr.Connect(context.Background(), cred); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if calls == 0 {
		t.Error("later listeners must still run after an earlier one panics")
	}
}

func TestRemoveStatusListener(t *testing.T) {
	store := credentials.NewStore()
	mgr := NewManager(store, okProbe, testLogger())

	calls := 0
	id := mgr.AddStatusListener(func(domain.VenueStatus) { calls++ })
	mgr.RemoveStatusListener(id)

	cred := credentials.Credential{Venue: "binance", APIKey: "k", SecretKey: "s"}
	if err := mgr.Connect(context.Background(), cred); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if calls != 0 {
		t.Error("removed listener must not be invoked")
	}
}

func TestDisconnectClearsCredential(t *testing.T) {
	store := credentials.NewStore()
	mgr := NewManager(store, okProbe, testLogger())

	cred := credentials.Credential{Venue: "binance", APIKey: "k", SecretKey: "s"}
	if err := mgr.Connect(context.Background(), cred); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	mgr.Disconnect()
	if mgr.IsConnected() {
		t.Error("expected disconnected state")
	}
	if _, ok := store.Get("binance"); ok {
		t.Error("credential destroyed on disconnect")
	}
}
