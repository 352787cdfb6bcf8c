package binance

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/cryptoview/gateway/internal/credentials"
	"github.com/cryptoview/gateway/internal/domain"
)

func newTestAdapter(t *testing.T, cfg Config, handler http.Handler) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg.RestURL = srv.URL

	store := credentials.NewStore()
	store.Put(credentials.Credential{Venue: "binance", APIKey: "key", SecretKey: "secret"})

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	return New("binance", cfg, store, logger)
}

func TestRecvWindowFromConfigOnWire(t *testing.T) {
	recvWindows := make(chan string, 1)
	a := newTestAdapter(t, Config{RecvWindowMs: 7000}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recvWindows <- r.URL.Query().Get("recvWindow")
		w.Write([]byte(`{"balances":[]}`))
	}))

	if _, err := a.GetBalances(context.Background()); err != nil {
		t.Fatalf("get balances: %v", err)
	}
	if got := <-recvWindows; got != "7000" {
		t.Errorf("recvWindow on the wire: got %s, want 7000", got)
	}
}

func TestRecvWindowDefaultWhenUnset(t *testing.T) {
	recvWindows := make(chan string, 1)
	a := newTestAdapter(t, Config{}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recvWindows <- r.URL.Query().Get("recvWindow")
		w.Write([]byte(`{"balances":[]}`))
	}))

	if _, err := a.GetBalances(context.Background()); err != nil {
		t.Fatalf("get balances: %v", err)
	}
	if got := <-recvWindows; got != "5000" {
		t.Errorf("recvWindow on the wire: got %s, want 5000", got)
	}
}

func TestRateLimitOverrideFromConfig(t *testing.T) {
	a := newTestAdapter(t, Config{
		RateLimits: map[string]RateLimit{
			"order_place": {Capacity: 1, RefillPerSecond: 1},
		},
	}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))

	if !a.rl.TryAcquire(domain.EndpointOrderPlace, 1) {
		t.Fatal("first acquire within the configured capacity must pass")
	}
	if a.rl.TryAcquire(domain.EndpointOrderPlace, 1) {
		t.Error("second acquire must exceed the configured capacity of 1")
	}
	// Categories without an override keep the published defaults.
	if !a.rl.TryAcquire(domain.EndpointAccount, 10) {
		t.Error("account bucket must keep its default capacity")
	}
}
