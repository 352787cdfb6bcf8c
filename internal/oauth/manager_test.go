package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cryptoview/gateway/internal/credentials"
	"github.com/cryptoview/gateway/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func newTestManager(t *testing.T, tokenURL, revokeURL string) (*Manager, *credentials.Store) {
	t.Helper()
	creds := credentials.NewStore()
	m := NewManager(Config{
		Venue:        "binance",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		AuthURL:      "https://provider.example/authorize",
		TokenURL:     tokenURL,
		RevokeURL:    revokeURL,
		RedirectURI:  "http://localhost:8080/api/oauth/callback",
	}, creds, nil, testLogger())
	return m, creds
}

func TestAuthorizeURLCarriesState(t *testing.T) {
	m, _ := newTestManager(t, "", "")

	authURL, state, err := m.AuthorizeURL()
	if err != nil {
		t.Fatalf("AuthorizeURL: %v", err)
	}
	if state == "" {
		t.Fatal("empty state token")
	}
	if !strings.Contains(authURL, "state="+state) {
		t.Fatalf("state token missing from URL: %s", authURL)
	}
	if !strings.Contains(authURL, "client_id=client-id") {
		t.Fatalf("client id missing from URL: %s", authURL)
	}
	if st := m.Status(); st.State != FlowAuthorizationRequested {
		t.Fatalf("state after authorize: got %s", st.State)
	}
}

func TestHandleCallbackExchangesOnce(t *testing.T) {
	var exchanges atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exchanges.Add(1)
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "authorization_code" {
			t.Errorf("grant_type: got %q", got)
		}
		if got := r.PostForm.Get("code"); got != "auth-code-1" {
			t.Errorf("code: got %q", got)
		}
		fmt.Fprint(w, `{"access_token":"tok-abc","refresh_token":"ref-xyz","expires_in":3600,"user_id":"user-42"}`)
	}))
	defer srv.Close()

	m, creds := newTestManager(t, srv.URL, "")
	_, state, err := m.AuthorizeURL()
	if err != nil {
		t.Fatalf("AuthorizeURL: %v", err)
	}

	userID, err := m.HandleCallback(context.Background(), "auth-code-1", state)
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if userID != "user-42" {
		t.Fatalf("user id: got %q", userID)
	}
	if n := exchanges.Load(); n != 1 {
		t.Fatalf("exchange count: got %d", n)
	}

	tokens, ok := creds.Tokens("binance")
	if !ok {
		t.Fatal("token set not stored")
	}
	if tokens.AccessToken != "tok-abc" || tokens.RefreshToken != "ref-xyz" {
		t.Fatalf("stored tokens: %+v", tokens)
	}
	if tokens.ExpiresIn != time.Hour {
		t.Fatalf("expires in: got %v", tokens.ExpiresIn)
	}

	st := m.Status()
	if st.State != FlowAuthorized || !st.Connected || st.UserID != "user-42" {
		t.Fatalf("status: %+v", st)
	}
}

func TestHandleCallbackRejectsBadState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("exchange attempted despite invalid state")
	}))
	defer srv.Close()

	m, creds := newTestManager(t, srv.URL, "")
	if _, _, err := m.AuthorizeURL(); err != nil {
		t.Fatalf("AuthorizeURL: %v", err)
	}

	_, err := m.HandleCallback(context.Background(), "auth-code-1", "forged-state")
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("got %v, want ErrInvalidState", err)
	}
	if _, ok := creds.Tokens("binance"); ok {
		t.Fatal("tokens stored despite rejected callback")
	}
}

func TestHandleCallbackStateIsSingleUse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"access_token":"tok","expires_in":3600,"user_id":"u"}`)
	}))
	defer srv.Close()

	m, _ := newTestManager(t, srv.URL, "")
	_, state, err := m.AuthorizeURL()
	if err != nil {
		t.Fatalf("AuthorizeURL: %v", err)
	}
	if _, err := m.HandleCallback(context.Background(), "code-1", state); err != nil {
		t.Fatalf("first callback: %v", err)
	}
	if _, err := m.HandleCallback(context.Background(), "code-2", state); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("replayed state: got %v, want ErrInvalidState", err)
	}
}

func TestHandleCallbackProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	m, creds := newTestManager(t, srv.URL, "")
	_, state, err := m.AuthorizeURL()
	if err != nil {
		t.Fatalf("AuthorizeURL: %v", err)
	}

	_, err = m.HandleCallback(context.Background(), "bad-code", state)
	if !errors.Is(err, domain.ErrExchangeFailed) {
		t.Fatalf("got %v, want ErrExchangeFailed", err)
	}
	if _, ok := creds.Tokens("binance"); ok {
		t.Fatal("tokens stored despite failed exchange")
	}
}

func TestRevokeClearsLocalEvenWhenProviderFails(t *testing.T) {
	var revokes atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		revokes.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m, creds := newTestManager(t, "", srv.URL)
	creds.PutTokens("binance", domain.TokenSet{
		AccessToken: "tok-abc",
		ExpiresIn:   time.Hour,
		ObtainedAt:  time.Now(),
	})

	err := m.Revoke(context.Background())
	if err == nil {
		t.Fatal("expected remote revocation error to surface")
	}
	if n := revokes.Load(); n != 1 {
		t.Fatalf("revoke calls: got %d", n)
	}
	if _, ok := creds.Tokens("binance"); ok {
		t.Fatal("local tokens survived revoke")
	}
	if st := m.Status(); st.State != FlowRevoked || st.Connected {
		t.Fatalf("status after revoke: %+v", st)
	}
}

func TestStatusReportsExpiredTokens(t *testing.T) {
	m, creds := newTestManager(t, "", "")
	creds.PutTokens("binance", domain.TokenSet{
		AccessToken: "tok-old",
		ExpiresIn:   time.Minute,
		ObtainedAt:  time.Now().Add(-time.Hour),
	})

	st := m.Status()
	if st.State != FlowExpired {
		t.Fatalf("state: got %s, want %s", st.State, FlowExpired)
	}
	if st.Connected {
		t.Fatal("expired session reported connected")
	}
}
