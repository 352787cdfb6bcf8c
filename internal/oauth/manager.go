package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cryptoview/gateway/internal/credentials"
	"github.com/cryptoview/gateway/internal/domain"
	"github.com/cryptoview/gateway/internal/monitor"
)

type FlowState string

const (
	FlowNotStarted             FlowState = "NOT_STARTED"
	FlowAuthorizationRequested FlowState = "AUTHORIZATION_REQUESTED"
	FlowExchanging             FlowState = "EXCHANGING"
	FlowAuthorized             FlowState = "AUTHORIZED"
	FlowRevoked                FlowState = "REVOKED"
	FlowExpired                FlowState = "EXPIRED"
)

type Config struct {
	Venue        string
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	RevokeURL    string
	RedirectURI  string
}

type Status struct {
	State     FlowState `json:"state"`
	Connected bool      `json:"connected"`
	UserID    string    `json:"userId,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// Manager drives the authorization-code flow for venues that support
// delegated authorization instead of static API keys. Token sets land in
// the credential store; the manager never assumes a refresh token exists.
type Manager struct {
	mu     sync.Mutex
	state  FlowState
	userID string

	cfg        Config
	states     *StateStore
	creds      *credentials.Store
	httpClient *http.Client
	metrics    *monitor.Metrics
	logger     *slog.Logger
}

func NewManager(cfg Config, creds *credentials.Store, metrics *monitor.Metrics, logger *slog.Logger) *Manager {
	return &Manager{
		state:      FlowNotStarted,
		cfg:        cfg,
		states:     NewStateStore(),
		creds:      creds,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		metrics:    metrics,
		logger:     logger,
	}
}

func (m *Manager) Available() bool {
	return m.cfg.ClientID != "" && m.cfg.ClientSecret != ""
}

// AuthorizeURL issues a fresh state token and builds the provider
// authorization URL.
func (m *Manager) AuthorizeURL() (authURL, state string, err error) {
	state, err = m.states.Issue()
	if err != nil {
		return "", "", fmt.Errorf("issue state token: %w", err)
	}
	m.states.Prune()

	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", m.cfg.ClientID)
	q.Set("redirect_uri", m.cfg.RedirectURI)
	q.Set("state", state)

	m.mu.Lock()
	m.state = FlowAuthorizationRequested
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.OAuthFlowTotal.WithLabelValues("authorize", "ok").Inc()
	}
	return m.cfg.AuthURL + "?" + q.Encode(), state, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	UserID       string `json:"user_id"`
}

// HandleCallback validates the returned state and exchanges the code. The
// exchange happens at most once per issued code: a replay fails at the
// provider and surfaces as ErrExchangeFailed, never retried.
func (m *Manager) HandleCallback(ctx context.Context, code, state string) (string, error) {
	if err := m.states.Consume(state); err != nil {
		if m.metrics != nil {
			m.metrics.OAuthFlowTotal.WithLabelValues("callback", "invalid_state").Inc()
		}
		m.logger.Warn("oauth callback rejected", "venue", m.cfg.Venue, "reason", "state mismatch or expired")
		return "", err
	}

	m.mu.Lock()
	m.state = FlowExchanging
	m.mu.Unlock()

	tokens, err := m.exchange(ctx, code)
	if err != nil {
		m.mu.Lock()
		m.state = FlowNotStarted
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.OAuthFlowTotal.WithLabelValues("exchange", "error").Inc()
		}
		return "", err
	}

	m.creds.PutTokens(m.cfg.Venue, domain.TokenSet{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresIn:    time.Duration(tokens.ExpiresIn) * time.Second,
		ObtainedAt:   time.Now(),
	})

	m.mu.Lock()
	m.state = FlowAuthorized
	m.userID = tokens.UserID
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.OAuthFlowTotal.WithLabelValues("exchange", "ok").Inc()
	}
	m.logger.Info("oauth session authorized", "venue", m.cfg.Venue, "user_id", tokens.UserID)
	return tokens.UserID, nil
}

func (m *Manager) exchange(ctx context.Context, code string) (*tokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", m.cfg.ClientID)
	form.Set("client_secret", m.cfg.ClientSecret)
	form.Set("redirect_uri", m.cfg.RedirectURI)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExchangeFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExchangeFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrExchangeFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: provider returned HTTP %d", domain.ErrExchangeFailed, resp.StatusCode)
	}

	var tokens tokenResponse
	if err := json.Unmarshal(body, &tokens); err != nil {
		return nil, fmt.Errorf("%w: parse token response: %v", domain.ErrExchangeFailed, err)
	}
	if tokens.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access token", domain.ErrExchangeFailed)
	}
	return &tokens, nil
}

// Revoke attempts provider-side revocation first, then clears local token
// state regardless of the remote outcome: the local copy must never outlive
// the user's intent to disconnect.
func (m *Manager) Revoke(ctx context.Context) error {
	tokens, had := m.creds.Tokens(m.cfg.Venue)

	var revokeErr error
	if had && m.cfg.RevokeURL != "" {
		form := url.Values{}
		form.Set("token", tokens.AccessToken)
		form.Set("client_id", m.cfg.ClientID)
		form.Set("client_secret", m.cfg.ClientSecret)

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.RevokeURL, strings.NewReader(form.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			resp, doErr := m.httpClient.Do(req)
			if doErr != nil {
				revokeErr = doErr
			} else {
				resp.Body.Close()
				if resp.StatusCode >= 400 {
					revokeErr = fmt.Errorf("provider revocation returned HTTP %d", resp.StatusCode)
				}
			}
		} else {
			revokeErr = err
		}
	}

	m.creds.ClearTokens(m.cfg.Venue)

	m.mu.Lock()
	m.state = FlowRevoked
	m.userID = ""
	m.mu.Unlock()

	if revokeErr != nil {
		m.logger.Warn("provider revocation failed, local tokens cleared anyway",
			"venue", m.cfg.Venue, "error", revokeErr)
	}
	if m.metrics != nil {
		outcome := "ok"
		if revokeErr != nil {
			outcome = "remote_failed"
		}
		m.metrics.OAuthFlowTotal.WithLabelValues("revoke", outcome).Inc()
	}
	return revokeErr
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	state := m.state
	userID := m.userID
	m.mu.Unlock()

	st := Status{State: state, UserID: userID}
	if tokens, ok := m.creds.Tokens(m.cfg.Venue); ok {
		if tokens.Expired(time.Now()) {
			st.State = FlowExpired
		} else {
			st.Connected = true
			st.ExpiresAt = tokens.ObtainedAt.Add(tokens.ExpiresIn)
		}
	}
	return st
}
