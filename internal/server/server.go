package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/cryptoview/gateway/internal/domain"
	"github.com/cryptoview/gateway/internal/gateway"
	"github.com/cryptoview/gateway/internal/monitor"
	"github.com/cryptoview/gateway/internal/oauth"
	"github.com/cryptoview/gateway/internal/realtime"
)

// AuditLog records order and authorization lifecycle events. Implemented by
// the persistence layer; nil disables auditing.
type AuditLog interface {
	RecordOrder(res *domain.OrderResult)
	RecordOAuthEvent(event, detail string)
}

type Config struct {
	Addr           string
	AllowedOrigins []string
	DashboardURL   string
	// Symbols to push on the price stream.
	Symbols []string
}

// Server exposes the gateway over HTTP for the dashboard: REST order and
// balance endpoints, a websocket push stream and the OAuth flow endpoints.
type Server struct {
	cfg     Config
	router  *mux.Router
	hub     *Hub
	gw      *gateway.Gateway
	streams *realtime.Manager
	oauth   *oauth.Manager
	audit   AuditLog
	logger  *slog.Logger

	httpSrv     *http.Server
	unsubscribe []func()

	shutdownOnce sync.Once
	shutdownErr  error
}

func New(cfg Config, gw *gateway.Gateway, streams *realtime.Manager, oa *oauth.Manager, audit AuditLog, metrics *monitor.Metrics, logger *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		router:  mux.NewRouter(),
		hub:     NewHub(logger),
		gw:      gw,
		streams: streams,
		oauth:   oa,
		audit:   audit,
		logger:  logger,
	}
	s.routes(metrics)
	return s
}

func (s *Server) routes(metrics *monitor.Metrics) {
	s.router.HandleFunc("/api/orders", s.handlePlaceOrder).Methods(http.MethodPost)
	s.router.HandleFunc("/api/balances", s.handleBalances).Methods(http.MethodGet)
	s.router.HandleFunc("/api/oauth", s.handleOAuth).Methods(http.MethodGet, http.MethodPost)
	s.router.HandleFunc("/api/oauth/callback", s.handleOAuthCallback).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.hub.ServeWS)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if metrics != nil {
		s.router.Handle("/metrics", monitor.MetricsHandler()).Methods(http.MethodGet)
	}
}

// Start runs the hub, bridges the realtime streams onto it and serves HTTP
// until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run()
	if err := s.bridgeStreams(); err != nil {
		return err
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	s.httpSrv = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      c.Handler(s.router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown is idempotent; Start triggers it on context cancellation and the
// process teardown path calls it again directly.
func (s *Server) Shutdown() error {
	s.shutdownOnce.Do(func() {
		for _, cancel := range s.unsubscribe {
			cancel()
		}
		s.unsubscribe = nil
		s.hub.Close()

		if s.httpSrv == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.shutdownErr = s.httpSrv.Shutdown(ctx)
	})
	return s.shutdownErr
}

// bridgeStreams subscribes to the realtime channels and republishes events
// as websocket frames.
func (s *Server) bridgeStreams() error {
	if s.streams == nil {
		return nil
	}

	cancelPrices, err := s.streams.SubscribePrices(s.cfg.Symbols, func(evt domain.StreamEvent) {
		if evt.Price == nil {
			return
		}
		s.hub.Broadcast(eventFrame{
			Type:      "price_update",
			Payload:   evt.Price,
			Timestamp: evt.Timestamp,
		})
	})
	if err != nil {
		return err
	}
	s.unsubscribe = append(s.unsubscribe, cancelPrices)

	cancelAccount, err := s.streams.SubscribeAccount(func(evt domain.StreamEvent) {
		if evt.Account == nil {
			return
		}
		s.hub.Broadcast(eventFrame{
			Type:      "balance_update",
			Payload:   evt.Account,
			Timestamp: evt.Timestamp,
		})
	})
	if err != nil {
		cancelPrices()
		return err
	}
	s.unsubscribe = append(s.unsubscribe, cancelAccount)
	return nil
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
		"time":    time.Now().UTC(),
	})
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res, err := s.gw.PlaceOrder(r.Context(), req)
	if err != nil {
		status, msg := mapOrderError(err)
		respondError(w, status, msg)
		return
	}

	if s.audit != nil {
		s.audit.RecordOrder(res)
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"order":   res,
	})
}

// mapOrderError translates the gateway error taxonomy into HTTP statuses.
func mapOrderError(err error) (int, string) {
	var vErr *domain.ValidationError
	if errors.As(err, &vErr) {
		return http.StatusBadRequest, vErr.Error()
	}
	if errors.Is(err, domain.ErrVenueNotFound) {
		return http.StatusNotFound, err.Error()
	}
	var authErr *domain.AuthError
	if errors.As(err, &authErr) {
		return http.StatusUnauthorized, authErr.Error()
	}
	// Venue rejections and transport failures both surface as server-side
	// failures to the dashboard.
	return http.StatusInternalServerError, err.Error()
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	venueID := r.URL.Query().Get("exchange")

	var balances []domain.VenueBalances
	if venueID != "" {
		adapter, ok := s.gw.Venue(venueID)
		if !ok {
			respondError(w, http.StatusNotFound, "unknown exchange: "+venueID)
			return
		}
		vb := domain.VenueBalances{Venue: venueID}
		res, err := adapter.GetBalances(r.Context())
		if err != nil {
			vb.Err = err.Error()
		} else {
			for i := range res {
				res[i] = res[i].Normalize()
			}
			vb.Balances = res
		}
		balances = []domain.VenueBalances{vb}
	} else {
		balances = s.gw.AllBalances(r.Context())
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"balances": balances,
	})
}

func (s *Server) handleOAuth(w http.ResponseWriter, r *http.Request) {
	if s.oauth == nil || !s.oauth.Available() {
		respondError(w, http.StatusNotImplemented, "oauth is not configured")
		return
	}

	action := r.URL.Query().Get("action")
	switch {
	case r.Method == http.MethodGet && action == "authorize":
		authURL, state, err := s.oauth.AuthorizeURL()
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"authUrl": authURL,
			"state":   state,
		})

	case r.Method == http.MethodGet && action == "status":
		respondJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"status":  s.oauth.Status(),
		})

	case r.Method == http.MethodPost && action == "revoke":
		err := s.oauth.Revoke(r.Context())
		if s.audit != nil {
			s.audit.RecordOAuthEvent("revoke", "")
		}
		if err != nil {
			// Local state is cleared even when the provider call fails.
			respondJSON(w, http.StatusOK, map[string]any{
				"success": true,
				"warning": "provider revocation failed, local session cleared",
			})
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"success": true})

	default:
		respondError(w, http.StatusBadRequest, "unknown oauth action: "+action)
	}
}

// handleOAuthCallback finishes the authorization-code flow and redirects the
// browser back to the dashboard with the outcome in the query string.
func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	redirect := func(params url.Values) {
		http.Redirect(w, r, s.cfg.DashboardURL+"?"+params.Encode(), http.StatusFound)
	}

	if provErr := q.Get("error"); provErr != "" {
		redirect(url.Values{"oauth_error": {provErr}})
		return
	}
	if s.oauth == nil || !s.oauth.Available() {
		redirect(url.Values{"oauth_error": {"oauth_not_configured"}})
		return
	}

	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		redirect(url.Values{"oauth_error": {"missing_code_or_state"}})
		return
	}

	userID, err := s.oauth.HandleCallback(r.Context(), code, state)
	if err != nil {
		reason := "exchange_failed"
		if errors.Is(err, domain.ErrInvalidState) {
			reason = "invalid_state"
		}
		redirect(url.Values{"oauth_error": {reason}})
		return
	}

	if s.audit != nil {
		s.audit.RecordOAuthEvent("authorized", userID)
	}
	redirect(url.Values{"oauth_success": {"true"}, "user_id": {userID}})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("response encode failed", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]any{"error": msg})
}
