package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/cryptoview/gateway/internal/config"
	"github.com/cryptoview/gateway/internal/connection"
	"github.com/cryptoview/gateway/internal/credentials"
	"github.com/cryptoview/gateway/internal/domain"
	"github.com/cryptoview/gateway/internal/gateway"
	"github.com/cryptoview/gateway/internal/gateway/binance"
	"github.com/cryptoview/gateway/internal/gateway/simulated"
	"github.com/cryptoview/gateway/internal/monitor"
	"github.com/cryptoview/gateway/internal/oauth"
	"github.com/cryptoview/gateway/internal/persistence"
	"github.com/cryptoview/gateway/internal/realtime"
	"github.com/cryptoview/gateway/internal/server"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		// A missing .env is fine; credentials may come from the real environment.
		slog.Debug("no .env file loaded", "error", err)
	}

	logger := initLogger("INFO")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger = initLogger(cfg.System.LogLevel)
	logger.Info("configuration loaded",
		"instance_id", cfg.System.InstanceID,
		"mode", cfg.System.Mode,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	metrics := monitor.NewMetrics(prometheus.DefaultRegisterer)

	tracer, tracerShutdown, err := monitor.InitTracer(cfg.System.InstanceID, logger)
	if err != nil {
		logger.Warn("failed to initialize tracer", "error", err)
	}
	if !cfg.Monitoring.TracingEnabled {
		tracer = nil
	}

	alertMgr := monitor.NewAlertManager(cfg.Monitoring.AlertChannels, logger)

	sqliteStore, err := persistence.NewSQLiteStore(cfg.Persistence.OrderLogDB, logger)
	if err != nil {
		logger.Error("failed to initialize SQLite store", "error", err)
		os.Exit(1)
	}
	defer sqliteStore.Close()

	var pgStore *persistence.PostgresStore
	if cfg.Persistence.ColdStoreDSN != "" {
		pgStore, err = persistence.NewPostgresStore(ctx, cfg.Persistence.ColdStoreDSN, cfg.Persistence.ColdStorePoolSize, logger)
		if err != nil {
			logger.Warn("PostgreSQL cold store unavailable, continuing without it", "error", err)
		} else if pgStore != nil {
			defer pgStore.Close()
			if err := pgStore.RunMigrations(ctx); err != nil {
				logger.Error("failed to run PostgreSQL migrations", "error", err)
			}
		}
	}

	writer := persistence.NewAsyncWriter(sqliteStore, pgStore, cfg.Persistence.WriteBufferSize, logger)
	writer.Run()

	credStore := credentials.NewStore()
	gw := gateway.New(metrics, alertMgr, tracer, logger)

	connections := buildVenues(cfg, gw, credStore, logger)

	for venueID, mgr := range connections {
		cred, ok := credStore.Get(venueID)
		if !ok {
			logger.Warn("no credential configured, venue stays disconnected", "venue", venueID)
			continue
		}
		if err := mgr.Connect(ctx, cred); err != nil {
			logger.Error("venue connect failed", "venue", venueID, "error", err)
			continue
		}
		logger.Info("venue connected", "venue", venueID)
	}

	streams := realtime.NewManager(realtime.Config{
		SocketURL:    cfg.Realtime.SocketURL,
		StreamURL:    cfg.Realtime.StreamURL,
		PollInterval: cfg.Realtime.PollInterval(),
		Policy: realtime.ReconnectPolicy{
			BaseDelay: cfg.Realtime.BackoffBase(),
			MaxDelay:  cfg.Realtime.BackoffMax(),
		},
	}, buildSnapshotFunc(gw), metrics, alertMgr, logger)
	defer streams.Close()

	var oauthMgr *oauth.Manager
	if cfg.OAuth.Venue != "" {
		oauthMgr = oauth.NewManager(oauth.Config{
			Venue:        cfg.OAuth.Venue,
			ClientID:     os.Getenv("OAUTH_CLIENT_ID"),
			ClientSecret: os.Getenv("OAUTH_CLIENT_SECRET"),
			AuthURL:      cfg.OAuth.AuthURL,
			TokenURL:     cfg.OAuth.TokenURL,
			RevokeURL:    cfg.OAuth.RevokeURL,
			RedirectURI:  cfg.OAuth.RedirectURI,
		}, credStore, metrics, logger)
	}

	srv := server.New(server.Config{
		Addr:           cfg.Server.Addr,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		DashboardURL:   cfg.Server.DashboardURL,
		Symbols:        cfg.Realtime.Symbols,
	}, gw, streams, oauthMgr, writer, metrics, logger)

	if err := config.WatchAndReload(*configPath, nil); err != nil {
		logger.Warn("config hot-reload setup failed", "error", err)
	}

	go cleanupLoop(ctx, sqliteStore, cfg.Persistence.Retention(), logger)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start(ctx)
	}()

	logger.Info("gateway started",
		"instance_id", cfg.System.InstanceID,
		"mode", cfg.System.Mode,
		"addr", cfg.Server.Addr,
	)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		if err != nil {
			logger.Error("http server failed", "error", err)
		}
	}

	logger.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(); err != nil {
		logger.Error("http server shutdown failed", "error", err)
	}
	streams.Close()

	for venueID, mgr := range connections {
		mgr.Disconnect()
		logger.Info("venue disconnected", "venue", venueID)
	}
	credStore.Clear()

	writer.Stop()

	if tracerShutdown != nil {
		if err := tracerShutdown(shutdownCtx); err != nil {
			logger.Error("failed to shut down tracer", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

func initLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "DEBUG":
		logLevel = slog.LevelDebug
	case "INFO":
		logLevel = slog.LevelInfo
	case "WARN":
		logLevel = slog.LevelWarn
	case "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// buildVenues registers the venue adapters for the configured mode and
// returns a connection manager per venue. Simulated mode replaces every
// enabled venue with the in-memory adapter.
func buildVenues(cfg *config.Config, gw *gateway.Gateway, credStore *credentials.Store, logger *slog.Logger) map[string]*connection.Manager {
	connections := make(map[string]*connection.Manager)

	for venueID, venueCfg := range cfg.Venues {
		if !venueCfg.Enabled {
			continue
		}

		var adapter gateway.VenueAdapter
		switch {
		case cfg.System.Mode == "simulated":
			adapter = simulated.New(venueID, decimal.NewFromInt(100000), 50, logger)
		case venueID == "binance":
			adapter = binance.New(venueID, binance.Config{
				RestURL:      venueCfg.RestURL,
				SandboxURL:   venueCfg.SandboxURL,
				RecvWindowMs: venueCfg.RecvWindow,
				RateLimits:   venueRateLimits(venueCfg.RateLimits),
			}, credStore, logger)
		default:
			logger.Warn("unknown venue, skipping", "venue", venueID)
			continue
		}

		gw.RegisterVenue(venueID, adapter)

		envPrefix := strings.ToUpper(venueID)
		apiKey := os.Getenv(fmt.Sprintf("%s_API_KEY", envPrefix))
		secretKey := os.Getenv(fmt.Sprintf("%s_API_SECRET", envPrefix))
		if apiKey != "" && secretKey != "" {
			credStore.Put(credentials.Credential{
				Venue:       venueID,
				APIKey:      apiKey,
				SecretKey:   secretKey,
				SandboxMode: cfg.System.Mode == "sandbox",
			})
		} else if cfg.System.Mode == "simulated" {
			credStore.Put(credentials.Credential{Venue: venueID, APIKey: "sim", SecretKey: "sim"})
		}

		probe := func(ctx context.Context, _ credentials.Credential) error {
			return adapter.Connect(ctx)
		}
		connections[venueID] = connection.NewManager(credStore, probe, logger)
	}

	return connections
}

func venueRateLimits(limits map[string]config.RateLimitConfig) map[string]binance.RateLimit {
	if len(limits) == 0 {
		return nil
	}
	out := make(map[string]binance.RateLimit, len(limits))
	for category, rl := range limits {
		out[category] = binance.RateLimit{
			Capacity:        rl.Capacity,
			RefillPerSecond: rl.RefillPerSecond,
		}
	}
	return out
}

type priceSource interface {
	TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// buildSnapshotFunc adapts the gateway's REST surface into the polling
// tier's snapshot source.
func buildSnapshotFunc(gw *gateway.Gateway) realtime.SnapshotFunc {
	return func(ctx context.Context, channel domain.Channel, symbols []string) ([]domain.StreamEvent, error) {
		now := time.Now().UTC()

		switch channel {
		case domain.ChannelPrice:
			adapter, ok := gw.Venue(gw.DefaultVenue())
			if !ok {
				return nil, domain.ErrVenueNotFound
			}
			src, ok := adapter.(priceSource)
			if !ok {
				return nil, fmt.Errorf("venue %s has no price source", adapter.Name())
			}

			events := make([]domain.StreamEvent, 0, len(symbols))
			for _, symbol := range symbols {
				price, err := src.TickerPrice(ctx, symbol)
				if err != nil {
					return nil, err
				}
				events = append(events, domain.StreamEvent{
					Channel:   domain.ChannelPrice,
					Price:     &domain.PriceUpdate{Symbol: symbol, Price: price, Timestamp: now},
					Timestamp: now,
				})
			}
			return events, nil

		case domain.ChannelAccount:
			var events []domain.StreamEvent
			for _, vb := range gw.AllBalances(ctx) {
				if vb.Err != "" {
					continue
				}
				events = append(events, domain.StreamEvent{
					Channel: domain.ChannelAccount,
					Account: &domain.AccountUpdate{
						Venue:     vb.Venue,
						Balances:  vb.Balances,
						Timestamp: now,
					},
					Timestamp: now,
				})
			}
			return events, nil

		default:
			return nil, fmt.Errorf("unknown channel %q", channel)
		}
	}
}

func cleanupLoop(ctx context.Context, store *persistence.SQLiteStore, retention time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.CleanupOldOrders(retention); err != nil {
				logger.Error("order log cleanup failed", "error", err)
			}
		}
	}
}
