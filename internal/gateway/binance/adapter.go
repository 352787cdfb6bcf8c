package binance

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/cryptoview/gateway/internal/credentials"
	"github.com/cryptoview/gateway/internal/domain"
	"github.com/cryptoview/gateway/internal/gateway"
)

// Adapter implements gateway.VenueAdapter for the Binance spot REST surface.
// Credentials are read from the store at request time, so a replaced session
// takes effect on the next call.
type Adapter struct {
	name   string
	rest   *restClient
	rl     *gateway.RateLimiter
	logger *slog.Logger
}

// Config carries the deployment tuning for one Binance-style venue.
type Config struct {
	RestURL    string
	SandboxURL string
	// RecvWindowMs bounds how stale a signed request may be before the
	// venue rejects it. Zero keeps the venue default of 5000.
	RecvWindowMs int
	// RateLimits overrides the per-category token buckets, keyed by the
	// endpoint category name. Categories without an override keep the
	// published Binance weights.
	RateLimits map[string]RateLimit
}

type RateLimit struct {
	Capacity        int
	RefillPerSecond int
}

var defaultBuckets = map[domain.EndpointCategory]RateLimit{
	domain.EndpointPublicData:  {Capacity: 40, RefillPerSecond: 20},
	domain.EndpointPrivateData: {Capacity: 20, RefillPerSecond: 10},
	domain.EndpointOrderPlace:  {Capacity: 10, RefillPerSecond: 5},
	domain.EndpointOrderCancel: {Capacity: 20, RefillPerSecond: 10},
	domain.EndpointAccount:     {Capacity: 10, RefillPerSecond: 5},
}

func New(name string, cfg Config, creds *credentials.Store, logger *slog.Logger) *Adapter {
	rl := gateway.NewRateLimiter()
	for category, bucket := range defaultBuckets {
		if override, ok := cfg.RateLimits[string(category)]; ok {
			bucket = override
		}
		rl.AddBucket(category, bucket.Capacity, bucket.RefillPerSecond)
	}

	return &Adapter{
		name:   name,
		rest:   newRESTClient(name, cfg.RestURL, cfg.SandboxURL, cfg.RecvWindowMs, creds, rl, logger),
		rl:     rl,
		logger: logger,
	}
}

func (a *Adapter) Name() string { return a.name }

// Connect verifies the stored credential with a signed account request.
func (a *Adapter) Connect(ctx context.Context) error {
	_, err := a.rest.getBalances(ctx)
	return err
}

func (a *Adapter) Close() error { return nil }

func (a *Adapter) GetBalances(ctx context.Context) ([]domain.Balance, error) {
	return a.rest.getBalances(ctx)
}

func (a *Adapter) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	return a.rest.placeOrder(ctx, req)
}

func (a *Adapter) CancelOrder(ctx context.Context, orderID, symbol string) (bool, error) {
	return a.rest.cancelOrder(ctx, orderID, symbol)
}

func (a *Adapter) GetOpenOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	return a.rest.getOrders(ctx, "/api/v3/openOrders", symbol, domain.EndpointPrivateData)
}

func (a *Adapter) GetOrderHistory(ctx context.Context, symbol string) ([]domain.Order, error) {
	return a.rest.getOrders(ctx, "/api/v3/allOrders", symbol, domain.EndpointPrivateData)
}

// TickerPrice fetches the latest traded price from the public ticker.
// Used by the polling tier when no push transport is available.
func (a *Adapter) TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return a.rest.tickerPrice(ctx, symbol)
}
