package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/cryptoview/gateway/internal/domain"
	"github.com/cryptoview/gateway/internal/monitor"
)

// VenueAdapter translates venue-agnostic calls into one exchange's REST
// surface and normalizes the responses.
type VenueAdapter interface {
	Name() string
	Connect(ctx context.Context) error
	Close() error

	GetBalances(ctx context.Context) ([]domain.Balance, error)
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error)
	// CancelOrder reports false without error for orders already filled or
	// already cancelled; only transport failures return an error.
	CancelOrder(ctx context.Context, orderID, symbol string) (bool, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]domain.Order, error)
	GetOrderHistory(ctx context.Context, symbol string) ([]domain.Order, error)
}

// Gateway is the single entry point for order, balance and history calls.
// It is an explicit object, constructor-injected everywhere, so tests can
// run isolated instances side by side.
type Gateway struct {
	mu           sync.RWMutex
	venues       map[string]VenueAdapter
	defaultVenue string

	metrics *monitor.Metrics
	alerts  *monitor.AlertManager
	tracer  trace.Tracer
	logger  *slog.Logger
}

func New(metrics *monitor.Metrics, alerts *monitor.AlertManager, tracer trace.Tracer, logger *slog.Logger) *Gateway {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("gateway")
	}
	return &Gateway{
		venues:  make(map[string]VenueAdapter),
		metrics: metrics,
		alerts:  alerts,
		tracer:  tracer,
		logger:  logger,
	}
}

// noteVenueError escalates credential failures. A venue rejecting our keys
// means every private call is down until an operator rotates them, so it
// pages at P1 instead of riding the ordinary error metrics.
func (g *Gateway) noteVenueError(venueID string, err error) {
	var authErr *domain.AuthError
	if g.alerts != nil && errors.As(err, &authErr) {
		g.alerts.Fire(monitor.AlertLevelP1, "venue_auth_failure",
			"venue rejected API credentials",
			"authentication with "+venueID+" failed: "+err.Error())
	}
}

// RegisterVenue adds an adapter to the registry. The first registered venue
// becomes the default order-routing target.
func (g *Gateway) RegisterVenue(id string, adapter VenueAdapter) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.venues) == 0 {
		g.defaultVenue = id
	}
	g.venues[id] = adapter
}

func (g *Gateway) Venue(id string) (VenueAdapter, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	adapter, ok := g.venues[id]
	return adapter, ok
}

func (g *Gateway) SetDefaultVenue(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.defaultVenue = id
}

func (g *Gateway) DefaultVenue() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.defaultVenue
}

func (g *Gateway) resolve(id string) (VenueAdapter, string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if id == "" {
		id = g.defaultVenue
	}
	adapter, ok := g.venues[id]
	if !ok {
		return nil, id, domain.ErrVenueNotFound
	}
	return adapter, id, nil
}

// PlaceOrder validates the request shape before routing; a validation
// failure never reaches the network.
func (g *Gateway) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	if err := ValidateOrderRequest(req); err != nil {
		return nil, err
	}

	adapter, venueID, err := g.resolve(req.Venue)
	if err != nil {
		return nil, err
	}
	req.Venue = venueID
	if req.ClientID == "" {
		req.ClientID = uuid.NewString()
	}

	ctx, span := g.tracer.Start(ctx, "gateway.PlaceOrder",
		trace.WithAttributes(
			attribute.String("venue", venueID),
			attribute.String("symbol", req.Symbol),
			attribute.String("side", string(req.Side)),
		))
	defer span.End()

	start := time.Now()
	result, err := adapter.PlaceOrder(ctx, req)
	if g.metrics != nil {
		g.metrics.ObserveOrderPlacement(venueID, time.Since(start), err)
	}
	if err != nil {
		g.logger.Warn("order placement failed",
			"venue", venueID, "symbol", req.Symbol, "error", err)
		g.noteVenueError(venueID, err)
		return nil, err
	}

	g.logger.Info("order placed",
		"venue", venueID,
		"symbol", result.Symbol,
		"side", string(result.Side),
		"order_id", result.OrderID,
	)
	return result, nil
}

func (g *Gateway) CancelOrder(ctx context.Context, venueID, orderID, symbol string) (bool, error) {
	adapter, venueID, err := g.resolve(venueID)
	if err != nil {
		return false, err
	}
	cancelled, err := adapter.CancelOrder(ctx, orderID, symbol)
	if g.metrics != nil && err == nil {
		g.metrics.OrderCancelTotal.WithLabelValues(venueID).Inc()
	}
	return cancelled, err
}

func (g *Gateway) OpenOrders(ctx context.Context, venueID, symbol string) ([]domain.Order, error) {
	adapter, _, err := g.resolve(venueID)
	if err != nil {
		return nil, err
	}
	return adapter.GetOpenOrders(ctx, symbol)
}

func (g *Gateway) OrderHistory(ctx context.Context, venueID, symbol string) ([]domain.Order, error) {
	adapter, _, err := g.resolve(venueID)
	if err != nil {
		return nil, err
	}
	return adapter.GetOrderHistory(ctx, symbol)
}

// AllBalances queries every registered venue concurrently. One venue's
// failure is captured as an error marker for that venue only and never
// aborts the others. Results are ordered by venue id, rebuilt on each call.
func (g *Gateway) AllBalances(ctx context.Context) []domain.VenueBalances {
	g.mu.RLock()
	adapters := make(map[string]VenueAdapter, len(g.venues))
	for id, a := range g.venues {
		adapters[id] = a
	}
	g.mu.RUnlock()

	results := make([]domain.VenueBalances, 0, len(adapters))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for id, adapter := range adapters {
		wg.Add(1)
		go func(id string, adapter VenueAdapter) {
			defer wg.Done()

			vb := domain.VenueBalances{Venue: id, Balances: []domain.Balance{}}
			balances, err := adapter.GetBalances(ctx)
			if err != nil {
				vb.Err = err.Error()
				g.logger.Warn("balance query failed", "venue", id, "error", err)
				g.noteVenueError(id, err)
				if g.metrics != nil {
					g.metrics.VenueAPIError.WithLabelValues(id, "balances").Inc()
				}
			} else {
				normalized := make([]domain.Balance, 0, len(balances))
				for _, b := range balances {
					normalized = append(normalized, b.Normalize())
				}
				vb.Balances = normalized
			}

			mu.Lock()
			results = append(results, vb)
			mu.Unlock()
		}(id, adapter)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Venue < results[j].Venue })
	return results
}
