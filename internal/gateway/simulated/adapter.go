package simulated

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cryptoview/gateway/internal/domain"
)

// Adapter is an in-memory venue for dry-run mode. Market orders fill
// immediately at the last known mark price; limit and stop orders rest open
// until cancelled.
type Adapter struct {
	mu sync.RWMutex

	venueName string
	latencyMs int
	logger    *slog.Logger

	balances   map[string]domain.Balance
	openOrders map[string]*domain.Order
	history    []domain.Order
	markPrices map[string]decimal.Decimal
}

func New(venueName string, initialCapital decimal.Decimal, latencyMs int, logger *slog.Logger) *Adapter {
	return &Adapter{
		venueName: venueName,
		latencyMs: latencyMs,
		logger:    logger,
		balances: map[string]domain.Balance{
			"USDT": {Asset: "USDT", Free: initialCapital, Total: initialCapital},
		},
		openOrders: make(map[string]*domain.Order),
		markPrices: map[string]decimal.Decimal{
			"BTCUSDT": decimal.NewFromInt(65000),
			"ETHUSDT": decimal.NewFromInt(3200),
		},
	}
}

func (a *Adapter) Name() string { return a.venueName }

func (a *Adapter) Connect(_ context.Context) error {
	a.logger.Info("simulated venue connected", "venue", a.venueName)
	return nil
}

func (a *Adapter) Close() error {
	a.logger.Info("simulated venue closed", "venue", a.venueName)
	return nil
}

func (a *Adapter) SetMarkPrice(symbol string, price decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.markPrices[symbol] = price
}

func (a *Adapter) TickerPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	price, ok := a.markPrices[symbol]
	if !ok {
		return decimal.Zero, &domain.VenueRejected{
			Venue: a.venueName,
			Body:  fmt.Sprintf("unknown market %s", symbol),
		}
	}
	return price, nil
}

func (a *Adapter) sleep(ctx context.Context) error {
	if a.latencyMs <= 0 {
		return nil
	}
	select {
	case <-time.After(time.Duration(a.latencyMs) * time.Millisecond):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Adapter) GetBalances(ctx context.Context) ([]domain.Balance, error) {
	if err := a.sleep(ctx); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]domain.Balance, 0, len(a.balances))
	for _, b := range a.balances {
		out = append(out, b)
	}
	return out, nil
}

func (a *Adapter) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	if err := a.sleep(ctx); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	order := domain.Order{
		OrderID:   uuid.NewString(),
		Venue:     a.venueName,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Price:     req.Price,
		Quantity:  req.Quantity,
		Status:    domain.OrderStatusNew,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if req.Type == domain.OrderTypeMarket {
		mark, ok := a.markPrices[req.Symbol]
		if !ok {
			return nil, &domain.VenueRejected{
				Venue:      a.venueName,
				StatusCode: 400,
				Body:       fmt.Sprintf("no market for symbol %s", req.Symbol),
			}
		}
		order.Price = mark
		order.FilledQty = req.Quantity
		order.Status = domain.OrderStatusFilled
		a.history = append(a.history, order)
	} else {
		a.openOrders[order.OrderID] = &order
	}

	return &domain.OrderResult{
		OrderID:     order.OrderID,
		Venue:       a.venueName,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Type:        req.Type,
		Quantity:    req.Quantity,
		Price:       req.Price,
		Status:      order.Status,
		FilledQty:   order.FilledQty,
		SubmittedAt: now,
		UpdatedAt:   now,
	}, nil
}

func (a *Adapter) CancelOrder(ctx context.Context, orderID, _ string) (bool, error) {
	if err := a.sleep(ctx); err != nil {
		return false, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	order, ok := a.openOrders[orderID]
	if !ok || order.Status.IsTerminal() {
		return false, nil
	}

	order.Status = domain.OrderStatusCancelled
	order.UpdatedAt = time.Now()
	delete(a.openOrders, orderID)
	a.history = append(a.history, *order)
	return true, nil
}

func (a *Adapter) GetOpenOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	if err := a.sleep(ctx); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]domain.Order, 0, len(a.openOrders))
	for _, o := range a.openOrders {
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		out = append(out, *o)
	}
	return out, nil
}

func (a *Adapter) GetOrderHistory(ctx context.Context, symbol string) ([]domain.Order, error) {
	if err := a.sleep(ctx); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]domain.Order, 0, len(a.history))
	for _, o := range a.history {
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}
