package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cryptoview/gateway/internal/credentials"
	"github.com/cryptoview/gateway/internal/domain"
	"github.com/cryptoview/gateway/internal/gateway"
)

const (
	defaultRecvWindow  = 5000
	cancelUnknownOrder = -2011
	cancelNoSuchOrder  = -2013
)

type restClient struct {
	venueName   string
	baseURL     string
	sandboxURL  string
	recvWindow  int
	creds       *credentials.Store
	httpClient  *http.Client
	rateLimiter *gateway.RateLimiter
	logger      *slog.Logger
}

func newRESTClient(venueName, baseURL, sandboxURL string, recvWindow int, creds *credentials.Store, rl *gateway.RateLimiter, logger *slog.Logger) *restClient {
	if recvWindow <= 0 {
		recvWindow = defaultRecvWindow
	}
	return &restClient{
		venueName:  venueName,
		baseURL:    baseURL,
		sandboxURL: sandboxURL,
		recvWindow: recvWindow,
		creds:      creds,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:       10,
				IdleConnTimeout:    90 * time.Second,
				DisableCompression: true,
			},
		},
		rateLimiter: rl,
		logger:      logger,
	}
}

type venueError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// doSigned issues an authenticated request. The timestamp is attached
// immediately before transmission: the venue enforces a single-digit-second
// replay window on signed calls.
func (c *restClient) doSigned(ctx context.Context, method, path string, params url.Values, category domain.EndpointCategory) ([]byte, error) {
	if err := c.rateLimiter.Acquire(ctx, category, 1); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	cred, ok := c.creds.Get(c.venueName)
	if !ok {
		return nil, &domain.AuthError{Venue: c.venueName, Cause: "no credential configured"}
	}

	base := c.baseURL
	if cred.SandboxMode && c.sandboxURL != "" {
		base = c.sandboxURL
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("recvWindow", fmt.Sprintf("%d", c.recvWindow))
	params.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))

	query := params.Encode()
	query += "&signature=" + Sign(cred.SecretKey, query)

	req, err := http.NewRequestWithContext(ctx, method, base+path+"?"+query, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", cred.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.VenueUnavailable{Venue: c.venueName, Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.VenueUnavailable{Venue: c.venueName, Cause: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &domain.AuthError{Venue: c.venueName, Cause: strings.TrimSpace(string(body))}
	case resp.StatusCode >= 500:
		return nil, &domain.VenueUnavailable{
			Venue: c.venueName,
			Cause: fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	case resp.StatusCode >= 400:
		return nil, &domain.VenueRejected{
			Venue:      c.venueName,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	return body, nil
}

// doPublic issues an unauthenticated market-data request. Sandbox routing
// still follows the configured credential when one exists.
func (c *restClient) doPublic(ctx context.Context, path string, params url.Values, category domain.EndpointCategory) ([]byte, error) {
	if err := c.rateLimiter.Acquire(ctx, category, 1); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	base := c.baseURL
	if cred, ok := c.creds.Get(c.venueName); ok && cred.SandboxMode && c.sandboxURL != "" {
		base = c.sandboxURL
	}

	u := base + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.VenueUnavailable{Venue: c.venueName, Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.VenueUnavailable{Venue: c.venueName, Cause: err}
	}
	if resp.StatusCode >= 500 {
		return nil, &domain.VenueUnavailable{
			Venue: c.venueName,
			Cause: fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}
	if resp.StatusCode >= 400 {
		return nil, &domain.VenueRejected{
			Venue:      c.venueName,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	return body, nil
}

func (c *restClient) tickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("symbol", domain.MapSymbol(symbol, domain.BinanceSymbolMap))

	body, err := c.doPublic(ctx, "/api/v3/ticker/price", params, domain.EndpointPublicData)
	if err != nil {
		return decimal.Zero, err
	}

	var payload struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return decimal.Zero, fmt.Errorf("parse ticker: %w", err)
	}
	return domain.ParseDecimal(payload.Price)
}

type orderPayload struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	Status        string `json:"status"`
	Time          int64  `json:"time"`
	UpdateTime    int64  `json:"updateTime"`
	TransactTime  int64  `json:"transactTime"`
}

func mapStatus(s string) domain.OrderStatus {
	switch s {
	case "NEW":
		return domain.OrderStatusNew
	case "PARTIALLY_FILLED":
		return domain.OrderStatusPartiallyFilled
	case "FILLED":
		return domain.OrderStatusFilled
	case "CANCELED", "EXPIRED":
		return domain.OrderStatusCancelled
	case "REJECTED":
		return domain.OrderStatusRejected
	default:
		return domain.OrderStatus(s)
	}
}

func mapOrderType(t domain.OrderType) string {
	switch t {
	case domain.OrderTypeMarket:
		return "MARKET"
	case domain.OrderTypeStop:
		return "STOP_LOSS_LIMIT"
	default:
		return "LIMIT"
	}
}

func (c *restClient) placeOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", strings.ToUpper(string(req.Side)))
	params.Set("type", mapOrderType(req.Type))
	params.Set("quantity", req.Quantity.String())
	if req.Type != domain.OrderTypeMarket {
		params.Set("price", req.Price.String())
		params.Set("timeInForce", "GTC")
	}
	if req.Type == domain.OrderTypeStop {
		params.Set("stopPrice", req.Price.String())
	}
	if req.ClientID != "" {
		params.Set("newClientOrderId", req.ClientID)
	}

	body, err := c.doSigned(ctx, http.MethodPost, "/api/v3/order", params, domain.EndpointOrderPlace)
	if err != nil {
		return nil, err
	}

	var p orderPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("parse order response: %w", err)
	}

	result := &domain.OrderResult{
		OrderID:     fmt.Sprintf("%d", p.OrderID),
		Venue:       c.venueName,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Type:        req.Type,
		Quantity:    req.Quantity,
		Price:       req.Price,
		Status:      mapStatus(p.Status),
		SubmittedAt: time.UnixMilli(p.TransactTime),
		UpdatedAt:   time.UnixMilli(p.TransactTime),
	}
	result.FilledQty, _ = domain.ParseDecimal(p.ExecutedQty)
	return result, nil
}

// cancelOrder is idempotent from the caller's perspective: cancelling an
// order the venue no longer knows as open reports false, not an error.
func (c *restClient) cancelOrder(ctx context.Context, orderID, symbol string) (bool, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	_, err := c.doSigned(ctx, http.MethodDelete, "/api/v3/order", params, domain.EndpointOrderCancel)
	if err == nil {
		return true, nil
	}

	if rejected, ok := err.(*domain.VenueRejected); ok {
		var ve venueError
		if jsonErr := json.Unmarshal([]byte(rejected.Body), &ve); jsonErr == nil {
			if ve.Code == cancelUnknownOrder || ve.Code == cancelNoSuchOrder {
				return false, nil
			}
		}
	}
	return false, err
}

func (c *restClient) getBalances(ctx context.Context) ([]domain.Balance, error) {
	body, err := c.doSigned(ctx, http.MethodGet, "/api/v3/account", nil, domain.EndpointAccount)
	if err != nil {
		return nil, err
	}

	var result struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse balances: %w", err)
	}

	balances := make([]domain.Balance, 0, len(result.Balances))
	for _, b := range result.Balances {
		bal := domain.Balance{Asset: b.Asset}
		bal.Free, _ = domain.ParseDecimal(b.Free)
		bal.Locked, _ = domain.ParseDecimal(b.Locked)
		balances = append(balances, bal.Normalize())
	}
	return balances, nil
}

func (c *restClient) getOrders(ctx context.Context, path, symbol string, category domain.EndpointCategory) ([]domain.Order, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}

	body, err := c.doSigned(ctx, http.MethodGet, path, params, category)
	if err != nil {
		return nil, err
	}

	var payloads []orderPayload
	if err := json.Unmarshal(body, &payloads); err != nil {
		return nil, fmt.Errorf("parse orders: %w", err)
	}

	orders := make([]domain.Order, 0, len(payloads))
	for _, p := range payloads {
		o := domain.Order{
			OrderID:   fmt.Sprintf("%d", p.OrderID),
			Venue:     c.venueName,
			Symbol:    p.Symbol,
			Side:      domain.Side(strings.ToLower(p.Side)),
			Type:      domain.OrderType(strings.ToLower(p.Type)),
			Status:    mapStatus(p.Status),
			CreatedAt: time.UnixMilli(p.Time),
			UpdatedAt: time.UnixMilli(p.UpdateTime),
		}
		o.Price, _ = domain.ParseDecimal(p.Price)
		o.Quantity, _ = domain.ParseDecimal(p.OrigQty)
		o.FilledQty, _ = domain.ParseDecimal(p.ExecutedQty)
		orders = append(orders, o)
	}
	return orders, nil
}
