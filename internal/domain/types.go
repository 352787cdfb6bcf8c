package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeStop   OrderType = "stop"
)

type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
)

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled || s == OrderStatusRejected
}

type VenueStatus string

const (
	VenueDisconnected VenueStatus = "DISCONNECTED"
	VenueConnecting   VenueStatus = "CONNECTING"
	VenueConnected    VenueStatus = "CONNECTED"
	VenueError        VenueStatus = "ERROR"
)

// Channel identifies a logical realtime stream.
type Channel string

const (
	ChannelPrice   Channel = "price"
	ChannelAccount Channel = "account"
)

// Tier is one transport option in the realtime fallback chain.
type Tier string

const (
	TierSocket  Tier = "socket"
	TierStream  Tier = "stream"
	TierPolling Tier = "polling"
	TierNone    Tier = "none"
)

type ChannelState string

const (
	ChannelIdle     ChannelState = "IDLE"
	ChannelOpening  ChannelState = "OPENING"
	ChannelOpen     ChannelState = "OPEN"
	ChannelDegraded ChannelState = "DEGRADED"
	ChannelClosed   ChannelState = "CLOSED"
)

type EndpointCategory string

const (
	EndpointPublicData  EndpointCategory = "public_data"
	EndpointPrivateData EndpointCategory = "private_data"
	EndpointOrderPlace  EndpointCategory = "order_place"
	EndpointOrderCancel EndpointCategory = "order_cancel"
	EndpointAccount     EndpointCategory = "account"
)

type OrderRequest struct {
	Venue    string          `json:"venueId,omitempty"`
	Symbol   string          `json:"symbol" validate:"required"`
	Side     Side            `json:"side" validate:"required,oneof=buy sell"`
	Type     OrderType       `json:"type" validate:"required,oneof=market limit stop"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price,omitempty"`
	ClientID string          `json:"clientOrderId,omitempty"`
}

// OrderResult echoes the request fields plus the venue's acknowledgement.
// Immutable once returned.
type OrderResult struct {
	OrderID     string          `json:"orderId"`
	Venue       string          `json:"venueId"`
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side"`
	Type        OrderType       `json:"type"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price,omitempty"`
	Status      OrderStatus     `json:"status"`
	FilledQty   decimal.Decimal `json:"filledQuantity"`
	SubmittedAt time.Time       `json:"submittedAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

type Order struct {
	OrderID   string          `json:"orderId"`
	Venue     string          `json:"venueId"`
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"side"`
	Type      OrderType       `json:"type"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	FilledQty decimal.Decimal `json:"filledQuantity"`
	Status    OrderStatus     `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type Balance struct {
	Asset  string          `json:"asset"`
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
	Total  decimal.Decimal `json:"total"`
}

// Normalize recomputes Total from Free and Locked. Venue-reported totals are
// not trusted.
func (b Balance) Normalize() Balance {
	b.Total = b.Free.Add(b.Locked)
	return b
}

// VenueBalances is one venue's slice of the aggregated balance view. Err is
// set when that venue's query failed; Balances is empty in that case.
type VenueBalances struct {
	Venue    string    `json:"exchange"`
	Balances []Balance `json:"balances"`
	Err      string    `json:"error,omitempty"`
}

type PriceUpdate struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

type AccountUpdate struct {
	Venue     string    `json:"venueId"`
	Balances  []Balance `json:"balances"`
	Timestamp time.Time `json:"timestamp"`
}

// StreamEvent is the tagged frame fanned out to realtime subscribers and
// pushed over the /ws endpoint.
type StreamEvent struct {
	Channel   Channel        `json:"channel"`
	Tier      Tier           `json:"tier"`
	Price     *PriceUpdate   `json:"price,omitempty"`
	Account   *AccountUpdate `json:"account,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// TokenSet holds a delegated-authorization token pair. RefreshToken may be
// empty; the providers in use issue short-lived tokens without guaranteed
// refresh.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
	ObtainedAt   time.Time
}

func (t TokenSet) Expired(now time.Time) bool {
	return now.After(t.ObtainedAt.Add(t.ExpiresIn))
}
