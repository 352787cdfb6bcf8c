package realtime

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cryptoview/gateway/internal/domain"
)

// Transport is one tier of the realtime fallback chain. Run blocks until
// ctx is cancelled (returns nil) or the transport fails (returns the error);
// inbound messages are handed to deliver in arrival order.
type Transport interface {
	Tier() domain.Tier
	Run(ctx context.Context, channel domain.Channel, symbols []string, deliver func(domain.StreamEvent)) error
}

// wireFrame is the JSON frame format shared by the socket and stream tiers.
type wireFrame struct {
	Channel  string           `json:"channel"`
	Symbol   string           `json:"symbol,omitempty"`
	Price    string           `json:"price,omitempty"`
	Venue    string           `json:"venueId,omitempty"`
	Balances []domain.Balance `json:"balances,omitempty"`
	Ts       int64            `json:"timestamp"`
}

func (f wireFrame) toEvent(tier domain.Tier) (domain.StreamEvent, error) {
	evt := domain.StreamEvent{
		Channel:   domain.Channel(f.Channel),
		Tier:      tier,
		Timestamp: time.UnixMilli(f.Ts),
	}
	switch evt.Channel {
	case domain.ChannelPrice:
		price, err := domain.ParseDecimal(f.Price)
		if err != nil {
			return evt, fmt.Errorf("parse price frame: %w", err)
		}
		evt.Price = &domain.PriceUpdate{Symbol: f.Symbol, Price: price, Timestamp: evt.Timestamp}
	case domain.ChannelAccount:
		evt.Account = &domain.AccountUpdate{Venue: f.Venue, Balances: f.Balances, Timestamp: evt.Timestamp}
	default:
		return evt, fmt.Errorf("unknown channel %q", f.Channel)
	}
	return evt, nil
}

// socketTransport is the bidirectional websocket tier.
type socketTransport struct {
	url    string
	logger *slog.Logger
}

func (t *socketTransport) Tier() domain.Tier { return domain.TierSocket }

func (t *socketTransport) Run(ctx context.Context, channel domain.Channel, symbols []string, deliver func(domain.StreamEvent)) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("websocket connect to %s: %w", t.url, err)
	}
	defer conn.Close()

	sub := map[string]interface{}{
		"op":      "subscribe",
		"channel": string(channel),
		"args":    symbols,
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("websocket subscribe: %w", err)
	}

	// Unblock ReadMessage on cancellation.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	t.logger.Info("websocket transport open", "url", t.url, "channel", string(channel))

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("websocket read: %w", err)
		}
		t.dispatch(message, deliver)
	}
}

func (t *socketTransport) dispatch(message []byte, deliver func(domain.StreamEvent)) {
	var frame wireFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		t.logger.Warn("failed to parse websocket frame", "error", err)
		return
	}
	evt, err := frame.toEvent(domain.TierSocket)
	if err != nil {
		t.logger.Warn("dropping malformed frame", "error", err)
		return
	}
	deliver(evt)
}

// streamTransport is the unidirectional server-push tier: a long-lived GET
// yielding newline-delimited JSON frames.
type streamTransport struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

func (t *streamTransport) Tier() domain.Tier { return domain.TierStream }

func (t *streamTransport) Run(ctx context.Context, channel domain.Channel, symbols []string, deliver func(domain.StreamEvent)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return fmt.Errorf("create stream request: %w", err)
	}
	q := req.URL.Query()
	q.Set("channel", string(channel))
	for _, s := range symbols {
		q.Add("symbol", s)
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("open push stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("push stream returned HTTP %d", resp.StatusCode)
	}

	t.logger.Info("push stream open", "url", t.url, "channel", string(channel))

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var frame wireFrame
		if err := json.Unmarshal(line, &frame); err != nil {
			t.logger.Warn("failed to parse stream frame", "error", err)
			continue
		}
		evt, err := frame.toEvent(domain.TierStream)
		if err != nil {
			continue
		}
		deliver(evt)
	}

	if ctx.Err() != nil {
		return nil
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("push stream read: %w", err)
	}
	return fmt.Errorf("push stream closed by server")
}

// SnapshotFunc fetches a point-in-time view for the polling tier.
type SnapshotFunc func(ctx context.Context, channel domain.Channel, symbols []string) ([]domain.StreamEvent, error)

// pollTransport is the last tier: periodic snapshot polling. It only stops
// on cancellation; individual poll failures are logged and retried on the
// next tick.
type pollTransport struct {
	interval time.Duration
	snapshot SnapshotFunc
	logger   *slog.Logger
}

func (t *pollTransport) Tier() domain.Tier { return domain.TierPolling }

func (t *pollTransport) Run(ctx context.Context, channel domain.Channel, symbols []string, deliver func(domain.StreamEvent)) error {
	t.logger.Info("polling transport active", "channel", string(channel), "interval", t.interval)

	t.poll(ctx, channel, symbols, deliver)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.poll(ctx, channel, symbols, deliver)
		}
	}
}

func (t *pollTransport) poll(ctx context.Context, channel domain.Channel, symbols []string, deliver func(domain.StreamEvent)) {
	events, err := t.snapshot(ctx, channel, symbols)
	if err != nil {
		t.logger.Warn("snapshot poll failed", "channel", string(channel), "error", err)
		return
	}
	for _, evt := range events {
		evt.Tier = domain.TierPolling
		deliver(evt)
	}
}
