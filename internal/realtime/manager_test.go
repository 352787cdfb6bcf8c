package realtime

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cryptoview/gateway/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

// scriptedTransport runs a caller-provided function, so tests can force
// tier failures and inject messages.
type scriptedTransport struct {
	tier domain.Tier
	run  func(ctx context.Context, deliver func(domain.StreamEvent)) error
}

func (s *scriptedTransport) Tier() domain.Tier { return s.tier }

func (s *scriptedTransport) Run(ctx context.Context, _ domain.Channel, _ []string, deliver func(domain.StreamEvent)) error {
	return s.run(ctx, deliver)
}

func failing(tier domain.Tier) Transport {
	return &scriptedTransport{tier: tier, run: func(context.Context, func(domain.StreamEvent)) error {
		return errors.New(string(tier) + " transport down")
	}}
}

func priceEvent(symbol string, price int64) domain.StreamEvent {
	return domain.StreamEvent{
		Channel:   domain.ChannelPrice,
		Price:     &domain.PriceUpdate{Symbol: symbol, Price: decimal.NewFromInt(price), Timestamp: time.Now()},
		Timestamp: time.Now(),
	}
}

func newTestManager(tiers func() []Transport) *Manager {
	m := NewManager(Config{PollInterval: 50 * time.Millisecond}, nil, nil, nil, testLogger())
	m.buildTiers = tiers
	return m
}

func TestSocketFailureFallsBackToStream(t *testing.T) {
	delivered := make(chan domain.StreamEvent, 1)

	stream := &scriptedTransport{tier: domain.TierStream, run: func(ctx context.Context, deliver func(domain.StreamEvent)) error {
		deliver(priceEvent("BTCUSDT", 65000))
		<-ctx.Done()
		return nil
	}}

	m := newTestManager(func() []Transport {
		return []Transport{failing(domain.TierSocket), stream, failing(domain.TierPolling)}
	})
	defer m.Close()

	unsub, err := m.SubscribePrices([]string{"BTCUSDT"}, func(evt domain.StreamEvent) {
		delivered <- evt
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsub()

	select {
	case evt := <-delivered:
		if evt.Price == nil || !evt.Price.Price.Equal(decimal.NewFromInt(65000)) {
			t.Errorf("unexpected event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("tick never reached the subscriber after socket failure")
	}

	state, tier := m.ChannelState(domain.ChannelPrice)
	if state != domain.ChannelOpen || tier != domain.TierStream {
		t.Errorf("expected OPEN on stream tier, got %s on %s", state, tier)
	}
}

func TestAllPushTiersFailPollingDeliversWithinInterval(t *testing.T) {
	delivered := make(chan domain.StreamEvent, 4)

	snapshot := func(_ context.Context, ch domain.Channel, symbols []string) ([]domain.StreamEvent, error) {
		return []domain.StreamEvent{priceEvent("BTCUSDT", 64990)}, nil
	}

	m := NewManager(Config{PollInterval: 50 * time.Millisecond}, snapshot, nil, nil, testLogger())
	inner := m.buildTiers
	m.buildTiers = func() []Transport {
		tiers := inner()
		return []Transport{failing(domain.TierSocket), failing(domain.TierStream), tiers[2]}
	}
	defer m.Close()

	unsub, _ := m.SubscribePrices([]string{"BTCUSDT"}, func(evt domain.StreamEvent) {
		delivered <- evt
	})
	defer unsub()

	select {
	case evt := <-delivered:
		if evt.Tier != domain.TierPolling {
			t.Errorf("expected polling tier delivery, got %s", evt.Tier)
		}
	case <-time.After(time.Second):
		t.Fatal("polling tier did not deliver within the interval")
	}

	state, tier := m.ChannelState(domain.ChannelPrice)
	if state != domain.ChannelDegraded || tier != domain.TierPolling {
		t.Errorf("expected DEGRADED on polling, got %s on %s", state, tier)
	}
}

func TestAllTiersFailUnsubscribeDoesNotPanic(t *testing.T) {
	m := newTestManager(func() []Transport {
		return []Transport{failing(domain.TierSocket), failing(domain.TierStream), failing(domain.TierPolling)}
	})
	defer m.Close()

	unsub, _ := m.SubscribePrices([]string{"BTCUSDT"}, func(domain.StreamEvent) {})

	// Give the chain time to exhaust every tier.
	time.Sleep(50 * time.Millisecond)
	unsub()

	state, _ := m.ChannelState(domain.ChannelPrice)
	if state != domain.ChannelIdle && state != domain.ChannelClosed {
		t.Errorf("expected IDLE or CLOSED after teardown, got %s", state)
	}
}

func TestUnsubscribeRemovesOnlyOneRegistration(t *testing.T) {
	var mu sync.Mutex
	var first, second int

	open := &scriptedTransport{tier: domain.TierSocket, run: func(ctx context.Context, deliver func(domain.StreamEvent)) error {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				deliver(priceEvent("BTCUSDT", 65000))
			}
		}
	}}

	m := newTestManager(func() []Transport { return []Transport{open} })
	defer m.Close()

	unsub1, _ := m.SubscribePrices([]string{"BTCUSDT"}, func(domain.StreamEvent) {
		mu.Lock()
		first++
		mu.Unlock()
	})
	unsub2, _ := m.SubscribePrices([]string{"BTCUSDT"}, func(domain.StreamEvent) {
		mu.Lock()
		second++
		mu.Unlock()
	})
	defer unsub2()

	time.Sleep(50 * time.Millisecond)
	unsub1()
	mu.Lock()
	firstAtUnsub := first
	mu.Unlock()

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if first != firstAtUnsub {
		t.Error("removed callback must not be invoked after unsubscribe")
	}
	if second <= firstAtUnsub {
		t.Error("sibling subscription must keep receiving messages")
	}
}

func TestLastUnsubscribeClosesTransport(t *testing.T) {
	cancelled := make(chan struct{})

	open := &scriptedTransport{tier: domain.TierSocket, run: func(ctx context.Context, _ func(domain.StreamEvent)) error {
		<-ctx.Done()
		close(cancelled)
		return nil
	}}

	m := newTestManager(func() []Transport { return []Transport{open} })
	defer m.Close()

	unsub, _ := m.SubscribePrices([]string{"BTCUSDT"}, func(domain.StreamEvent) {})
	unsub()

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("transport not cancelled after last unsubscribe")
	}

	state, _ := m.ChannelState(domain.ChannelPrice)
	if state != domain.ChannelIdle {
		t.Errorf("expected IDLE after last unsubscribe, got %s", state)
	}
}

// symbolRecordingTransport reports the symbol list each run starts with,
// then blocks until cancelled.
type symbolRecordingTransport struct {
	tier domain.Tier
	runs chan []string
}

func (s *symbolRecordingTransport) Tier() domain.Tier { return s.tier }

func (s *symbolRecordingTransport) Run(ctx context.Context, _ domain.Channel, symbols []string, _ func(domain.StreamEvent)) error {
	s.runs <- symbols
	<-ctx.Done()
	return nil
}

func TestSubscribeNewSymbolsRestartsTransport(t *testing.T) {
	runs := make(chan []string, 4)
	m := newTestManager(func() []Transport {
		return []Transport{&symbolRecordingTransport{tier: domain.TierSocket, runs: runs}}
	})
	defer m.Close()

	unsub1, _ := m.SubscribePrices([]string{"BTCUSDT"}, func(domain.StreamEvent) {})
	defer unsub1()

	select {
	case first := <-runs:
		if len(first) != 1 || first[0] != "BTCUSDT" {
			t.Fatalf("first run symbols: %v", first)
		}
	case <-time.After(time.Second):
		t.Fatal("transport never started")
	}

	unsub2, _ := m.SubscribePrices([]string{"ETHUSDT"}, func(domain.StreamEvent) {})
	defer unsub2()

	select {
	case second := <-runs:
		got := make(map[string]bool, len(second))
		for _, s := range second {
			got[s] = true
		}
		if !got["BTCUSDT"] || !got["ETHUSDT"] {
			t.Fatalf("restarted run must carry the merged symbol set, got %v", second)
		}
	case <-time.After(time.Second):
		t.Fatal("transport not restarted after the symbol set grew")
	}

	// A subscriber for an already-streamed symbol must not bounce the
	// transport.
	unsub3, _ := m.SubscribePrices([]string{"ETHUSDT"}, func(domain.StreamEvent) {})
	defer unsub3()

	select {
	case extra := <-runs:
		t.Fatalf("transport restarted without new symbols: %v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPriceFanOutFiltersBySymbol(t *testing.T) {
	var mu sync.Mutex
	var btc, eth int

	open := &scriptedTransport{tier: domain.TierSocket, run: func(ctx context.Context, deliver func(domain.StreamEvent)) error {
		deliver(priceEvent("BTCUSDT", 65000))
		deliver(priceEvent("ETHUSDT", 3200))
		<-ctx.Done()
		return nil
	}}

	m := newTestManager(func() []Transport { return []Transport{open} })
	defer m.Close()

	unsub1, _ := m.SubscribePrices([]string{"BTCUSDT"}, func(domain.StreamEvent) {
		mu.Lock()
		btc++
		mu.Unlock()
	})
	defer unsub1()
	unsub2, _ := m.SubscribePrices([]string{"ETHUSDT"}, func(domain.StreamEvent) {
		mu.Lock()
		eth++
		mu.Unlock()
	})
	defer unsub2()

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if btc != 1 || eth != 1 {
		t.Errorf("expected one delivery per matching symbol, got btc=%d eth=%d", btc, eth)
	}
}

func TestAccountFanOutUnconditional(t *testing.T) {
	delivered := make(chan domain.StreamEvent, 1)

	open := &scriptedTransport{tier: domain.TierSocket, run: func(ctx context.Context, deliver func(domain.StreamEvent)) error {
		deliver(domain.StreamEvent{
			Channel:   domain.ChannelAccount,
			Account:   &domain.AccountUpdate{Venue: "binance"},
			Timestamp: time.Now(),
		})
		<-ctx.Done()
		return nil
	}}

	m := newTestManager(func() []Transport { return []Transport{open} })
	defer m.Close()

	unsub, _ := m.SubscribeAccount(func(evt domain.StreamEvent) { delivered <- evt })
	defer unsub()

	select {
	case evt := <-delivered:
		if evt.Account == nil || evt.Account.Venue != "binance" {
			t.Errorf("unexpected account event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("account update never delivered")
	}
}

func TestCloseTearsDownEverything(t *testing.T) {
	cancelled := make(chan struct{})

	open := &scriptedTransport{tier: domain.TierSocket, run: func(ctx context.Context, _ func(domain.StreamEvent)) error {
		<-ctx.Done()
		close(cancelled)
		return nil
	}}

	m := newTestManager(func() []Transport { return []Transport{open} })
	_, _ = m.SubscribePrices([]string{"BTCUSDT"}, func(domain.StreamEvent) {})

	m.Close()

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("Close must cancel open transports")
	}

	state, _ := m.ChannelState(domain.ChannelPrice)
	if state != domain.ChannelClosed {
		t.Errorf("expected CLOSED after Close, got %s", state)
	}
}

func TestReconnectPolicyBaselineIsImmediate(t *testing.T) {
	var p ReconnectPolicy
	for i := 0; i < 5; i++ {
		if d := p.Delay(i); d != 0 {
			t.Errorf("zero-value policy must be immediate, attempt %d got %s", i, d)
		}
	}
}

func TestReconnectPolicyCappedBackoff(t *testing.T) {
	p := ReconnectPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: 400 * time.Millisecond}

	if d := p.Delay(0); d != 100*time.Millisecond {
		t.Errorf("attempt 0: got %s", d)
	}
	if d := p.Delay(1); d != 200*time.Millisecond {
		t.Errorf("attempt 1: got %s", d)
	}
	if d := p.Delay(5); d != 400*time.Millisecond {
		t.Errorf("attempt 5 must be capped: got %s", d)
	}
}
