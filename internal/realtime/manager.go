package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cryptoview/gateway/internal/domain"
	"github.com/cryptoview/gateway/internal/monitor"
)

type Config struct {
	SocketURL    string
	StreamURL    string
	PollInterval time.Duration
	Policy       ReconnectPolicy
}

type Callback func(domain.StreamEvent)

type subscription struct {
	id      int
	symbols map[string]struct{} // empty for the account channel
	cb      Callback
	active  atomic.Bool
}

type channelRuntime struct {
	state   domain.ChannelState
	tier    domain.Tier
	symbols map[string]struct{}
	subs    map[int]*subscription
	cancel  context.CancelFunc
	done    chan struct{}
}

// Manager owns the tiered realtime delivery for the Price and Account
// channels. Each channel runs at most one transport at a time; on failure
// the chain moves strictly socket -> stream -> polling. Delivery is
// at-most-once, in arrival order within a tier.
type Manager struct {
	mu       sync.Mutex
	channels map[domain.Channel]*channelRuntime
	nextID   int
	closed   bool

	cfg      Config
	snapshot SnapshotFunc

	// buildTiers is replaceable in tests to inject scripted transports.
	buildTiers func() []Transport

	metrics *monitor.Metrics
	alerts  *monitor.AlertManager
	logger  *slog.Logger
}

func NewManager(cfg Config, snapshot SnapshotFunc, metrics *monitor.Metrics, alerts *monitor.AlertManager, logger *slog.Logger) *Manager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	m := &Manager{
		channels: make(map[domain.Channel]*channelRuntime),
		cfg:      cfg,
		snapshot: snapshot,
		metrics:  metrics,
		alerts:   alerts,
		logger:   logger,
	}
	m.buildTiers = func() []Transport {
		return []Transport{
			&socketTransport{url: cfg.SocketURL, logger: logger},
			&streamTransport{url: cfg.StreamURL, httpClient: &http.Client{}, logger: logger},
			&pollTransport{interval: cfg.PollInterval, snapshot: snapshot, logger: logger},
		}
	}
	return m
}

// SubscribePrices registers cb for ticks on the given symbols and returns a
// disposer removing exactly this registration.
func (m *Manager) SubscribePrices(symbols []string, cb Callback) (func(), error) {
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		set[s] = struct{}{}
	}
	return m.subscribe(domain.ChannelPrice, set, cb)
}

// SubscribeAccount registers cb for account updates (all messages, no
// symbol filter).
func (m *Manager) SubscribeAccount(cb Callback) (func(), error) {
	return m.subscribe(domain.ChannelAccount, nil, cb)
}

func (m *Manager) subscribe(ch domain.Channel, symbols map[string]struct{}, cb Callback) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return func() {}, nil
	}

	rt, ok := m.channels[ch]
	if !ok {
		rt = &channelRuntime{
			state:   domain.ChannelIdle,
			tier:    domain.TierNone,
			symbols: make(map[string]struct{}),
			subs:    make(map[int]*subscription),
		}
		m.channels[ch] = rt
	}

	sub := &subscription{id: m.nextID, symbols: symbols, cb: cb}
	sub.active.Store(true)
	m.nextID++
	rt.subs[sub.id] = sub
	grew := false
	for s := range symbols {
		if _, seen := rt.symbols[s]; !seen {
			grew = true
		}
		rt.symbols[s] = struct{}{}
	}
	if m.metrics != nil {
		m.metrics.ActiveSubscriptions.WithLabelValues(string(ch)).Inc()
	}

	switch {
	case rt.state == domain.ChannelIdle || rt.state == domain.ChannelClosed:
		m.openChannelLocked(ch, rt)
	case grew:
		// The running transport was started with the old symbol list.
		// Restart it so the new subscriber's symbols actually flow.
		merged := rt.symbols
		m.teardownChannelLocked(ch, rt, domain.ChannelIdle)
		if m.closed {
			break
		}
		rt.symbols = merged
		m.openChannelLocked(ch, rt)
	}

	id := sub.id
	return func() { m.unsubscribe(ch, id) }, nil
}

// unsubscribe is synchronous: after it returns the callback is never
// invoked again, even for a message mid-flight at the transport level.
func (m *Manager) unsubscribe(ch domain.Channel, id int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rt, ok := m.channels[ch]
	if !ok {
		return
	}
	sub, ok := rt.subs[id]
	if !ok {
		return
	}
	sub.active.Store(false)
	delete(rt.subs, id)
	if m.metrics != nil {
		m.metrics.ActiveSubscriptions.WithLabelValues(string(ch)).Dec()
	}

	if len(rt.subs) == 0 {
		m.teardownChannelLocked(ch, rt, domain.ChannelIdle)
	}
}

func (m *Manager) openChannelLocked(ch domain.Channel, rt *channelRuntime) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	rt.cancel = cancel
	rt.done = done
	rt.state = domain.ChannelOpening

	symbols := make([]string, 0, len(rt.symbols))
	for s := range rt.symbols {
		symbols = append(symbols, s)
	}

	go m.runChannel(ctx, ch, rt, symbols, done)
}

// runChannel walks the tier chain. The polling tier is terminal: it never
// fails, only stops on cancellation, so the loop ends after it.
func (m *Manager) runChannel(ctx context.Context, ch domain.Channel, rt *channelRuntime, symbols []string, done chan struct{}) {
	defer close(done)

	tiers := m.buildTiers()
	attempt := 0

	for i, transport := range tiers {
		if delay := m.cfg.Policy.Delay(attempt); delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
		if ctx.Err() != nil {
			return
		}

		m.setChannelState(ch, rt, transport.Tier())
		if m.metrics != nil && i > 0 {
			m.metrics.TierFallbackTotal.WithLabelValues(
				string(ch), string(tiers[i-1].Tier()), string(transport.Tier())).Inc()
		}

		err := transport.Run(ctx, ch, symbols, func(evt domain.StreamEvent) {
			m.fanOut(ch, rt, evt)
		})
		if err == nil {
			// Clean shutdown via cancellation.
			return
		}

		attempt++
		if m.metrics != nil {
			m.metrics.StreamReconnectTotal.WithLabelValues(string(ch), string(transport.Tier())).Inc()
		}
		m.logger.Warn("realtime tier failed, falling back",
			"channel", string(ch), "tier", string(transport.Tier()), "error", err)
	}

	// Every tier including polling returned with an error: nothing left to
	// serve this channel.
	m.mu.Lock()
	if m.channels[ch] == rt {
		rt.state = domain.ChannelClosed
		rt.tier = domain.TierNone
	}
	m.mu.Unlock()
	m.logger.Error("all realtime tiers exhausted", "channel", string(ch))
}

func (m *Manager) setChannelState(ch domain.Channel, rt *channelRuntime, tier domain.Tier) {
	m.mu.Lock()
	prev := rt.state
	rt.tier = tier
	if tier == domain.TierPolling {
		rt.state = domain.ChannelDegraded
	} else {
		rt.state = domain.ChannelOpen
	}
	state := rt.state
	m.mu.Unlock()

	if state == domain.ChannelDegraded && prev != domain.ChannelDegraded {
		m.logger.Warn("realtime channel degraded to polling", "channel", string(ch))
		if m.alerts != nil {
			m.alerts.Fire(monitor.AlertLevelP2, "transport_degraded",
				"channel "+string(ch)+" on polling tier",
				"realtime delivery continues at polling cadence")
		}
	}
}

// fanOut delivers evt to every matching live subscription. Iteration order
// over the map is unspecified, matching the delivery contract.
func (m *Manager) fanOut(ch domain.Channel, rt *channelRuntime, evt domain.StreamEvent) {
	m.mu.Lock()
	targets := make([]*subscription, 0, len(rt.subs))
	for _, sub := range rt.subs {
		if evt.Channel == domain.ChannelPrice && evt.Price != nil && len(sub.symbols) > 0 {
			if _, ok := sub.symbols[evt.Price.Symbol]; !ok {
				continue
			}
		}
		targets = append(targets, sub)
	}
	tier := rt.tier
	m.mu.Unlock()

	for _, sub := range targets {
		if !sub.active.Load() {
			continue
		}
		sub.cb(evt)
	}
	if m.metrics != nil && len(targets) > 0 {
		m.metrics.MessagesDelivered.WithLabelValues(string(ch), string(tier)).Add(float64(len(targets)))
	}
}

// ChannelState reports the current state of a logical channel.
func (m *Manager) ChannelState(ch domain.Channel) (domain.ChannelState, domain.Tier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.channels[ch]
	if !ok {
		return domain.ChannelIdle, domain.TierNone
	}
	return rt.state, rt.tier
}

func (m *Manager) teardownChannelLocked(ch domain.Channel, rt *channelRuntime, final domain.ChannelState) {
	if rt.cancel != nil {
		rt.cancel()
		rt.cancel = nil
	}
	done := rt.done
	rt.done = nil
	rt.state = final
	rt.tier = domain.TierNone
	rt.symbols = make(map[string]struct{})

	if done != nil {
		m.mu.Unlock()
		<-done
		m.mu.Lock()
	}
}

// Close tears down every transport, timer and subscription unconditionally.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	for ch, rt := range m.channels {
		for id, sub := range rt.subs {
			sub.active.Store(false)
			delete(rt.subs, id)
		}
		if m.metrics != nil {
			m.metrics.ActiveSubscriptions.WithLabelValues(string(ch)).Set(0)
		}
		m.teardownChannelLocked(ch, rt, domain.ChannelClosed)
	}
}
