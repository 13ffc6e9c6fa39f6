// Package quote owns the Subscription Table: the refcounted mapping from
// client-facing symbol alias to the single upstream contract subscription
// it is backed by, and the normalization of upstream ticks into outbound
// frames.
package quote

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ordergate/brokerd/internal/bus"
	"github.com/ordergate/brokerd/internal/upstream"
	"github.com/ordergate/brokerd/pkg/datastructures/concurrentmap"
	"github.com/ordergate/brokerd/pkg/errors"
	"github.com/ordergate/brokerd/pkg/logger"
)

func marshalTick(t Tick) ([]byte, error) {
	return json.Marshal(t)
}

// Tick is the normalized, alias-carrying frame published to subscribers.
// Invariant: Symbol is always the client-facing alias (§3), never the
// exchange code the upstream used to identify the instrument.
type Tick struct {
	Symbol           string  `json:"symbol"`
	ExchangeCode     string  `json:"exchange_code"`
	LastPrice        float64 `json:"last_price"`
	Open             float64 `json:"open"`
	High             float64 `json:"high"`
	Low              float64 `json:"low"`
	Change           float64 `json:"change"`
	ChangePercent    float64 `json:"change_percent"`
	LastVolume       float64 `json:"last_volume"`
	CumulativeVolume float64 `json:"cumulative_volume"`
	BestBid          float64 `json:"best_bid"`
	BestAsk          float64 `json:"best_ask"`
	BestBidVolume    float64 `json:"best_bid_volume"`
	BestAskVolume    float64 `json:"best_ask_volume"`
	UpstreamTime     int64   `json:"upstream_time_unix_ms"`
}

// subscription is one alias's entry in the Subscription Table. Its fields
// are read and written from both the Subscribe/Unsubscribe callers and the
// normalizer goroutine (dynamic binding, Refcount queries), so every field
// is guarded by mu rather than relying solely on the table's shard lock,
// which only protects the map slot, not the pointed-to struct.
type subscription struct {
	mu             sync.Mutex
	contractHandle string
	refcount       int
	// exchangeCodes collects every exchange code ever observed for this
	// alias, so a second tick under the same code is still O(1) to resolve
	// (§8 scenario 4).
	exchangeCodes map[string]struct{}
}

func (s *subscription) incrRef() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refcount++
	return s.refcount
}

// decrRef decrements and returns the new refcount; it never goes negative.
func (s *subscription) decrRef() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refcount > 0 {
		s.refcount--
	}
	return s.refcount
}

func (s *subscription) refCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refcount
}

func (s *subscription) handle() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contractHandle
}

func (s *subscription) addExchangeCode(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exchangeCodes[code] = struct{}{}
}

func (s *subscription) codes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.exchangeCodes))
	for code := range s.exchangeCodes {
		out = append(out, code)
	}
	return out
}

// rawTick is pushed by the shared upstream callback and drained by the
// normalizer goroutine; per design note, the callback itself does nothing
// but push. It carries only the exchange code and payload the upstream
// handed it — resolving that code to an alias is the normalizer's job, not
// the callback's.
type rawTick struct {
	t upstream.Tick
}

// Manager tracks refcounted alias subscriptions and bridges upstream
// callbacks to bus publications.
type Manager struct {
	client upstream.Client
	bus    bus.Bus

	table *concurrentmap.ShardedMap[string, *subscription]

	// codeToAlias resolves an exchange code to the alias currently bound to
	// it. Populated eagerly at subscribe time from the resolved contract,
	// and again by dynamic binding when a callback arrives under a code
	// that was never seen before (§4.E).
	codeToAlias sync.Map

	cbOnce sync.Once
	cb     upstream.TickCallback

	raw chan rawTick
}

// New builds a Manager and starts its normalizer goroutine. ctx governs the
// normalizer's lifetime.
func New(ctx context.Context, client upstream.Client, b bus.Bus) *Manager {
	m := &Manager{
		client: client,
		bus:    b,
		table:  concurrentmap.New[string, *subscription](32),
		raw:    make(chan rawTick, 1024),
	}
	go m.normalize(ctx)
	return m
}

// sharedCallback returns the single callback installed against every
// contract this Manager subscribes to. One function value, established
// once at first use, so the upstream's own bookkeeping (keyed by contract
// handle) never needs to know which alias a handle was resolved from — the
// normalizer resolves that per tick (§4.E).
func (m *Manager) sharedCallback() upstream.TickCallback {
	m.cbOnce.Do(func() {
		m.cb = func(t upstream.Tick) { m.onTick(t) }
	})
	return m.cb
}

// Subscribe increments alias's refcount. On a 0→1 transition it issues
// exactly one pair of upstream subscribe calls (tick + bid/ask) and records
// the resolved contract's exchange code in the alias→code map; any other
// transition issues none (§8).
func (m *Manager) Subscribe(ctx context.Context, alias string) error {
	contract, ok := m.client.ResolveSymbol(alias)
	if !ok {
		return errors.NotFound("unknown symbol: "+alias, nil)
	}

	var shouldSubscribeUpstream bool
	m.table.Update(alias, func(cur *subscription, exists bool) *subscription {
		if !exists {
			cur = &subscription{contractHandle: contract.Handle, exchangeCodes: make(map[string]struct{})}
		}
		if cur.incrRef() == 1 {
			shouldSubscribeUpstream = true
		}
		return cur
	})

	if !shouldSubscribeUpstream {
		return nil
	}

	if contract.ExchangeCode != "" {
		m.bindCode(contract.ExchangeCode, alias)
	}

	cb := m.sharedCallback()
	if err := m.client.SubscribeTick(ctx, contract.Handle, cb); err != nil {
		return errors.Wrap(err, "subscribe tick")
	}
	if err := m.client.SubscribeBidAsk(ctx, contract.Handle, cb); err != nil {
		return errors.Wrap(err, "subscribe bid/ask")
	}
	return nil
}

// Unsubscribe decrements alias's refcount. On a 1→0 transition it issues
// exactly one upstream unsubscribe and clears the reverse map entries;
// refcount never goes negative.
func (m *Manager) Unsubscribe(ctx context.Context, alias string) error {
	var shouldUnsubscribeUpstream bool
	var handle string
	var known bool
	var target *subscription

	m.table.Update(alias, func(cur *subscription, exists bool) *subscription {
		if !exists {
			return cur
		}
		target = cur
		if cur.refCount() == 0 {
			return cur
		}
		known = true
		if cur.decrRef() == 0 {
			shouldUnsubscribeUpstream = true
			handle = cur.handle()
		}
		return cur
	})

	if !known || !shouldUnsubscribeUpstream {
		return nil
	}

	if err := m.client.UnsubscribeTick(ctx, handle); err != nil {
		logger.L().ErrorContext(ctx, "unsubscribe tick failed", "alias", alias, "error", err)
	}
	if err := m.client.UnsubscribeBidAsk(ctx, handle); err != nil {
		logger.L().ErrorContext(ctx, "unsubscribe bid/ask failed", "alias", alias, "error", err)
	}

	if target != nil {
		for _, code := range target.codes() {
			m.codeToAlias.Delete(code)
		}
	}
	return nil
}

// onTick is the shared upstream callback's sole job: push onto the internal
// queue and return immediately, keeping the upstream callback thread short
// and uncancellable (design note, callback-based ingestion). It does not
// know, and must not need to know, which alias this tick belongs to.
func (m *Manager) onTick(t upstream.Tick) {
	select {
	case m.raw <- rawTick{t: t}:
	default:
		logger.L().Warn("quote normalizer backlog full, dropping tick", "exchange_code", t.ExchangeCode)
	}
}

// normalize is the dedicated consumer that resolves each raw upstream tick
// to its client-facing alias and publishes it. It is the only goroutine
// that ever performs dynamic binding, so codeToAlias and exchangeCodes
// never need cross-goroutine coordination beyond the subscription's own
// mutex.
func (m *Manager) normalize(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-m.raw:
			alias, ok := m.resolveAlias(raw.t.ExchangeCode)
			if !ok {
				logger.L().Warn("dropping tick for unresolvable exchange code", "exchange_code", raw.t.ExchangeCode)
				continue
			}
			m.publish(ctx, alias, raw.t)
		}
	}
}

// resolveAlias implements §4.E's "alias resolution on callback": an
// already-bound code resolves in O(1); an unknown code attempts dynamic
// binding against currently subscribed near-month pseudo-symbols before
// giving up.
func (m *Manager) resolveAlias(code string) (string, bool) {
	if code == "" {
		return "", false
	}
	if v, ok := m.codeToAlias.Load(code); ok {
		return v.(string), true
	}
	return m.bindDynamically(code)
}

// bindDynamically scans currently subscribed aliases for one whose family
// prefix matches code's and that is itself a near-month pseudo-symbol,
// adopting code as its binding so future callbacks resolve in O(1). It
// returns false if no such alias is subscribed.
func (m *Manager) bindDynamically(code string) (string, bool) {
	family, ok := familyOf(code)
	if !ok {
		return "", false
	}

	var bound string
	m.table.Range(func(alias string, sub *subscription) bool {
		if sub.refCount() <= 0 {
			return true
		}
		if !family.isNearMonthAlias(alias) {
			return true
		}
		bound = alias
		return false
	})
	if bound == "" {
		return "", false
	}

	m.bindCode(code, bound)
	return bound, true
}

// bindCode records code as resolving to alias, both for future O(1) lookups
// (codeToAlias) and for the Subscription Table's reverse map, so
// Unsubscribe can clear it again.
func (m *Manager) bindCode(code, alias string) {
	m.codeToAlias.Store(code, alias)
	if sub, ok := m.table.Get(alias); ok {
		sub.addExchangeCode(code)
	}
}

func (m *Manager) publish(ctx context.Context, alias string, t upstream.Tick) {
	out := Tick{
		Symbol:           alias,
		ExchangeCode:     t.ExchangeCode,
		LastPrice:        t.LastPrice,
		Open:             t.Open,
		High:             t.High,
		Low:              t.Low,
		Change:           t.Change,
		ChangePercent:    t.ChangePercent,
		LastVolume:       t.LastVolume,
		CumulativeVolume: t.CumulativeVolume,
		BestBid:          t.BestBid,
		BestAsk:          t.BestAsk,
		BestBidVolume:    t.BestBidVolume,
		BestAskVolume:    t.BestAskVolume,
		UpstreamTime:     t.UpstreamTime.UnixMilli(),
	}

	payload, err := marshalTick(out)
	if err != nil {
		logger.L().ErrorContext(ctx, "marshal tick failed", "alias", alias, "error", err)
		return
	}

	if err := m.bus.Publish(ctx, bus.QuoteChannel(alias), payload); err != nil {
		logger.L().ErrorContext(ctx, "publish tick failed", "alias", alias, "error", err)
	}
}

// Refcount returns the current subscriber count for alias, for tests and
// diagnostics.
func (m *Manager) Refcount(alias string) int {
	sub, ok := m.table.Get(alias)
	if !ok {
		return 0
	}
	return sub.refCount()
}
