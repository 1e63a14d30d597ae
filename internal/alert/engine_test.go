package alert

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"coinwatcher/internal/market"
)

type stubPrices struct {
	mu       sync.Mutex
	prices   map[string]float64
	err      error
	snapshot map[string]market.PriceRecord
	calls    int
}

func (s *stubPrices) GetPrice(ctx context.Context, symbol string, force bool) (*market.PriceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	price, ok := s.prices[symbol]
	if !ok {
		return nil, nil
	}
	return &market.PriceRecord{Symbol: symbol, Price: price, ObservedAt: time.Now().UTC(), Source: market.SourceCoinGecko}, nil
}

func (s *stubPrices) Snapshot() map[string]market.PriceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]market.PriceRecord, len(s.snapshot))
	for k, v := range s.snapshot {
		out[k] = v
	}
	return out
}

type recordingNotifier struct {
	mu    sync.Mutex
	sent  []sentMessage
	fail  bool
	count int
}

type sentMessage struct {
	chatID int64
	text   string
}

func (n *recordingNotifier) Notify(ctx context.Context, chatID int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.count++
	if n.fail {
		return errors.New("sink unavailable")
	}
	n.sent = append(n.sent, sentMessage{chatID: chatID, text: text})
	return nil
}

type stubContexts struct {
	mctx *market.Context
	err  error
}

func (s *stubContexts) FetchContext(ctx context.Context, symbol string) (*market.Context, error) {
	return s.mctx, s.err
}

func newTestEngine(store *Store, prices *stubPrices, notifier *recordingNotifier, clock *time.Time) *Engine {
	e := NewEngine(EngineOptions{
		AutoThresholdPct: 3.0,
		AutoCooldown:     time.Hour,
	}, store, prices, &stubContexts{}, notifier, zerolog.Nop())
	if clock != nil {
		e.now = func() time.Time { return *clock }
		store.now = e.now
	}
	return e
}

func TestTriggerFiresExactlyOnce(t *testing.T) {
	store := NewStore()
	created := store.Create(1, "BTC", 60000, 50000)

	prices := &stubPrices{prices: map[string]float64{"BTC": 60000}}
	notifier := &recordingNotifier{}
	e := newTestEngine(store, prices, notifier, nil)

	// The crossing condition stays true across many cycles; the one-way state
	// transition must keep the notification at-most-once.
	for i := 0; i < 5; i++ {
		_ = e.CheckOnce(context.Background())
	}

	if len(notifier.sent) != 1 {
		t.Fatalf("alert must notify exactly once, got %d", len(notifier.sent))
	}
	got := store.List(1)[0]
	if got.ID != created.ID || got.Status != StatusTriggered {
		t.Fatalf("alert should be triggered: %+v", got)
	}
}

func TestBelowTargetDoesNotTrigger(t *testing.T) {
	store := NewStore()
	store.Create(1, "BTC", 60000, 50000)

	prices := &stubPrices{prices: map[string]float64{"BTC": 59999}}
	notifier := &recordingNotifier{}
	e := newTestEngine(store, prices, notifier, nil)

	_ = e.CheckOnce(context.Background())
	if len(notifier.sent) != 0 {
		t.Fatal("59999 must not trigger an up alert at 60000")
	}

	prices.mu.Lock()
	prices.prices["BTC"] = 60000
	prices.mu.Unlock()
	_ = e.CheckOnce(context.Background())
	if len(notifier.sent) != 1 {
		t.Fatalf("60000 must trigger, got %d notifications", len(notifier.sent))
	}
}

func TestResolveFailureSkipsCycleWithoutStateChange(t *testing.T) {
	store := NewStore()
	store.Create(1, "BTC", 60000, 50000)

	prices := &stubPrices{err: errors.New("upstream down")}
	notifier := &recordingNotifier{}
	e := newTestEngine(store, prices, notifier, nil)

	_ = e.CheckOnce(context.Background())
	if len(notifier.sent) != 0 {
		t.Fatal("failed resolve must not notify")
	}
	if store.List(1)[0].Status != StatusActive {
		t.Fatal("failed resolve must not change alert state")
	}

	// Nil result (no data) behaves the same.
	prices.mu.Lock()
	prices.err = nil
	prices.prices = map[string]float64{}
	prices.mu.Unlock()
	_ = e.CheckOnce(context.Background())
	if store.List(1)[0].Status != StatusActive {
		t.Fatal("nil price must not change alert state")
	}
}

func TestNotifierFailureStillConsumesTrigger(t *testing.T) {
	store := NewStore()
	store.Create(1, "BTC", 60000, 50000)

	prices := &stubPrices{prices: map[string]float64{"BTC": 61000}}
	notifier := &recordingNotifier{fail: true}
	e := newTestEngine(store, prices, notifier, nil)

	_ = e.CheckOnce(context.Background())
	if store.List(1)[0].Status != StatusTriggered {
		t.Fatal("delivery failure must not roll back the transition (at-most-once)")
	}

	notifier.fail = false
	_ = e.CheckOnce(context.Background())
	if len(notifier.sent) != 0 {
		t.Fatal("a triggered alert is never re-evaluated")
	}
}

func TestEnrichmentFailureDegradesMessageOnly(t *testing.T) {
	store := NewStore()
	store.Create(1, "BTC", 60000, 50000)

	prices := &stubPrices{prices: map[string]float64{"BTC": 61000}}
	notifier := &recordingNotifier{}
	e := newTestEngine(store, prices, notifier, nil)
	e.contexts = &stubContexts{err: errors.New("context api down")}

	_ = e.CheckOnce(context.Background())
	if len(notifier.sent) != 1 {
		t.Fatal("enrichment failure must not block delivery")
	}
	if strings.Contains(notifier.sent[0].text, "Market cap") {
		t.Fatal("degraded message should omit market context")
	}
}

func TestAutoVolatilitySeedsQuietly(t *testing.T) {
	store := NewStore()
	store.SetAutoVolatility(1, true)

	prices := &stubPrices{snapshot: map[string]market.PriceRecord{
		"BTC": {Symbol: "BTC", Price: 50000, ObservedAt: time.Now().UTC()},
	}}
	notifier := &recordingNotifier{}
	e := newTestEngine(store, prices, notifier, nil)

	_ = e.CheckOnce(context.Background())
	if len(notifier.sent) != 0 {
		t.Fatal("first sight of a symbol must seed the baseline without firing")
	}
	baseline, ok := store.Baseline("BTC")
	if !ok || baseline.LastAlertPrice != 50000 {
		t.Fatalf("baseline should be seeded to the current price: %+v", baseline)
	}
}

func TestAutoVolatilityCooldownAndRebase(t *testing.T) {
	store := NewStore()
	store.SetAutoVolatility(1, true)

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := map[string]market.PriceRecord{
		"BTC": {Symbol: "BTC", Price: 50000, ObservedAt: clock},
	}
	prices := &stubPrices{snapshot: snap}
	notifier := &recordingNotifier{}
	e := newTestEngine(store, prices, notifier, &clock)

	// Seed.
	_ = e.CheckOnce(context.Background())

	// +3.5% an hour later: fires and rebases to 51750.
	clock = clock.Add(61 * time.Minute)
	snap["BTC"] = market.PriceRecord{Symbol: "BTC", Price: 51750, ObservedAt: clock}
	_ = e.CheckOnce(context.Background())
	if len(notifier.sent) != 1 {
		t.Fatalf("first qualifying move should fire, got %d", len(notifier.sent))
	}
	baseline, _ := store.Baseline("BTC")
	if baseline.LastAlertPrice != 51750 {
		t.Fatalf("firing must rebase to the triggering price: %+v", baseline)
	}

	// Another +3.5% only 10 minutes later: inside cooldown, silent.
	clock = clock.Add(10 * time.Minute)
	snap["BTC"] = market.PriceRecord{Symbol: "BTC", Price: 53561, ObservedAt: clock}
	_ = e.CheckOnce(context.Background())
	if len(notifier.sent) != 1 {
		t.Fatalf("move inside cooldown must not fire, got %d", len(notifier.sent))
	}
	baseline, _ = store.Baseline("BTC")
	if baseline.LastAlertPrice != 51750 {
		t.Fatal("silent cycles must not rebase the baseline")
	}

	// Same price 61 minutes after the first firing: fresh >=3% from the last
	// fired price, outside cooldown, fires again and rebases again.
	clock = clock.Add(51 * time.Minute)
	_ = e.CheckOnce(context.Background())
	if len(notifier.sent) != 2 {
		t.Fatalf("move past cooldown should fire a second time, got %d", len(notifier.sent))
	}
	baseline, _ = store.Baseline("BTC")
	if baseline.LastAlertPrice != 53561 {
		t.Fatalf("second firing must rebase again: %+v", baseline)
	}
}

func TestAutoVolatilityBroadcastsToSubscribersOnly(t *testing.T) {
	store := NewStore()
	store.SetAutoVolatility(1, true)
	store.SetAutoVolatility(2, true)

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := map[string]market.PriceRecord{
		"BTC": {Symbol: "BTC", Price: 50000, ObservedAt: clock},
	}
	prices := &stubPrices{snapshot: snap}
	notifier := &recordingNotifier{}
	e := newTestEngine(store, prices, notifier, &clock)

	_ = e.CheckOnce(context.Background())
	clock = clock.Add(2 * time.Hour)
	snap["BTC"] = market.PriceRecord{Symbol: "BTC", Price: 55000, ObservedAt: clock}
	_ = e.CheckOnce(context.Background())

	if len(notifier.sent) != 2 {
		t.Fatalf("both subscribers should be notified, got %d", len(notifier.sent))
	}
	if notifier.sent[0].chatID != 1 || notifier.sent[1].chatID != 2 {
		t.Fatalf("broadcast order should follow the sorted subscriber set: %+v", notifier.sent)
	}
}

func TestSmallMoveDoesNotFire(t *testing.T) {
	store := NewStore()
	store.SetAutoVolatility(1, true)

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := map[string]market.PriceRecord{
		"BTC": {Symbol: "BTC", Price: 50000, ObservedAt: clock},
	}
	prices := &stubPrices{snapshot: snap}
	notifier := &recordingNotifier{}
	e := newTestEngine(store, prices, notifier, &clock)

	_ = e.CheckOnce(context.Background())
	clock = clock.Add(2 * time.Hour)
	snap["BTC"] = market.PriceRecord{Symbol: "BTC", Price: 51000, ObservedAt: clock} // +2%
	_ = e.CheckOnce(context.Background())

	if len(notifier.sent) != 0 {
		t.Fatal("a 2% move must not fire with a 3% threshold")
	}
}
