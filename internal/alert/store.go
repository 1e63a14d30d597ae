package alert

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the manual alert lifecycle state. The only transition is
// active -> triggered; triggered is terminal.
type Status string

const (
	StatusActive    Status = "active"
	StatusTriggered Status = "triggered"
)

// Direction is fixed at creation from target vs original and never recomputed.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Alert is a user-created price target watch.
type Alert struct {
	ID            string
	ChatID        int64
	Symbol        string
	TargetPrice   float64
	OriginalPrice float64
	Direction     Direction
	Status        Status
	CreatedAt     time.Time
	TriggeredAt   *time.Time
	TriggerPrice  float64
}

// Crossed reports whether price satisfies the alert's crossing rule.
func (a Alert) Crossed(price float64) bool {
	if a.Direction == DirectionUp {
		return price >= a.TargetPrice
	}
	return price <= a.TargetPrice
}

// Baseline is the auto-volatility reference point for a symbol. Percent-change
// is always computed against LastAlertPrice, which rebases on every firing.
type Baseline struct {
	LastAlertPrice float64
	LastAlertAt    time.Time
}

// Store holds per-chat manual alerts, per-symbol volatility baselines, and the
// auto-volatility subscription set. All state is memory-resident and rebuilt
// from scratch on boot.
type Store struct {
	mu          sync.Mutex
	alerts      map[int64][]*Alert
	baselines   map[string]Baseline
	subscribers map[int64]bool
	now         func() time.Time
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		alerts:      make(map[int64][]*Alert),
		baselines:   make(map[string]Baseline),
		subscribers: make(map[int64]bool),
		now:         time.Now,
	}
}

// Create registers a manual alert. Direction derives from the target relative
// to the price at creation time: strictly above means the price must rise to
// or past the target, anything else means it must fall to or below it.
func (s *Store) Create(chatID int64, symbol string, targetPrice, originalPrice float64) Alert {
	direction := DirectionDown
	if targetPrice > originalPrice {
		direction = DirectionUp
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	alert := &Alert{
		ID:            uuid.NewString(),
		ChatID:        chatID,
		Symbol:        strings.ToUpper(strings.TrimSpace(symbol)),
		TargetPrice:   targetPrice,
		OriginalPrice: originalPrice,
		Direction:     direction,
		Status:        StatusActive,
		CreatedAt:     s.now().UTC(),
	}
	s.alerts[chatID] = append(s.alerts[chatID], alert)
	return *alert
}

// List returns copies of every alert for a chat, oldest first.
func (s *Store) List(chatID int64) []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Alert, 0, len(s.alerts[chatID]))
	for _, alert := range s.alerts[chatID] {
		out = append(out, *alert)
	}
	return out
}

// Clear removes every alert for a chat. This is the only deletion path; the
// engine never removes alerts.
func (s *Store) Clear(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.alerts, chatID)
}

// Active returns copies of every active alert grouped by chat.
func (s *Store) Active() map[int64][]Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int64][]Alert)
	for chatID, alerts := range s.alerts {
		for _, alert := range alerts {
			if alert.Status == StatusActive {
				out[chatID] = append(out[chatID], *alert)
			}
		}
	}
	return out
}

// MarkTriggered performs the one-way active->triggered transition, stamping
// trigger time and price. It returns false if the alert is unknown or already
// triggered, which is what guarantees the at-most-once notification.
func (s *Store) MarkTriggered(chatID int64, id string, price float64, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, alert := range s.alerts[chatID] {
		if alert.ID != id {
			continue
		}
		if alert.Status != StatusActive {
			return false
		}
		at := at.UTC()
		alert.Status = StatusTriggered
		alert.TriggeredAt = &at
		alert.TriggerPrice = price
		return true
	}
	return false
}

// SetAutoVolatility toggles a chat's auto-volatility subscription.
func (s *Store) SetAutoVolatility(chatID int64, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if enabled {
		s.subscribers[chatID] = true
		return
	}
	delete(s.subscribers, chatID)
}

// Subscribers returns the chats subscribed to auto-volatility alerts, sorted
// for deterministic broadcast order.
func (s *Store) Subscribers() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]int64, 0, len(s.subscribers))
	for chatID := range s.subscribers {
		out = append(out, chatID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Baseline returns the volatility baseline for a symbol, if seeded.
func (s *Store) Baseline(symbol string) (Baseline, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	baseline, ok := s.baselines[strings.ToUpper(symbol)]
	return baseline, ok
}

// Rebase seeds or rebases a symbol's baseline to the given price and time.
// Both fields move together so the cooldown measures time since the last
// notified move, not since boot.
func (s *Store) Rebase(symbol string, price float64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baselines[strings.ToUpper(symbol)] = Baseline{LastAlertPrice: price, LastAlertAt: at.UTC()}
}
