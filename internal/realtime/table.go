package realtime

import (
	"strings"
	"sync"

	"coinwatcher/internal/market"
)

// Table holds the latest polled record per tracked symbol. The poller is the
// only writer; the resolver and the auto-volatility pass read from it.
type Table struct {
	mu      sync.RWMutex
	records map[string]market.PriceRecord
}

// NewTable constructs an empty realtime table.
func NewTable() *Table {
	return &Table{records: make(map[string]market.PriceRecord)}
}

func key(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Set stores a record unconditionally. Last writer wins; the poller is the
// freshest source by construction so no staleness check is needed.
func (t *Table) Set(record market.PriceRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[key(record.Symbol)] = record
}

// Get returns the latest record for symbol, if one exists.
func (t *Table) Get(symbol string) (market.PriceRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	record, ok := t.records[key(symbol)]
	return record, ok
}

// Snapshot returns a copy of the table.
func (t *Table) Snapshot() map[string]market.PriceRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]market.PriceRecord, len(t.records))
	for symbol, record := range t.records {
		out[symbol] = record
	}
	return out
}
