// Package store holds the latest per-exchange mid prices keyed by canonical
// symbol. Reads never block writes: the full snapshot map is published through
// an atomic pointer and every write swaps in a fresh copy.
package store

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/HellEvro/Arbitrage/pkg/models"
)

// Update is one mid-price observation heading into the store.
type Update struct {
	Symbol       string // canonical symbol
	Exchange     string
	NativeSymbol string
	Mid          float64
	TimestampMs  int64
	BaseAsset    string
	QuoteAsset   string
}

// QuoteStore is safe for any number of concurrent readers and writers.
// Readers load the current generation and work off immutable data; writers
// serialize among themselves and publish a new generation per call.
type QuoteStore struct {
	writeMu sync.Mutex
	current atomic.Pointer[map[string]*models.QuoteSnapshot]
}

func NewQuoteStore() *QuoteStore {
	s := &QuoteStore{}
	empty := map[string]*models.QuoteSnapshot{}
	s.current.Store(&empty)
	return s
}

// Upsert records one observation. Exchange keys are lowercased and symbols
// uppercased so lookups are case-insensitive.
func (s *QuoteStore) Upsert(u Update) {
	s.UpsertBatch([]Update{u})
}

// UpsertBatch applies a group of observations in one generation swap. The
// result is identical to applying the updates one at a time in order.
func (s *QuoteStore) UpsertBatch(updates []Update) {
	if len(updates) == 0 {
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	old := *s.current.Load()
	next := make(map[string]*models.QuoteSnapshot, len(old)+len(updates))
	for k, v := range old {
		next[k] = v
	}

	cloned := make(map[string]bool, len(updates))
	for _, u := range updates {
		symbol := strings.ToUpper(u.Symbol)
		exchange := strings.ToLower(u.Exchange)
		if symbol == "" || exchange == "" {
			continue
		}

		snap := next[symbol]
		switch {
		case snap == nil:
			snap = &models.QuoteSnapshot{
				Symbol:          symbol,
				Prices:          map[string]float64{},
				ExchangeSymbols: map[string]string{},
			}
			next[symbol] = snap
			cloned[symbol] = true
		case !cloned[symbol]:
			// Still shared with published generations; clone before writing.
			snap = snap.Clone()
			next[symbol] = snap
			cloned[symbol] = true
		}

		snap.Prices[exchange] = u.Mid
		if u.NativeSymbol != "" {
			snap.ExchangeSymbols[exchange] = strings.ToUpper(u.NativeSymbol)
		}
		if u.TimestampMs > snap.TimestampMs {
			snap.TimestampMs = u.TimestampMs
		}
		if u.BaseAsset != "" {
			snap.BaseAsset = strings.ToUpper(u.BaseAsset)
		}
		if u.QuoteAsset != "" {
			snap.QuoteAsset = strings.ToUpper(u.QuoteAsset)
		}
	}

	s.current.Store(&next)
}

// Get returns a deep copy of one symbol's snapshot.
func (s *QuoteStore) Get(symbol string) (*models.QuoteSnapshot, bool) {
	snap := (*s.current.Load())[strings.ToUpper(symbol)]
	if snap == nil {
		return nil, false
	}
	return snap.Clone(), true
}

// List returns deep copies of every snapshot, sorted by symbol. All entries
// come from the same generation, so the result is internally consistent.
func (s *QuoteStore) List() []*models.QuoteSnapshot {
	current := *s.current.Load()
	out := make([]*models.QuoteSnapshot, 0, len(current))
	for _, snap := range current {
		out = append(out, snap.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Len reports the number of symbols currently tracked.
func (s *QuoteStore) Len() int {
	return len(*s.current.Load())
}

// Prune drops every snapshot whose symbol is not in keep. Called when the
// market universe is rebuilt so quotes for delisted symbols do not linger.
func (s *QuoteStore) Prune(keep map[string]bool) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	old := *s.current.Load()
	next := make(map[string]*models.QuoteSnapshot, len(old))
	for symbol, snap := range old {
		if keep[symbol] {
			next[symbol] = snap
		}
	}
	s.current.Store(&next)
}

// Reset drops every snapshot.
func (s *QuoteStore) Reset() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	empty := map[string]*models.QuoteSnapshot{}
	s.current.Store(&empty)
}
