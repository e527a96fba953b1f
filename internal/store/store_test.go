package store_test

import (
	"sync"
	"testing"

	"github.com/HellEvro/Arbitrage/internal/store"
)

func TestQuoteStore_UpsertAndGet(t *testing.T) {
	s := store.NewQuoteStore()

	s.Upsert(store.Update{
		Symbol:       "btcusdt",
		Exchange:     "ByBit",
		NativeSymbol: "btcusdt",
		Mid:          50000,
		TimestampMs:  1000,
	})

	snap, ok := s.Get("BTCUSDT")
	if !ok {
		t.Fatal("Expected snapshot for BTCUSDT")
	}
	if snap.Prices["bybit"] != 50000 {
		t.Errorf("Expected price under lowercase exchange key, got %v", snap.Prices)
	}
	if snap.ExchangeSymbols["bybit"] != "BTCUSDT" {
		t.Errorf("Expected uppercased native symbol, got %v", snap.ExchangeSymbols)
	}
	if snap.TimestampMs != 1000 {
		t.Errorf("Expected timestamp 1000, got %d", snap.TimestampMs)
	}
}

func TestQuoteStore_GetReturnsCopy(t *testing.T) {
	s := store.NewQuoteStore()
	s.Upsert(store.Update{Symbol: "ETHUSDT", Exchange: "okx", Mid: 3000, TimestampMs: 1})

	snap, _ := s.Get("ETHUSDT")
	snap.Prices["okx"] = 1

	again, _ := s.Get("ETHUSDT")
	if again.Prices["okx"] != 3000 {
		t.Errorf("Mutating a returned snapshot must not affect the store, got %v", again.Prices["okx"])
	}
}

func TestQuoteStore_BatchMatchesSequential(t *testing.T) {
	updates := []store.Update{
		{Symbol: "BTCUSDT", Exchange: "bybit", Mid: 100, TimestampMs: 10},
		{Symbol: "BTCUSDT", Exchange: "okx", Mid: 101, TimestampMs: 12},
		{Symbol: "BTCUSDT", Exchange: "bybit", Mid: 102, TimestampMs: 11},
		{Symbol: "ETHUSDT", Exchange: "kucoin", Mid: 50, TimestampMs: 5},
	}

	batched := store.NewQuoteStore()
	batched.UpsertBatch(updates)

	sequential := store.NewQuoteStore()
	for _, u := range updates {
		sequential.Upsert(u)
	}

	for _, symbol := range []string{"BTCUSDT", "ETHUSDT"} {
		a, _ := batched.Get(symbol)
		b, _ := sequential.Get(symbol)
		if a.TimestampMs != b.TimestampMs {
			t.Errorf("%s: timestamp mismatch batch=%d sequential=%d", symbol, a.TimestampMs, b.TimestampMs)
		}
		for name, price := range b.Prices {
			if a.Prices[name] != price {
				t.Errorf("%s: price mismatch for %s", symbol, name)
			}
		}
	}

	snap, _ := batched.Get("BTCUSDT")
	if snap.Prices["bybit"] != 102 {
		t.Errorf("Later update in batch should win, got %v", snap.Prices["bybit"])
	}
	if snap.TimestampMs != 12 {
		t.Errorf("Snapshot timestamp should be max of batch, got %d", snap.TimestampMs)
	}
}

func TestQuoteStore_TimestampNeverRegresses(t *testing.T) {
	s := store.NewQuoteStore()
	s.Upsert(store.Update{Symbol: "BTCUSDT", Exchange: "bybit", Mid: 100, TimestampMs: 100})
	s.Upsert(store.Update{Symbol: "BTCUSDT", Exchange: "okx", Mid: 99, TimestampMs: 50})

	snap, _ := s.Get("BTCUSDT")
	if snap.TimestampMs != 100 {
		t.Errorf("Older update must not lower snapshot timestamp, got %d", snap.TimestampMs)
	}
	if snap.Prices["okx"] != 99 {
		t.Errorf("Older update should still record its price, got %v", snap.Prices["okx"])
	}
}

func TestQuoteStore_Prune(t *testing.T) {
	s := store.NewQuoteStore()
	s.Upsert(store.Update{Symbol: "BTCUSDT", Exchange: "bybit", Mid: 100, TimestampMs: 1})
	s.Upsert(store.Update{Symbol: "ETHUSDT", Exchange: "bybit", Mid: 10, TimestampMs: 1})

	s.Prune(map[string]bool{"BTCUSDT": true})

	if _, ok := s.Get("BTCUSDT"); !ok {
		t.Error("Kept symbol should survive prune")
	}
	if _, ok := s.Get("ETHUSDT"); ok {
		t.Error("Dropped symbol should be gone after prune")
	}
}

func TestQuoteStore_ConcurrentReadersAndWriters(t *testing.T) {
	s := store.NewQuoteStore()
	var wg sync.WaitGroup

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				s.Upsert(store.Update{
					Symbol:      "BTCUSDT",
					Exchange:    []string{"bybit", "okx", "kucoin", "mexc"}[w],
					Mid:         float64(i + 1),
					TimestampMs: int64(i),
				})
			}
		}(w)
	}

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				if snap, ok := s.Get("BTCUSDT"); ok {
					for _, price := range snap.Prices {
						if price <= 0 {
							t.Error("Reader observed invalid price")
							return
						}
					}
				}
				s.List()
			}
		}()
	}

	wg.Wait()
}
