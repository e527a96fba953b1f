// Package discovery builds the tradeable universe: canonical USDT symbols
// listed on at least two exchanges, with the native ticker for each venue.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/HellEvro/Arbitrage/internal/exchange"
	"github.com/HellEvro/Arbitrage/pkg/config"
	"github.com/HellEvro/Arbitrage/pkg/models"
)

// MinExchangesRequired is the floor for both working venues and per-symbol
// listings. Arbitrage needs two sides.
const MinExchangesRequired = 2

// ErrInsufficientExchanges is returned by Refresh when fewer than two
// exchanges produced a market list. The previous cache is left untouched.
var ErrInsufficientExchanges = errors.New("discovery: fewer than 2 exchanges returned markets")

type overrideKey struct {
	exchange string
	native   string
}

// Service periodically rebuilds the canonical symbol map. Same-name assets on
// different venues are assumed to be the same coin unless an override says
// otherwise; the engine's price-ratio guard catches the remaining collisions.
type Service struct {
	adapters  []exchange.Adapter
	overrides map[overrideKey]string
	log       *zap.Logger

	mu    sync.Mutex
	cache []models.MarketInfo
}

// defaultOverrides pins cross-listing collisions that are known up front.
// Bitget lists ZKsync as ZKSYNCUSDT while everyone else uses ZKUSDT.
var defaultOverrides = []config.SymbolOverride{
	{Exchange: "bitget", NativeSymbol: "ZKSYNCUSDT", Canonical: "ZKUSDT"},
}

func NewService(adapters []exchange.Adapter, overrides []config.SymbolOverride, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	table := make(map[overrideKey]string, len(defaultOverrides)+len(overrides))
	for _, o := range append(append([]config.SymbolOverride{}, defaultOverrides...), overrides...) {
		key := overrideKey{
			exchange: strings.ToLower(o.Exchange),
			native:   strings.ToUpper(o.NativeSymbol),
		}
		table[key] = strings.ToUpper(o.Canonical)
	}
	return &Service{
		adapters:  adapters,
		overrides: table,
		log:       logger.With(zap.String("component", "discovery")),
	}
}

// Refresh fetches markets from every adapter concurrently and rebuilds the
// cache. Individual adapter failures are logged and treated as empty lists;
// the refresh only fails when fewer than two venues answered, in which case
// the previous cache survives.
func (s *Service) Refresh(ctx context.Context) ([]models.MarketInfo, error) {
	s.log.Info("Refreshing market discovery", zap.Int("exchanges", len(s.adapters)))

	perExchange := make([][]models.ExchangeMarket, len(s.adapters))
	var wg sync.WaitGroup
	for i, adapter := range s.adapters {
		wg.Add(1)
		go func(i int, adapter exchange.Adapter) {
			defer wg.Done()
			markets, err := adapter.FetchMarkets(ctx)
			if err != nil {
				s.log.Error("Failed to fetch markets",
					zap.String("exchange", adapter.Name()), zap.Error(err))
				return
			}
			perExchange[i] = markets
		}(i, adapter)
	}
	wg.Wait()

	successful := 0
	for _, markets := range perExchange {
		if len(markets) > 0 {
			successful++
		}
	}
	s.log.Info("Fetched markets",
		zap.Int("successful_exchanges", successful),
		zap.Int("total_exchanges", len(s.adapters)))
	if successful < MinExchangesRequired {
		return nil, fmt.Errorf("%w: got %d", ErrInsufficientExchanges, successful)
	}

	// canonical -> exchange -> native symbol
	symbolMap := map[string]map[string]string{}
	for i, adapter := range s.adapters {
		name := strings.ToLower(adapter.Name())
		for _, market := range perExchange[i] {
			if strings.ToUpper(market.QuoteAsset) != "USDT" {
				continue
			}
			native := strings.ToUpper(market.Symbol)
			canonical := s.canonical(name, native, market.BaseAsset)
			if canonical == "" {
				continue
			}
			if symbolMap[canonical] == nil {
				symbolMap[canonical] = map[string]string{}
			}
			symbolMap[canonical][name] = native
		}
	}

	intersection := make([]models.MarketInfo, 0, len(symbolMap))
	for canonical, exchanges := range symbolMap {
		if len(exchanges) < MinExchangesRequired {
			continue
		}
		names := make([]string, 0, len(exchanges))
		for name := range exchanges {
			names = append(names, name)
		}
		sort.Strings(names)
		intersection = append(intersection, models.MarketInfo{
			Symbol:          canonical,
			Exchanges:       names,
			ExchangeSymbols: exchanges,
		})
	}
	sort.Slice(intersection, func(i, j int) bool {
		return intersection[i].Symbol < intersection[j].Symbol
	})

	s.mu.Lock()
	s.cache = intersection
	s.mu.Unlock()

	s.log.Info("Found intersecting markets", zap.Int("count", len(intersection)))
	return append([]models.MarketInfo{}, intersection...), nil
}

// GetCached returns a copy of the last successful refresh, possibly empty.
func (s *Service) GetCached() []models.MarketInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.MarketInfo{}, s.cache...)
}

// canonical resolves one native listing to its canonical symbol. Overrides
// win; otherwise the canonical form is base asset + USDT.
func (s *Service) canonical(exchangeName, native, baseAsset string) string {
	if c, ok := s.overrides[overrideKey{exchange: exchangeName, native: native}]; ok {
		return c
	}
	base := strings.ToUpper(baseAsset)
	if base == "" {
		return ""
	}
	return base + "USDT"
}
