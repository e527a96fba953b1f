// Package engine turns quote snapshots into ranked, fee-adjusted arbitrage
// opportunities.
package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HellEvro/Arbitrage/internal/store"
	"github.com/HellEvro/Arbitrage/pkg/config"
	"github.com/HellEvro/Arbitrage/pkg/models"
)

const (
	minExchangesPerSymbol = 2
	defaultFeeRate        = 0.001
	maxHistoryEntries     = 1000
)

// FeeSource resolves a taker rate when the config fee table has no entry.
type FeeSource interface {
	GetFee(ctx context.Context, exchange, symbol string) models.FeeInfo
}

type stabilityKey struct {
	symbol string
	buy    string
	sell   string
}

// Engine evaluates the full store on every cycle and keeps the latest ranked
// result for readers. Evaluate is called from a single loop; GetLatest may be
// called from any goroutine.
type Engine struct {
	quotes *store.QuoteStore
	cfg    *config.Config
	fees   FeeSource
	log    *zap.Logger
	nowMs  func() int64

	mu      sync.Mutex
	latest  []models.ArbitrageOpportunity
	history map[stabilityKey][]int64
}

func New(quotes *store.QuoteStore, cfg *config.Config, fees FeeSource, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		quotes:  quotes,
		cfg:     cfg,
		fees:    fees,
		log:     logger.With(zap.String("component", "engine")),
		nowMs:   func() int64 { return time.Now().UnixMilli() },
		history: map[stabilityKey][]int64{},
	}
}

// SetNow overrides the clock. Used by tests.
func (e *Engine) SetNow(now func() int64) { e.nowMs = now }

// Evaluate recomputes opportunities from the current snapshots and publishes
// them as the latest result. Re-evaluating unchanged data yields the same
// opportunity set.
func (e *Engine) Evaluate(ctx context.Context) []models.ArbitrageOpportunity {
	snapshots := e.quotes.List()
	opportunities := e.compute(ctx, snapshots)

	e.mu.Lock()
	e.latest = opportunities
	e.mu.Unlock()

	if len(opportunities) > 0 {
		top := opportunities[0]
		e.log.Info("Found arbitrage opportunities",
			zap.Int("count", len(opportunities)),
			zap.Int("snapshots", len(snapshots)),
			zap.String("top_symbol", top.Symbol),
			zap.Float64("top_net_usdt", top.SpreadUSDT))
	} else {
		e.log.Debug("No arbitrage opportunities", zap.Int("snapshots", len(snapshots)))
	}
	return append([]models.ArbitrageOpportunity{}, opportunities...)
}

// GetLatest returns a copy of the most recent evaluation result.
func (e *Engine) GetLatest() []models.ArbitrageOpportunity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.ArbitrageOpportunity{}, e.latest...)
}

func (e *Engine) compute(ctx context.Context, snapshots []*models.QuoteSnapshot) []models.ArbitrageOpportunity {
	now := e.nowMs()
	staleMs := e.cfg.Thresholds.StaleMs
	minPrice := e.cfg.Filtering.MinPriceThreshold
	ratioLimit := e.cfg.Filtering.PriceRatioThreshold

	var results []models.ArbitrageOpportunity
	var filteredStale, filteredExchanges, filteredPrice int

	for _, snap := range snapshots {
		if len(snap.Prices) < minExchangesPerSymbol {
			filteredExchanges++
			continue
		}
		if now-snap.TimestampMs > staleMs {
			filteredStale++
			continue
		}

		// Deterministic pair enumeration: exchange names sorted.
		names := make([]string, 0, len(snap.Prices))
		minAll, maxAll := 0.0, 0.0
		for name, price := range snap.Prices {
			if price <= 0 {
				continue
			}
			names = append(names, name)
			if minAll == 0 || price < minAll {
				minAll = price
			}
			if price > maxAll {
				maxAll = price
			}
		}
		if len(names) < minExchangesPerSymbol {
			filteredExchanges++
			continue
		}
		sort.Strings(names)

		// A symbol whose prices span more than the ratio threshold, or mix
		// near-zero with normal prices, is two different coins sharing a
		// ticker. Skip it entirely.
		hasNearZero := minAll < minPrice && maxAll >= minPrice
		if hasNearZero || maxAll/minAll > ratioLimit {
			filteredPrice++
			e.log.Info("Skipping symbol, price range suggests different coins",
				zap.String("symbol", snap.Symbol),
				zap.Float64("min_price", minAll),
				zap.Float64("max_price", maxAll))
			continue
		}

		for _, buyExchange := range names {
			buyPrice := snap.Prices[buyExchange]
			for _, sellExchange := range names {
				if buyExchange == sellExchange {
					continue
				}
				sellPrice := snap.Prices[sellExchange]
				if sellPrice <= buyPrice {
					continue
				}
				if (buyPrice < minPrice) != (sellPrice < minPrice) {
					filteredPrice++
					continue
				}
				if sellPrice/buyPrice > ratioLimit {
					filteredPrice++
					continue
				}

				if opp, ok := e.price(ctx, snap, buyExchange, buyPrice, sellExchange, sellPrice); ok {
					results = append(results, opp)
				}
			}
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].SpreadUSDT > results[j].SpreadUSDT
	})

	e.log.Debug("Snapshot filtering",
		zap.Int("total", len(snapshots)),
		zap.Int("filtered_by_exchanges", filteredExchanges),
		zap.Int("filtered_by_stale", filteredStale),
		zap.Int("filtered_by_price", filteredPrice),
		zap.Int("opportunities", len(results)))
	return results
}

// price applies the trade economics and threshold filters to one buy/sell
// pair. It returns false when the pair does not clear the profit or spread
// thresholds.
func (e *Engine) price(ctx context.Context, snap *models.QuoteSnapshot, buyExchange string, buyPrice float64, sellExchange string, sellPrice float64) (models.ArbitrageOpportunity, bool) {
	spreadPct := (sellPrice - buyPrice) / buyPrice * 100.0

	notional := e.cfg.Trading.NotionalUSDT
	quantity := notional / buyPrice

	buySymbol := nativeSymbol(snap, buyExchange)
	sellSymbol := nativeSymbol(snap, sellExchange)

	buyRate := e.takerRate(ctx, buyExchange, buySymbol)
	sellRate := e.takerRate(ctx, sellExchange, sellSymbol)

	feesBuy := notional * buyRate
	feesSell := quantity * sellPrice * sellRate
	totalFees := feesBuy + feesSell
	slippage := e.cfg.Trading.SlippageBps / 10000.0 * notional

	grossProfit := (sellPrice - buyPrice) * quantity
	netProfit := grossProfit - totalFees - slippage

	if netProfit < e.cfg.Thresholds.MinProfitUSDT {
		return models.ArbitrageOpportunity{}, false
	}
	if spreadPct < e.cfg.Thresholds.MinSpreadPct {
		return models.ArbitrageOpportunity{}, false
	}

	return models.ArbitrageOpportunity{
		Symbol:          snap.Symbol,
		BuyExchange:     buyExchange,
		BuyPrice:        buyPrice,
		BuySymbol:       buySymbol,
		BuyFeePct:       buyRate * 100,
		SellExchange:    sellExchange,
		SellPrice:       sellPrice,
		SellSymbol:      sellSymbol,
		SellFeePct:      sellRate * 100,
		SpreadUSDT:      netProfit,
		SpreadPct:       spreadPct,
		GrossProfitUSDT: grossProfit,
		TotalFeesUSDT:   totalFees,
		TimestampMs:     snap.TimestampMs,
		IsStable:        e.checkStability(snap.Symbol, buyExchange, sellExchange, snap.TimestampMs),
	}, true
}

// takerRate resolves the taker fee: config table first, then the fee source,
// then the flat default.
func (e *Engine) takerRate(ctx context.Context, exchangeName, symbol string) float64 {
	if rate, ok := e.cfg.Fees[exchangeName]; ok {
		return rate.Taker
	}
	if e.fees != nil {
		return e.fees.GetFee(ctx, exchangeName, symbol).Taker
	}
	return defaultFeeRate
}

// checkStability reports whether this buy/sell edge has persisted for the
// full stability window. Each sighting is appended to the pair's history and
// entries older than the window are pruned; the edge is stable once the
// oldest surviving sighting is a full window in the past.
func (e *Engine) checkStability(symbol, buyExchange, sellExchange string, timestampMs int64) bool {
	windowMs := int64(e.cfg.Filtering.StableWindowMinutes * 60 * 1000)
	key := stabilityKey{symbol: symbol, buy: buyExchange, sell: sellExchange}

	e.mu.Lock()
	defer e.mu.Unlock()

	history := append(e.history[key], timestampMs)
	cutoff := timestampMs - windowMs
	start := 0
	for start < len(history) && history[start] < cutoff {
		start++
	}
	history = history[start:]
	if len(history) > maxHistoryEntries {
		history = history[len(history)-maxHistoryEntries:]
	}
	e.history[key] = history

	return len(history) > 0 && timestampMs-history[0] >= windowMs
}

func nativeSymbol(snap *models.QuoteSnapshot, exchangeName string) string {
	if native, ok := snap.ExchangeSymbols[exchangeName]; ok {
		return native
	}
	return snap.Symbol
}
