// Package fees resolves taker/maker rates per exchange, live where a venue
// publishes them and from documented defaults otherwise.
package fees

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/HellEvro/Arbitrage/internal/httpx"
	"github.com/HellEvro/Arbitrage/pkg/models"
)

// defaultFees come from each exchange's published standard spot tier.
var defaultFees = map[string]models.FeeInfo{
	"bybit":  {Exchange: "bybit", Taker: 0.001, Maker: 0.001},
	"mexc":   {Exchange: "mexc", Taker: 0.002, Maker: 0.002},
	"bitget": {Exchange: "bitget", Taker: 0.001, Maker: 0.001},
	"okx":    {Exchange: "okx", Taker: 0.0015, Maker: 0.0008},
	"kucoin": {Exchange: "kucoin", Taker: 0.001, Maker: 0.001},
}

const fallbackFee = 0.001

// Fetcher caches fee lookups per (exchange, symbol). MEXC is the only venue
// that exposes per-symbol commissions on a public endpoint; the rest resolve
// to their defaults without a network call.
type Fetcher struct {
	client   *httpx.Client
	log      *zap.Logger
	mexcBase string

	mu    sync.Mutex
	cache map[string]models.FeeInfo
}

func NewFetcher(client *httpx.Client, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		client:   client,
		log:      logger.With(zap.String("component", "fees")),
		mexcBase: "https://api.mexc.com",
		cache:    map[string]models.FeeInfo{},
	}
}

// SetMexcBase points the MEXC fee lookup at a different host. Used by tests.
func (f *Fetcher) SetMexcBase(base string) { f.mexcBase = base }

// GetFee returns the fee for one exchange, optionally for a specific symbol.
// Results are cached; a fetch failure caches the default so a flaky endpoint
// is not hammered once per evaluation cycle.
func (f *Fetcher) GetFee(ctx context.Context, exchangeName, symbol string) models.FeeInfo {
	exchangeName = strings.ToLower(exchangeName)
	symbol = strings.ToUpper(symbol)
	key := exchangeName + ":" + symbol

	f.mu.Lock()
	if info, ok := f.cache[key]; ok {
		f.mu.Unlock()
		return info
	}
	f.mu.Unlock()

	info := f.fetch(ctx, exchangeName, symbol)

	f.mu.Lock()
	f.cache[key] = info
	f.mu.Unlock()
	return info
}

// RefreshAll drops the cache and warms the exchange-wide defaults.
func (f *Fetcher) RefreshAll(ctx context.Context, exchanges []string) {
	f.mu.Lock()
	f.cache = map[string]models.FeeInfo{}
	f.mu.Unlock()
	for _, name := range exchanges {
		f.GetFee(ctx, name, "")
	}
}

func (f *Fetcher) fetch(ctx context.Context, exchangeName, symbol string) models.FeeInfo {
	if exchangeName == "mexc" && symbol != "" {
		if info, ok := f.fetchMexc(ctx, symbol); ok {
			return info
		}
	}
	info, ok := defaultFees[exchangeName]
	if !ok {
		info = models.FeeInfo{Exchange: exchangeName, Taker: fallbackFee, Maker: fallbackFee}
	}
	info.Symbol = symbol
	return info
}

type mexcFeeResponse struct {
	Symbols []struct {
		Symbol          string `json:"symbol"`
		MakerCommission string `json:"makerCommission"`
		TakerCommission string `json:"takerCommission"`
	} `json:"symbols"`
}

// fetchMexc reads per-symbol commissions from exchangeInfo. MEXC reports them
// either as a fraction ("0.002") or in basis points ("20"); values above 1
// are treated as basis points.
func (f *Fetcher) fetchMexc(ctx context.Context, symbol string) (models.FeeInfo, bool) {
	var resp mexcFeeResponse
	if err := f.client.GetJSON(ctx, f.mexcBase+"/api/v3/exchangeInfo", nil, &resp); err != nil {
		f.log.Warn("Failed to fetch MEXC fees, using default",
			zap.String("symbol", symbol), zap.Error(err))
		return models.FeeInfo{}, false
	}
	for _, item := range resp.Symbols {
		if strings.ToUpper(item.Symbol) != symbol {
			continue
		}
		taker := normalizeRate(item.TakerCommission, 0.002)
		maker := normalizeRate(item.MakerCommission, 0.002)
		return models.FeeInfo{Exchange: "mexc", Taker: taker, Maker: maker, Symbol: symbol}, true
	}
	return models.FeeInfo{}, false
}

func normalizeRate(raw string, fallback float64) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	rate, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	if rate > 1 {
		rate = rate / 10000
	}
	return rate
}
