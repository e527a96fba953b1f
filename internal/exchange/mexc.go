package exchange

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/HellEvro/Arbitrage/internal/httpx"
	"github.com/HellEvro/Arbitrage/pkg/models"
)

// MEXC public REST API. MEXC throttles aggressively, so this adapter absorbs
// stream errors internally with its own exponential backoff instead of
// surfacing them to the aggregator.
type mexcAdapter struct {
	base
	restBase string
}

func init() {
	Register("mexc", func(deps Deps) Adapter {
		return &mexcAdapter{base: newBase("mexc", deps), restBase: "https://api.mexc.com"}
	})
}

type mexcExchangeInfoResponse struct {
	Symbols []struct {
		Symbol               string `json:"symbol"`
		Status               string `json:"status"`
		BaseAsset            string `json:"baseAsset"`
		QuoteAsset           string `json:"quoteAsset"`
		IsSpotTradingAllowed bool   `json:"isSpotTradingAllowed"`
	} `json:"symbols"`
}

type mexcTicker struct {
	Symbol    string `json:"symbol"`
	BidPrice  string `json:"bidPrice"`
	AskPrice  string `json:"askPrice"`
	CloseTime int64  `json:"closeTime"`
}

func (a *mexcAdapter) FetchMarkets(ctx context.Context) ([]models.ExchangeMarket, error) {
	a.log.Info("Fetching markets")
	var resp mexcExchangeInfoResponse
	err := a.client.GetJSON(ctx, a.restBase+"/api/v3/exchangeInfo", nil, &resp)
	if err == nil {
		var markets []models.ExchangeMarket
		for _, item := range resp.Symbols {
			if item.Status != "1" || !item.IsSpotTradingAllowed {
				continue
			}
			if upper(item.QuoteAsset) != "USDT" {
				continue
			}
			markets = append(markets, models.ExchangeMarket{
				Symbol:     upper(item.Symbol),
				BaseAsset:  upper(item.BaseAsset),
				QuoteAsset: "USDT",
			})
		}
		a.log.Info("Fetched USDT markets", zap.Int("count", len(markets)))
		return markets, nil
	}

	// The ticker endpoint cannot distinguish spot from futures, so this
	// fallback may overreport. Prefer exchangeInfo whenever it answers.
	a.log.Warn("exchangeInfo failed, falling back to ticker endpoint", zap.Error(err))
	var tickers []mexcTicker
	if err2 := a.client.GetJSON(ctx, a.restBase+"/api/v3/ticker/24hr", nil, &tickers); err2 != nil {
		return nil, err2
	}
	seen := make(map[string]bool, len(tickers))
	var markets []models.ExchangeMarket
	for _, t := range tickers {
		symbol := upper(t.Symbol)
		if symbol == "" || seen[symbol] || !strings.HasSuffix(symbol, "USDT") {
			continue
		}
		seen[symbol] = true
		markets = append(markets, models.ExchangeMarket{
			Symbol:     symbol,
			BaseAsset:  strings.TrimSuffix(symbol, "USDT"),
			QuoteAsset: "USDT",
		})
	}
	a.log.Warn("Fetched USDT markets via ticker fallback, may include futures", zap.Int("count", len(markets)))
	return markets, nil
}

func (a *mexcAdapter) StreamQuotes(ctx context.Context, symbols []string, emit func(models.Quote)) error {
	watched := watchSet(symbols)
	if len(watched) == 0 {
		a.log.Warn("No symbols to watch")
		return nil
	}
	a.log.Info("Starting quote stream", zap.Int("symbols", len(watched)))

	const maxDelay = 60 * time.Second
	consecutiveErrors := 0

	for !a.streamDone(ctx) {
		var tickers []mexcTicker
		err := a.client.GetJSON(ctx, a.restBase+"/api/v3/ticker/24hr", nil, &tickers)
		if err != nil {
			if a.streamDone(ctx) {
				return nil
			}
			consecutiveErrors++
			if httpx.IsRateLimited(err) {
				shift := consecutiveErrors - 1
				if shift > 5 {
					shift = 5
				}
				delay := a.pollInterval * (1 << shift)
				if delay > maxDelay {
					delay = maxDelay
				}
				a.log.Warn("Rate limited, backing off",
					zap.Int("consecutive_errors", consecutiveErrors),
					zap.Duration("delay", delay),
					zap.Error(err))
				if !a.sleep(ctx, delay) {
					return nil
				}
			} else {
				a.log.Warn("Failed to fetch quotes, will retry",
					zap.Int("consecutive_errors", consecutiveErrors),
					zap.Error(err))
				if !a.waitInterval(ctx) {
					return nil
				}
			}
			continue
		}
		if consecutiveErrors > 0 {
			consecutiveErrors = 0
			a.log.Info("Connection recovered")
		}

		ts := nowMs()
		for _, item := range tickers {
			symbol := upper(item.Symbol)
			if !watched[symbol] {
				continue
			}
			bid := toFloat(item.BidPrice)
			ask := toFloat(item.AskPrice)
			if bid <= 0 || ask <= 0 {
				continue
			}
			quoteTs := ts
			if item.CloseTime > 0 {
				quoteTs = item.CloseTime
			}
			emit(models.Quote{Symbol: symbol, Bid: bid, Ask: ask, TimestampMs: quoteTs})
		}
		if !a.waitInterval(ctx) {
			return nil
		}
	}
	return nil
}
