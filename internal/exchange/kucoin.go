package exchange

import (
	"context"

	"go.uber.org/zap"

	"github.com/HellEvro/Arbitrage/pkg/models"
)

// KuCoin public REST API. Native symbols are hyphenated ("BTC-USDT").
type kucoinAdapter struct {
	base
	restBase string
}

func init() {
	Register("kucoin", func(deps Deps) Adapter {
		return &kucoinAdapter{base: newBase("kucoin", deps), restBase: "https://api.kucoin.com"}
	})
}

type kucoinSymbolsResponse struct {
	Data []struct {
		Symbol        string `json:"symbol"`
		BaseCurrency  string `json:"baseCurrency"`
		QuoteCurrency string `json:"quoteCurrency"`
		EnableTrading bool   `json:"enableTrading"`
	} `json:"data"`
}

type kucoinAllTickersResponse struct {
	Data struct {
		Time   int64 `json:"time"`
		Ticker []struct {
			Symbol string `json:"symbol"`
			Buy    string `json:"buy"`
			Sell   string `json:"sell"`
		} `json:"ticker"`
	} `json:"data"`
}

func (a *kucoinAdapter) FetchMarkets(ctx context.Context) ([]models.ExchangeMarket, error) {
	a.log.Info("Fetching markets")
	var resp kucoinSymbolsResponse
	if err := a.client.GetJSON(ctx, a.restBase+"/api/v1/symbols", nil, &resp); err != nil {
		return nil, err
	}

	var markets []models.ExchangeMarket
	for _, item := range resp.Data {
		if upper(item.QuoteCurrency) != "USDT" {
			continue
		}
		if !item.EnableTrading {
			continue
		}
		markets = append(markets, models.ExchangeMarket{
			Symbol:     upper(item.Symbol),
			BaseAsset:  upper(item.BaseCurrency),
			QuoteAsset: "USDT",
		})
	}
	a.log.Info("Fetched USDT markets", zap.Int("count", len(markets)))
	return markets, nil
}

func (a *kucoinAdapter) StreamQuotes(ctx context.Context, symbols []string, emit func(models.Quote)) error {
	watched := watchSet(symbols)
	if len(watched) == 0 {
		a.log.Warn("No symbols to watch")
		return nil
	}
	a.log.Info("Starting quote stream", zap.Int("symbols", len(watched)))

	for !a.streamDone(ctx) {
		var resp kucoinAllTickersResponse
		if err := a.client.GetJSON(ctx, a.restBase+"/api/v1/market/allTickers", nil, &resp); err != nil {
			if a.streamDone(ctx) {
				return nil
			}
			return err
		}
		if len(resp.Data.Ticker) == 0 {
			a.log.Warn("allTickers returned empty ticker array")
			if !a.waitInterval(ctx) {
				return nil
			}
			continue
		}

		ts := resp.Data.Time
		if ts <= 0 {
			ts = nowMs()
		}
		for _, item := range resp.Data.Ticker {
			symbol := upper(item.Symbol)
			if !watched[symbol] {
				continue
			}
			bid := toFloat(item.Buy)
			ask := toFloat(item.Sell)
			if bid <= 0 || ask <= 0 {
				continue
			}
			emit(models.Quote{Symbol: symbol, Bid: bid, Ask: ask, TimestampMs: ts})
		}
		if !a.waitInterval(ctx) {
			return nil
		}
	}
	return nil
}
