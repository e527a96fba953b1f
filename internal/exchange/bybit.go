package exchange

import (
	"context"
	"net/url"

	"go.uber.org/zap"

	"github.com/HellEvro/Arbitrage/pkg/models"
)

// Bybit public REST API. No authentication required for market data.
// Endpoints: /v5/market/instruments-info, /v5/market/tickers
type bybitAdapter struct {
	base
	restBase string
}

func init() {
	Register("bybit", func(deps Deps) Adapter {
		return &bybitAdapter{base: newBase("bybit", deps), restBase: "https://api.bybit.com"}
	})
}

type bybitInstrumentsResponse struct {
	Result struct {
		List []struct {
			Symbol    string `json:"symbol"`
			BaseCoin  string `json:"baseCoin"`
			QuoteCoin string `json:"quoteCoin"`
			Status    string `json:"status"`
		} `json:"list"`
	} `json:"result"`
}

type bybitTickersResponse struct {
	Result struct {
		List []struct {
			Symbol    string `json:"symbol"`
			Bid1Price string `json:"bid1Price"`
			Ask1Price string `json:"ask1Price"`
		} `json:"list"`
	} `json:"result"`
	Time int64 `json:"time"`
}

func (a *bybitAdapter) FetchMarkets(ctx context.Context) ([]models.ExchangeMarket, error) {
	a.log.Info("Fetching markets")
	var resp bybitInstrumentsResponse
	params := url.Values{"category": {"spot"}}
	if err := a.client.GetJSON(ctx, a.restBase+"/v5/market/instruments-info", params, &resp); err != nil {
		return nil, err
	}

	var markets []models.ExchangeMarket
	for _, item := range resp.Result.List {
		if item.Symbol == "" || item.BaseCoin == "" || item.QuoteCoin == "" {
			continue
		}
		if item.Status != "" && item.Status != "Trading" {
			continue
		}
		if upper(item.QuoteCoin) != "USDT" {
			continue
		}
		markets = append(markets, models.ExchangeMarket{
			Symbol:     upper(item.Symbol),
			BaseAsset:  upper(item.BaseCoin),
			QuoteAsset: "USDT",
		})
	}
	a.log.Info("Fetched USDT markets", zap.Int("count", len(markets)))
	return markets, nil
}

func (a *bybitAdapter) StreamQuotes(ctx context.Context, symbols []string, emit func(models.Quote)) error {
	watched := watchSet(symbols)
	if len(watched) == 0 {
		a.log.Warn("No symbols to watch")
		return nil
	}
	a.log.Info("Starting quote stream", zap.Int("symbols", len(watched)))

	for !a.streamDone(ctx) {
		var resp bybitTickersResponse
		params := url.Values{"category": {"spot"}}
		if err := a.client.GetJSON(ctx, a.restBase+"/v5/market/tickers", params, &resp); err != nil {
			if a.streamDone(ctx) {
				return nil
			}
			return err
		}

		ts := resp.Time
		if ts <= 0 {
			ts = nowMs()
		}
		for _, item := range resp.Result.List {
			symbol := upper(item.Symbol)
			if !watched[symbol] {
				continue
			}
			bid := toFloat(item.Bid1Price)
			ask := toFloat(item.Ask1Price)
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
