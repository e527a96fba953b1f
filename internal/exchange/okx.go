package exchange

import (
	"context"
	"net/url"

	"go.uber.org/zap"

	"github.com/HellEvro/Arbitrage/pkg/models"
)

// OKX public REST API. Native symbols use the "BTC-USDT" form.
type okxAdapter struct {
	base
	restBase string
}

func init() {
	Register("okx", func(deps Deps) Adapter {
		return &okxAdapter{base: newBase("okx", deps), restBase: "https://www.okx.com"}
	})
}

type okxInstrumentsResponse struct {
	Data []struct {
		InstID   string `json:"instId"`
		BaseCcy  string `json:"baseCcy"`
		QuoteCcy string `json:"quoteCcy"`
		State    string `json:"state"`
	} `json:"data"`
}

type okxTickersResponse struct {
	Data []struct {
		InstID string `json:"instId"`
		BidPx  string `json:"bidPx"`
		AskPx  string `json:"askPx"`
	} `json:"data"`
}

func (a *okxAdapter) FetchMarkets(ctx context.Context) ([]models.ExchangeMarket, error) {
	a.log.Info("Fetching markets")
	var resp okxInstrumentsResponse
	params := url.Values{"instType": {"SPOT"}}
	if err := a.client.GetJSON(ctx, a.restBase+"/api/v5/public/instruments", params, &resp); err != nil {
		return nil, err
	}

	var markets []models.ExchangeMarket
	for _, item := range resp.Data {
		if upper(item.QuoteCcy) != "USDT" {
			continue
		}
		if item.State != "" && item.State != "live" {
			continue
		}
		markets = append(markets, models.ExchangeMarket{
			Symbol:     upper(item.InstID),
			BaseAsset:  upper(item.BaseCcy),
			QuoteAsset: "USDT",
		})
	}
	a.log.Info("Fetched USDT markets", zap.Int("count", len(markets)))
	return markets, nil
}

func (a *okxAdapter) StreamQuotes(ctx context.Context, symbols []string, emit func(models.Quote)) error {
	watched := watchSet(symbols)
	if len(watched) == 0 {
		a.log.Warn("No symbols to watch")
		return nil
	}
	a.log.Info("Starting quote stream", zap.Int("symbols", len(watched)))

	for !a.streamDone(ctx) {
		var resp okxTickersResponse
		params := url.Values{"instType": {"SPOT"}}
		if err := a.client.GetJSON(ctx, a.restBase+"/api/v5/market/tickers", params, &resp); err != nil {
			if a.streamDone(ctx) {
				return nil
			}
			return err
		}

		ts := nowMs()
		for _, item := range resp.Data {
			symbol := upper(item.InstID)
			if !watched[symbol] {
				continue
			}
			bid := toFloat(item.BidPx)
			ask := toFloat(item.AskPx)
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
