package exchange

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/HellEvro/Arbitrage/pkg/models"
)

// Bitget public REST API. The products endpoint returns spot symbols with a
// _SPBL suffix ("BTCUSDT_SPBL") while the ticker endpoint omits it, so the
// stream keeps a stripped-to-native mapping and emits the native form.
type bitgetAdapter struct {
	base
	restBase string
}

func init() {
	Register("bitget", func(deps Deps) Adapter {
		return &bitgetAdapter{base: newBase("bitget", deps), restBase: "https://api.bitget.com"}
	})
}

const bitgetSpotSuffix = "_SPBL"

type bitgetProductsResponse struct {
	Data []struct {
		Symbol    string `json:"symbol"`
		BaseCoin  string `json:"baseCoin"`
		QuoteCoin string `json:"quoteCoin"`
	} `json:"data"`
}

type bitgetTickersResponse struct {
	Data []struct {
		Symbol string `json:"symbol"`
		BidPr  string `json:"bidPr"`
		AskPr  string `json:"askPr"`
	} `json:"data"`
}

func (a *bitgetAdapter) FetchMarkets(ctx context.Context) ([]models.ExchangeMarket, error) {
	a.log.Info("Fetching markets")
	var resp bitgetProductsResponse
	if err := a.client.GetJSON(ctx, a.restBase+"/api/spot/v1/public/products", nil, &resp); err != nil {
		return nil, err
	}

	var markets []models.ExchangeMarket
	for _, item := range resp.Data {
		if item.Symbol == "" {
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

func (a *bitgetAdapter) StreamQuotes(ctx context.Context, symbols []string, emit func(models.Quote)) error {
	// Ticker symbols come back without the suffix; map them to the native
	// suffixed form so downstream symbol resolution stays consistent.
	toNative := make(map[string]string, len(symbols))
	for _, s := range symbols {
		native := upper(s)
		toNative[strings.TrimSuffix(native, bitgetSpotSuffix)] = native
	}
	if len(toNative) == 0 {
		a.log.Warn("No symbols to watch")
		return nil
	}
	a.log.Info("Starting quote stream", zap.Int("symbols", len(toNative)))

	for !a.streamDone(ctx) {
		var resp bitgetTickersResponse
		if err := a.client.GetJSON(ctx, a.restBase+"/api/spot/v1/market/tickers", nil, &resp); err != nil {
			if a.streamDone(ctx) {
				return nil
			}
			return err
		}
		if len(resp.Data) == 0 {
			a.log.Warn("Ticker endpoint returned empty data array")
			if !a.waitInterval(ctx) {
				return nil
			}
			continue
		}

		ts := nowMs()
		for _, item := range resp.Data {
			native, ok := toNative[upper(item.Symbol)]
			if !ok {
				continue
			}
			bid := toFloat(item.BidPr)
			ask := toFloat(item.AskPr)
			if bid <= 0 || ask <= 0 {
				continue
			}
			emit(models.Quote{Symbol: native, Bid: bid, Ask: ask, TimestampMs: ts})
		}
		if !a.waitInterval(ctx) {
			return nil
		}
	}
	return nil
}
