package discovery_test

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/HellEvro/Arbitrage/internal/discovery"
	"github.com/HellEvro/Arbitrage/internal/exchange"
	"github.com/HellEvro/Arbitrage/internal/testutils"
	"github.com/HellEvro/Arbitrage/pkg/config"
	"github.com/HellEvro/Arbitrage/pkg/models"
)

func market(symbol, base string) models.ExchangeMarket {
	return models.ExchangeMarket{Symbol: symbol, BaseAsset: base, QuoteAsset: "USDT"}
}

func TestRefresh_IntersectionAcrossExchanges(t *testing.T) {
	bybit := testutils.NewFakeAdapter("bybit")
	bybit.Markets = []models.ExchangeMarket{market("BTCUSDT", "BTC"), market("ETHUSDT", "ETH")}

	kucoin := testutils.NewFakeAdapter("kucoin")
	kucoin.Markets = []models.ExchangeMarket{market("BTC-USDT", "BTC"), market("SOL-USDT", "SOL")}

	svc := discovery.NewService([]exchange.Adapter{bybit, kucoin}, nil, zap.NewNop())
	markets, err := svc.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	if len(markets) != 1 {
		t.Fatalf("Expected 1 intersecting market, got %d: %+v", len(markets), markets)
	}
	btc := markets[0]
	if btc.Symbol != "BTCUSDT" {
		t.Errorf("Expected canonical BTCUSDT, got %s", btc.Symbol)
	}
	if btc.ExchangeSymbols["bybit"] != "BTCUSDT" || btc.ExchangeSymbols["kucoin"] != "BTC-USDT" {
		t.Errorf("Native symbol mapping wrong: %v", btc.ExchangeSymbols)
	}
	if len(btc.Exchanges) != 2 || btc.Exchanges[0] != "bybit" || btc.Exchanges[1] != "kucoin" {
		t.Errorf("Exchanges should be sorted, got %v", btc.Exchanges)
	}
}

func TestRefresh_DefaultOverrideMapsBitgetZksync(t *testing.T) {
	bitget := testutils.NewFakeAdapter("bitget")
	bitget.Markets = []models.ExchangeMarket{market("ZKSYNCUSDT", "ZKSYNC")}

	okx := testutils.NewFakeAdapter("okx")
	okx.Markets = []models.ExchangeMarket{market("ZK-USDT", "ZK")}

	svc := discovery.NewService([]exchange.Adapter{bitget, okx}, nil, zap.NewNop())
	markets, err := svc.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	if len(markets) != 1 || markets[0].Symbol != "ZKUSDT" {
		t.Fatalf("Expected override to merge listings under ZKUSDT, got %+v", markets)
	}
	if markets[0].ExchangeSymbols["bitget"] != "ZKSYNCUSDT" {
		t.Errorf("Bitget native symbol should be preserved, got %v", markets[0].ExchangeSymbols)
	}
}

func TestRefresh_ConfigOverrideWinsOverDefaultCanonical(t *testing.T) {
	a := testutils.NewFakeAdapter("bybit")
	a.Markets = []models.ExchangeMarket{market("FOOUSDT", "FOO")}
	b := testutils.NewFakeAdapter("okx")
	b.Markets = []models.ExchangeMarket{market("BAR-USDT", "BAR")}

	overrides := []config.SymbolOverride{
		{Exchange: "okx", NativeSymbol: "BAR-USDT", Canonical: "FOOUSDT"},
	}
	svc := discovery.NewService([]exchange.Adapter{a, b}, overrides, zap.NewNop())
	markets, err := svc.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	if len(markets) != 1 || markets[0].Symbol != "FOOUSDT" {
		t.Fatalf("Expected configured override to merge under FOOUSDT, got %+v", markets)
	}
}

func TestRefresh_SingleListingExcluded(t *testing.T) {
	a := testutils.NewFakeAdapter("bybit")
	a.Markets = []models.ExchangeMarket{market("BTCUSDT", "BTC"), market("RAREUSDT", "RARE")}
	b := testutils.NewFakeAdapter("okx")
	b.Markets = []models.ExchangeMarket{market("BTC-USDT", "BTC")}

	svc := discovery.NewService([]exchange.Adapter{a, b}, nil, zap.NewNop())
	markets, err := svc.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	for _, m := range markets {
		if m.Symbol == "RAREUSDT" {
			t.Error("Symbol listed on a single exchange must be excluded")
		}
	}
}

func TestRefresh_InsufficientExchangesKeepsCache(t *testing.T) {
	a := testutils.NewFakeAdapter("bybit")
	a.Markets = []models.ExchangeMarket{market("BTCUSDT", "BTC")}
	b := testutils.NewFakeAdapter("okx")
	b.Markets = []models.ExchangeMarket{market("BTC-USDT", "BTC")}

	svc := discovery.NewService([]exchange.Adapter{a, b}, nil, zap.NewNop())
	if _, err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("Initial refresh failed: %v", err)
	}

	a.MarketsErr = errors.New("exchange down")
	b.MarketsErr = errors.New("exchange down")
	_, err := svc.Refresh(context.Background())
	if !errors.Is(err, discovery.ErrInsufficientExchanges) {
		t.Fatalf("Expected ErrInsufficientExchanges, got %v", err)
	}

	cached := svc.GetCached()
	if len(cached) != 1 || cached[0].Symbol != "BTCUSDT" {
		t.Errorf("Failed refresh must keep previous cache, got %+v", cached)
	}
}

func TestRefresh_OneFailureTolerated(t *testing.T) {
	a := testutils.NewFakeAdapter("bybit")
	a.Markets = []models.ExchangeMarket{market("BTCUSDT", "BTC")}
	b := testutils.NewFakeAdapter("okx")
	b.Markets = []models.ExchangeMarket{market("BTC-USDT", "BTC")}
	c := testutils.NewFakeAdapter("mexc")
	c.MarketsErr = errors.New("rate limited")

	svc := discovery.NewService([]exchange.Adapter{a, b, c}, nil, zap.NewNop())
	markets, err := svc.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh should tolerate one failing exchange: %v", err)
	}
	if len(markets) != 1 {
		t.Errorf("Expected intersection from the two healthy exchanges, got %+v", markets)
	}
}
