package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/HellEvro/Arbitrage/internal/httpx"
	"github.com/HellEvro/Arbitrage/pkg/models"
)

func testDeps() Deps {
	return Deps{
		Client:       httpx.NewClient(2 * time.Second),
		PollInterval: 10 * time.Millisecond,
	}
}

func jsonHandler(routes map[string]string) http.Handler {
	mux := http.NewServeMux()
	for path, body := range routes {
		body := body
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(body))
		})
	}
	return mux
}

// collectQuotes runs one stream until the first emitted quote, then closes
// the adapter.
func collectQuotes(t *testing.T, a Adapter, symbols []string) []models.Quote {
	t.Helper()
	var quotes []models.Quote
	done := make(chan error, 1)
	go func() {
		done <- a.StreamQuotes(context.Background(), symbols, func(q models.Quote) {
			quotes = append(quotes, q)
			a.Close()
		})
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("StreamQuotes returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("StreamQuotes did not finish")
	}
	return quotes
}

func TestRegistry_KnownExchanges(t *testing.T) {
	for _, name := range []string{"bybit", "okx", "bitget", "mexc", "kucoin"} {
		a, err := New(name, testDeps())
		if err != nil {
			t.Fatalf("New(%s) failed: %v", name, err)
		}
		if a.Name() != name {
			t.Errorf("Expected name %s, got %s", name, a.Name())
		}
		a.Close()
	}
}

func TestRegistry_UnknownExchange(t *testing.T) {
	if _, err := New("binance", testDeps()); err == nil {
		t.Error("Expected error for unregistered exchange")
	}
}

func TestBybit_FetchMarkets(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(map[string]string{
		"/v5/market/instruments-info": `{"result":{"list":[
			{"symbol":"BTCUSDT","baseCoin":"BTC","quoteCoin":"USDT","status":"Trading"},
			{"symbol":"ETHBTC","baseCoin":"ETH","quoteCoin":"BTC","status":"Trading"},
			{"symbol":"XYZUSDT","baseCoin":"XYZ","quoteCoin":"USDT","status":"Delisted"}
		]}}`,
	}))
	defer srv.Close()

	a := &bybitAdapter{base: newBase("bybit", testDeps()), restBase: srv.URL}
	markets, err := a.FetchMarkets(context.Background())
	if err != nil {
		t.Fatalf("FetchMarkets failed: %v", err)
	}
	if len(markets) != 1 {
		t.Fatalf("Expected 1 market (USDT + Trading only), got %+v", markets)
	}
	if markets[0].Symbol != "BTCUSDT" || markets[0].BaseAsset != "BTC" {
		t.Errorf("Unexpected market: %+v", markets[0])
	}
}

func TestBybit_StreamQuotes(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(map[string]string{
		"/v5/market/tickers": `{"time":1700000000000,"result":{"list":[
			{"symbol":"BTCUSDT","bid1Price":"50000.5","ask1Price":"50001.5"},
			{"symbol":"ETHUSDT","bid1Price":"3000","ask1Price":"3001"}
		]}}`,
	}))
	defer srv.Close()

	a := &bybitAdapter{base: newBase("bybit", testDeps()), restBase: srv.URL}
	quotes := collectQuotes(t, a, []string{"BTCUSDT"})
	if len(quotes) != 1 {
		t.Fatalf("Expected 1 watched quote, got %+v", quotes)
	}
	q := quotes[0]
	if q.Symbol != "BTCUSDT" || q.Bid != 50000.5 || q.Ask != 50001.5 {
		t.Errorf("Unexpected quote: %+v", q)
	}
	if q.TimestampMs != 1700000000000 {
		t.Errorf("Expected server timestamp, got %d", q.TimestampMs)
	}
}

func TestOKX_FetchMarkets(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(map[string]string{
		"/api/v5/public/instruments": `{"data":[
			{"instId":"BTC-USDT","baseCcy":"BTC","quoteCcy":"USDT","state":"live"},
			{"instId":"SUS-USDT","baseCcy":"SUS","quoteCcy":"USDT","state":"suspend"},
			{"instId":"ETH-BTC","baseCcy":"ETH","quoteCcy":"BTC","state":"live"}
		]}`,
	}))
	defer srv.Close()

	a := &okxAdapter{base: newBase("okx", testDeps()), restBase: srv.URL}
	markets, err := a.FetchMarkets(context.Background())
	if err != nil {
		t.Fatalf("FetchMarkets failed: %v", err)
	}
	if len(markets) != 1 || markets[0].Symbol != "BTC-USDT" {
		t.Fatalf("Expected only live USDT instrument, got %+v", markets)
	}
}

func TestBitget_StreamMapsSuffixedSymbols(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(map[string]string{
		"/api/spot/v1/market/tickers": `{"data":[
			{"symbol":"BTCUSDT","bidPr":"50000","askPr":"50002"}
		]}`,
	}))
	defer srv.Close()

	a := &bitgetAdapter{base: newBase("bitget", testDeps()), restBase: srv.URL}
	quotes := collectQuotes(t, a, []string{"BTCUSDT_SPBL"})
	if len(quotes) != 1 {
		t.Fatalf("Expected 1 quote, got %+v", quotes)
	}
	if quotes[0].Symbol != "BTCUSDT_SPBL" {
		t.Errorf("Quote must carry the native suffixed symbol, got %s", quotes[0].Symbol)
	}
	if quotes[0].Bid != 50000 || quotes[0].Ask != 50002 {
		t.Errorf("Unexpected prices: %+v", quotes[0])
	}
}

func TestMexc_FetchMarketsFiltersSpot(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(map[string]string{
		"/api/v3/exchangeInfo": `{"symbols":[
			{"symbol":"BTCUSDT","status":"1","baseAsset":"BTC","quoteAsset":"USDT","isSpotTradingAllowed":true},
			{"symbol":"OLDUSDT","status":"2","baseAsset":"OLD","quoteAsset":"USDT","isSpotTradingAllowed":true},
			{"symbol":"FUTUSDT","status":"1","baseAsset":"FUT","quoteAsset":"USDT","isSpotTradingAllowed":false}
		]}`,
	}))
	defer srv.Close()

	a := &mexcAdapter{base: newBase("mexc", testDeps()), restBase: srv.URL}
	markets, err := a.FetchMarkets(context.Background())
	if err != nil {
		t.Fatalf("FetchMarkets failed: %v", err)
	}
	if len(markets) != 1 || markets[0].Symbol != "BTCUSDT" {
		t.Fatalf("Expected only enabled spot USDT symbol, got %+v", markets)
	}
}

func TestMexc_FetchMarketsTickerFallback(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/exchangeInfo", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream error", http.StatusBadGateway)
	})
	mux.HandleFunc("/api/v3/ticker/24hr", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"symbol":"BTCUSDT","bidPrice":"1","askPrice":"2"},
			{"symbol":"ETHBTC","bidPrice":"1","askPrice":"2"}
		]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := &mexcAdapter{base: newBase("mexc", testDeps()), restBase: srv.URL}
	markets, err := a.FetchMarkets(context.Background())
	if err != nil {
		t.Fatalf("Fallback should succeed: %v", err)
	}
	if len(markets) != 1 || markets[0].Symbol != "BTCUSDT" || markets[0].BaseAsset != "BTC" {
		t.Fatalf("Unexpected fallback markets: %+v", markets)
	}
}

func TestKucoin_StreamQuotes(t *testing.T) {
	srv := httptest.NewServer(jsonHandler(map[string]string{
		"/api/v1/market/allTickers": `{"data":{"time":1700000000500,"ticker":[
			{"symbol":"BTC-USDT","buy":"50000","sell":"50003"},
			{"symbol":"DOGE-USDT","buy":"0","sell":"0.1"}
		]}}`,
	}))
	defer srv.Close()

	a := &kucoinAdapter{base: newBase("kucoin", testDeps()), restBase: srv.URL}
	quotes := collectQuotes(t, a, []string{"BTC-USDT", "DOGE-USDT"})
	if len(quotes) != 1 {
		t.Fatalf("Zero-bid quote must be dropped, got %+v", quotes)
	}
	if quotes[0].Symbol != "BTC-USDT" || quotes[0].TimestampMs != 1700000000500 {
		t.Errorf("Unexpected quote: %+v", quotes[0])
	}
}

func TestStream_TerminalErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "blocked", http.StatusForbidden)
	}))
	defer srv.Close()

	a := &bybitAdapter{base: newBase("bybit", testDeps()), restBase: srv.URL}
	defer a.Close()
	err := a.StreamQuotes(context.Background(), []string{"BTCUSDT"}, func(models.Quote) {})
	if err == nil {
		t.Fatal("Expected error from 403 response")
	}
	if !httpx.IsRateLimited(err) {
		t.Errorf("403 should classify as rate limited: %v", err)
	}
}
