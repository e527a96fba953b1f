package models

// ExchangeMarket is one tradeable instrument as reported by a single exchange.
// Instances only live for the duration of a discovery refresh.
type ExchangeMarket struct {
	Symbol     string `json:"symbol"`      // native ticker, e.g. "BTC-USDT"
	BaseAsset  string `json:"base_asset"`  // e.g. "BTC"
	QuoteAsset string `json:"quote_asset"` // e.g. "USDT"
}

// Quote is a single bid/ask observation from one exchange poll cycle.
type Quote struct {
	Symbol      string  `json:"symbol"` // native symbol
	Bid         float64 `json:"bid"`
	Ask         float64 `json:"ask"`
	TimestampMs int64   `json:"timestamp_ms"`
}

// MarketInfo maps one canonical symbol to its native symbols on every exchange
// that lists it. Only symbols present on at least two exchanges are kept.
type MarketInfo struct {
	Symbol          string            `json:"symbol"`    // canonical, e.g. "BTCUSDT"
	Exchanges       []string          `json:"exchanges"` // sorted exchange names
	ExchangeSymbols map[string]string `json:"exchange_symbols"`
}

// QuoteSnapshot accumulates the latest mid price per exchange for one
// canonical symbol. Owned by the quote store; callers receive copies.
type QuoteSnapshot struct {
	Symbol          string             `json:"symbol"`
	Prices          map[string]float64 `json:"prices"` // exchange (lowercase) -> mid price
	ExchangeSymbols map[string]string  `json:"exchange_symbols"`
	TimestampMs     int64              `json:"timestamp_ms"`
	BaseAsset       string             `json:"base_asset,omitempty"`
	QuoteAsset      string             `json:"quote_asset,omitempty"`
}

// Clone returns a deep copy safe to hand to readers.
func (s *QuoteSnapshot) Clone() *QuoteSnapshot {
	if s == nil {
		return nil
	}
	prices := make(map[string]float64, len(s.Prices))
	for k, v := range s.Prices {
		prices[k] = v
	}
	symbols := make(map[string]string, len(s.ExchangeSymbols))
	for k, v := range s.ExchangeSymbols {
		symbols[k] = v
	}
	return &QuoteSnapshot{
		Symbol:          s.Symbol,
		Prices:          prices,
		ExchangeSymbols: symbols,
		TimestampMs:     s.TimestampMs,
		BaseAsset:       s.BaseAsset,
		QuoteAsset:      s.QuoteAsset,
	}
}

// ArbitrageOpportunity is one fee- and slippage-adjusted buy/sell edge.
// Value object: rebuilt from scratch every evaluation cycle, never mutated.
type ArbitrageOpportunity struct {
	Symbol          string  `json:"symbol"`
	BuyExchange     string  `json:"buy_exchange"`
	BuyPrice        float64 `json:"buy_price"`
	BuySymbol       string  `json:"buy_symbol"`
	BuyFeePct       float64 `json:"buy_fee_pct"`
	SellExchange    string  `json:"sell_exchange"`
	SellPrice       float64 `json:"sell_price"`
	SellSymbol      string  `json:"sell_symbol"`
	SellFeePct      float64 `json:"sell_fee_pct"`
	SpreadUSDT      float64 `json:"spread_usdt"` // net profit for the configured notional
	SpreadPct       float64 `json:"spread_pct"`
	GrossProfitUSDT float64 `json:"gross_profit_usdt"`
	TotalFeesUSDT   float64 `json:"total_fees_usdt"`
	TimestampMs     int64   `json:"timestamp_ms"`
	IsStable        bool    `json:"is_stable"`
}

// FeeInfo holds taker/maker rates for one exchange, optionally one symbol.
type FeeInfo struct {
	Exchange string  `json:"exchange"`
	Taker    float64 `json:"taker"`
	Maker    float64 `json:"maker"`
	Symbol   string  `json:"symbol,omitempty"` // empty means exchange-wide default
}
