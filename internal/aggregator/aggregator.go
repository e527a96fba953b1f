// Package aggregator fans quote streams from every exchange adapter into the
// shared quote store. One worker goroutine per adapter feeds a bounded queue;
// a single consumer drains it in batches so writers never contend on the
// store one quote at a time.
package aggregator

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HellEvro/Arbitrage/internal/exchange"
	"github.com/HellEvro/Arbitrage/internal/httpx"
	"github.com/HellEvro/Arbitrage/internal/store"
	"github.com/HellEvro/Arbitrage/pkg/models"
)

const (
	defaultQueueSize = 4096
	minActiveVenues  = 2

	initialRetryDelay   = 5 * time.Second
	retryBackoffFactor  = 1.5
	maxRetryDelay       = 5 * time.Minute
	rateLimitRetryFloor = time.Minute
)

// Aggregator owns the streaming side of the pipeline. Start and Stop are
// idempotent; RefreshMarkets restarts the workers only when the universe
// actually changed.
type Aggregator struct {
	adapters  []exchange.Adapter
	store     *store.QuoteStore
	log       *zap.Logger
	queueSize int

	mu        sync.Mutex
	markets   []models.MarketInfo
	reverse   map[string]map[string]string // exchange -> native -> canonical
	symbolsBy map[string][]string          // exchange -> native symbols
	cancel    context.CancelFunc
	done      chan struct{}
}

func New(adapters []exchange.Adapter, quotes *store.QuoteStore, markets []models.MarketInfo, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Aggregator{
		adapters:  adapters,
		store:     quotes,
		log:       logger.With(zap.String("component", "aggregator")),
		queueSize: defaultQueueSize,
	}
	a.setMarkets(markets)
	return a
}

func (a *Aggregator) setMarkets(markets []models.MarketInfo) {
	reverse := map[string]map[string]string{}
	symbolsBy := map[string][]string{}
	for _, market := range markets {
		for exchangeName, native := range market.ExchangeSymbols {
			exchangeName = strings.ToLower(exchangeName)
			native = strings.ToUpper(native)
			if reverse[exchangeName] == nil {
				reverse[exchangeName] = map[string]string{}
			}
			reverse[exchangeName][native] = market.Symbol
			symbolsBy[exchangeName] = append(symbolsBy[exchangeName], native)
		}
	}
	a.markets = append([]models.MarketInfo{}, markets...)
	a.reverse = reverse
	a.symbolsBy = symbolsBy
}

// Start launches the consumer and one streaming worker per adapter that has
// symbols in the current universe. No-op when already running.
func (a *Aggregator) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.log.Warn("Aggregator already started")
		return
	}

	active := 0
	for _, adapter := range a.adapters {
		if len(a.symbolsBy[strings.ToLower(adapter.Name())]) > 0 {
			active++
		}
	}
	if active < minActiveVenues {
		a.log.Warn("Fewer than 2 adapters have symbols, opportunities will be limited",
			zap.Int("active", active))
	}
	a.log.Info("Starting quote aggregator",
		zap.Int("adapters", len(a.adapters)), zap.Int("active", active))

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})

	queue := make(chan store.Update, a.queueSize)
	var wg sync.WaitGroup
	for _, adapter := range a.adapters {
		symbols := a.symbolsBy[strings.ToLower(adapter.Name())]
		if len(symbols) == 0 {
			a.log.Warn("No symbols for adapter, skipping", zap.String("exchange", adapter.Name()))
			continue
		}
		wg.Add(1)
		go func(adapter exchange.Adapter, symbols []string, natives map[string]string) {
			defer wg.Done()
			a.runAdapter(runCtx, adapter, symbols, natives, queue)
		}(adapter, symbols, a.reverse[strings.ToLower(adapter.Name())])
	}

	go func(done chan struct{}) {
		// Close the queue once every producer is gone so the consumer drains
		// remaining updates and exits.
		go func() {
			wg.Wait()
			close(queue)
		}()
		a.consume(queue)
		close(done)
	}(a.done)
}

// Stop cancels the workers and waits for the consumer to drain.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	done := a.done
	a.cancel = nil
	a.done = nil
	a.mu.Unlock()
	if cancel == nil {
		return
	}
	a.log.Info("Stopping quote aggregator")
	cancel()
	<-done
	a.log.Info("Quote aggregator stopped")
}

// RefreshMarkets swaps in a new universe. When nothing changed this is a
// no-op; otherwise the workers are restarted against the new symbol sets and
// delisted symbols are pruned from the store.
func (a *Aggregator) RefreshMarkets(ctx context.Context, markets []models.MarketInfo) {
	a.mu.Lock()
	same := marketsEqual(a.markets, markets)
	a.mu.Unlock()
	if same {
		return
	}

	a.log.Info("Market universe changed, restarting workers", zap.Int("markets", len(markets)))
	a.Stop()

	a.mu.Lock()
	a.setMarkets(markets)
	a.mu.Unlock()

	keep := make(map[string]bool, len(markets))
	for _, m := range markets {
		keep[m.Symbol] = true
	}
	a.store.Prune(keep)

	a.Start(ctx)
}

// runAdapter keeps one adapter's stream alive, reconnecting with exponential
// backoff. Rate-limit failures wait at least a minute regardless of how far
// the backoff has decayed.
func (a *Aggregator) runAdapter(ctx context.Context, adapter exchange.Adapter, symbols []string, natives map[string]string, queue chan<- store.Update) {
	log := a.log.With(zap.String("exchange", adapter.Name()))
	exchangeName := strings.ToLower(adapter.Name())

	retryDelay := initialRetryDelay
	failures := 0
	var received, dropped int64

	emit := func(q models.Quote) {
		if failures > 0 {
			failures = 0
			retryDelay = initialRetryDelay
			log.Info("Quote stream recovered")
		}
		canonical, ok := natives[strings.ToUpper(q.Symbol)]
		if !ok {
			return
		}
		u := store.Update{
			Symbol:       canonical,
			Exchange:     exchangeName,
			NativeSymbol: q.Symbol,
			Mid:          (q.Bid + q.Ask) / 2,
			TimestampMs:  q.TimestampMs,
		}
		select {
		case queue <- u:
			received++
		default:
			// Queue full: drop the newest quote rather than stall the poll
			// loop. The next cycle re-reads the ticker anyway.
			dropped++
			if dropped%1000 == 1 {
				log.Warn("Quote queue full, dropping", zap.Int64("dropped", dropped))
			}
		}
	}

	for ctx.Err() == nil {
		log.Info("Starting quote stream", zap.Int("attempt", failures+1))
		err := adapter.StreamQuotes(ctx, symbols, emit)
		if err == nil || ctx.Err() != nil {
			log.Info("Quote stream finished", zap.Int64("received", received))
			return
		}

		failures++
		delay := retryDelay
		if httpx.IsRateLimited(err) && delay < rateLimitRetryFloor {
			delay = rateLimitRetryFloor
		}
		log.Warn("Quote stream failed, retrying",
			zap.Int("failure", failures),
			zap.Int64("received", received),
			zap.Duration("retry_in", delay),
			zap.Error(err))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		retryDelay = time.Duration(float64(retryDelay) * retryBackoffFactor)
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// consume drains the queue into the store. After the first update it greedily
// collects whatever else is already buffered so a burst becomes one batch.
func (a *Aggregator) consume(queue <-chan store.Update) {
	for first := range queue {
		batch := []store.Update{first}
	drain:
		for len(batch) < a.queueSize {
			select {
			case u, ok := <-queue:
				if !ok {
					break drain
				}
				batch = append(batch, u)
			default:
				break drain
			}
		}
		a.store.UpsertBatch(batch)
	}
}

func marketsEqual(a, b []models.MarketInfo) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Symbol != b[i].Symbol {
			return false
		}
		if len(a[i].ExchangeSymbols) != len(b[i].ExchangeSymbols) {
			return false
		}
		for name, native := range a[i].ExchangeSymbols {
			if b[i].ExchangeSymbols[name] != native {
				return false
			}
		}
	}
	return true
}
