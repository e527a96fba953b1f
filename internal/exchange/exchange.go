// Package exchange translates each venue's public REST API into the common
// adapter capability set: market listing, quote polling, close.
package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HellEvro/Arbitrage/internal/httpx"
	"github.com/HellEvro/Arbitrage/pkg/models"
)

// Adapter is one exchange's view of the pipeline.
//
// StreamQuotes blocks, polling the exchange's ticker endpoint once per poll
// interval and invoking emit for every watched symbol with a positive bid and
// ask. It returns nil after Close (or ctx cancellation) and a non-nil error on
// a terminal stream failure; callers are expected to re-invoke it after a
// backoff. Transient upstream hiccups may be absorbed internally, depending
// on the venue.
type Adapter interface {
	Name() string
	FetchMarkets(ctx context.Context) ([]models.ExchangeMarket, error)
	StreamQuotes(ctx context.Context, symbols []string, emit func(models.Quote)) error
	Close()
}

// Deps carries the shared dependencies every adapter constructor needs.
type Deps struct {
	Client       *httpx.Client
	Logger       *zap.Logger
	PollInterval time.Duration
}

// Builder constructs one adapter from shared dependencies.
type Builder func(deps Deps) Adapter

var (
	registryMu sync.Mutex
	registry   = map[string]Builder{}
)

// Register adds a builder under an exchange identifier. Called from adapter
// init functions; duplicate registration is a programming error.
func Register(name string, builder Builder) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		panic("exchange: empty adapter name")
	}
	if builder == nil {
		panic(fmt.Sprintf("exchange: nil builder for %s", name))
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[key]; exists {
		panic(fmt.Sprintf("exchange: duplicate registration for %s", key))
	}
	registry[key] = builder
}

// New resolves an exchange identifier to a constructed adapter.
func New(name string, deps Deps) (Adapter, error) {
	registryMu.Lock()
	builder := registry[strings.ToLower(strings.TrimSpace(name))]
	registryMu.Unlock()
	if builder == nil {
		return nil, fmt.Errorf("exchange: unsupported exchange %q", name)
	}
	return builder(deps), nil
}

// Names returns the registered exchange identifiers, for diagnostics.
func Names() []string {
	registryMu.Lock()
	defer registryMu.Unlock()
	names := make([]string, 0, len(registry))
	for k := range registry {
		names = append(names, k)
	}
	return names
}

// base holds the state shared by all REST polling adapters.
type base struct {
	name         string
	client       *httpx.Client
	pollInterval time.Duration
	log          *zap.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

func newBase(name string, deps Deps) base {
	interval := deps.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return base{
		name:         name,
		client:       deps.Client,
		pollInterval: interval,
		log:          logger.With(zap.String("exchange", name)),
		closed:       make(chan struct{}),
	}
}

func (b *base) Name() string { return b.name }

// Close signals the stream to stop at its next iteration boundary. In-flight
// HTTP calls are allowed to finish.
func (b *base) Close() {
	b.closeOnce.Do(func() {
		b.log.Info("Closing adapter")
		close(b.closed)
	})
}

func (b *base) isClosed() bool {
	select {
	case <-b.closed:
		return true
	default:
		return false
	}
}

// waitInterval sleeps one poll interval. It returns false when the adapter
// was closed or the context cancelled, telling the stream loop to exit.
func (b *base) waitInterval(ctx context.Context) bool {
	select {
	case <-time.After(b.pollInterval):
		return true
	case <-b.closed:
		return false
	case <-ctx.Done():
		return false
	}
}

// sleep pauses for d, returning false when the adapter was closed or the
// context cancelled during the wait.
func (b *base) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-b.closed:
		return false
	case <-ctx.Done():
		return false
	}
}

// streamDone reports whether the stream loop should terminate cleanly.
func (b *base) streamDone(ctx context.Context) bool {
	return b.isClosed() || ctx.Err() != nil
}

// watchSet uppercases the watch list into a membership set.
func watchSet(symbols []string) map[string]bool {
	watched := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		watched[strings.ToUpper(s)] = true
	}
	return watched
}

func upper(s string) string { return strings.ToUpper(s) }

// toFloat parses exchange price strings, returning 0 for anything unparsable
// so the caller's bid/ask > 0 check drops the quote.
func toFloat(v string) float64 {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
