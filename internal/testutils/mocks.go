// Package testutils holds hand-written fakes shared by service tests.
package testutils

import (
	"context"
	"sync"

	"github.com/HellEvro/Arbitrage/pkg/models"
)

// FakeAdapter is a scriptable exchange adapter.
type FakeAdapter struct {
	NameStr    string
	Markets    []models.ExchangeMarket
	MarketsErr error

	// Quotes are emitted once per StreamQuotes call; StreamErr is returned
	// afterwards. With a nil StreamErr the stream blocks until cancellation.
	Quotes    []models.Quote
	StreamErr error

	mu          sync.Mutex
	fetchCalls  int
	streamCalls int
	closeOnce   sync.Once
	closed      chan struct{}
	lastSymbols []string
}

func NewFakeAdapter(name string) *FakeAdapter {
	return &FakeAdapter{NameStr: name, closed: make(chan struct{})}
}

func (f *FakeAdapter) Name() string { return f.NameStr }

func (f *FakeAdapter) FetchMarkets(ctx context.Context) ([]models.ExchangeMarket, error) {
	f.mu.Lock()
	f.fetchCalls++
	f.mu.Unlock()
	if f.MarketsErr != nil {
		return nil, f.MarketsErr
	}
	return f.Markets, nil
}

func (f *FakeAdapter) StreamQuotes(ctx context.Context, symbols []string, emit func(models.Quote)) error {
	f.mu.Lock()
	f.streamCalls++
	f.lastSymbols = append([]string{}, symbols...)
	f.mu.Unlock()

	for _, q := range f.Quotes {
		emit(q)
	}
	if f.StreamErr != nil {
		return f.StreamErr
	}
	select {
	case <-ctx.Done():
		return nil
	case <-f.closed:
		return nil
	}
}

func (f *FakeAdapter) Close() {
	f.closeOnce.Do(func() { close(f.closed) })
}

func (f *FakeAdapter) FetchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls
}

func (f *FakeAdapter) StreamCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streamCalls
}

func (f *FakeAdapter) LastSymbols() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.lastSymbols...)
}
