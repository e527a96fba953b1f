// Package runner drives the two periodic loops of the scanner: market
// discovery on a slow cadence and opportunity evaluation on a fast one.
package runner

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/HellEvro/Arbitrage/internal/aggregator"
	"github.com/HellEvro/Arbitrage/internal/discovery"
	"github.com/HellEvro/Arbitrage/internal/engine"
	"github.com/HellEvro/Arbitrage/internal/feed"
	"github.com/HellEvro/Arbitrage/internal/notifier"
	"github.com/HellEvro/Arbitrage/pkg/config"
	"github.com/HellEvro/Arbitrage/pkg/models"
)

const evalInterval = time.Second

// Broadcaster pushes each evaluation result to live subscribers.
type Broadcaster interface {
	Publish(opportunities []models.ArbitrageOpportunity)
}

type Runner struct {
	cfg       *config.Config
	discovery *discovery.Service
	agg       *aggregator.Aggregator
	engine    *engine.Engine
	feed      *feed.Feed
	notify    *notifier.Notifier
	broadcast Broadcaster
	logger    *zap.Logger
}

func New(
	cfg *config.Config,
	disc *discovery.Service,
	agg *aggregator.Aggregator,
	eng *engine.Engine,
	fd *feed.Feed,
	notify *notifier.Notifier,
	broadcast Broadcaster,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:       cfg,
		discovery: disc,
		agg:       agg,
		engine:    eng,
		feed:      fd,
		notify:    notify,
		broadcast: broadcast,
		logger:    logger.With(zap.String("component", "runner")),
	}
}

// Run blocks until ctx is cancelled. The aggregator must not be started by
// the caller; Run owns its lifecycle.
func (r *Runner) Run(ctx context.Context) error {
	r.agg.Start(ctx)
	defer r.agg.Stop()

	refreshInterval := time.Duration(r.cfg.Discovery.RefreshIntervalSec) * time.Second
	if refreshInterval <= 0 {
		refreshInterval = 5 * time.Minute
	}

	go r.discoveryLoop(ctx, refreshInterval)
	r.evalLoop(ctx)
	return nil
}

// discoveryLoop periodically rebuilds the market universe and hands it to
// the aggregator. A failed refresh keeps the previous universe.
func (r *Runner) discoveryLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			markets, err := r.discovery.Refresh(ctx)
			if err != nil {
				r.logger.Warn("Market refresh failed, keeping previous universe", zap.Error(err))
				continue
			}
			r.agg.RefreshMarkets(ctx, markets)
		}
	}
}

// evalLoop runs the engine once per second and fans the result out to the
// feed, websocket clients, and the notifier.
func (r *Runner) evalLoop(ctx context.Context) {
	ticker := time.NewTicker(evalInterval)
	defer ticker.Stop()

	r.logger.Info("Evaluation loop started", zap.Duration("interval", evalInterval))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Evaluation loop stopped")
			return
		case <-ticker.C:
			opportunities := r.engine.Evaluate(ctx)
			if r.feed != nil {
				r.feed.Publish(ctx, opportunities)
			}
			if r.broadcast != nil {
				r.broadcast.Publish(opportunities)
			}
			r.notify.Notify(opportunities)
		}
	}
}
