package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/HellEvro/Arbitrage/internal/aggregator"
	"github.com/HellEvro/Arbitrage/internal/discovery"
	"github.com/HellEvro/Arbitrage/internal/engine"
	"github.com/HellEvro/Arbitrage/internal/exchange"
	"github.com/HellEvro/Arbitrage/internal/feed"
	"github.com/HellEvro/Arbitrage/internal/fees"
	"github.com/HellEvro/Arbitrage/internal/gateway"
	"github.com/HellEvro/Arbitrage/internal/httpx"
	"github.com/HellEvro/Arbitrage/internal/notifier"
	"github.com/HellEvro/Arbitrage/internal/runner"
	"github.com/HellEvro/Arbitrage/internal/store"
	"github.com/HellEvro/Arbitrage/pkg/config"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := httpx.NewClient(time.Duration(cfg.Exchanges.HTTPTimeoutSec) * time.Second)

	var adapters []exchange.Adapter
	for _, name := range config.DefaultExchanges {
		if !cfg.ExchangeEnabled(name) {
			logger.Info("Exchange disabled", zap.String("exchange", name))
			continue
		}
		adapter, err := exchange.New(name, exchange.Deps{
			Client:       client,
			Logger:       logger,
			PollInterval: time.Duration(cfg.PollIntervalMs(name)) * time.Millisecond,
		})
		if err != nil {
			logger.Fatal("Unknown exchange", zap.String("exchange", name), zap.Error(err))
		}
		adapters = append(adapters, adapter)
	}
	defer func() {
		for _, adapter := range adapters {
			adapter.Close()
		}
	}()

	feeFetcher := fees.NewFetcher(client, logger)
	var exchangeNames []string
	for _, adapter := range adapters {
		exchangeNames = append(exchangeNames, adapter.Name())
	}
	feeFetcher.RefreshAll(ctx, exchangeNames)

	disc := discovery.NewService(adapters, cfg.Overrides, logger)
	markets, err := disc.Refresh(ctx)
	if err != nil {
		logger.Fatal("Initial market discovery failed", zap.Error(err))
	}

	quotes := store.NewQuoteStore()
	agg := aggregator.New(adapters, quotes, markets, logger)
	eng := engine.New(quotes, cfg, feeFetcher, logger)

	var rdb feed.RedisClient
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	var writer feed.KafkaWriter
	if cfg.Kafka.Enabled {
		writer = &kafka.Writer{
			Addr:     kafka.TCP(cfg.Kafka.Brokers...),
			Topic:    cfg.Kafka.Topic,
			Balancer: &kafka.Hash{},
		}
	}
	fd := feed.New(logger, rdb, writer)
	defer fd.Close()

	tg, err := notifier.New(cfg.Telegram, logger)
	if err != nil {
		logger.Fatal("Telegram notifier setup failed", zap.Error(err))
	}

	var srv *gateway.Server
	var broadcast runner.Broadcaster
	if cfg.Gateway.Enabled {
		srv = gateway.NewServer(cfg.Gateway.Port, eng, disc, quotes, logger)
		broadcast = srv
		go func() {
			if err := srv.Run(ctx); err != nil {
				logger.Error("Gateway stopped", zap.Error(err))
				cancel()
			}
		}()
	}

	run := runner.New(cfg, disc, agg, eng, fd, tg, broadcast, logger)
	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		logger.Info("Shutdown signal received")
		cancel()
	}()

	if err := run.Run(ctx); err != nil {
		logger.Fatal("Runner failed", zap.Error(err))
	}
	logger.Info("Shutdown Complete")
}
