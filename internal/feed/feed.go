// Package feed pushes evaluation results to downstream consumers: the
// current ranking into redis for readers, and per-opportunity messages onto
// kafka keyed by symbol so consumers can partition by coin.
package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/HellEvro/Arbitrage/pkg/models"
)

const (
	// RankingKey holds the latest full ranking as a JSON array.
	RankingKey = "arb:ranking"
	// RankingChannel receives the same payload on every publish.
	RankingChannel = "arb.opportunities"

	rankingTTL = time.Hour
)

// Feed fans results out to whichever sinks are configured. A nil redis
// client or kafka writer disables that sink.
type Feed struct {
	logger *zap.Logger
	rdb    RedisClient
	writer KafkaWriter
}

func New(logger *zap.Logger, rdb RedisClient, writer KafkaWriter) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{logger: logger, rdb: rdb, writer: writer}
}

// Publish sends one evaluation result to every configured sink. Sink errors
// are logged, not returned; a flaky broker must not stall the evaluation
// loop.
func (f *Feed) Publish(ctx context.Context, opportunities []models.ArbitrageOpportunity) {
	if f.rdb == nil && f.writer == nil {
		return
	}

	payload, err := json.Marshal(opportunities)
	if err != nil {
		f.logger.Error("JSON Marshal Error", zap.Error(err))
		return
	}

	if f.rdb != nil {
		f.publishRedis(ctx, payload)
	}
	if f.writer != nil && len(opportunities) > 0 {
		f.publishKafka(ctx, opportunities)
	}
}

// publishRedis stores and broadcasts the ranking atomically via a pipeline.
func (f *Feed) publishRedis(ctx context.Context, payload []byte) {
	pipe := f.rdb.Pipeline()
	pipe.Set(ctx, RankingKey, payload, rankingTTL)
	pipe.Publish(ctx, RankingChannel, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		f.logger.Error("Redis Pipeline Error", zap.Error(err))
	}
}

func (f *Feed) publishKafka(ctx context.Context, opportunities []models.ArbitrageOpportunity) {
	msgs := make([]kafka.Message, 0, len(opportunities))
	for _, opp := range opportunities {
		value, err := json.Marshal(opp)
		if err != nil {
			f.logger.Error("JSON Marshal Error", zap.String("symbol", opp.Symbol), zap.Error(err))
			continue
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(opp.Symbol),
			Value: value,
		})
	}
	if len(msgs) == 0 {
		return
	}
	if err := f.writer.WriteMessages(ctx, msgs...); err != nil {
		f.logger.Error("Kafka Write Error", zap.Error(err))
	}
}

// Close releases the underlying sink connections.
func (f *Feed) Close() {
	if f.rdb != nil {
		if err := f.rdb.Close(); err != nil {
			f.logger.Warn("Redis Close Error", zap.Error(err))
		}
	}
	if f.writer != nil {
		if err := f.writer.Close(); err != nil {
			f.logger.Warn("Kafka Close Error", zap.Error(err))
		}
	}
}
