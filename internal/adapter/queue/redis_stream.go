package queue

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/rl1809/ticket-rush/internal/core/domain"
	"github.com/rl1809/ticket-rush/internal/port"
)

const (
	payloadField    = "payload"
	reasonMalformed = "malformed payload"
)

type RedisStreamConfig struct {
	Stream    string
	DLQ       string
	Group     string
	BatchSize int64
	Block     time.Duration
	// ClaimIdle is how long a delivered message may stay unacknowledged before
	// another consumer takes it over.
	ClaimIdle time.Duration
}

// RedisStreamQueue is a durable work queue on a Redis stream with a consumer
// group. Unacknowledged messages survive consumer crashes.
type RedisStreamQueue struct {
	rdb *redis.Client
	cfg RedisStreamConfig
	log zerolog.Logger
}

func NewRedisStreamQueue(rdb *redis.Client, cfg RedisStreamConfig, log zerolog.Logger) *RedisStreamQueue {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Block <= 0 {
		cfg.Block = 2 * time.Second
	}
	if cfg.ClaimIdle <= 0 {
		cfg.ClaimIdle = time.Minute
	}
	return &RedisStreamQueue{
		rdb: rdb,
		cfg: cfg,
		log: log.With().Str("component", "redis_stream_queue").Str("stream", cfg.Stream).Logger(),
	}
}

// EnsureGroup creates the stream and consumer group if they do not exist yet.
func (q *RedisStreamQueue) EnsureGroup(ctx context.Context) error {
	err := q.rdb.XGroupCreateMkStream(ctx, q.cfg.Stream, q.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return errors.Wrap(err, "create consumer group")
	}
	return nil
}

func (q *RedisStreamQueue) Publish(ctx context.Context, item domain.WorkItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return errors.Wrap(err, "marshal work item")
	}

	err = q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.Stream,
		Values: map[string]interface{}{payloadField: data},
	}).Err()
	return errors.Wrap(err, "publish work item")
}

func (q *RedisStreamQueue) Consume(ctx context.Context, handler port.Handler) error {
	if err := q.EnsureGroup(ctx); err != nil {
		return err
	}

	consumer := "worker-" + uuid.NewString()
	log := q.log.With().Str("consumer", consumer).Logger()
	log.Info().Msg("consumer started")

	lastClaim := time.Time{}
	for {
		if ctx.Err() != nil {
			log.Info().Msg("consumer stopped")
			return nil
		}

		if time.Since(lastClaim) >= q.cfg.ClaimIdle {
			lastClaim = time.Now()
			q.reclaim(ctx, log, consumer, handler)
		}

		streams, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.cfg.Group,
			Consumer: consumer,
			Streams:  []string{q.cfg.Stream, ">"},
			Count:    q.cfg.BatchSize,
			Block:    q.cfg.Block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Error().Err(err).Msg("read from stream, retrying")
			pause(ctx, time.Second)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.process(ctx, log, handler, msg)
			}
		}
	}
}

// reclaim takes over messages left pending by consumers that died mid-delivery.
func (q *RedisStreamQueue) reclaim(ctx context.Context, log zerolog.Logger, consumer string, handler port.Handler) {
	msgs, _, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.cfg.Stream,
		Group:    q.cfg.Group,
		Consumer: consumer,
		MinIdle:  q.cfg.ClaimIdle,
		Start:    "0-0",
		Count:    q.cfg.BatchSize,
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Msg("reclaim pending messages")
		}
		return
	}

	if len(msgs) > 0 {
		log.Warn().Int("count", len(msgs)).Msg("reclaimed pending messages")
	}
	for _, msg := range msgs {
		q.process(ctx, log, handler, msg)
	}
}

func (q *RedisStreamQueue) process(ctx context.Context, log zerolog.Logger, handler port.Handler, msg redis.XMessage) {
	raw, _ := msg.Values[payloadField].(string)

	var item domain.WorkItem
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		log.Error().Err(err).Str("message_id", msg.ID).Msg("malformed payload")
		q.settle(ctx, log, msg.ID, raw, port.NackDiscard, reasonMalformed)
		return
	}

	outcome, err := handler(context.WithoutCancel(ctx), item)
	reason := outcome.String()
	if err != nil {
		reason = err.Error()
	}
	q.settle(ctx, log, msg.ID, raw, outcome, reason)
}

// settle applies the outcome. Requeue and dead letter append the payload
// elsewhere, then the original is acknowledged and removed from the stream,
// all in one MULTI.
func (q *RedisStreamQueue) settle(ctx context.Context, log zerolog.Logger, id, raw string, outcome port.Outcome, reason string) {
	ctx = context.WithoutCancel(ctx)

	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		switch outcome {
		case port.NackRequeue:
			pipe.XAdd(ctx, &redis.XAddArgs{
				Stream: q.cfg.Stream,
				Values: map[string]interface{}{payloadField: raw},
			})
		case port.NackDiscard:
			pipe.XAdd(ctx, &redis.XAddArgs{
				Stream: q.cfg.DLQ,
				Values: map[string]interface{}{
					payloadField:  raw,
					"reason":      reason,
					"original_id": id,
					"failed_at":   time.Now().UTC().Format(time.RFC3339Nano),
				},
			})
		}
		pipe.XAck(ctx, q.cfg.Stream, q.cfg.Group, id)
		pipe.XDel(ctx, q.cfg.Stream, id)
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("message_id", id).Str("outcome", outcome.String()).Msg("settle message")
	}
}

// DeadLetterCount reports how many messages sit in the dead letter stream.
func (q *RedisStreamQueue) DeadLetterCount(ctx context.Context) (int64, error) {
	n, err := q.rdb.XLen(ctx, q.cfg.DLQ).Result()
	return n, errors.Wrap(err, "count dead letters")
}

func (q *RedisStreamQueue) Close() error {
	return nil
}

func pause(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
