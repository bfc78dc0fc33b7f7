package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/rl1809/ticket-rush/internal/core/domain"
	"github.com/rl1809/ticket-rush/internal/port"
)

const (
	headerReason            = "x-dead-letter-reason"
	headerOriginalTopic     = "x-original-topic"
	headerOriginalPartition = "x-original-partition"
	headerOriginalOffset    = "x-original-offset"
	headerRequeued          = "x-requeued"
)

type KafkaConfig struct {
	Brokers []string
	Topic   string
	DLQ     string
	Group   string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaQueue publishes work items keyed by item id, so orders for one item
// land on one partition.
type KafkaQueue struct {
	writer    messageWriter
	newReader func() messageReader
	cfg       KafkaConfig
	log       zerolog.Logger

	retryBase time.Duration
	retryMax  time.Duration
}

func NewKafkaQueue(cfg KafkaConfig, log zerolog.Logger) *KafkaQueue {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}
	newReader := func() messageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			GroupID:  cfg.Group,
			Topic:    cfg.Topic,
			MinBytes: 1,
			MaxBytes: 10e6,
			MaxWait:  500 * time.Millisecond,
		})
	}
	return newKafkaQueue(cfg, writer, newReader, log)
}

func newKafkaQueue(cfg KafkaConfig, writer messageWriter, newReader func() messageReader, log zerolog.Logger) *KafkaQueue {
	return &KafkaQueue{
		writer:    writer,
		newReader: newReader,
		cfg:       cfg,
		log:       log.With().Str("component", "kafka_queue").Str("topic", cfg.Topic).Logger(),
		retryBase: 100 * time.Millisecond,
		retryMax:  5 * time.Second,
	}
}

func (q *KafkaQueue) Publish(ctx context.Context, item domain.WorkItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return errors.Wrap(err, "marshal work item")
	}

	err = q.writer.WriteMessages(ctx, kafka.Message{
		Topic: q.cfg.Topic,
		Key:   []byte(item.ItemID),
		Value: data,
	})
	return errors.Wrap(err, "publish work item")
}

// Consume joins the consumer group with its own reader. An offset is committed
// only once the outcome has been written; otherwise the message stays
// uncommitted and is redelivered to the group.
func (q *KafkaQueue) Consume(ctx context.Context, handler port.Handler) error {
	reader := q.newReader()
	defer reader.Close()

	q.log.Info().Str("group", q.cfg.Group).Msg("consumer started")
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				q.log.Info().Msg("consumer stopped")
				return nil
			}
			q.log.Error().Err(err).Msg("fetch message, retrying")
			pause(ctx, time.Second)
			continue
		}

		if err := q.process(ctx, handler, msg); err != nil {
			// Committing a later offset would skip this one.
			q.log.Error().Err(err).Int64("offset", msg.Offset).Msg("outcome not written, leaving offset uncommitted")
			return nil
		}

		if err := reader.CommitMessages(context.WithoutCancel(ctx), msg); err != nil {
			q.log.Error().Err(err).Int64("offset", msg.Offset).Msg("commit offset")
		}
	}
}

func (q *KafkaQueue) process(ctx context.Context, handler port.Handler, msg kafka.Message) error {
	var item domain.WorkItem
	if err := json.Unmarshal(msg.Value, &item); err != nil {
		q.log.Error().Err(err).Int64("offset", msg.Offset).Msg("malformed payload")
		return q.deadLetter(ctx, msg, reasonMalformed)
	}

	outcome, err := handler(context.WithoutCancel(ctx), item)
	switch outcome {
	case port.NackRequeue:
		return q.requeue(ctx, msg)
	case port.NackDiscard:
		reason := outcome.String()
		if err != nil {
			reason = err.Error()
		}
		return q.deadLetter(ctx, msg, reason)
	}
	return nil
}

func (q *KafkaQueue) requeue(ctx context.Context, msg kafka.Message) error {
	return q.write(ctx, kafka.Message{
		Topic:   q.cfg.Topic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: []kafka.Header{{Key: headerRequeued, Value: []byte(strconv.FormatInt(msg.Offset, 10))}},
	})
}

func (q *KafkaQueue) deadLetter(ctx context.Context, msg kafka.Message, reason string) error {
	err := q.write(ctx, kafka.Message{
		Topic: q.cfg.DLQ,
		Key:   msg.Key,
		Value: msg.Value,
		Headers: []kafka.Header{
			{Key: headerReason, Value: []byte(reason)},
			{Key: headerOriginalTopic, Value: []byte(msg.Topic)},
			{Key: headerOriginalPartition, Value: []byte(strconv.Itoa(msg.Partition))},
			{Key: headerOriginalOffset, Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		},
	})
	if err != nil {
		return err
	}
	q.log.Error().Int64("offset", msg.Offset).Str("reason", reason).Msg("message dead-lettered")
	return nil
}

// write retries with exponential backoff until the message is stored or ctx
// is done.
func (q *KafkaQueue) write(ctx context.Context, msg kafka.Message) error {
	backoff := q.retryBase
	for {
		err := q.writer.WriteMessages(context.WithoutCancel(ctx), msg)
		if err == nil {
			return nil
		}
		q.log.Error().Err(err).Str("to", msg.Topic).Dur("backoff", backoff).Msg("write message, retrying")

		pause(ctx, backoff)
		if ctx.Err() != nil {
			return errors.Wrapf(err, "write to %s", msg.Topic)
		}
		if backoff *= 2; backoff > q.retryMax {
			backoff = q.retryMax
		}
	}
}

func (q *KafkaQueue) Close() error {
	return q.writer.Close()
}
