package queue

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/rl1809/ticket-rush/internal/core/domain"
	"github.com/rl1809/ticket-rush/internal/port"
)

var ErrQueueClosed = errors.New("queue closed")

const defaultRequeueDelay = 50 * time.Millisecond

// DeadLetter is a discarded message and why it was discarded.
type DeadLetter struct {
	Item     domain.WorkItem
	Reason   string
	FailedAt time.Time
}

// MemoryQueue is a buffered channel queue for single-process deployments and
// tests. Messages do not survive a restart.
type MemoryQueue struct {
	items        chan domain.WorkItem
	done         chan struct{}
	closeOnce    sync.Once
	requeueDelay time.Duration
	log          zerolog.Logger

	mu   sync.Mutex
	dead []DeadLetter
}

func NewMemoryQueue(size int, requeueDelay time.Duration, log zerolog.Logger) *MemoryQueue {
	if requeueDelay <= 0 {
		requeueDelay = defaultRequeueDelay
	}
	return &MemoryQueue{
		items:        make(chan domain.WorkItem, size),
		done:         make(chan struct{}),
		requeueDelay: requeueDelay,
		log:          log.With().Str("component", "memory_queue").Logger(),
	}
}

func (q *MemoryQueue) Publish(ctx context.Context, item domain.WorkItem) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	select {
	case q.items <- item:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "publish work item")
	}
}

// Consume may be called from several goroutines; each message goes to exactly one of them.
func (q *MemoryQueue) Consume(ctx context.Context, handler port.Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-q.done:
			return nil
		case item := <-q.items:
			// A dequeued item is always resolved, even during shutdown.
			outcome, err := handler(context.WithoutCancel(ctx), item)
			q.apply(item, outcome, err)
		}
	}
}

func (q *MemoryQueue) apply(item domain.WorkItem, outcome port.Outcome, cause error) {
	switch outcome {
	case port.Ack:
	case port.NackRequeue:
		go q.requeue(item)
	case port.NackDiscard:
		reason := outcome.String()
		if cause != nil {
			reason = cause.Error()
		}
		q.mu.Lock()
		q.dead = append(q.dead, DeadLetter{Item: item, Reason: reason, FailedAt: time.Now().UTC()})
		q.mu.Unlock()
		q.log.Error().Str("order_id", item.OrderID).Str("reason", reason).Msg("message dead-lettered")
	}
}

// requeue puts the item back after a short pause so the lock holder can finish.
func (q *MemoryQueue) requeue(item domain.WorkItem) {
	timer := time.NewTimer(q.requeueDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-q.done:
		return
	}

	select {
	case q.items <- item:
	case <-q.done:
	}
}

// DeadLetters returns a snapshot of every discarded message.
func (q *MemoryQueue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetter(nil), q.dead...)
}

// Len reports the messages waiting for a consumer.
func (q *MemoryQueue) Len() int {
	return len(q.items)
}

func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}
