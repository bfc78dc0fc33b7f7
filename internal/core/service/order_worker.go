package service

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/rl1809/ticket-rush/internal/core/domain"
	"github.com/rl1809/ticket-rush/internal/port"
)

const itemLockPrefix = "lock:item:"

var ErrLockRetriesExhausted = errors.New("lock retries exhausted")

type WorkerConfig struct {
	LockTTL            time.Duration
	MaxLockRetries     int
	RetryTTL           time.Duration
	RestockOnDepletion bool
}

// OrderWorker resolves queued work items: lock the item, decrement and record
// the order in one transaction, unlock, then notify observers.
type OrderWorker struct {
	locks    port.LockManager
	retries  port.RetryCounter
	store    port.InventoryStore
	notifier port.EventNotifier
	metrics  port.WorkerMetrics
	cfg      WorkerConfig
	log      zerolog.Logger
	now      func() time.Time
}

func NewOrderWorker(
	locks port.LockManager,
	retries port.RetryCounter,
	store port.InventoryStore,
	notifier port.EventNotifier,
	metrics port.WorkerMetrics,
	cfg WorkerConfig,
	log zerolog.Logger,
) *OrderWorker {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &OrderWorker{
		locks:    locks,
		retries:  retries,
		store:    store,
		notifier: notifier,
		metrics:  metrics,
		cfg:      cfg,
		log:      log.With().Str("component", "order_worker").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run consumes from the queue until ctx is cancelled.
func (w *OrderWorker) Run(ctx context.Context, consumer port.Consumer) error {
	return consumer.Consume(ctx, w.Handle)
}

// settlement is what one transaction decided for a work item.
type settlement struct {
	order     domain.Order
	item      *domain.InventoryItem // set when stock changed
	restocked bool
	replayed  bool // order row already existed
}

func (w *OrderWorker) Handle(ctx context.Context, item domain.WorkItem) (port.Outcome, error) {
	started := time.Now()
	log := w.log.With().Str("order_id", item.OrderID).Str("item_id", item.ItemID).Logger()
	lockName := itemLockPrefix + item.ItemID

	token, ok, err := w.locks.AcquireLock(ctx, lockName, w.cfg.LockTTL)
	if err != nil {
		return w.deadLetter(log, err)
	}
	if !ok {
		return w.lockContended(ctx, log, item)
	}

	s, err := w.settleLocked(ctx, log, item, lockName, token)
	if err != nil {
		return w.deadLetter(log, err)
	}

	if err := w.retries.ClearRetry(context.WithoutCancel(ctx), item.OrderID); err != nil {
		log.Warn().Err(err).Msg("clear retry counter")
	}

	w.publish(item.RequesterID, s)
	if !s.replayed {
		w.metrics.OrderResolved(s.order.Status, time.Since(started))
	}

	log.Info().
		Str("status", string(s.order.Status)).
		Int64("total_price", s.order.TotalPrice).
		Str("reason", s.order.FailureReason).
		Bool("restocked", s.restocked).
		Bool("replayed", s.replayed).
		Msg("order resolved")

	return port.Ack, nil
}

// settleLocked runs settle and releases the item lock however settle exits.
func (w *OrderWorker) settleLocked(ctx context.Context, log zerolog.Logger, item domain.WorkItem, lockName, token string) (settlement, error) {
	defer w.unlock(ctx, log, lockName, token)
	return w.settle(ctx, item)
}

// settle decrements stock and records the order atomically. Business failures
// become FAILED orders; only infrastructure errors are returned.
func (w *OrderWorker) settle(ctx context.Context, item domain.WorkItem) (settlement, error) {
	var s settlement

	err := w.store.WithinTx(ctx, func(tx port.InventoryTx) error {
		s = settlement{}

		existing, err := tx.GetOrder(ctx, item.OrderID)
		if err != nil {
			return err
		}
		if existing != nil {
			s.order, s.replayed = *existing, true
			return nil
		}

		now := w.now()
		order := domain.NewOrderFromWorkItem(item, now)

		// Intake bounds the quantity; a message from elsewhere may not.
		if item.Quantity < 1 {
			order.Fail(ErrInvalidQuantity.Error(), now)
			if err := tx.InsertOrder(ctx, order); err != nil {
				return err
			}
			s.order = order
			return nil
		}

		updated, err := tx.DecrementIfAvailable(ctx, item.ItemID, item.Quantity)
		switch {
		case errors.Is(err, domain.ErrInsufficientStock):
			order.Fail(domain.ErrInsufficientStock.Error(), now)
		case errors.Is(err, domain.ErrItemNotFound):
			order.Fail(domain.ErrItemNotFound.Error(), now)
		case err != nil:
			return err
		default:
			order.Complete(updated.Price, now)
			if updated.Depleted() && w.cfg.RestockOnDepletion {
				if updated, err = tx.Restock(ctx, item.ItemID, updated.TotalQuantity); err != nil {
					return err
				}
				s.restocked = true
			}
			s.item = updated
		}

		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		s.order = order
		return nil
	})

	return s, err
}

func (w *OrderWorker) lockContended(ctx context.Context, log zerolog.Logger, item domain.WorkItem) (port.Outcome, error) {
	w.metrics.LockContended()

	count, err := w.retries.IncrementRetry(ctx, item.OrderID, w.cfg.RetryTTL)
	if err != nil {
		return w.deadLetter(log, errors.Wrap(err, "count lock retry"))
	}

	if count >= w.cfg.MaxLockRetries {
		log.Error().Int("retries", count).Msg("max lock retries exceeded, sending to dead letter")
		w.metrics.DeadLettered("lock_retries_exhausted")
		return port.NackDiscard, errors.Wrapf(ErrLockRetriesExhausted, "after %d attempts", count)
	}

	log.Warn().Int("retry", count).Int("max", w.cfg.MaxLockRetries).Msg("item locked, requeueing")
	return port.NackRequeue, nil
}

func (w *OrderWorker) deadLetter(log zerolog.Logger, err error) (port.Outcome, error) {
	log.Error().Err(err).Msg("unexpected error, sending to dead letter")
	w.metrics.DeadLettered("unexpected_error")
	return port.NackDiscard, err
}

func (w *OrderWorker) unlock(ctx context.Context, log zerolog.Logger, name, token string) {
	released, err := w.locks.ReleaseLock(context.WithoutCancel(ctx), name, token)
	if err != nil {
		log.Error().Err(err).Msg("release item lock")
		return
	}
	if !released {
		log.Warn().Msg("item lock expired before release")
	}
}

func (w *OrderWorker) publish(requesterID string, s settlement) {
	if w.notifier == nil {
		return
	}
	w.notifier.NotifyOrder(requesterID, domain.OutcomeEvent(s.order))
	if s.item != nil {
		w.notifier.NotifyInventory(domain.InventoryChangeEvent{
			ItemID:            s.item.ID,
			AvailableQuantity: s.item.AvailableQuantity,
		})
	}
}

type nopMetrics struct{}

func (nopMetrics) OrderResolved(domain.OrderStatus, time.Duration) {}
func (nopMetrics) LockContended()                                  {}
func (nopMetrics) DeadLettered(string)                             {}
