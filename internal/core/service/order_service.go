package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/rl1809/ticket-rush/internal/core/domain"
	"github.com/rl1809/ticket-rush/internal/port"
)

var (
	ErrInvalidRequest     = errors.New("requester and item are required")
	ErrInvalidQuantity    = errors.New("quantity out of range")
	ErrInvalidFingerprint = errors.New("idempotency key must be a valid UUID")
	ErrRequestInFlight    = errors.New("request is already being processed")
	ErrOrderNotFound      = errors.New("order not found")
)

const pendingMessage = "Order received and queued for processing"

type SubmitRequest struct {
	RequesterID string
	ItemID      string
	Quantity    int
	Fingerprint string
}

type SubmitResponse struct {
	OrderID string             `json:"id"`
	Status  domain.OrderStatus `json:"status"`
	Message string             `json:"message"`

	// Replayed is set when the response came from the idempotency cache.
	Replayed bool `json:"-"`
}

type OrderServiceConfig struct {
	MinQuantity int
	MaxQuantity int
}

type OrderService struct {
	cache     *IdempotencyCache
	publisher port.Publisher
	orders    port.OrderReader
	notifier  port.EventNotifier
	cfg       OrderServiceConfig
	log       zerolog.Logger
	now       func() time.Time
}

func NewOrderService(
	cache *IdempotencyCache,
	publisher port.Publisher,
	orders port.OrderReader,
	notifier port.EventNotifier,
	cfg OrderServiceConfig,
	log zerolog.Logger,
) *OrderService {
	return &OrderService{
		cache:     cache,
		publisher: publisher,
		orders:    orders,
		notifier:  notifier,
		cfg:       cfg,
		log:       log.With().Str("component", "order_intake").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Submit admits a purchase and queues it. It never waits for the order to be
// resolved; the returned status is always PENDING.
func (s *OrderService) Submit(ctx context.Context, req SubmitRequest) (SubmitResponse, error) {
	if req.RequesterID == "" || req.ItemID == "" {
		return SubmitResponse{}, ErrInvalidRequest
	}
	if req.Quantity < s.cfg.MinQuantity || req.Quantity > s.cfg.MaxQuantity {
		return SubmitResponse{}, errors.Wrapf(ErrInvalidQuantity, "must be between %d and %d", s.cfg.MinQuantity, s.cfg.MaxQuantity)
	}

	adm, err := s.cache.Admit(ctx, req.Fingerprint)
	if err != nil {
		return SubmitResponse{}, err
	}

	switch adm.Kind {
	case AdmissionDuplicate:
		var resp SubmitResponse
		if err := json.Unmarshal(adm.Payload, &resp); err != nil {
			return SubmitResponse{}, errors.Wrap(err, "decode cached response")
		}
		resp.Replayed = true
		return resp, nil
	case AdmissionInFlight:
		return SubmitResponse{}, ErrRequestInFlight
	}

	item := domain.WorkItem{
		OrderID:     uuid.NewString(),
		RequesterID: req.RequesterID,
		ItemID:      req.ItemID,
		Quantity:    req.Quantity,
		Fingerprint: req.Fingerprint,
		SubmittedAt: s.now(),
	}

	if err := s.publisher.Publish(ctx, item); err != nil {
		s.cache.Abandon(ctx, adm)
		return SubmitResponse{}, errors.Wrap(err, "enqueue order")
	}

	resp := SubmitResponse{
		OrderID: item.OrderID,
		Status:  domain.OrderStatusPending,
		Message: pendingMessage,
	}

	payload, err := json.Marshal(resp)
	if err == nil {
		err = s.cache.Commit(ctx, adm, payload)
	}
	if err != nil {
		// The work item is already queued; a failed cache write only weakens replay.
		s.log.Warn().Err(err).Str("order_id", item.OrderID).Msg("cache submit response")
		s.cache.Abandon(ctx, adm)
	}

	s.log.Info().
		Str("order_id", item.OrderID).
		Str("item_id", item.ItemID).
		Str("requester_id", item.RequesterID).
		Int("qty", item.Quantity).
		Msg("order queued")

	if s.notifier != nil {
		s.notifier.NotifyOrder(item.RequesterID, domain.OrderOutcomeEvent{
			OrderID: item.OrderID,
			Status:  domain.OrderStatusPending,
			Message: pendingMessage,
		})
	}

	return resp, nil
}

func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func (s *OrderService) ListInventory(ctx context.Context) ([]domain.InventoryItem, error) {
	items, err := s.orders.ListInventory(ctx)
	return items, errors.Wrap(err, "list inventory")
}
