package handler

import (
	"context"
	"sync"
	"time"

	"github.com/rl1809/ticket-rush/internal/core/domain"
	"github.com/rl1809/ticket-rush/internal/core/service"
)

// Stub OrderService
type stubOrderService struct {
	mu        sync.Mutex
	submitted []service.SubmitRequest
	submitErr error
	replayed  bool
	orders    map[string]*domain.Order
	items     []domain.InventoryItem
	listErr   error
}

func newStubOrderService() *stubOrderService {
	processed := time.Date(2026, 3, 1, 12, 0, 1, 0, time.UTC)
	return &stubOrderService{
		orders: map[string]*domain.Order{
			"order-1": {
				ID:          "order-1",
				RequesterID: "user-1",
				ItemID:      "ticket-vip",
				Quantity:    2,
				TotalPrice:  30000,
				Status:      domain.OrderStatusCompleted,
				ProcessedAt: &processed,
				CreatedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			},
		},
		items: []domain.InventoryItem{
			{ID: "ticket-vip", Name: "VIP Floor", Price: 15000, TotalQuantity: 100, AvailableQuantity: 98},
		},
	}
}

func (s *stubOrderService) Submit(ctx context.Context, req service.SubmitRequest) (service.SubmitResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitErr != nil {
		return service.SubmitResponse{}, s.submitErr
	}
	s.submitted = append(s.submitted, req)
	return service.SubmitResponse{
		OrderID:  "order-new",
		Status:   domain.OrderStatusPending,
		Message:  "Order received and queued for processing",
		Replayed: s.replayed,
	}, nil
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	order, ok := s.orders[orderID]
	if !ok {
		return nil, service.ErrOrderNotFound
	}
	return order, nil
}

func (s *stubOrderService) ListInventory(ctx context.Context) ([]domain.InventoryItem, error) {
	return s.items, s.listErr
}

func (s *stubOrderService) lastSubmitted() service.SubmitRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitted[len(s.submitted)-1]
}

// Stub Pinger
type stubPinger struct {
	err error
}

func (p stubPinger) Ping(ctx context.Context) error {
	return p.err
}
