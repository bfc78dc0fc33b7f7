package domain

const (
	EventOrderUpdate  = "order:update"
	EventTicketUpdate = "ticket:update"
)

type OrderOutcomeEvent struct {
	OrderID    string      `json:"orderId"`
	Status     OrderStatus `json:"status"`
	TotalPrice int64       `json:"totalPrice,omitempty"`
	Message    string      `json:"message"`
}

type InventoryChangeEvent struct {
	ItemID            string `json:"itemId"`
	AvailableQuantity int    `json:"availableQuantity"`
}

// Event is what observers receive; exactly one of Order or Inventory is set.
type Event struct {
	Name      string                `json:"event"`
	Order     *OrderOutcomeEvent    `json:"order,omitempty"`
	Inventory *InventoryChangeEvent `json:"inventory,omitempty"`
}

// OutcomeEvent derives the observer-facing event for a resolved order.
func OutcomeEvent(o Order) OrderOutcomeEvent {
	e := OrderOutcomeEvent{
		OrderID:    o.ID,
		Status:     o.Status,
		TotalPrice: o.TotalPrice,
	}
	switch o.Status {
	case OrderStatusCompleted:
		e.Message = "Your order has been confirmed"
	case OrderStatusFailed:
		e.Message = "Order failed: " + o.FailureReason
	default:
		e.Message = "Order received and queued for processing"
	}
	return e
}
