package domain

import "time"

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusCompleted OrderStatus = "COMPLETED"
	OrderStatusFailed    OrderStatus = "FAILED"
)

// Terminal reports whether an order in this status may no longer change.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusFailed
}

type Order struct {
	ID             string
	RequesterID    string
	ItemID         string
	Quantity       int
	TotalPrice     int64 // minor currency units
	Status         OrderStatus
	FailureReason  string
	IdempotencyKey string
	ProcessedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewOrderFromWorkItem builds the pending order a queued work item resolves into.
func NewOrderFromWorkItem(item WorkItem, now time.Time) Order {
	return Order{
		ID:             item.OrderID,
		RequesterID:    item.RequesterID,
		ItemID:         item.ItemID,
		Quantity:       item.Quantity,
		Status:         OrderStatusPending,
		IdempotencyKey: item.Fingerprint,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (o *Order) Complete(unitPrice int64, now time.Time) {
	o.TotalPrice = unitPrice * int64(o.Quantity)
	o.Status = OrderStatusCompleted
	o.FailureReason = ""
	o.ProcessedAt = &now
	o.UpdatedAt = now
}

func (o *Order) Fail(reason string, now time.Time) {
	o.TotalPrice = 0
	o.Status = OrderStatusFailed
	o.FailureReason = reason
	o.ProcessedAt = &now
	o.UpdatedAt = now
}
