package domain

import "time"

// WorkItem is the queue message Order Intake publishes for the worker pool.
type WorkItem struct {
	OrderID     string    `json:"orderId"`
	RequesterID string    `json:"requesterId"`
	ItemID      string    `json:"itemId"`
	Quantity    int       `json:"qty"`
	Fingerprint string    `json:"fingerprint"`
	SubmittedAt time.Time `json:"submittedAt"`
}
