package port

import (
	"time"

	"github.com/rl1809/ticket-rush/internal/core/domain"
)

type EventNotifier interface {
	NotifyOrder(requesterID string, event domain.OrderOutcomeEvent)
	NotifyInventory(event domain.InventoryChangeEvent)
}

type WorkerMetrics interface {
	OrderResolved(status domain.OrderStatus, elapsed time.Duration)
	LockContended()
	DeadLettered(reason string)
}
