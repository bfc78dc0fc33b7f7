package port

import (
	"context"

	"github.com/rl1809/ticket-rush/internal/core/domain"
)

type InventoryStore interface {
	// WithinTx runs fn in a single transaction, committing only if fn returns nil
	WithinTx(ctx context.Context, fn func(tx InventoryTx) error) error
}

// InventoryTx is the set of operations that must commit or roll back together.
type InventoryTx interface {
	// DecrementIfAvailable atomically subtracts quantity when enough stock remains.
	// Returns domain.ErrInsufficientStock or domain.ErrItemNotFound without changing any row.
	DecrementIfAvailable(ctx context.Context, itemID string, quantity int) (*domain.InventoryItem, error)

	// Restock sets the available quantity of an item, bounded by its total capacity
	Restock(ctx context.Context, itemID string, toQuantity int) (*domain.InventoryItem, error)

	// GetOrder returns nil when no order with this id exists
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)

	InsertOrder(ctx context.Context, order domain.Order) error
}

type OrderReader interface {
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	ListInventory(ctx context.Context) ([]domain.InventoryItem, error)
}
