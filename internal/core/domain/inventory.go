package domain

import (
	"time"

	"github.com/pkg/errors"
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrItemNotFound      = errors.New("item not found")
)

type InventoryItem struct {
	ID                string
	Name              string
	Price             int64 // per unit, minor currency units
	TotalQuantity     int
	AvailableQuantity int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (i InventoryItem) Depleted() bool {
	return i.AvailableQuantity == 0
}
