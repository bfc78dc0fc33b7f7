package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/rl1809/ticket-rush/internal/core/domain"
	"github.com/rl1809/ticket-rush/internal/port"
)

//go:embed schema.sql
var schemaDDL string

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLAdapter keeps inventory and orders in one relational store. The SQL is
// portable between MySQL and SQLite.
type SQLAdapter struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLAdapter(db *sql.DB) *SQLAdapter {
	return &SQLAdapter{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// ApplySchema creates the inventory and order tables if they are missing.
func (a *SQLAdapter) ApplySchema(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaDDL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "apply schema")
		}
	}
	return nil
}

func (a *SQLAdapter) WithinTx(ctx context.Context, fn func(tx port.InventoryTx) error) error {
	return a.inTx(ctx, func(t *sqlTx) error { return fn(t) })
}

func (a *SQLAdapter) inTx(ctx context.Context, fn func(t *sqlTx) error) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	if err := fn(&sqlTx{q: tx, now: a.now}); err != nil {
		return err
	}

	return errors.Wrap(tx.Commit(), "commit tx")
}

func (a *SQLAdapter) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return getOrder(ctx, a.db, orderID)
}

func (a *SQLAdapter) ListInventory(ctx context.Context) ([]domain.InventoryItem, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, name, price, total_quantity, available_quantity, created_at, updated_at
		FROM inventory_items ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "query inventory")
	}
	defer rows.Close()

	var items []domain.InventoryItem
	for rows.Next() {
		var item domain.InventoryItem
		if err := rows.Scan(&item.ID, &item.Name, &item.Price, &item.TotalQuantity,
			&item.AvailableQuantity, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "scan inventory")
		}
		items = append(items, item)
	}

	return items, errors.Wrap(rows.Err(), "iterate inventory")
}

// UpsertItem provisions an item, resetting available stock to its total.
func (a *SQLAdapter) UpsertItem(ctx context.Context, item domain.InventoryItem) error {
	now := a.now()

	return a.inTx(ctx, func(t *sqlTx) error {
		q := t.q

		var count int
		if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM inventory_items WHERE id = ?`, item.ID).Scan(&count); err != nil {
			return errors.Wrap(err, "check item")
		}

		var err error
		if count > 0 {
			_, err = q.ExecContext(ctx, `
				UPDATE inventory_items
				SET name = ?, price = ?, total_quantity = ?, available_quantity = ?, updated_at = ?
				WHERE id = ?`,
				item.Name, item.Price, item.TotalQuantity, item.TotalQuantity, now, item.ID,
			)
		} else {
			_, err = q.ExecContext(ctx, `
				INSERT INTO inventory_items (id, name, price, total_quantity, available_quantity, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				item.ID, item.Name, item.Price, item.TotalQuantity, item.TotalQuantity, now, now,
			)
		}
		return errors.Wrapf(err, "upsert item %s", item.ID)
	})
}

func (a *SQLAdapter) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

type sqlTx struct {
	q   querier
	now func() time.Time
}

func (t *sqlTx) DecrementIfAvailable(ctx context.Context, itemID string, quantity int) (*domain.InventoryItem, error) {
	result, err := t.q.ExecContext(ctx, `
		UPDATE inventory_items
		SET available_quantity = available_quantity - ?, updated_at = ?
		WHERE id = ? AND available_quantity >= ?`,
		quantity, t.now(), itemID, quantity,
	)
	if err != nil {
		return nil, errors.Wrap(err, "decrement inventory")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "decrement inventory")
	}

	item, err := getItem(ctx, t.q, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrItemNotFound
	}
	if rows == 0 {
		return nil, domain.ErrInsufficientStock
	}

	return item, nil
}

func (t *sqlTx) Restock(ctx context.Context, itemID string, toQuantity int) (*domain.InventoryItem, error) {
	result, err := t.q.ExecContext(ctx, `
		UPDATE inventory_items
		SET available_quantity = ?, updated_at = ?
		WHERE id = ? AND total_quantity >= ?`,
		toQuantity, t.now(), itemID, toQuantity,
	)
	if err != nil {
		return nil, errors.Wrap(err, "restock inventory")
	}

	item, err := getItem(ctx, t.q, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrItemNotFound
	}
	if rows, _ := result.RowsAffected(); rows == 0 && item.AvailableQuantity != toQuantity {
		return nil, errors.Errorf("restock %s to %d exceeds total %d", itemID, toQuantity, item.TotalQuantity)
	}

	return item, nil
}

func (t *sqlTx) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return getOrder(ctx, t.q, orderID)
}

func (t *sqlTx) InsertOrder(ctx context.Context, order domain.Order) error {
	var processedAt sql.NullTime
	if order.ProcessedAt != nil {
		processedAt = sql.NullTime{Time: *order.ProcessedAt, Valid: true}
	}

	_, err := t.q.ExecContext(ctx, `
		INSERT INTO orders (id, requester_id, item_id, quantity, total_price, status,
			failure_reason, idempotency_key, processed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.RequesterID, order.ItemID, order.Quantity, order.TotalPrice, string(order.Status),
		order.FailureReason, order.IdempotencyKey, processedAt, order.CreatedAt, order.UpdatedAt,
	)
	return errors.Wrapf(err, "insert order %s", order.ID)
}

func getItem(ctx context.Context, q querier, itemID string) (*domain.InventoryItem, error) {
	var item domain.InventoryItem
	err := q.QueryRowContext(ctx, `
		SELECT id, name, price, total_quantity, available_quantity, created_at, updated_at
		FROM inventory_items WHERE id = ?`, itemID,
	).Scan(&item.ID, &item.Name, &item.Price, &item.TotalQuantity,
		&item.AvailableQuantity, &item.CreatedAt, &item.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "query inventory item")
	}

	return &item, nil
}

func getOrder(ctx context.Context, q querier, orderID string) (*domain.Order, error) {
	var (
		order       domain.Order
		status      string
		processedAt sql.NullTime
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, requester_id, item_id, quantity, total_price, status,
			failure_reason, idempotency_key, processed_at, created_at, updated_at
		FROM orders WHERE id = ?`, orderID,
	).Scan(&order.ID, &order.RequesterID, &order.ItemID, &order.Quantity, &order.TotalPrice, &status,
		&order.FailureReason, &order.IdempotencyKey, &processedAt, &order.CreatedAt, &order.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "query order")
	}

	order.Status = domain.OrderStatus(status)
	if processedAt.Valid {
		order.ProcessedAt = &processedAt.Time
	}
	return &order, nil
}
