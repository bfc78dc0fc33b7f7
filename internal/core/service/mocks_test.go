package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/rl1809/ticket-rush/internal/core/domain"
	"github.com/rl1809/ticket-rush/internal/port"
)

// Mock LockManager
type mockLocks struct {
	mu         sync.Mutex
	held       map[string]string
	seq        int
	contended  bool // every acquire reports contention
	acquireErr error
	acquires   int
	releases   int
}

func newMockLocks() *mockLocks {
	return &mockLocks{held: make(map[string]string)}
}

func (m *mockLocks) AcquireLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.acquires++
	if m.acquireErr != nil {
		return "", false, m.acquireErr
	}
	if m.contended {
		return "", false, nil
	}
	if _, ok := m.held[name]; ok {
		return "", false, nil
	}
	m.seq++
	token := fmt.Sprintf("token-%d", m.seq)
	m.held[name] = token
	return token, true, nil
}

func (m *mockLocks) ReleaseLock(ctx context.Context, name, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.releases++
	if m.held[name] != token {
		return false, nil
	}
	delete(m.held, name)
	return true, nil
}

func (m *mockLocks) isHeld(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[name]
	return ok
}

// Mock IdempotencyStore
type mockResults struct {
	mu      sync.Mutex
	results map[string][]byte
	writes  int
}

func newMockResults() *mockResults {
	return &mockResults{results: make(map[string][]byte)}
}

func (m *mockResults) GetResult(ctx context.Context, fingerprint string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	payload, ok := m.results[fingerprint]
	return payload, ok, nil
}

func (m *mockResults) SaveResult(ctx context.Context, fingerprint string, payload []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	m.results[fingerprint] = payload
	return nil
}

// Mock RetryCounter
type mockRetries struct {
	mu     sync.Mutex
	counts map[string]int
}

func newMockRetries() *mockRetries {
	return &mockRetries{counts: make(map[string]int)}
}

func (m *mockRetries) IncrementRetry(ctx context.Context, orderID string, ttl time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[orderID]++
	return m.counts[orderID], nil
}

func (m *mockRetries) ClearRetry(ctx context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counts, orderID)
	return nil
}

func (m *mockRetries) count(orderID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[orderID]
}

// Mock Publisher
type mockPublisher struct {
	mu    sync.Mutex
	items []domain.WorkItem
	err   error
}

func (m *mockPublisher) Publish(ctx context.Context, item domain.WorkItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.items = append(m.items, item)
	return nil
}

func (m *mockPublisher) published() []domain.WorkItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.WorkItem(nil), m.items...)
}

// Mock InventoryStore with copy-on-begin transactions, so a failed fn leaves no trace.
type mockStore struct {
	mu        sync.Mutex
	items     map[string]domain.InventoryItem
	orders    map[string]domain.Order
	insertErr error
	txErr     error
	txPanic   any
}

func newMockStore(items ...domain.InventoryItem) *mockStore {
	s := &mockStore{
		items:  make(map[string]domain.InventoryItem),
		orders: make(map[string]domain.Order),
	}
	for _, item := range items {
		s.items[item.ID] = item
	}
	return s
}

func (m *mockStore) WithinTx(ctx context.Context, fn func(tx port.InventoryTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.txErr != nil {
		return m.txErr
	}
	if m.txPanic != nil {
		panic(m.txPanic)
	}

	tx := &mockTx{
		items:     make(map[string]domain.InventoryItem, len(m.items)),
		orders:    make(map[string]domain.Order, len(m.orders)),
		insertErr: m.insertErr,
	}
	for k, v := range m.items {
		tx.items[k] = v
	}
	for k, v := range m.orders {
		tx.orders[k] = v
	}

	if err := fn(tx); err != nil {
		return err
	}

	m.items, m.orders = tx.items, tx.orders
	return nil
}

func (m *mockStore) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return nil, nil
	}
	return &order, nil
}

func (m *mockStore) ListInventory(ctx context.Context) ([]domain.InventoryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []domain.InventoryItem
	for _, item := range m.items {
		items = append(items, item)
	}
	return items, nil
}

func (m *mockStore) item(id string) domain.InventoryItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[id]
}

func (m *mockStore) orderList() []domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var orders []domain.Order
	for _, o := range m.orders {
		orders = append(orders, o)
	}
	return orders
}

type mockTx struct {
	items     map[string]domain.InventoryItem
	orders    map[string]domain.Order
	insertErr error
}

func (t *mockTx) DecrementIfAvailable(ctx context.Context, itemID string, quantity int) (*domain.InventoryItem, error) {
	item, ok := t.items[itemID]
	if !ok {
		return nil, domain.ErrItemNotFound
	}
	if item.AvailableQuantity < quantity {
		return nil, domain.ErrInsufficientStock
	}
	item.AvailableQuantity -= quantity
	t.items[itemID] = item
	return &item, nil
}

func (t *mockTx) Restock(ctx context.Context, itemID string, toQuantity int) (*domain.InventoryItem, error) {
	item, ok := t.items[itemID]
	if !ok {
		return nil, domain.ErrItemNotFound
	}
	if toQuantity > item.TotalQuantity {
		return nil, errors.New("restock above total")
	}
	item.AvailableQuantity = toQuantity
	t.items[itemID] = item
	return &item, nil
}

func (t *mockTx) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	order, ok := t.orders[orderID]
	if !ok {
		return nil, nil
	}
	return &order, nil
}

func (t *mockTx) InsertOrder(ctx context.Context, order domain.Order) error {
	if t.insertErr != nil {
		return t.insertErr
	}
	if _, ok := t.orders[order.ID]; ok {
		return errors.New("duplicate order id")
	}
	t.orders[order.ID] = order
	return nil
}

// Recording EventNotifier
type recordingNotifier struct {
	mu        sync.Mutex
	orders    map[string][]domain.OrderOutcomeEvent
	inventory []domain.InventoryChangeEvent
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{orders: make(map[string][]domain.OrderOutcomeEvent)}
}

func (n *recordingNotifier) NotifyOrder(requesterID string, event domain.OrderOutcomeEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.orders[requesterID] = append(n.orders[requesterID], event)
}

func (n *recordingNotifier) NotifyInventory(event domain.InventoryChangeEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.inventory = append(n.inventory, event)
}

func (n *recordingNotifier) orderEvents(requesterID string) []domain.OrderOutcomeEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.OrderOutcomeEvent(nil), n.orders[requesterID]...)
}

func (n *recordingNotifier) inventoryEvents() []domain.InventoryChangeEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.InventoryChangeEvent(nil), n.inventory...)
}

// Recording WorkerMetrics
type recordingMetrics struct {
	mu           sync.Mutex
	resolved     map[domain.OrderStatus]int
	contentions  int
	deadLettered map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		resolved:     make(map[domain.OrderStatus]int),
		deadLettered: make(map[string]int),
	}
}

func (m *recordingMetrics) OrderResolved(status domain.OrderStatus, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolved[status]++
}

func (m *recordingMetrics) LockContended() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contentions++
}

func (m *recordingMetrics) DeadLettered(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadLettered[reason]++
}
