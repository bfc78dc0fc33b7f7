package port

import (
	"context"
	"time"
)

type LockManager interface {
	// AcquireLock sets name to a fresh token if absent, expiring after ttl. ok is false under contention.
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (token string, ok bool, err error)

	// ReleaseLock deletes name only if it still holds token; false means the lock was lost or taken over
	ReleaseLock(ctx context.Context, name, token string) (bool, error)
}

type IdempotencyStore interface {
	// GetResult returns the stored response for a fingerprint, found is false if none is stored
	GetResult(ctx context.Context, fingerprint string) (payload []byte, found bool, err error)

	// SaveResult stores the terminal response for a fingerprint with a retention ttl
	SaveResult(ctx context.Context, fingerprint string, payload []byte, ttl time.Duration) error
}

type RetryCounter interface {
	// IncrementRetry bumps the lock-contention counter of an order and returns the new value
	IncrementRetry(ctx context.Context, orderID string, ttl time.Duration) (int, error)

	// ClearRetry drops the counter once the order reached a terminal outcome
	ClearRetry(ctx context.Context, orderID string) error
}
