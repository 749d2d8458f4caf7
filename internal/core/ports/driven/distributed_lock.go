package driven

import (
	"context"
	"time"
)

// DistributedLock provides named locks shared by every instance.
// Token refresh holds one per (user, provider) so concurrent callers
// converge on a single refresh.
type DistributedLock interface {
	// Acquire attempts to take a named lock with the given TTL.
	// Returns false if another holder has it.
	Acquire(ctx context.Context, name string, ttl time.Duration) (acquired bool, err error)

	// Release releases a named lock held by this instance.
	// Safe to call even if the lock has expired.
	Release(ctx context.Context, name string) error

	// Extend extends the TTL of a held lock.
	// Returns an error when the lock is no longer held by this instance.
	Extend(ctx context.Context, name string, ttl time.Duration) error

	// Ping checks if the lock backend is healthy.
	Ping(ctx context.Context) error
}
