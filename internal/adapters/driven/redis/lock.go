// Package redis keeps refresh leases and pending authorizations in Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/integrations-core/internal/core/domain"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
)

var _ driven.DistributedLock = (*Lock)(nil)

const leasePrefix = "integrations:lease:"

// holderScript runs on a lease only while ARGV[1] holds it. ARGV[2] is a
// new TTL in milliseconds, or 0 to release.
var holderScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) ~= ARGV[1] then
		return 0
	end
	if ARGV[2] == "0" then
		return redis.call("del", KEYS[1])
	end
	return redis.call("pexpire", KEYS[1], ARGV[2])
`)

// Lock hands out expiring leases keyed by name. The stored value is the
// holder ID, so a lease can only be released or extended by its holder.
type Lock struct {
	client *redis.Client
	holder string
}

// NewLock creates a lock with a fresh holder ID.
func NewLock(client *redis.Client) *Lock {
	return &Lock{client: client, holder: domain.GenerateID()}
}

// Holder returns the ID written into leases taken by this lock.
func (l *Lock) Holder() string {
	return l.holder
}

// Acquire takes the lease if nobody holds it, this instance included.
func (l *Lock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	err := l.client.SetArgs(ctx, leasePrefix+name, l.holder, redis.SetArgs{Mode: "NX", TTL: ttl}).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	return true, nil
}

// Release drops the lease if this instance still holds it.
func (l *Lock) Release(ctx context.Context, name string) error {
	if _, err := l.run(ctx, name, 0); err != nil {
		return fmt.Errorf("release lease %s: %w", name, err)
	}
	return nil
}

// Extend pushes the lease expiry out to ttl from now.
func (l *Lock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	ok, err := l.run(ctx, name, ttl.Milliseconds())
	if err != nil {
		return fmt.Errorf("extend lease %s: %w", name, err)
	}
	if !ok {
		return fmt.Errorf("lease %s not held", name)
	}
	return nil
}

func (l *Lock) run(ctx context.Context, name string, ttlMillis int64) (bool, error) {
	n, err := holderScript.Run(ctx, l.client, []string{leasePrefix + name}, l.holder, ttlMillis).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, err
	}
	return n == 1, nil
}

func (l *Lock) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
