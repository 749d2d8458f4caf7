package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/integrations-core/internal/core/domain"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DistributedLock = (*LeaseLock)(nil)

// LeaseLock implements DistributedLock with rows in the locks table.
// A lock is a lease: it lapses at expires_at even if the holder crashes,
// and only the instance that took it can release or extend it.
//
// Used when Redis is not configured.
type LeaseLock struct {
	db     *sql.DB
	holder string
}

// NewLeaseLock creates a lock adapter with a unique holder identity.
func NewLeaseLock(db *sql.DB) *LeaseLock {
	return &LeaseLock{db: db, holder: domain.GenerateID()}
}

// Acquire takes the lease if it is free or expired.
// Returns false without blocking when another holder has it.
func (l *LeaseLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	query := `
		INSERT INTO locks (name, holder, expires_at)
		VALUES ($1, $2, NOW() + $3 * INTERVAL '1 millisecond')
		ON CONFLICT (name) DO UPDATE SET
			holder = EXCLUDED.holder,
			expires_at = EXCLUDED.expires_at
		WHERE locks.expires_at <= NOW()
		RETURNING holder
	`

	var holder string
	err := l.db.QueryRowContext(ctx, query, name, l.holder, ttl.Milliseconds()).Scan(&holder)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	return holder == l.holder, nil
}

// Release drops the lease if this instance holds it.
// Safe to call even if the lock is not held.
func (l *LeaseLock) Release(ctx context.Context, name string) error {
	_, err := l.db.ExecContext(ctx, `DELETE FROM locks WHERE name = $1 AND holder = $2`, name, l.holder)
	if err != nil {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}

// Extend pushes out the expiry of a lease this instance holds.
func (l *LeaseLock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	result, err := l.db.ExecContext(ctx, `
		UPDATE locks SET expires_at = NOW() + $3 * INTERVAL '1 millisecond'
		WHERE name = $1 AND holder = $2 AND expires_at > NOW()
	`, name, l.holder, ttl.Milliseconds())
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", name, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("lock %s not held", name)
	}
	return nil
}

// Ping checks if the PostgreSQL backend is healthy.
func (l *LeaseLock) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}
