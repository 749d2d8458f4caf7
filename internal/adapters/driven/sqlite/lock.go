package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/integrations-core/internal/core/domain"
	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
)

var _ driven.DistributedLock = (*Lock)(nil)

// Lock implements DistributedLock as lease rows in the locks table.
// Only useful to processes sharing the same database file.
type Lock struct {
	db     *sql.DB
	holder string
}

// NewLock creates a lock with a unique holder identity.
func NewLock(db *DB) *Lock {
	return &Lock{db: db.DB, holder: domain.GenerateID()}
}

// Acquire takes the lease if it is free or expired.
func (l *Lock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	now := time.Now()

	var holder string
	err := l.db.QueryRowContext(ctx, `
		INSERT INTO locks (name, holder, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			holder = excluded.holder,
			expires_at = excluded.expires_at
		WHERE locks.expires_at <= ?
		RETURNING holder
	`, name, l.holder, toMicros(now.Add(ttl)), toMicros(now)).Scan(&holder)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("acquiring lock %s: %w", name, err)
	}
	return holder == l.holder, nil
}

// Release drops the lease if this instance holds it.
func (l *Lock) Release(ctx context.Context, name string) error {
	_, err := l.db.ExecContext(ctx, `DELETE FROM locks WHERE name = ? AND holder = ?`, name, l.holder)
	if err != nil {
		return fmt.Errorf("releasing lock %s: %w", name, err)
	}
	return nil
}

// Extend pushes out the expiry of a lease this instance holds.
func (l *Lock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	now := time.Now()
	result, err := l.db.ExecContext(ctx, `
		UPDATE locks SET expires_at = ? WHERE name = ? AND holder = ? AND expires_at > ?
	`, toMicros(now.Add(ttl)), name, l.holder, toMicros(now))
	if err != nil {
		return fmt.Errorf("extending lock %s: %w", name, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("lock %s not held", name)
	}
	return nil
}

// Ping checks database connectivity.
func (l *Lock) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}
