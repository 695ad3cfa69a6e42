// Package distlock provides short-lived mutual exclusion keyed by name.
//
// The scheduler takes one lock per subscriber for the duration of that
// subscriber's run, so overlapping ticks can never refresh or write the same
// connection row concurrently. Redis SET NX with a TTL is preferred; the
// PostgreSQL advisory-lock backend is used when Redis is not configured.
package distlock

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistLock is the interface for distributed locking.
// Implementations must be safe for use from a single goroutine;
// concurrent use across goroutines requires separate lock instances.
type DistLock interface {
	// Acquire tries to acquire the lock. Returns true if successful.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
}

// NewLock creates a distributed lock using the best available backend.
// If redisClient is non-nil, uses Redis (preferred for cross-host locking).
// Otherwise falls back to PostgreSQL advisory locks.
func NewLock(redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) DistLock {
	if redisClient != nil {
		return NewRedisLock(redisClient, key, ttl)
	}
	return NewPGAdvisoryLock(db, key)
}

// DefaultSubscriberTTL bounds how long a crashed run can hold a subscriber.
const DefaultSubscriberTTL = 30 * time.Minute

// Locker hands out per-subscriber locks on a shared backend.
type Locker struct {
	redis *redis.Client
	db    *sql.DB
	ttl   time.Duration
}

// NewLocker creates a lock factory. A zero ttl uses DefaultSubscriberTTL.
func NewLocker(redisClient *redis.Client, db *sql.DB, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = DefaultSubscriberTTL
	}
	return &Locker{redis: redisClient, db: db, ttl: ttl}
}

// ForSubscriber returns the in-flight lock for one subscriber.
func (l *Locker) ForSubscriber(userID string) DistLock {
	return NewLock(l.redis, l.db, fmt.Sprintf("insights:subscriber:%s", userID), l.ttl)
}

// =============================================================================
// PostgreSQL Advisory Lock (fallback when Redis is unavailable)
// =============================================================================
// pg_try_advisory_lock is session-scoped, so the lock pins one pooled
// connection from Acquire until Release. If the process dies the connection
// drops and PostgreSQL releases the lock.

// PGAdvisoryLock implements DistLock using PostgreSQL advisory locks.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64

	mu   sync.Mutex
	conn *sql.Conn
}

// NewPGAdvisoryLock creates a PG advisory lock with a deterministic lock ID
// derived from the given key string.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{
		db:     db,
		lockID: int64(h.Sum64()),
	}
}

// Acquire tries to acquire the advisory lock without blocking.
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return false, fmt.Errorf("advisory lock %d already held by this instance", l.lockID)
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("advisory lock %d: get connection: %w", l.lockID, err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, fmt.Errorf("advisory lock %d: %w", l.lockID, err)
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

// Release releases the advisory lock and returns its connection to the pool.
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	closeErr := l.conn.Close()
	l.conn = nil
	if err != nil {
		return fmt.Errorf("advisory unlock %d: %w", l.lockID, err)
	}
	return closeErr
}
