package scaling

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type lockConn interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Release()
}

// AdvisoryLock is a PostgreSQL session-level advisory lock. The session
// holding it is kept out of the pool until release.
type AdvisoryLock struct {
	acquire func(ctx context.Context) (lockConn, error)
	lockID  int64
	conn    lockConn
	mu      sync.Mutex
}

// NewAdvisoryLock creates an advisory lock on pool
func NewAdvisoryLock(pool *pgxpool.Pool, lockID int64) *AdvisoryLock {
	return &AdvisoryLock{
		acquire: func(ctx context.Context) (lockConn, error) {
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return nil, err
			}
			return conn, nil
		},
		lockID: lockID,
	}
}

// TryAcquire takes the lock without blocking. When already held it checks
// that the session is still alive.
func (l *AdvisoryLock) TryAcquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		var one int
		if err := l.conn.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
			l.conn.Release()
			l.conn = nil
			return false, err
		}
		return true, nil
	}

	conn, err := l.acquire(ctx)
	if err != nil {
		return false, err
	}

	var acquired bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Release()
		return false, err
	}
	if !acquired {
		conn.Release()
		return false, nil
	}

	l.conn = conn
	return true, nil
}

// Release unlocks and returns the session to the pool
func (l *AdvisoryLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return nil
	}
	defer func() {
		l.conn.Release()
		l.conn = nil
	}()

	var released bool
	return l.conn.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", l.lockID).Scan(&released)
}

// Close is a no-op; the pool belongs to the caller.
func (l *AdvisoryLock) Close() error {
	return nil
}
