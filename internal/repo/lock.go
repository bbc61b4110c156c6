package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Ключи advisory locks.
const (
	// SchedulerLockKey — только один conveyor-scheduler обрабатывает расписания.
	SchedulerLockKey int64 = 0x636f6e7665796f72
)

// AdvisoryLock — сессионный pg_advisory_lock на выделенном соединении.
type AdvisoryLock struct {
	conn *pgxpool.Conn
	key  int64
}

// TryAdvisoryLock пытается взять lock без ожидания.
// Возвращает nil, nil, если lock занят другим процессом.
func TryAdvisoryLock(ctx context.Context, pool *pgxpool.Pool, key int64) (*AdvisoryLock, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire conn: %w", err)
	}

	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&locked); err != nil {
		conn.Release()
		return nil, fmt.Errorf("try advisory lock: %w", err)
	}
	if !locked {
		conn.Release()
		return nil, nil
	}
	return &AdvisoryLock{conn: conn, key: key}, nil
}

// Release отпускает lock и возвращает соединение в пул.
func (l *AdvisoryLock) Release(ctx context.Context) error {
	defer l.conn.Release()
	if _, err := l.conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, l.key); err != nil {
		return fmt.Errorf("advisory unlock: %w", err)
	}
	return nil
}

// Leader держит advisory lock между тиками: лидер остаётся лидером,
// пока жива его сессия.
type Leader struct {
	pool *pgxpool.Pool
	key  int64
	lock *AdvisoryLock
}

// NewLeader создаёт Leader для ключа key.
func NewLeader(pool *pgxpool.Pool, key int64) *Leader {
	return &Leader{pool: pool, key: key}
}

// Acquire пытается взять lock. Повторный вызов лидера проверяет,
// что сессия с lock ещё жива.
func (l *Leader) Acquire(ctx context.Context) (bool, error) {
	if l.lock != nil {
		if err := l.lock.conn.Ping(ctx); err == nil {
			return true, nil
		}
		// Сессия потеряна вместе с lock.
		l.lock.conn.Release()
		l.lock = nil
	}

	lock, err := TryAdvisoryLock(ctx, l.pool, l.key)
	if err != nil {
		return false, err
	}
	l.lock = lock
	return lock != nil, nil
}

// Release отпускает lock, если он взят.
func (l *Leader) Release(ctx context.Context) error {
	if l.lock == nil {
		return nil
	}
	lock := l.lock
	l.lock = nil
	return lock.Release(ctx)
}
