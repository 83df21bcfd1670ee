package lock

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxSource hands out connections from a pgx pool for advisory lock
// sessions. Postgres advisory locks are session-scoped, so the connection
// backing a granted lock must not return to the pool until unlock.
type PgxSource struct {
	pool *pgxpool.Pool
}

func NewPgxSource(pool *pgxpool.Pool) *PgxSource {
	return &PgxSource{pool: pool}
}

func (s *PgxSource) Acquire(ctx context.Context) (Conn, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &pgxConn{conn: conn}, nil
}

type pgxConn struct {
	conn *pgxpool.Conn
}

func (c *pgxConn) TryLock(ctx context.Context, id int64) (bool, error) {
	var granted bool
	err := c.conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", id).Scan(&granted)
	return granted, err
}

func (c *pgxConn) Unlock(ctx context.Context, id int64) error {
	var released bool
	return c.conn.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", id).Scan(&released)
}

func (c *pgxConn) Release() {
	c.conn.Release()
}
