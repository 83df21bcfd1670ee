// Package lock implements the named mutual-exclusion service that
// serializes execution per channel key. It maps channel keys to numeric
// advisory lock ids on the metadata store and tracks locally-held locks so
// release is idempotent and acquisition is reentrant within the process.
package lock

import (
	"context"
	"sync"

	queryportal "github.com/harshg-zluri/db-query-portal-sub000"
)

// Conn is a single dedicated metadata-store connection capable of advisory
// locking. The connection must stay open for as long as the lock is held.
type Conn interface {
	TryLock(ctx context.Context, id int64) (bool, error)
	Unlock(ctx context.Context, id int64) error
	Release()
}

// ConnSource hands out dedicated connections for lock sessions.
type ConnSource interface {
	Acquire(ctx context.Context) (Conn, error)
}

// LockID derives a positive 63-bit advisory lock id from a channel key via
// a rolling polynomial hash. Two distinct channel keys can collide, which
// serializes unrelated channels against each other; correctness-safe but
// throughput-harmful, accepted as a known limitation.
func LockID(channelKey string) int64 {
	var h uint64
	for i := 0; i < len(channelKey); i++ {
		h = h*31 + uint64(channelKey[i])
	}
	return int64(h & 0x7fffffffffffffff)
}

type handle struct {
	id   int64
	conn Conn
}

// Service acquires and releases named locks. A held lock pins its
// connection until release.
type Service struct {
	source ConnSource
	logger queryportal.Logger

	mu   sync.Mutex
	held map[string]handle
}

func NewService(source ConnSource, logger queryportal.Logger) *Service {
	return &Service{
		source: source,
		logger: logger,
		held:   make(map[string]handle),
	}
}

// Acquire attempts a non-blocking lock on the channel key. It returns false
// when the lock is held elsewhere or when acquisition fails for any reason;
// callers must treat false as "try again later", never as a hard failure.
// If this process already holds the lock, Acquire returns true without a
// second acquisition attempt.
func (s *Service) Acquire(ctx context.Context, channelKey string) bool {
	s.mu.Lock()
	_, already := s.held[channelKey]
	s.mu.Unlock()
	if already {
		return true
	}

	conn, err := s.source.Acquire(ctx)
	if err != nil {
		s.logger.Error("lock: failed to acquire connection", "channel", channelKey, "error", err)
		return false
	}

	id := LockID(channelKey)
	granted, err := conn.TryLock(ctx, id)
	if err != nil {
		s.logger.Error("lock: acquisition failed", "channel", channelKey, "lock_id", id, "error", err)
		conn.Release()
		return false
	}
	if !granted {
		conn.Release()
		return false
	}

	s.mu.Lock()
	s.held[channelKey] = handle{id: id, conn: conn}
	s.mu.Unlock()
	return true
}

// Release unlocks the channel key if held by this process. It is idempotent
// and always releases the underlying connection, even when the unlock
// command fails.
func (s *Service) Release(ctx context.Context, channelKey string) {
	s.mu.Lock()
	h, ok := s.held[channelKey]
	delete(s.held, channelKey)
	s.mu.Unlock()
	if !ok {
		return
	}

	if err := h.conn.Unlock(ctx, h.id); err != nil {
		s.logger.Warn("lock: unlock command failed", "channel", channelKey, "lock_id", h.id, "error", err)
	}
	h.conn.Release()
}

// IsHeld reports whether this process currently holds the channel's lock.
func (s *Service) IsHeld(channelKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.held[channelKey]
	return ok
}

// ReleaseAll releases every locally-held lock. Called on shutdown.
func (s *Service) ReleaseAll(ctx context.Context) {
	s.mu.Lock()
	keys := make([]string, 0, len(s.held))
	for k := range s.held {
		keys = append(keys, k)
	}
	s.mu.Unlock()

	for _, k := range keys {
		s.Release(ctx, k)
	}
	if len(keys) > 0 {
		s.logger.Info("lock: released all held locks", "count", len(keys))
	}
}
