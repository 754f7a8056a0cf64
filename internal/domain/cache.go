package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// BookMirror publishes the live in-process book into a shared cache so
// external consumers (dashboards, other services) can read it without
// touching the engine.
type BookMirror interface {
	SetSnapshot(ctx context.Context, snap BookSnapshot) error
	GetSnapshot(ctx context.Context, instID string) (BookSnapshot, error)
	GetBBO(ctx context.Context, instID string) (bestBid, bestAsk decimal.Decimal, err error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking. The writer path holds a lease so
// at most one process feeds the book at a time.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub for book, gap, and staleness events, plus
// durable streams for the gap audit feed.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
