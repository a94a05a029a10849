package txflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/cmatc13/chipdesk/pkg/config"
	"github.com/cmatc13/chipdesk/pkg/errors"
	"github.com/cmatc13/chipdesk/pkg/metrics"
)

// ErrHandleInUse is returned when a poll loop already owns a transaction id.
var ErrHandleInUse = errors.NewTransactionError(
	errors.TransactionErrHandleInUse,
	"a poll loop already owns this transaction",
	errors.ErrConflict,
)

// Lease guarantees at most one poll loop per transaction id.
type Lease interface {
	// Acquire claims id for ttl. It fails with ErrHandleInUse when id is held.
	Acquire(ctx context.Context, id string, ttl time.Duration) error
	// Release gives id back. Releasing an id that is not held is a no-op.
	Release(ctx context.Context, id string) error
}

// MemoryLease is a per-process Lease.
type MemoryLease struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemoryLease creates an empty in-process lease.
func NewMemoryLease() *MemoryLease {
	return &MemoryLease{held: make(map[string]struct{})}
}

// Acquire implements Lease. The ttl is ignored; the owning loop always releases.
func (l *MemoryLease) Acquire(_ context.Context, id string, _ time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[id]; ok {
		return errors.WithField(ErrHandleInUse, "transaction_id", id)
	}
	l.held[id] = struct{}{}
	return nil
}

// Release implements Lease.
func (l *MemoryLease) Release(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.held, id)
	return nil
}

// Held reports how many ids are currently claimed.
func (l *MemoryLease) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}

// RedisLease shares the claim across replicas through SETNX keys that expire
// on their own if a replica dies mid-loop.
type RedisLease struct {
	client  redis.UniversalClient
	prefix  string
	metrics *metrics.Metrics
}

// NewRedisLease wraps an existing Redis client.
func NewRedisLease(client redis.UniversalClient, prefix string) *RedisLease {
	return &RedisLease{client: client, prefix: prefix}
}

// NewRedisLeaseFromConfig dials Redis with cfg.
func NewRedisLeaseFromConfig(cfg config.RedisConfig) *RedisLease {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisLease(client, cfg.KeyPrefix)
}

// WithMetrics records Redis latency and errors on m.
func (l *RedisLease) WithMetrics(m *metrics.Metrics) *RedisLease {
	l.metrics = m
	return l
}

func (l *RedisLease) key(id string) string {
	return l.prefix + "inflight:" + id
}

// Acquire implements Lease.
func (l *RedisLease) Acquire(ctx context.Context, id string, ttl time.Duration) error {
	start := time.Now()
	ok, err := l.client.SetNX(ctx, l.key(id), "1", ttl).Result()
	l.observe("setnx", start, err)
	if err != nil {
		return errors.WithField(
			errors.TransactionWrap(fmt.Errorf("%v: %w", err, errors.ErrUnavailable), errors.OpAcquireLease, errors.TransactionErrLease, "failed to claim transaction"),
			"transaction_id", id,
		)
	}
	if !ok {
		return errors.WithField(ErrHandleInUse, "transaction_id", id)
	}
	return nil
}

// Release implements Lease.
func (l *RedisLease) Release(ctx context.Context, id string) error {
	start := time.Now()
	err := l.client.Del(ctx, l.key(id)).Err()
	l.observe("del", start, err)
	return err
}

// Ping checks the Redis connection, for health reporting.
func (l *RedisLease) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *RedisLease) observe(operation string, start time.Time, err error) {
	if l.metrics == nil {
		return
	}
	l.metrics.RecordDependencyLatency("redis", operation, time.Since(start))
	if err != nil {
		l.metrics.RecordDependencyError("redis", operation, "error")
	}
}

// Close closes the underlying client.
func (l *RedisLease) Close() error {
	return l.client.Close()
}
