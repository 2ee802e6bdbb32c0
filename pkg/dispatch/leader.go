package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultLeaderTTL must comfortably exceed the tick interval so a healthy
// leader never loses the lock mid-cadence.
const DefaultLeaderTTL = 90 * time.Second

// LeaderLock elects a single active scheduler among replicated dispatcher
// processes with a Redis SET NX PX lease. Losing Redis degrades to
// every replica ticking; the next_run_at fence keeps that safe, just
// noisier.
type LeaderLock struct {
	logger *slog.Logger
	client *redis.Client
	key    string
	id     string
	ttl    time.Duration
}

func NewLeaderLock(logger *slog.Logger, client *redis.Client, key string, ttl time.Duration) *LeaderLock {
	if key == "" {
		key = "flowline:scheduler:leader"
	}

	if ttl <= 0 {
		ttl = DefaultLeaderTTL
	}

	return &LeaderLock{
		logger: logger.With("module", "leader_lock"),
		client: client,
		key:    key,
		id:     uuid.New().String(),
		ttl:    ttl,
	}
}

// TryAcquire takes or refreshes the lease. It returns true when this
// process is the active scheduler.
func (l *LeaderLock) TryAcquire(ctx context.Context) bool {
	acquired, err := l.client.SetNX(ctx, l.key, l.id, l.ttl).Result()
	if err != nil {
		l.logger.Warn("Leader election unavailable, proceeding", "error", err)

		return true
	}

	if acquired {
		return true
	}

	holder, err := l.client.Get(ctx, l.key).Result()
	if err != nil {
		return false
	}

	if holder != l.id {
		return false
	}

	// Refresh our own lease.
	if err := l.client.Expire(ctx, l.key, l.ttl).Err(); err != nil {
		l.logger.Warn("Failed to refresh leader lease", "error", err)
	}

	return true
}

// Release drops the lease if this process holds it.
func (l *LeaderLock) Release(ctx context.Context) {
	holder, err := l.client.Get(ctx, l.key).Result()
	if err != nil || holder != l.id {
		return
	}

	if err := l.client.Del(ctx, l.key).Err(); err != nil {
		l.logger.Warn("Failed to release leader lease", "error", err)
	}
}
