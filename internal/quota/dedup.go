package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduplicator decides whether an alert for an account, period and level
// still needs to be sent.
type Deduplicator interface {
	ShouldAlert(ctx context.Context, accountID string, periodStart time.Time, level AlertLevel) bool
}

type alertState struct {
	periodStart time.Time
	level       AlertLevel
}

// InMemoryDeduplicator suits single-instance deployments.
type InMemoryDeduplicator struct {
	mu   sync.Mutex
	last map[string]alertState
}

func NewInMemoryDeduplicator() *InMemoryDeduplicator {
	return &InMemoryDeduplicator{last: make(map[string]alertState)}
}

// ShouldAlert returns false for a level at or below the highest already sent
// in the same period.
func (d *InMemoryDeduplicator) ShouldAlert(ctx context.Context, accountID string, periodStart time.Time, level AlertLevel) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	last, ok := d.last[accountID]
	if ok && last.periodStart.Equal(periodStart) && last.level.rank() >= level.rank() {
		return false
	}
	d.last[accountID] = alertState{periodStart: periodStart, level: level}
	return true
}

// RedisDeduplicator shares alert state across instances. Only the instance
// whose SETNX wins sends the alert.
type RedisDeduplicator struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduplicator keeps each alert marker for ttl, which should be at
// least the quota period.
func NewRedisDeduplicator(client *redis.Client, ttl time.Duration) *RedisDeduplicator {
	return &RedisDeduplicator{client: client, ttl: ttl}
}

func (d *RedisDeduplicator) alertKey(accountID string, periodStart time.Time, level AlertLevel) string {
	return fmt.Sprintf("quota:alert:%s:%d:%s", accountID, periodStart.UnixMilli(), level)
}

// ShouldAlert fails open: a Redis error lets the alert through.
func (d *RedisDeduplicator) ShouldAlert(ctx context.Context, accountID string, periodStart time.Time, level AlertLevel) bool {
	acquired, err := d.client.SetNX(ctx, d.alertKey(accountID, periodStart, level), time.Now().Unix(), d.ttl).Result()
	if err != nil {
		return true
	}
	return acquired
}
