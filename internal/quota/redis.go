package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/felipepmaragno/ai-orchestrator/internal/domain"
	"github.com/redis/go-redis/v9"
)

// incrementScript adds to the used counter of a quota hash, resetting it
// first when the caller has rolled into a newer period.
// Keys: [quota_key]
// Args: [cost, period_start_unix_ms, limit, period_ms]
// Returns: {used, period_start_unix_ms}
var incrementScript = redis.NewScript(`
local stored = tonumber(redis.call('HGET', KEYS[1], 'period_start') or '0')
local start = tonumber(ARGV[2])

if start > stored then
    redis.call('HSET', KEYS[1], 'period_start', ARGV[2], 'used', '0')
    stored = start
end

redis.call('HSET', KEYS[1], 'limit', ARGV[3], 'period', ARGV[4])
local used = redis.call('HINCRBY', KEYS[1], 'used', tonumber(ARGV[1]))

return {used, stored}
`)

// RedisStore keeps quotas in Redis hashes so every instance sees the same
// usage.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, keyPrefix: "quota:"}
}

func (s *RedisStore) key(accountID string) string {
	return s.keyPrefix + accountID
}

func (s *RedisStore) Get(ctx context.Context, accountID string) (domain.Quota, error) {
	fields, err := s.client.HGetAll(ctx, s.key(accountID)).Result()
	if err != nil {
		return domain.Quota{}, fmt.Errorf("get quota: %w", err)
	}
	if len(fields) == 0 {
		return domain.Quota{}, domain.ErrQuotaNotFound
	}

	q := domain.Quota{AccountUUID: accountID}
	if q.Limit, err = parseInt(fields, "limit"); err != nil {
		return domain.Quota{}, err
	}
	if q.Used, err = parseInt(fields, "used"); err != nil {
		return domain.Quota{}, err
	}
	start, err := parseInt(fields, "period_start")
	if err != nil {
		return domain.Quota{}, err
	}
	if start > 0 {
		q.PeriodStart = time.UnixMilli(start).UTC()
	}
	period, err := parseInt(fields, "period")
	if err != nil {
		return domain.Quota{}, err
	}
	q.Period = time.Duration(period) * time.Millisecond

	return q, nil
}

func (s *RedisStore) Save(ctx context.Context, quota domain.Quota) error {
	err := s.client.HSet(ctx, s.key(quota.AccountUUID),
		"limit", quota.Limit,
		"used", quota.Used,
		"period_start", periodStartMillis(quota),
		"period", quota.Period.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("save quota: %w", err)
	}
	return nil
}

func (s *RedisStore) Increment(ctx context.Context, quota domain.Quota, cost int64) (domain.Quota, error) {
	res, err := incrementScript.Run(ctx, s.client,
		[]string{s.key(quota.AccountUUID)},
		cost, periodStartMillis(quota), quota.Limit, quota.Period.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return quota, fmt.Errorf("run increment script: %w", err)
	}
	if len(res) != 2 {
		return quota, errors.New("unexpected increment script result")
	}

	quota.Used = res[0]
	if res[1] > 0 {
		quota.PeriodStart = time.UnixMilli(res[1]).UTC()
	}
	return quota, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func periodStartMillis(q domain.Quota) int64 {
	if q.PeriodStart.IsZero() {
		return 0
	}
	return q.PeriodStart.UnixMilli()
}

func parseInt(fields map[string]string, name string) (int64, error) {
	v, ok := fields[name]
	if !ok || v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse quota %s: %w", name, err)
	}
	return n, nil
}

func (s *RedisStore) Delete(ctx context.Context, accountID string) error {
	return s.client.Del(ctx, s.key(accountID)).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
