package repository

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// RedisSpendStore keeps spending windows in a Redis hash per sub-account.
// The window outlives process restarts, which matters when several gateway
// replicas front the same vault.
type RedisSpendStore struct {
	client *RedisClient
	prefix string
}

func NewRedisSpendStore(client *RedisClient) *RedisSpendStore {
	return &RedisSpendStore{client: client, prefix: "spend:"}
}

func (s *RedisSpendStore) Get(ctx context.Context, subAccount string) (time.Time, decimal.Decimal, bool, error) {
	vals, err := s.client.Client.HMGet(ctx, s.prefix+subAccount, "window_start", "spent").Result()
	if err != nil && err != redis.Nil {
		return time.Time{}, decimal.Zero, false, err
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return time.Time{}, decimal.Zero, false, nil
	}
	startRaw, ok := vals[0].(string)
	if !ok {
		return time.Time{}, decimal.Zero, false, nil
	}
	spentRaw, ok := vals[1].(string)
	if !ok {
		return time.Time{}, decimal.Zero, false, nil
	}
	startUnix, err := strconv.ParseInt(startRaw, 10, 64)
	if err != nil {
		return time.Time{}, decimal.Zero, false, nil
	}
	spent, err := decimal.NewFromString(spentRaw)
	if err != nil {
		return time.Time{}, decimal.Zero, false, nil
	}
	return time.Unix(startUnix, 0).UTC(), spent, true, nil
}

func (s *RedisSpendStore) Set(ctx context.Context, subAccount string, windowStart time.Time, spent decimal.Decimal) error {
	pipe := s.client.Client.Pipeline()
	pipe.HSet(ctx, s.prefix+subAccount,
		"window_start", strconv.FormatInt(windowStart.Unix(), 10),
		"spent", spent.String(),
	)
	// windows are short-lived; a week of retention is plenty
	pipe.Expire(ctx, s.prefix+subAccount, 7*24*time.Hour)
	_, err := pipe.Exec(ctx)
	return err
}
