package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/vaultgate/vaultgate/internal/model"
	"github.com/vaultgate/vaultgate/internal/pkg/logger"
)

// RedisIdempotencyStore 多副本部署下共享的幂等记录存储。
type RedisIdempotencyStore struct {
	client *RedisClient
	ttl    time.Duration
	prefix string
}

type redisIdemPayload struct {
	Status     int       `json:"status"`
	Body       []byte    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
	Processing bool      `json:"processing"`
}

func NewRedisIdempotencyStore(client *RedisClient, ttl time.Duration) *RedisIdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisIdempotencyStore{client: client, ttl: ttl, prefix: "idem:"}
}

func (s *RedisIdempotencyStore) GetOrLock(key string) (*model.IdempotencyRecord, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	lockPayload, _ := json.Marshal(redisIdemPayload{Processing: true, CreatedAt: time.Now()})
	ok, err := s.client.Client.SetNX(ctx, s.prefix+key, lockPayload, s.ttl).Result()
	if err != nil {
		logger.Warn("idempotency store unavailable, passing request through", "error", err)
		return nil, false
	}
	if ok {
		return nil, false // 拿到锁
	}

	raw, err := s.client.Client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	var payload redisIdemPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, false
	}
	return &model.IdempotencyRecord{
		Status:     payload.Status,
		Body:       payload.Body,
		CreatedAt:  payload.CreatedAt,
		Processing: payload.Processing,
	}, true
}

func (s *RedisIdempotencyStore) Save(key string, status int, body []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	payload, _ := json.Marshal(redisIdemPayload{
		Status:    status,
		Body:      body,
		CreatedAt: time.Now(),
	})
	if err := s.client.Client.Set(ctx, s.prefix+key, payload, s.ttl).Err(); err != nil {
		logger.Warn("failed to save idempotency record", "error", err)
	}
}

func (s *RedisIdempotencyStore) Unlock(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.client.Client.Del(ctx, s.prefix+key)
}
