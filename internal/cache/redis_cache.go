package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"fabricbill/backend/internal/domain"
)

const statementKeyPrefix = "fabricbill:statement:"

type RedisStatementCache struct {
	client *redis.Client
}

func NewRedisClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func NewRedisStatementCache(client *redis.Client) *RedisStatementCache {
	return &RedisStatementCache{client: client}
}

func (c *RedisStatementCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisStatementCache) Get(ctx context.Context, customerKey string) (*domain.CustomerStatement, bool, error) {
	val, err := c.client.Get(ctx, statementKeyPrefix+customerKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var stmt domain.CustomerStatement
	if err := json.Unmarshal(val, &stmt); err != nil {
		return nil, false, err
	}
	return &stmt, true, nil
}

func (c *RedisStatementCache) Set(ctx context.Context, customerKey string, value *domain.CustomerStatement, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, statementKeyPrefix+customerKey, payload, ttl).Err()
}

func (c *RedisStatementCache) Delete(ctx context.Context, customerKeys ...string) error {
	if len(customerKeys) == 0 {
		return nil
	}
	keys := make([]string, len(customerKeys))
	for i, k := range customerKeys {
		keys[i] = statementKeyPrefix + k
	}
	return c.client.Del(ctx, keys...).Err()
}
