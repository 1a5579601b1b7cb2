package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bharathbbg/delivery-confirmation-service/internal/config"
	"github.com/bharathbbg/delivery-confirmation-service/internal/model"
	"github.com/go-redis/redis/v8"
)

// RedisCache holds buyer summary pages and failed-secret counters. It never stores tokens,
// secrets or verification results.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(config config.RedisConfig, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr(),
		Password: config.Password,
		DB:       config.DB,
	})

	if _, err := client.Ping(context.Background()).Result(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisCache{client: client, ttl: ttl}, nil
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// generationTTL must outlive any in-flight summary read.
const generationTTL = 24 * time.Hour

func buyerIndexKey(buyerID string) string {
	return fmt.Sprintf("deliveries:buyer:%s", buyerID)
}

func buyerGenerationKey(buyerID string) string {
	return fmt.Sprintf("deliveries:buyer:%s:gen", buyerID)
}

func summaryField(page, pageSize int) string {
	return fmt.Sprintf("%d:%d", page, pageSize)
}

// GetBuyerSummaries returns the cached page, or nil on a miss, together with the buyer's
// current cache generation.
func (c *RedisCache) GetBuyerSummaries(ctx context.Context, buyerID string, page, pageSize int) (*model.SummaryPage, int64, error) {
	pipe := c.client.Pipeline()
	pageCmd := pipe.HGet(ctx, buyerIndexKey(buyerID), summaryField(page, pageSize))
	genCmd := pipe.Get(ctx, buyerGenerationKey(buyerID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, err
	}

	generation, err := genCmd.Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, err
	}
	data, err := pageCmd.Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, generation, nil // Cache miss
		}
		return nil, 0, err
	}

	var summaries model.SummaryPage
	if err := json.Unmarshal(data, &summaries); err != nil {
		return nil, 0, err
	}
	return &summaries, generation, nil
}

// CacheBuyerSummaries stores one page under a per-buyer hash so a single DEL drops every page.
// The write only happens while the buyer's generation still equals generation.
func (c *RedisCache) CacheBuyerSummaries(ctx context.Context, buyerID string, generation int64, summaries *model.SummaryPage) error {
	data, err := json.Marshal(summaries)
	if err != nil {
		return err
	}
	key := buyerIndexKey(buyerID)
	genKey := buyerGenerationKey(buyerID)

	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != generation {
			return nil // invalidated since the page was read
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, summaryField(summaries.Page, summaries.PageSize), data)
			pipe.Expire(ctx, key, c.ttl)
			return nil
		})
		return err
	}, genKey)
	if errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

// InvalidateBuyer drops every cached page and bumps the generation so in-flight reads
// cannot write their page back.
func (c *RedisCache) InvalidateBuyer(ctx context.Context, buyerID string) error {
	genKey := buyerGenerationKey(buyerID)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, generationTTL)
		pipe.Del(ctx, buyerIndexKey(buyerID))
		return nil
	})
	return err
}

func attemptKey(subject string) string {
	return fmt.Sprintf("delivery:secret_failures:%s", subject)
}

// RegisterFailure counts a failed secret attempt for subject and returns the running total
// inside the window that started with the first failure.
func (c *RedisCache) RegisterFailure(ctx context.Context, subject string, window time.Duration) (int64, error) {
	key := attemptKey(subject)
	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		if err := c.client.Expire(ctx, key, window).Err(); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (c *RedisCache) Failures(ctx context.Context, subject string) (int64, error) {
	n, err := c.client.Get(ctx, attemptKey(subject)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

func (c *RedisCache) ResetFailures(ctx context.Context, subject string) error {
	return c.client.Del(ctx, attemptKey(subject)).Err()
}
