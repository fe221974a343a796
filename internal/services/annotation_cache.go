package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hacknation/campus-lost-found/internal/models"
)

const annotationKeyPrefix = "matcher:annotation:"

// NewRedisClient connects to Redis and pings it before returning
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return client, nil
}

// RedisAnnotationCache keeps image annotations so re-runs against the same
// pool do not pay for the same vision calls twice
type RedisAnnotationCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisAnnotationCache creates a cache whose entries expire after ttl
func NewRedisAnnotationCache(client redis.Cmdable, ttl time.Duration) *RedisAnnotationCache {
	return &RedisAnnotationCache{client: client, ttl: ttl}
}

// Get returns the cached annotation and whether it was present
func (c *RedisAnnotationCache) Get(ctx context.Context, key string) (*models.ImageAnnotation, bool, error) {
	data, err := c.client.Get(ctx, annotationKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var ann models.ImageAnnotation
	if err := json.Unmarshal(data, &ann); err != nil {
		return nil, false, fmt.Errorf("decode cached annotation: %w", err)
	}
	return &ann, true, nil
}

// Set stores an annotation with the cache TTL
func (c *RedisAnnotationCache) Set(ctx context.Context, key string, annotation *models.ImageAnnotation) error {
	data, err := json.Marshal(annotation)
	if err != nil {
		return fmt.Errorf("encode annotation: %w", err)
	}
	if err := c.client.Set(ctx, annotationKeyPrefix+key, string(data), c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// HealthCheck pings Redis
func (c *RedisAnnotationCache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
