package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agentoven/taskrouter/internal/config"
	"github.com/agentoven/taskrouter/pkg/models"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Redis stores JSON-encoded cache entries under a key prefix.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis connects to redis and pings it.
func NewRedis(ctx context.Context, cfg config.RedisConfig, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	log.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("Redis cache connected")
	return NewRedisWithClient(client, cfg.Prefix, ttl), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if ttl < 0 {
		ttl = 0
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, key string) (models.ChatResponse, bool) {
	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("key", key).Msg("Redis cache get failed")
		}
		observe(r.Name(), false)
		return models.ChatResponse{}, false
	}

	var e models.CacheEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Corrupt cache entry")
		observe(r.Name(), false)
		return models.ChatResponse{}, false
	}
	observe(r.Name(), true)
	return e.Value, true
}

func (r *Redis) Set(ctx context.Context, key string, value models.ChatResponse) {
	b, err := json.Marshal(models.CacheEntry{Key: key, Value: value, WrittenAt: time.Now().UTC()})
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Encode cache entry")
		return
	}
	if err := r.client.Set(ctx, r.prefix+key, b, r.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Redis cache set failed")
	}
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) Close() error { return r.client.Close() }
