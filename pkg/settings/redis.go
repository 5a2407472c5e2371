package settings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the Redis settings store.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	// KeyPrefix is prepended to the connection id to form the list key.
	KeyPrefix string `koanf:"key_prefix"`
	// TTL applies to written settings. Zero keeps them forever.
	TTL time.Duration `koanf:"ttl"`
}

// DefaultRedisKeyPrefix is used when RedisConfig.KeyPrefix is empty.
const DefaultRedisKeyPrefix = "bridge:settings:"

// RedisProvider reads custom settings from a Redis list per connection.
// Each list element is a "name=value" entry; list order is setting order.
type RedisProvider struct {
	redisClient *redis.Client
	logger      zerolog.Logger
	keyPrefix   string
	ttl         time.Duration
}

// NewRedisProvider connects to Redis and pings it before returning.
func NewRedisProvider(ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*RedisProvider, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	return &RedisProvider{
		redisClient: rdb,
		logger:      logger.With().Str("component", "RedisSettingsProvider").Logger(),
		keyPrefix:   prefix,
		ttl:         cfg.TTL,
	}, nil
}

func (p *RedisProvider) key(connectionID string) string {
	return p.keyPrefix + connectionID
}

// Fetch reads the settings list for connectionID. A missing or empty list is ErrNotFound.
func (p *RedisProvider) Fetch(ctx context.Context, connectionID string) (Settings, error) {
	key := p.key(connectionID)
	raw, err := p.redisClient.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		p.logger.Error().Err(err).Str("key", key).Msg("Failed to read settings from Redis.")
		return Settings{}, fmt.Errorf("redis lrange %s: %w", key, err)
	}
	if len(raw) == 0 {
		return Settings{}, fmt.Errorf("redis key '%s': %w", key, ErrNotFound)
	}

	entries := make([]Setting, 0, len(raw))
	for i, item := range raw {
		e, err := parseEntry(item)
		if err != nil {
			return Settings{}, fmt.Errorf("redis key %s element %d: %w", key, i, err)
		}
		entries = append(entries, e)
	}
	p.logger.Debug().Str("key", key).Int("entries", len(entries)).Msg("Loaded settings from Redis.")
	return Settings{entries: entries}, nil
}

// Write replaces the settings list for connectionID atomically.
func (p *RedisProvider) Write(ctx context.Context, connectionID string, s Settings) error {
	key := p.key(connectionID)
	values := make([]interface{}, 0, s.Len())
	for _, e := range s.entries {
		values = append(values, e.Name+"="+e.Value)
	}
	_, err := p.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(values) > 0 {
			pipe.RPush(ctx, key, values...)
		}
		if p.ttl > 0 {
			pipe.Expire(ctx, key, p.ttl)
		}
		return nil
	})
	if err != nil {
		p.logger.Error().Err(err).Str("key", key).Msg("Failed to write settings to Redis.")
		return fmt.Errorf("redis write %s: %w", key, err)
	}
	return nil
}

// Close closes the Redis client connection.
func (p *RedisProvider) Close() error {
	if p.redisClient != nil {
		p.logger.Info().Msg("Closing Redis client connection...")
		return p.redisClient.Close()
	}
	return nil
}

// parseEntry splits a "name=value" element. The value may contain '='.
func parseEntry(item string) (Setting, error) {
	name, value, ok := strings.Cut(item, "=")
	if !ok || name == "" {
		return Setting{}, fmt.Errorf("malformed settings entry %q, want name=value", item)
	}
	return Setting{Name: name, Value: value}, nil
}
