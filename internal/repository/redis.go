package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jack/qr-redirect-service/internal/config"
	"github.com/jack/qr-redirect-service/internal/geo"
	"github.com/jack/qr-redirect-service/internal/model"
)

const (
	ruleCachePrefix = "rules:"
	geoCachePrefix  = "geo:"
	windowPrefix    = "ratelimit:"
)

type RedisRepository struct {
	client *redis.Client
}

func NewRedisRepository(cfg *config.RedisConfig) (*RedisRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &RedisRepository{client: client}, nil
}

// NewRedisRepositoryFromClient wraps an existing client.
func NewRedisRepositoryFromClient(client *redis.Client) *RedisRepository {
	return &RedisRepository{client: client}
}

func (r *RedisRepository) Close() error {
	return r.client.Close()
}

// cachedRule keeps the raw condition, which RoutingRule does not serialize.
type cachedRule struct {
	ID           int64          `json:"id"`
	ShortCodeID  string         `json:"short_code_id"`
	Type         model.RuleType `json:"type"`
	RawCondition string         `json:"condition"`
	Destination  string         `json:"destination"`
	Priority     int            `json:"priority"`
	Active       bool           `json:"active"`
	CreatedAt    time.Time      `json:"created_at"`
}

// GetRules returns the cached active rules of a code; ok is false on a miss.
// Conditions are not decoded.
func (r *RedisRepository) GetRules(ctx context.Context, shortCodeID string) ([]model.RoutingRule, bool, error) {
	data, err := r.client.Get(ctx, ruleCachePrefix+shortCodeID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil // Cache miss
		}
		return nil, false, fmt.Errorf("failed to get rules from cache: %w", err)
	}

	var cached []cachedRule
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal rules: %w", err)
	}

	rules := make([]model.RoutingRule, len(cached))
	for i, c := range cached {
		rules[i] = model.RoutingRule{
			ID:           c.ID,
			ShortCodeID:  c.ShortCodeID,
			Type:         c.Type,
			RawCondition: c.RawCondition,
			Destination:  c.Destination,
			Priority:     c.Priority,
			Active:       c.Active,
			CreatedAt:    c.CreatedAt,
		}
	}
	return rules, true, nil
}

func (r *RedisRepository) SetRules(ctx context.Context, shortCodeID string, rules []model.RoutingRule, ttl time.Duration) error {
	cached := make([]cachedRule, len(rules))
	for i, rule := range rules {
		cached[i] = cachedRule{
			ID:           rule.ID,
			ShortCodeID:  rule.ShortCodeID,
			Type:         rule.Type,
			RawCondition: rule.RawCondition,
			Destination:  rule.Destination,
			Priority:     rule.Priority,
			Active:       rule.Active,
			CreatedAt:    rule.CreatedAt,
		}
	}

	data, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("failed to marshal rules: %w", err)
	}

	if err := r.client.Set(ctx, ruleCachePrefix+shortCodeID, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set rules in cache: %w", err)
	}
	return nil
}

func (r *RedisRepository) InvalidateRules(ctx context.Context, shortCodeID string) error {
	if err := r.client.Del(ctx, ruleCachePrefix+shortCodeID).Err(); err != nil {
		return fmt.Errorf("failed to delete rules from cache: %w", err)
	}
	return nil
}

func (r *RedisRepository) GetLocation(ctx context.Context, ip string) (*geo.Location, error) {
	data, err := r.client.Get(ctx, geoCachePrefix+ip).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get location from cache: %w", err)
	}

	var loc geo.Location
	if err := json.Unmarshal(data, &loc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal location: %w", err)
	}
	return &loc, nil
}

func (r *RedisRepository) SetLocation(ctx context.Context, ip string, loc geo.Location, ttl time.Duration) error {
	data, err := json.Marshal(loc)
	if err != nil {
		return fmt.Errorf("failed to marshal location: %w", err)
	}
	if err := r.client.Set(ctx, geoCachePrefix+ip, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set location in cache: %w", err)
	}
	return nil
}

// CountWindow drops entries older than window and returns how many remain.
func (r *RedisRepository) CountWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	k := windowPrefix + key
	windowStart := time.Now().Add(-window).UnixNano()

	pipe := r.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, k, "0", strconv.FormatInt(windowStart, 10))
	countCmd := pipe.ZCard(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("failed to count window: %w", err)
	}
	return countCmd.Val(), nil
}

// AddToWindow records one hit in the sliding window.
func (r *RedisRepository) AddToWindow(ctx context.Context, key string, window time.Duration) error {
	k := windowPrefix + key
	now := time.Now().UnixNano()

	pipe := r.client.Pipeline()
	pipe.ZAdd(ctx, k, redis.Z{
		Score:  float64(now),
		Member: strconv.FormatInt(now, 10) + "-" + uuid.NewString(),
	})
	pipe.Expire(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to record window hit: %w", err)
	}
	return nil
}

func (r *RedisRepository) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
