package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/mailarnaldob-lgtm/amabiliaisso-sub001/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const keyPrefix = "ledger:balance:"

func ConnectRedis(ctx context.Context, cfg config.RedisConfig) (redis.UniversalClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:            fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:        cfg.Password,
		DB:              cfg.DB,
		DialTimeout:     1 * time.Second,
		ReadTimeout:     400 * time.Millisecond,
		WriteTimeout:    400 * time.Millisecond,
		PoolSize:        50,
		MinIdleConns:    5,
		ConnMaxIdleTime: 90 * time.Second,
		OnConnect: func(ctx context.Context, cn *redis.Conn) error {
			_ = cn.ClientSetName(ctx, "ledger").Err()
			return nil
		},
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

// RedisCache shares balances between service replicas. Failures are logged
// and reported as misses.
type RedisCache struct {
	rdb redis.UniversalClient
	ttl time.Duration
	log *logrus.Logger
}

func NewRedisCache(rdb redis.UniversalClient, ttl time.Duration, log *logrus.Logger) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl, log: log}
}

func (c *RedisCache) Store(ctx context.Context, walletID string, balance decimal.Decimal) {
	if err := c.rdb.Set(ctx, keyPrefix+walletID, balance.String(), c.ttl).Err(); err != nil {
		c.log.WithError(err).WithField("wallet_id", walletID).Warn("failed to cache balance")
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, walletID string) {
	if err := c.rdb.Del(ctx, keyPrefix+walletID).Err(); err != nil {
		c.log.WithError(err).WithField("wallet_id", walletID).Warn("failed to invalidate cached balance")
	}
}

func (c *RedisCache) Load(ctx context.Context, walletID string) (decimal.Decimal, bool) {
	val, err := c.rdb.Get(ctx, keyPrefix+walletID).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.WithError(err).WithField("wallet_id", walletID).Warn("failed to read cached balance")
		}
		return decimal.Zero, false
	}

	balance, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, false
	}
	return balance, true
}
