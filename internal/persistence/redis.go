package persistence

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/pod-racer/internal/config"
)

// Redis carries the domain event stream. A zero Addr leaves Client nil and the
// relay off.
type Redis struct {
	Client *redis.Client
}

// NewRedis builds the relay client. An unreachable server is logged, not
// fatal: allocation never depends on the event stream.
func NewRedis(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) *Redis {
	if cfg.Addr == "" {
		logger.Warn("REDIS_ADDR not set; domain events are not relayed")
		return &Redis{}
	}

	client := redis.NewClient(redisOptions(cfg))
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("event relay target unreachable; publishes will fail until it recovers",
			zap.String("addr", cfg.Addr), zap.Error(err))
	} else {
		logger.Info("event relay connected", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	}
	return &Redis{Client: client}
}

// redisOptions keeps every call short so a slow server only delays the
// publisher that hit it.
func redisOptions(cfg config.RedisConfig) *redis.Options {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		ClientName: "pod-racer",
		MaxRetries: -1,
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if timeout := cfg.Timeout(); timeout > 0 {
		opts.DialTimeout = timeout
		opts.ReadTimeout = timeout
		opts.WriteTimeout = timeout
		opts.PoolTimeout = timeout
	}
	return opts
}

// Close closes the client.
func (r *Redis) Close() {
	if r.Enabled() {
		_ = r.Client.Close()
	}
}

// Enabled reports whether a client was configured.
func (r *Redis) Enabled() bool {
	return r != nil && r.Client != nil
}

// Ping is the readiness check.
func (r *Redis) Ping(ctx context.Context) error {
	if !r.Enabled() {
		return errors.New("event relay not configured")
	}
	return r.Client.Ping(ctx).Err()
}
