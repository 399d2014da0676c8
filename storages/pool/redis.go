package pool

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

var RedisDriver = Driver[*redis.Client]{
	Name: "redis",
	Ping: func(ctx context.Context, rdb *redis.Client) error {
		return rdb.Ping(ctx).Err()
	},
	Close: func(rdb *redis.Client) error {
		return rdb.Close()
	},
}

// RedisOpener creates a client from opts and pings it.
func RedisOpener(opts *redis.Options) Opener[*redis.Client] {
	return func(ctx context.Context) (*redis.Client, error) {
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, errors.Wrap(err, "ping redis")
		}
		return rdb, nil
	}
}

// NewRedis is a Manager for a *redis.Client.
func NewRedis(opts *redis.Options, options ...Option) *Manager[*redis.Client] {
	return New(RedisOpener(opts), RedisDriver, options...)
}
