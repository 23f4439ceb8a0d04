package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/rocketscienceinc/tictactoe-duplex/internal/config"
)

const pingInterval = 250 * time.Millisecond

type RedisStorage struct {
	Connection *redis.Client
}

// NewRedisStorage connects and pings until Redis answers or conf.ConnectWait runs out.
func NewRedisStorage(ctx context.Context, conf config.Redis) (*RedisStorage, error) {
	conn := redis.NewClient(&redis.Options{
		Addr:        conf.GetRedisAddr(),
		Password:    conf.Password,
		DB:          conf.DB,
		DialTimeout: conf.DialTimeout,
	})

	var policy backoff.BackOff = &backoff.StopBackOff{}
	if conf.ConnectWait > 0 {
		exponential := backoff.NewExponentialBackOff()
		exponential.InitialInterval = pingInterval
		exponential.MaxElapsedTime = conf.ConnectWait
		policy = exponential
	}

	ping := func() error {
		return conn.Ping(ctx).Err()
	}

	if err := backoff.Retry(ping, backoff.WithContext(policy, ctx)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", conf.GetRedisAddr(), err)
	}

	return &RedisStorage{Connection: conn}, nil
}

func (that *RedisStorage) Close() error {
	if err := that.Connection.Close(); err != nil {
		return fmt.Errorf("failed to close Redis connection: %w", err)
	}

	return nil
}
