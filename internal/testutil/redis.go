package testutil

import (
	"context"
	"fmt"

	"github.com/ory/dockertest/v3"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
)

// StartRedis runs a Redis container and returns its address once it answers
// PING.
func StartRedis(pool *dockertest.Pool) (_ string, _ Cleanup, err error) {
	pool, err = initDockertest(pool)
	if err != nil {
		return "", nil, err
	}

	resource, err := pool.RunWithOptions(
		&dockertest.RunOptions{
			Repository: "redis",
			Tag:        "7-alpine",
		},
		hostConfig,
	)
	if err != nil {
		return "", nil, fmt.Errorf("failed to run redis container: %w", err)
	}

	cleanup := purger(pool, resource, "redis")
	defer func() {
		if err != nil {
			err = multierr.Append(err, cleanup())
		}
	}()

	if err = resource.Expire(expireSeconds); err != nil {
		return "", nil, fmt.Errorf("failed to set expire time: %w", err)
	}

	addr := resource.GetHostPort("6379/tcp")
	err = pool.Retry(func() error {
		cli := redis.NewClient(&redis.Options{Addr: addr})
		defer cli.Close()
		return cli.Ping(context.Background()).Err()
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return addr, cleanup, nil
}
