package testutil

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ory/dockertest/v3"
	"github.com/uptrace/bun/driver/pgdriver"
	"go.uber.org/multierr"
)

// StartPostgres runs a PostgreSQL container and returns a connection string
// for it once it accepts connections.
func StartPostgres(pool *dockertest.Pool) (_ string, _ Cleanup, err error) {
	pool, err = initDockertest(pool)
	if err != nil {
		return "", nil, err
	}

	resource, err := pool.RunWithOptions(
		&dockertest.RunOptions{
			Repository: "postgres",
			Tag:        "16-alpine",
			Env: []string{
				"POSTGRES_USER=message-api",
				"POSTGRES_PASSWORD=message-api",
				"POSTGRES_DB=message-api",
			},
		},
		hostConfig,
	)
	if err != nil {
		return "", nil, fmt.Errorf("failed to run postgres container: %w", err)
	}

	cleanup := purger(pool, resource, "postgres")
	defer func() {
		if err != nil {
			err = multierr.Append(err, cleanup())
		}
	}()

	if err = resource.Expire(expireSeconds); err != nil {
		return "", nil, fmt.Errorf("failed to set expire time: %w", err)
	}

	connStr := fmt.Sprintf(
		"postgres://message-api:message-api@%s/message-api?sslmode=disable",
		resource.GetHostPort("5432/tcp"),
	)

	err = pool.Retry(func() error {
		db := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(connStr)))
		defer db.Close()
		return db.PingContext(context.Background())
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return connStr, cleanup, nil
}
