// Package testutil starts throwaway backing services in Docker for
// integration tests.
package testutil

import (
	"fmt"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
)

// Cleanup stops and removes a container started by this package.
type Cleanup func() error

// Containers are removed by Docker after this many seconds even if Cleanup
// is never called.
const expireSeconds = 120

func initDockertest(pool *dockertest.Pool) (*dockertest.Pool, error) {
	if pool == nil {
		var err error
		pool, err = dockertest.NewPool("")
		if err != nil {
			return nil, fmt.Errorf("could not construct pool: %w", err)
		}
	}

	if err := pool.Client.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to Docker: %w", err)
	}

	return pool, nil
}

// hostConfig removes the container when it stops and never restarts it.
func hostConfig(config *docker.HostConfig) {
	config.AutoRemove = true
	config.RestartPolicy = docker.RestartPolicy{Name: "no"}
}

func purger(pool *dockertest.Pool, resource *dockertest.Resource, name string) Cleanup {
	return func() error {
		if err := pool.Purge(resource); err != nil {
			return fmt.Errorf("failed to purge %s container: %w", name, err)
		}
		return nil
	}
}
