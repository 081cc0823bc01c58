// Package postgres stores messages in PostgreSQL.
package postgres

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/relaykit/message-api/internal/bunstore"
)

// Postgres provides storage in PostgreSQL.
type Postgres struct {
	*bunstore.Store
}

// An Option configures the connection.
type Option func(*[]pgdriver.Option)

// WithInsecureTLS requires TLS but skips certificate verification. Managed
// databases that hand out a DATABASE_URL often use self-signed certificates.
func WithInsecureTLS() Option {
	return func(opts *[]pgdriver.Option) {
		*opts = append(*opts, pgdriver.WithTLSConfig(&tls.Config{
			InsecureSkipVerify: true,
		}))
	}
}

// Connect connects to the database and ping the DB to ensure the connection is
// working.
func Connect(ctx context.Context, connStr string, opts ...Option) (*Postgres, error) {
	driverOpts := []pgdriver.Option{pgdriver.WithDSN(connStr)}
	for _, opt := range opts {
		opt(&driverOpts)
	}

	sqlDB := sql.OpenDB(pgdriver.NewConnector(driverOpts...))
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	db := bun.NewDB(sqlDB, pgdialect.New())
	return &Postgres{
		Store: bunstore.New(db),
	}, nil
}
