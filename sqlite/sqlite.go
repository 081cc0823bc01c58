// Package sqlite stores messages in an SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/relaykit/message-api/internal/bunstore"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// SQLite provides storage in SQLite.
type SQLite struct {
	*bunstore.Store
}

// Connect opens the database at path and pings it. path may be a file name
// or a file: URI with its own query parameters. The schema is not
// created; call Migrate for that.
func Connect(ctx context.Context, path string) (*SQLite, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	sqlDB, err := sql.Open("sqlite3", path+sep+"_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == MemoryPath {
		// Every connection to :memory: gets its own database.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetConnMaxLifetime(0)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	db := bun.NewDB(sqlDB, sqlitedialect.New())
	return &SQLite{
		Store: bunstore.New(db),
	}, nil
}
