package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relaykit/message-api/api"
	"github.com/relaykit/message-api/config"
	"github.com/relaykit/message-api/memory"
	"github.com/relaykit/message-api/postgres"
	"github.com/relaykit/message-api/redis"
	"github.com/relaykit/message-api/sqlite"
)

type store interface {
	api.DB
	Migrate(ctx context.Context) error
	Close() error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], ".env", os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run serves until ctx is done and returns the process exit code.
func run(ctx context.Context, args []string, envFile string, stdout, stderr io.Writer) int {
	cfg, err := config.Load(args, envFile)
	if err != nil {
		fmt.Fprintln(stderr, "Invalid configuration:", err)
		return 2
	}
	logger := cfg.Logger(stdout)

	db, closeDB, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("Could not open message store", "store", cfg.Store, "error", err.Error())
		return 1
	}
	defer closeDB()

	a := &api.API{
		Logger: logger,
		DB:     db,
	}

	switch cfg.Cache {
	case config.CacheRedis:
		cache, err := redis.Connect(ctx, cfg.RedisAddress,
			redis.WithMaxSize(cfg.CacheSize),
			redis.WithTTL(cfg.CacheTTL),
		)
		if err != nil {
			logger.Error("Could not connect to Redis", "error", err.Error())
			return 1
		}
		defer cache.Close()
		a.Cache = cache
	case config.CacheMemory:
		a.Cache = memory.NewCache(
			memory.WithCacheSize(cfg.CacheSize),
			memory.WithCacheTTL(cfg.CacheTTL),
		)
	}

	lis, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		logger.Error("Could not listen", "error", err)
		return 1
	}

	srv := &http.Server{
		Handler:           a,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Could not shut down cleanly", "error", err.Error())
		}
	}()

	logger.Info("Ready to accept traffic",
		"address", lis.Addr().String(),
		"store", cfg.Store,
		"cache", cfg.Cache,
	)
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Could not start server", "error", err)
		return 1
	}
	logger.Info("Server stopped")
	return 0
}

// openStore opens the configured message store and creates its schema.
func openStore(ctx context.Context, cfg *config.Config) (api.DB, func(), error) {
	var (
		s   store
		err error
	)
	switch cfg.Store {
	case config.StoreMemory:
		return memory.New(memory.WithCapacity(cfg.MemoryCapacity)), func() {}, nil
	case config.StoreSQLite:
		s, err = sqlite.Connect(ctx, cfg.SQLitePath)
	default:
		var opts []postgres.Option
		if cfg.InsecureTLS() {
			opts = append(opts, postgres.WithInsecureTLS())
		}
		s, err = postgres.Connect(ctx, cfg.DSN(), opts...)
	}
	if err != nil {
		return nil, nil, err
	}

	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return s, func() { s.Close() }, nil
}
