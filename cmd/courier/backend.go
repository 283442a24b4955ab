package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/xraph/courier/queue"
	"github.com/xraph/courier/store"
	bunstore "github.com/xraph/courier/store/bun"
	"github.com/xraph/courier/store/memory"
	pgstore "github.com/xraph/courier/store/postgres"
	redisstore "github.com/xraph/courier/store/redis"
)

// notifier is a cross-process wake-up channel with its own connection.
type notifier interface {
	queue.Notifier
	Start(ctx context.Context) error
	Close() error
}

// backend is the selected store plus the resources it borrows. The store
// itself is closed by the engine.
type backend struct {
	store    store.Store
	notifier notifier
	closers  []func() error
}

func openBackend(ctx context.Context, cfg envConfig, logger *slog.Logger) (*backend, error) {
	switch cfg.Store {
	case storeRedis:
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := goredis.NewClient(opts)
		return &backend{
			store:    redisstore.New(client, redisstore.WithLogger(logger)),
			notifier: redisstore.NewNotifier(client, logger),
			closers:  []func() error{client.Close},
		}, nil

	case storePostgres:
		s, err := pgstore.New(ctx, cfg.PostgresURL, pgstore.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return &backend{store: s, notifier: s.Notifier()}, nil

	case storeBun:
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.PostgresURL)))
		db := bun.NewDB(sqldb, pgdialect.New())
		s := bunstore.New(db, bunstore.WithLogger(logger))
		return &backend{
			store:    s,
			notifier: s.Notifier(),
			closers:  []func() error{db.Close},
		}, nil

	default:
		return &backend{store: memory.New()}, nil
	}
}

func (b *backend) closeNotifier(logger *slog.Logger) {
	if b.notifier == nil {
		return
	}
	if err := b.notifier.Close(); err != nil {
		logger.Warn("notifier close error", slog.String("error", err.Error()))
	}
	b.notifier = nil
}

func (b *backend) close(logger *slog.Logger) {
	b.closeNotifier(logger)
	for _, c := range b.closers {
		if err := c(); err != nil {
			logger.Warn("backend close error", slog.String("error", err.Error()))
		}
	}
}
