package db

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mvrodrig/tillsync/pkg/config"
	"github.com/mvrodrig/tillsync/pkg/logger"
)

// memoryDSN keeps the degraded-mode database alive across connections from
// the same process.
const memoryDSN = "file::memory:?cache=shared"

// Client wraps the shared GORM connection to the terminal-local store.
type Client struct {
	conn    *gorm.DB
	durable bool
}

// Pinger exposes the health check surface.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Open boots the record store. It opens the sqlite file from the config; if
// the durable medium is unavailable it degrades to an in-memory database
// with identical transactional semantics and reports Durable() == false.
func Open(ctx context.Context, cfg config.StoreConfig, logg *logger.Logger) (*Client, error) {
	durable := cfg.Path != "" && cfg.Path != ":memory:"

	if durable {
		conn, err := open(fileDSN(cfg))
		if err == nil {
			if logg != nil {
				logg.Info(logg.WithField(ctx, "path", cfg.Path), "record store opened")
			}
			return &Client{conn: conn, durable: true}, nil
		}
		if logg != nil {
			logg.Warn(logg.WithField(ctx, "path", cfg.Path),
				fmt.Sprintf("durable store unavailable, degrading to memory: %v", err))
		}
	}

	conn, err := open(memoryDSN)
	if err != nil {
		return nil, fmt.Errorf("opening in-memory store: %w", err)
	}
	if logg != nil {
		logg.Warn(ctx, "record store running in memory; queue will not survive restart")
	}
	return &Client{conn: conn, durable: false}, nil
}

func open(dsn string) (*gorm.DB, error) {
	gormLogger := gormlogger.New(
		log.New(io.Discard, "", log.LstdFlags),
		gormlogger.Config{LogLevel: gormlogger.Silent},
	)

	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening db connection: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql db handle: %w", err)
	}
	// A single writer keeps sqlite's lock contention out of the picture.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("pinging store: %w", err)
	}

	return conn, nil
}

func fileDSN(cfg config.StoreConfig) string {
	values := url.Values{}
	values.Set("_journal_mode", "WAL")
	values.Set("_foreign_keys", "on")
	if cfg.BusyTimeout > 0 {
		values.Set("_busy_timeout", fmt.Sprintf("%d", cfg.BusyTimeout.Milliseconds()))
	}
	return fmt.Sprintf("file:%s?%s", cfg.Path, values.Encode())
}

// Durable reports whether writes survive a process restart.
func (c *Client) Durable() bool {
	return c.durable
}

// DB returns the underlying GORM connection.
func (c *Client) DB() *gorm.DB {
	return c.conn
}

// Ping verifies the datasource is reachable.
func (c *Client) Ping(ctx context.Context) error {
	sqlDB, err := c.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close shuts down the pooled connections.
func (c *Client) Close() error {
	sqlDB, err := c.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithTx executes fn inside a transaction, rolling back on error/panic.
func (c *Client) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	tx := c.conn.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit().Error
}
