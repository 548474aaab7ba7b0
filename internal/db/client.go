// Package db wraps the Postgres connection pool behind a circuit breaker and
// exposes the transaction helpers and query methods used by all four
// services, grounded on the internal/db/client.go.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/meetbot/meetbot/internal/circuitbreaker"
)

// Config holds database connection configuration.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	MaxConnections  int
	IdleConnections int
	MaxLifetime     time.Duration
	SSLMode         string
}

// Client manages the Postgres connection pool and its circuit breaker.
type Client struct {
	db     *circuitbreaker.DatabaseWrapper
	sqlxDB *sqlx.DB
	logger *zap.Logger
	config *Config
	stopCh chan struct{}
}

// NewClient opens a connection pool, wraps it in a circuit breaker, and
// starts a background health-check ticker.
func NewClient(config *Config, logger *zap.Logger) (*Client, error) {
	if config.MaxConnections == 0 {
		config.MaxConnections = 25
	}
	if config.IdleConnections == 0 {
		config.IdleConnections = 5
	}
	if config.MaxLifetime == 0 {
		config.MaxLifetime = 30 * time.Minute
	}
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.Database, config.SSLMode,
	)

	rawDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	rawDB.SetMaxOpenConns(config.MaxConnections)
	rawDB.SetMaxIdleConns(config.IdleConnections)
	rawDB.SetConnMaxLifetime(config.MaxLifetime)

	wrapped := circuitbreaker.NewDatabaseWrapper(rawDB, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wrapped.PingContext(ctx); err != nil {
		rawDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	client := &Client{
		db:     wrapped,
		sqlxDB: sqlx.NewDb(rawDB, "postgres"),
		logger: logger,
		config: config,
		stopCh: make(chan struct{}),
	}

	go client.healthCheck()

	logger.Info("database client initialized",
		zap.String("host", config.Host),
		zap.Int("max_connections", config.MaxConnections),
	)

	return client, nil
}

// NewClientWithDB wraps an already-open *sql.DB without dialing or pinging,
// for tests that substitute a sqlmock connection and for callers that share
// a pool opened elsewhere. The background health-check loop is not started.
func NewClientWithDB(rawDB *sql.DB, logger *zap.Logger) *Client {
	return &Client{
		db:     circuitbreaker.NewDatabaseWrapper(rawDB, logger),
		sqlxDB: sqlx.NewDb(rawDB, "postgres"),
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

func (c *Client) healthCheck() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.db.PingContext(ctx); err != nil {
				c.logger.Error("database health check failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// Close shuts down the connection pool.
func (c *Client) Close() error {
	close(c.stopCh)
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetDB returns the underlying *sql.DB for direct queries.
func (c *Client) GetDB() *sql.DB {
	return c.db.GetDB()
}

// SQLX returns an *sqlx.DB sharing the same underlying connection pool, for
// packages (auth, collector REST reads) that prefer named-parameter queries.
func (c *Client) SQLX() *sqlx.DB {
	return c.sqlxDB
}

// Wrapper returns the underlying DatabaseWrapper for health checks.
func (c *Client) Wrapper() *circuitbreaker.DatabaseWrapper {
	return c.db
}

// WithTransactionCB runs fn inside a circuit-breaker-protected transaction,
// committing on success and rolling back (including on panic) otherwise.
func (c *Client) WithTransactionCB(ctx context.Context, fn func(*circuitbreaker.TxWrapper) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v, original error: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	return nil
}
