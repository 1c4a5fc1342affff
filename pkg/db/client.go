package db

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/paysaga-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/paysaga-backend/pkg/errors"
	"github.com/angelmondragon/paysaga-backend/pkg/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	defaultTxAttempts = 3
	txRetryBackoff    = 25 * time.Millisecond
)

// Client owns one service's database connection. Each service kind points
// it at its own database.
type Client struct {
	conn         *gorm.DB
	txAttempts   int
	retryBackoff time.Duration
}

func New(ctx context.Context, cfg config.DBConfig, logg *logger.Logger) (*Client, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}
	conn, err := gorm.Open(dialectorFor(cfg), &gorm.Config{
		Logger:                 gormlogger.New(log.New(io.Discard, "", 0), gormlogger.Config{LogLevel: gormlogger.Silent}),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s connection: %w", driverName(cfg), err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql db handle: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "driver", driverName(cfg)), "database connection established")
	}
	client := NewFromConn(conn)
	if cfg.TxMaxAttempts > 0 {
		client.txAttempts = cfg.TxMaxAttempts
	}
	return client, nil
}

// NewFromConn wraps an already opened connection. Tests use it with sqlite.
func NewFromConn(conn *gorm.DB) *Client {
	return &Client{conn: conn, txAttempts: defaultTxAttempts, retryBackoff: txRetryBackoff}
}

func driverName(cfg config.DBConfig) string {
	if strings.EqualFold(cfg.Driver, DriverSQLite) {
		return DriverSQLite
	}
	return DriverPostgres
}

func dialectorFor(cfg config.DBConfig) gorm.Dialector {
	if driverName(cfg) == DriverSQLite {
		return sqlite.Open(cfg.DSN)
	}
	return postgres.New(postgres.Config{
		DSN:                  cfg.DSN,
		PreferSimpleProtocol: true,
	})
}

func (c *Client) DB() *gorm.DB {
	return c.conn
}

func (c *Client) Ping(ctx context.Context) error {
	sqlDB, err := c.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (c *Client) Close() error {
	sqlDB, err := c.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithTx runs fn in a transaction, rolling back on error or panic. When the
// transaction fails with a transient SQLSTATE (serialization failure,
// deadlock, dropped connection) fn is re-run in a fresh transaction, so fn
// must not have side effects outside tx.
func (c *Client) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	attempts := c.txAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = c.runTx(ctx, fn)
		if err == nil || !pkgerrors.IsTransientSQL(err) || attempt == attempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * c.retryBackoff):
		}
	}
	return err
}

func (c *Client) runTx(ctx context.Context, fn func(tx *gorm.DB) error) (err error) {
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
