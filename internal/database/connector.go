// Package database is the MySQL connector: a connection pool with statement
// execution, read-only enforcement and information_schema introspection.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/kaz/mcpsql/internal/config"
	"github.com/labstack/gommon/log"
)

type (
	// Connector owns the pool every service shares. It is safe for
	// concurrent use.
	Connector struct {
		db           *sql.DB
		name         string
		readOnly     bool
		queryTimeout time.Duration

		closeOnce sync.Once
		closeErr  error
	}

	Option func(*Connector)
)

// WithReadOnly restricts Execute to statements accepted by ValidateReadOnly.
func WithReadOnly(readOnly bool) Option {
	return func(c *Connector) { c.readOnly = readOnly }
}

// WithQueryTimeout bounds every Execute call. Zero disables the bound.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *Connector) { c.queryTimeout = d }
}

// Open connects to the MySQL server described by cfg and verifies the
// connection before returning.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Connector, error) {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	mc.DBName = cfg.Name
	mc.ParseTime = true
	mc.Timeout = cfg.ConnectTimeout
	if cfg.ReadOnly {
		// applied to every pooled session on connect
		mc.Params = map[string]string{"transaction_read_only": "1"}
	}

	drv, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql configuration: %w", err)
	}

	db := sql.OpenDB(drv)
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	c := New(db, cfg.Name, WithReadOnly(cfg.ReadOnly), WithQueryTimeout(cfg.QueryTimeout))

	pingCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	if err := c.Ping(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to mysql at %s: %w", mc.Addr, err)
	}

	log.Infof("database: connected to %s/%s as %s (read only: %t)", mc.Addr, cfg.Name, cfg.User, cfg.ReadOnly)
	return c, nil
}

// New wraps an existing pool. name is the schema introspection runs against.
func New(db *sql.DB, name string, opts ...Option) *Connector {
	c := &Connector{db: db, name: name}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Connector) Name() string   { return c.name }
func (c *Connector) ReadOnly() bool { return c.readOnly }

func (c *Connector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Validate runs a trivial statement to prove the pool can serve queries.
func (c *Connector) Validate(ctx context.Context) error {
	var v int
	if err := c.db.QueryRowContext(ctx, "SELECT 1 AS test").Scan(&v); err != nil {
		return fmt.Errorf("connection check failed: %w", err)
	}
	if v != 1 {
		return fmt.Errorf("connection check returned %d", v)
	}
	return nil
}

// Close releases the pool. Calling it more than once is harmless.
func (c *Connector) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.db.Close()
		log.Debugf("database: pool closed")
	})
	return c.closeErr
}
