package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultMaxRows        = 1000
	defaultQueryTimeout   = 30 * time.Second
	defaultConnectTimeout = 30 * time.Second
	defaultMaxConns       = 4

	redacted = "REDACTED"
)

type Config struct {
	Logger     *slog.Logger
	ConnString string

	ReadOnly       bool
	MaxRows        int
	QueryTimeout   time.Duration
	ConnectTimeout time.Duration
	MaxConns       int32
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.ConnString == "" {
		return ErrConnStringNeeded
	}
	if c.MaxRows <= 0 {
		c.MaxRows = defaultMaxRows
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = defaultQueryTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.MaxConns <= 0 {
		c.MaxConns = defaultMaxConns
	}
	return nil
}

// DB executes statements on behalf of tool calls. It is safe for concurrent use.
type DB struct {
	log      *slog.Logger
	cfg      Config
	pool     *pgxpool.Pool
	password string
}

// Connect builds the pool and pings the server, retrying transient failures with
// exponential backoff until ConnectTimeout elapses. Authentication and unknown
// database errors are not retried.
func Connect(ctx context.Context, cfg Config) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		// The parse error can quote the connection string verbatim.
		return nil, fmt.Errorf("%w: invalid connection settings", ErrConnectionFailed)
	}
	poolConfig.MaxConns = cfg.MaxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrConnectionFailed, scrub(err.Error(), poolConfig.ConnConfig.Password))
	}

	db := &DB{
		log:      cfg.Logger,
		cfg:      cfg,
		pool:     pool,
		password: poolConfig.ConnConfig.Password,
	}

	attempt := 0
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		if attempt > 1 {
			db.log.Warn("database: ping failed, retrying", "attempt", attempt)
		}
		if err := pool.Ping(ctx); err != nil {
			if isPermanent(err) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(cfg.ConnectTimeout))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %s", ErrConnectionFailed, db.scrub(err))
	}

	db.log.Info("database: connected", "host", poolConfig.ConnConfig.Host, "database", poolConfig.ConnConfig.Database, "read_only", cfg.ReadOnly)
	return db, nil
}

// NewFromPool wraps an existing pool; used by tests that own the server lifecycle.
func NewFromPool(cfg Config, pool *pgxpool.Pool) (*DB, error) {
	if pool == nil {
		return nil, ErrNotConnected
	}
	cfg.ConnString = pool.Config().ConnString()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &DB{
		log:      cfg.Logger,
		cfg:      cfg,
		pool:     pool,
		password: pool.Config().ConnConfig.Password,
	}, nil
}

func (db *DB) Ping(ctx context.Context) error {
	if db == nil || db.pool == nil {
		return ErrNotConnected
	}
	if err := db.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %s", ErrConnectionFailed, db.scrub(err))
	}
	return nil
}

func (db *DB) ReadOnly() bool {
	return db.cfg.ReadOnly
}

func (db *DB) Close() {
	if db != nil && db.pool != nil {
		db.pool.Close()
	}
}

// beginTx starts a transaction using the configured access mode. Callers always roll back
// unless they commit explicitly.
func (db *DB) beginTx(ctx context.Context) (pgx.Tx, error) {
	if db == nil || db.pool == nil {
		return nil, ErrNotConnected
	}
	opts := pgx.TxOptions{}
	if db.cfg.ReadOnly {
		opts.AccessMode = pgx.ReadOnly
	}
	tx, err := db.pool.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %s", db.scrub(err))
	}
	return tx, nil
}

func (db *DB) scrub(err error) string {
	if err == nil {
		return ""
	}
	return scrub(err.Error(), db.password)
}

// minBarePasswordLen is the shortest password scrubbed wherever it appears; shorter ones
// are only scrubbed in connection-string positions.
const minBarePasswordLen = 12

// scrub removes the password from driver messages before they reach logs or tool results.
func scrub(msg, password string) string {
	if password == "" {
		return msg
	}
	escaped := url.UserPassword("", password).String()
	msg = strings.NewReplacer(
		escaped+"@", ":"+redacted+"@",
		":"+password+"@", ":"+redacted+"@",
		"password='"+password+"'", "password="+redacted,
		"password="+password, "password="+redacted,
	).Replace(msg)
	if len(password) >= minBarePasswordLen {
		msg = strings.ReplaceAll(msg, password, redacted)
	}
	return msg
}

func isPermanent(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "28000", "28P01", "3D000":
		// invalid_authorization_specification, invalid_password, invalid_catalog_name
		return true
	}
	return false
}
