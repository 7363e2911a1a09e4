// Package db opens the MySQL pool backing recipe and user reads.
package db

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

type Options struct {
	MaxOpen     int
	MaxIdle     int
	ConnMaxLife time.Duration
	// PingAttempts bounds startup probing; MySQL may still be
	// coming up when the service container starts.
	PingAttempts int
	PingInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxOpen <= 0 {
		o.MaxOpen = 50
	}
	if o.MaxIdle <= 0 {
		o.MaxIdle = 25
	}
	if o.ConnMaxLife <= 0 {
		o.ConnMaxLife = 30 * time.Minute
	}
	if o.PingAttempts <= 0 {
		o.PingAttempts = 3
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 2 * time.Second
	}
	return o
}

// Open connects to MySQL, configures the pool, and verifies the
// connection with a bounded number of pings before handing it out.
func Open(ctx context.Context, dsn string, opt Options, log *zap.Logger) (*sql.DB, error) {
	opt = opt.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}

	pool, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	pool.SetMaxOpenConns(opt.MaxOpen)
	pool.SetMaxIdleConns(opt.MaxIdle)
	pool.SetConnMaxLifetime(opt.ConnMaxLife)

	for i := 1; ; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, opt.PingInterval)
		err = pool.PingContext(pingCtx)
		cancel()
		if err == nil {
			return pool, nil
		}
		if i >= opt.PingAttempts {
			break
		}
		log.Warn("mysql ping failed, retrying",
			zap.Int("attempt", i),
			zap.Error(err))
		select {
		case <-ctx.Done():
			_ = pool.Close()
			return nil, ctx.Err()
		case <-time.After(opt.PingInterval):
		}
	}
	_ = pool.Close()
	return nil, err
}
